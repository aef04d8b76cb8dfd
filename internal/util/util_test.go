package util

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCertificateGeneratesLoadablePair(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls", "api.crt")
	keyFile := filepath.Join(dir, "tls", "api.key")

	require.NoError(t, EnsureCertificate(certFile, keyFile))
	_, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	before, err := os.ReadFile(certFile)
	require.NoError(t, err)
	require.NoError(t, EnsureCertificate(certFile, keyFile))
	after, err := os.ReadFile(certFile)
	require.NoError(t, err)
	assert.Equal(t, before, after, "existing pair must not be regenerated")
}

func TestInitLoggerCreatesLogFile(t *testing.T) {
	saved := log.Logger
	defer func() { log.Logger = saved }()

	cfg := DefaultLogConfig()
	cfg.Directory = filepath.Join(t.TempDir(), "logs")
	cfg.Console = false

	require.NoError(t, InitLogger(cfg))
	assert.True(t, exists(filepath.Join(cfg.Directory, cfg.FileName)))
}

func TestInitConsoleLogger(t *testing.T) {
	saved := log.Logger
	defer func() { log.Logger = saved }()

	var buf bytes.Buffer
	InitConsoleLogger(&buf, "info")
	log.Info().Msg("Sent: 0x01")
	log.Debug().Msg("hidden")

	assert.Contains(t, buf.String(), "Sent: 0x01")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestEnsureCertificateCoversAPIHost(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "api.crt")
	keyFile := filepath.Join(dir, "api.key")

	require.NoError(t, EnsureCertificate(certFile, keyFile, "bench.lan", "10.1.2.3", "0.0.0.0", "", "localhost"))
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"localhost", "bench.lan"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 2)
	assert.True(t, cert.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
	assert.True(t, cert.IPAddresses[1].Equal(net.ParseIP("10.1.2.3")))
	assert.NoError(t, cert.VerifyHostname("bench.lan"))

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestAdvertiseAddr(t *testing.T) {
	assert.Equal(t, "192.168.1.50", AdvertiseAddr("192.168.1.50"))
	assert.Equal(t, "relay.local", AdvertiseAddr("relay.local"))

	for _, wildcard := range []string{"", "0.0.0.0", "::"} {
		ip := net.ParseIP(AdvertiseAddr(wildcard))
		require.NotNil(t, ip, wildcard)
		assert.NotNil(t, ip.To4(), wildcard)
		assert.False(t, ip.IsUnspecified(), wildcard)
	}
}

func TestCollectHostInfo(t *testing.T) {
	// Partial failures are tolerated; the runtime fields never depend on them.
	info, _ := CollectHostInfo(context.Background())
	assert.NotEmpty(t, info.GOOS)
	assert.NotEmpty(t, info.GOARCH)
	assert.Positive(t, info.CPUCores)
}

func TestSampleUsage(t *testing.T) {
	u, _ := SampleUsage(context.Background())
	assert.Positive(t, u.Goroutines)
}
