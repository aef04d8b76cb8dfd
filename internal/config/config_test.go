package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)
	assert.Equal(t, []int{8080, 8081}, DefaultConfig().Endpoint.Ports)
	assert.Zero(t, DefaultConfig().Endpoint.ReadTimeoutSec)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Path())

	_, err = os.Stat(cfg.Path())
	assert.NoError(t, err)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	body := `{"endpoint": {"host": "127.0.0.1", "ports": [9000]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(body), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	ep := cfg.GetEndpoint()
	assert.Equal(t, "127.0.0.1", ep.Host)
	assert.Equal(t, []int{9000}, ep.Ports)
	assert.Equal(t, 1024, ep.ReceiveBufferSize)
	assert.Equal(t, "127.0.0.1:9000", ep.Addr(9000))
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidateEndpointErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoint.Ports = []int{8080, 8080, 70000}
	cfg.Endpoint.ReadTimeoutSec = -1

	result := Validate(cfg)
	require.False(t, result.IsValid())

	fields := map[string]bool{}
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["endpoint.ports"])
	assert.True(t, fields["endpoint.ports[2]"])
	assert.True(t, fields["endpoint.read_timeout_sec"])
}

func TestValidateNoPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoint.Ports = nil
	assert.False(t, Validate(cfg).IsValid())
}

func TestValidateSinks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplicationData.MQTT.Enabled = true
	cfg.ApplicationData.MQTT.BrokerURL = ""
	cfg.ApplicationData.Redis.Enabled = true
	cfg.ApplicationData.Redis.Address = ""

	result := Validate(cfg)
	assert.Len(t, result.Errors, 2)
}

func TestGetEndpointReturnsCopy(t *testing.T) {
	cfg := DefaultConfig()
	ep := cfg.GetEndpoint()
	ep.Ports[0] = 1
	assert.Equal(t, 8080, cfg.GetEndpoint().Ports[0])
}
