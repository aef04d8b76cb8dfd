// Package config handles configuration loading, validation, and persistence
// for the relaybench relay server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir     = "config"
	DefaultConfigFile    = "relaybench.json"
	DefaultHost          = "0.0.0.0"
	DefaultPrimaryPort   = 8080
	DefaultSecondaryPort = 8081
	DefaultAPIPort       = 5080
)

// Config is the root configuration structure for relaybench.
type Config struct {
	mu   sync.RWMutex
	path string

	Endpoint        EndpointConfig  `json:"endpoint"`
	ApplicationData ApplicationData `json:"application_data"`
}

// EndpointConfig describes the emulated relay devices: one state cell per port.
type EndpointConfig struct {
	Host  string `json:"host"`
	Ports []int  `json:"ports"`

	// ReadTimeoutSec bounds the wait for a command byte. 0 blocks forever.
	ReadTimeoutSec int `json:"read_timeout_sec"`

	ReceiveBufferSize int `json:"receive_buffer_size"`
	BindRetries       int `json:"bind_retries"`
	BindRetryDelaySec int `json:"bind_retry_delay_sec"`
}

// ApplicationData contains the settings of the optional sinks and surfaces.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Redis    RedisConfig    `json:"redis"`
	Journal  JournalConfig  `json:"journal"`
	Timers   TimerConfig    `json:"timers"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// APIConfig holds the read-only REST monitor settings.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// RedisConfig holds the state mirror settings.
type RedisConfig struct {
	Enabled      bool   `json:"enabled"`
	Address      string `json:"address"`
	Password     string `json:"password"`
	DB           int    `json:"db"`
	KeyPrefix    string `json:"key_prefix"`
	DialTimeout  int    `json:"dial_timeout_sec"`
	WriteTimeout int    `json:"write_timeout_sec"`
}

// JournalConfig holds the SQLite command journal settings.
type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	SnapshotInterval     int `json:"snapshot_interval_sec"`
	JournalPruneInterval int `json:"journal_prune_interval_sec"`
}

// SecurityConfig holds REST API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			Host:              DefaultHost,
			Ports:             []int{DefaultPrimaryPort, DefaultSecondaryPort},
			ReadTimeoutSec:    0,
			ReceiveBufferSize: 1024,
			BindRetries:       5,
			BindRetryDelaySec: 3,
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    DefaultAPIPort,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				BrokerURL:   "localhost",
				Port:        1883,
				TopicPrefix: "relaybench",
			},
			Redis: RedisConfig{
				Enabled:      false,
				Address:      "localhost:6379",
				KeyPrefix:    "relaybench",
				DialTimeout:  5,
				WriteTimeout: 3,
			},
			Journal: JournalConfig{
				Enabled:       true,
				Path:          filepath.Join("data", "journal.db"),
				RetentionDays: 7,
			},
			Timers: TimerConfig{
				SnapshotInterval:     60,
				JournalPruneInterval: 3600,
			},
			Security: SecurityConfig{
				RateLimitRPS: 50,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 28,
			},
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults on first run.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	// A ports list in the file replaces the default one rather than merging into it.
	cfg.Endpoint.Ports = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if cfg.Endpoint.Ports == nil {
		cfg.Endpoint.Ports = []int{DefaultPrimaryPort, DefaultSecondaryPort}
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist any default fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetEndpoint returns a copy of the endpoint configuration.
func (c *Config) GetEndpoint() EndpointConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep := c.Endpoint
	ep.Ports = append([]int(nil), c.Endpoint.Ports...)
	return ep
}

// SetEndpoint updates the endpoint configuration.
func (c *Config) SetEndpoint(ep EndpointConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Endpoint = ep
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Addr returns host:port for one relay port.
func (e EndpointConfig) Addr(port int) string {
	return fmt.Sprintf("%s:%d", e.Host, port)
}
