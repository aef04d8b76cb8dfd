package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateEndpoint(&cfg.Endpoint, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateEndpoint(ep *EndpointConfig, result *ValidationResult) {
	if strings.TrimSpace(ep.Host) == "" {
		result.AddError("endpoint.host", "listen host is required")
	} else if net.ParseIP(ep.Host) == nil && ep.Host != "localhost" {
		result.AddWarning("endpoint.host",
			fmt.Sprintf("host %q is not an IP address and will be resolved at bind time", ep.Host))
	}

	if len(ep.Ports) == 0 {
		result.AddError("endpoint.ports", "at least one relay port is required")
	}

	seen := make(map[int]bool, len(ep.Ports))
	for i, port := range ep.Ports {
		validatePort(port, fmt.Sprintf("endpoint.ports[%d]", i), result)
		if seen[port] {
			result.AddError("endpoint.ports",
				fmt.Sprintf("port conflict detected: %d is listed more than once", port))
		}
		seen[port] = true
	}

	if ep.ReadTimeoutSec < 0 {
		result.AddError("endpoint.read_timeout_sec", "read timeout cannot be negative")
	}

	if ep.ReceiveBufferSize < 1 {
		result.AddError("endpoint.receive_buffer_size", "receive buffer must hold at least one byte")
	}

	if ep.BindRetries < 0 {
		result.AddError("endpoint.bind_retries", "bind retries cannot be negative")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if strings.TrimSpace(data.MQTT.TopicPrefix) == "" {
			result.AddWarning("application_data.mqtt.topic_prefix", "empty topic prefix, topics will start with '/'")
		}
	}

	if data.Redis.Enabled && strings.TrimSpace(data.Redis.Address) == "" {
		result.AddError("application_data.redis.address", "Redis address is required when enabled")
	}

	if data.Journal.Enabled {
		if strings.TrimSpace(data.Journal.Path) == "" {
			result.AddError("application_data.journal.path", "journal path is required when enabled")
		}
		if data.Journal.RetentionDays < 1 {
			result.AddError("application_data.journal.retention_days", "retention days must be at least 1")
		}
	}

	if data.Timers.SnapshotInterval < 1 {
		result.AddWarning("application_data.timers.snapshot_interval_sec",
			"snapshot interval below 1s, periodic snapshots are disabled")
	}

	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
