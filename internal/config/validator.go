package config

import (
	"fmt"
	"net"
	"strings"
	"time"
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

	validateRecorderData(&cfg.RecorderData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateRecorderData(data *RecorderData, result *ValidationResult) {
	if ip := net.ParseIP(strings.TrimSpace(data.CaptureAddress)); ip == nil {
		result.AddError("recorder_data.rec_capture_address",
			fmt.Sprintf("invalid listen address: %q", data.CaptureAddress))
	} else if !ip.IsLoopback() {
		result.AddWarning("recorder_data.rec_capture_address",
			"capture listener is not bound to loopback, hosts on the network can inject packets")
	}

	validatePort(data.CapturePort, "recorder_data.rec_capture_port", result)
	validatePort(data.APIPort, "recorder_data.rec_api_port", result)

	if data.CapturePort == data.APIPort {
		result.AddError("recorder_data.ports", "port conflict detected: capture and api ports must differ")
	}

	if data.EvictAfterEncode {
		if data.LateCaptureTTL < 1 {
			result.AddError("recorder_data.rec_late_capture_ttl_sec",
				"late capture TTL must be at least 1 second when eviction is enabled")
		}
		if data.LateCaptureCacheSize < 1 {
			result.AddError("recorder_data.rec_late_capture_cache_size",
				"late capture cache size must be at least 1 when eviction is enabled")
		}
	} else {
		result.AddWarning("recorder_data.rec_evict_after_encode",
			"eviction is disabled, session logs will grow for the lifetime of the process")
	}

	if data.HostReadTimeout < 10 {
		result.AddWarning("recorder_data.rec_host_read_timeout_sec",
			"host read timeout less than 10 seconds may drop idle hosts")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	// Storage
	if !data.Storage.DatabaseEnabled && !data.Storage.FileEnabled {
		result.AddWarning("application_data.storage",
			"no replay sink is enabled, encoded replays will be discarded")
	}
	if data.Storage.DatabaseEnabled && strings.TrimSpace(data.Storage.DatabasePath) == "" {
		result.AddError("application_data.storage.database_path",
			"database path is required when the database sink is enabled")
	}
	if data.Storage.FileEnabled && strings.TrimSpace(data.Storage.ArchiveDir) == "" {
		result.AddError("application_data.storage.archive_directory",
			"archive directory is required when the file sink is enabled")
	}

	// Retention
	if data.Retention.Enabled {
		if data.Retention.RetentionDays < 1 {
			result.AddError("application_data.retention.retention_days",
				"retention days must be at least 1")
		}
		if _, err := time.Parse("15:04", data.Retention.CleanupTime); err != nil {
			result.AddError("application_data.retention.cleanup_time",
				fmt.Sprintf("invalid cleanup time %q (expected HH:MM)", data.Retention.CleanupTime))
		}
	}

	// Timers
	if data.Timers.DiskCheckInterval < 60 {
		result.AddWarning("application_data.timers.disk_check_interval_sec",
			"disk check interval less than 60s may cause excessive polling")
	}
	if data.Timers.DiskWarningPercent < 1 || data.Timers.DiskWarningPercent > 100 {
		result.AddError("application_data.timers.disk_warning_percent",
			"disk warning percent must be between 1 and 100")
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// Security
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

	for _, entry := range data.Security.IPWhitelist {
		if net.ParseIP(entry) == nil {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				result.AddError("application_data.security.ip_whitelist",
					fmt.Sprintf("invalid IP or CIDR: %q", entry))
			}
		}
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
