// Package config handles configuration loading, validation, and persistence
// for the gamerecorder service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultAPIPort     = 5010
	DefaultCapturePort = 1135
)

// Config is the root configuration structure for gamerecorder.
type Config struct {
	mu   sync.RWMutex
	path string

	RecorderData    RecorderData    `json:"recorder_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// RecorderData contains capture and match-end settings.
type RecorderData struct {
	// Identity reported in API responses and telemetry
	Name string `json:"rec_name"`

	// Host notification listener
	CaptureAddress string `json:"rec_capture_address"`
	CapturePort    int    `json:"rec_capture_port"`
	APIPort        int    `json:"rec_api_port"`

	// Discard session logs once their match has been encoded
	EvictAfterEncode bool `json:"rec_evict_after_encode"`

	// Sealed session tracking for late captures
	LateCaptureTTL       int `json:"rec_late_capture_ttl_sec"`
	LateCaptureCacheSize int `json:"rec_late_capture_cache_size"`

	// Seconds without a frame before a host connection is dropped
	HostReadTimeout int `json:"rec_host_read_timeout_sec"`
}

// ApplicationData contains service-level configuration.
type ApplicationData struct {
	Storage   StorageConfig   `json:"storage"`
	Retention RetentionConfig `json:"retention"`
	Timers    TimerConfig     `json:"timers"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Security  SecurityConfig  `json:"security"`
	Logging   LoggingConfig   `json:"logging"`
}

// StorageConfig holds the replay sink settings.
type StorageConfig struct {
	DatabaseEnabled bool   `json:"database_enabled"`
	DatabasePath    string `json:"database_path"`
	FileEnabled     bool   `json:"file_enabled"`
	ArchiveDir      string `json:"archive_directory"`
}

// RetentionConfig holds archived replay cleanup settings.
type RetentionConfig struct {
	Enabled       bool   `json:"enabled"`
	CleanupTime   string `json:"cleanup_time"`
	RetentionDays int    `json:"retention_days"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	DiskCheckInterval  int `json:"disk_check_interval_sec"`
	StatsInterval      int `json:"stats_interval_sec"`
	DiskWarningPercent int `json:"disk_warning_percent"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
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
		RecorderData: RecorderData{
			Name:                 "gamerecorder",
			CaptureAddress:       "127.0.0.1",
			CapturePort:          DefaultCapturePort,
			APIPort:              DefaultAPIPort,
			EvictAfterEncode:     true,
			LateCaptureTTL:       600,
			LateCaptureCacheSize: 4096,
			HostReadTimeout:      300,
		},
		ApplicationData: ApplicationData{
			Storage: StorageConfig{
				DatabaseEnabled: true,
				DatabasePath:    filepath.Join("data", "replays.db"),
				FileEnabled:     true,
				ArchiveDir:      filepath.Join("data", "replays"),
			},
			Retention: RetentionConfig{
				Enabled:       true,
				CleanupTime:   "04:00",
				RetentionDays: 14,
			},
			Timers: TimerConfig{
				DiskCheckInterval:  3600,
				StatsInterval:      60,
				DiskWarningPercent: 90,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    1883,
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 30,
			},
		},
	}
}

// Load reads configuration from a JSON file.
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

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always carries the complete set of options.
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

// GetRecorderData returns a copy of the recorder configuration.
func (c *Config) GetRecorderData() RecorderData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RecorderData
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// LateCaptureTTLDuration returns the tombstone lifetime as a duration.
func (r RecorderData) LateCaptureTTLDuration() time.Duration {
	return time.Duration(r.LateCaptureTTL) * time.Second
}

// HostReadTimeoutDuration returns the host read timeout as a duration.
func (r RecorderData) HostReadTimeoutDuration() time.Duration {
	return time.Duration(r.HostReadTimeout) * time.Second
}
