// Package config loads the daemon configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete daemon configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Network NetworkConfig `mapstructure:"network"`
	DHT     DHTConfig     `mapstructure:"dht"`
	Storage StorageConfig `mapstructure:"storage"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxUploadMB       int           `mapstructure:"max_upload_mb"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
}

// NetworkConfig contains BitTorrent listener settings
type NetworkConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
	EnableIPv6  bool   `mapstructure:"enable_ipv6"`
}

// DHTConfig contains DHT settings
type DHTConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	BootstrapNodes []string `mapstructure:"bootstrap_nodes"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
	SessionFile string `mapstructure:"session_file"`
}

// LimitsConfig contains bandwidth and connection limits
type LimitsConfig struct {
	MaxUploadKBps   int `mapstructure:"max_upload_kbps"`
	MaxDownloadKBps int `mapstructure:"max_download_kbps"`
	MaxConnections  int `mapstructure:"max_connections"`
}

// WatchConfig contains the optional .torrent drop directory
type WatchConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              3001,
			HeartbeatInterval: 1500 * time.Millisecond,
			MaxUploadMB:       10,
		},
		Network: NetworkConfig{
			BindAddress: "0.0.0.0",
			Port:        42069,
			EnableIPv6:  true,
		},
		DHT: DHTConfig{
			Enabled: true,
		},
		Storage: StorageConfig{
			DownloadDir: "./downloads",
		},
		Limits: LimitsConfig{
			MaxUploadKBps:   0, // 0 = unlimited
			MaxDownloadKBps: 0,
			MaxConnections:  55,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// SessionPath returns the session file location, defaulting to a hidden
// file inside the download directory.
func (c *Config) SessionPath() string {
	if c.Storage.SessionFile != "" {
		return c.Storage.SessionFile
	}
	return filepath.Join(c.Storage.DownloadDir, ".torrentio-session.yaml")
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}

	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("server.heartbeat_interval must be positive")
	}

	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}

	// 0 lets the OS pick a free port
	if c.Network.Port < 0 || c.Network.Port > 65535 {
		return fmt.Errorf("network.port must be between 0 and 65535")
	}

	if c.Limits.MaxUploadKBps < 0 || c.Limits.MaxDownloadKBps < 0 {
		return fmt.Errorf("limits must not be negative")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.Log.Level) {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console'")
	}

	if c.Storage.DownloadDir == "" {
		return fmt.Errorf("storage.download_dir cannot be empty")
	}

	if _, err := os.Stat(c.Storage.DownloadDir); os.IsNotExist(err) {
		if err := os.MkdirAll(c.Storage.DownloadDir, 0755); err != nil {
			return fmt.Errorf("failed to create download directory: %w", err)
		}
	}

	return nil
}

var envReplacer = strings.NewReplacer(".", "_")

// BindEnv wires the environment variables the daemon has always accepted
// (HOST, PORT, TORRENTIO_DOWNLOAD_DIR) next to the TORRENTIO_ prefixed keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("TORRENTIO")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	_ = v.BindEnv("server.host", "TORRENTIO_SERVER_HOST", "HOST")
	_ = v.BindEnv("server.port", "TORRENTIO_SERVER_PORT", "PORT")
	_ = v.BindEnv("storage.download_dir", "TORRENTIO_STORAGE_DOWNLOAD_DIR", "TORRENTIO_DOWNLOAD_DIR")
}

// LoadConfig loads configuration from file, environment, and flags
func LoadConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	defaults := DefaultConfig()

	// Server
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.heartbeat_interval", defaults.Server.HeartbeatInterval)
	v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	v.SetDefault("server.cors_origins", defaults.Server.CORSOrigins)

	// Network
	v.SetDefault("network.bind_address", defaults.Network.BindAddress)
	v.SetDefault("network.port", defaults.Network.Port)
	v.SetDefault("network.enable_ipv6", defaults.Network.EnableIPv6)

	// DHT
	v.SetDefault("dht.enabled", defaults.DHT.Enabled)
	v.SetDefault("dht.bootstrap_nodes", defaults.DHT.BootstrapNodes)

	// Storage
	v.SetDefault("storage.download_dir", defaults.Storage.DownloadDir)
	v.SetDefault("storage.session_file", defaults.Storage.SessionFile)

	// Limits
	v.SetDefault("limits.max_upload_kbps", defaults.Limits.MaxUploadKBps)
	v.SetDefault("limits.max_download_kbps", defaults.Limits.MaxDownloadKBps)
	v.SetDefault("limits.max_connections", defaults.Limits.MaxConnections)

	// Watch
	v.SetDefault("watch.dir", defaults.Watch.Dir)

	// Log
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)

	if err := v.ReadInConfig(); err != nil {
		// Both search-path misses and an explicit missing file fall back to defaults.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
