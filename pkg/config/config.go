// Package config provides configuration management for facecompare.
// It loads configuration from YAML files with sensible defaults and lets
// environment variables override the deployment-specific values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all facecompare configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Imaging     ImagingConfig     `yaml:"imaging"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AllowedHosts    []string      `yaml:"allowed_hosts"`
	Debug           bool          `yaml:"debug"`
	Secret          string        `yaml:"secret"`
	MaxMemory       int64         `yaml:"max_memory"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RecognitionConfig holds face model settings.
type RecognitionConfig struct {
	ModelPath string `yaml:"model_path"`
	Detector  string `yaml:"detector"` // "hog", "cnn" or "auto"
	Workers   int    `yaml:"workers"`
}

// ImagingConfig holds image acquisition and normalization settings.
type ImagingConfig struct {
	MaxWidth      int           `yaml:"max_width"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	MaxFetchBytes int64         `yaml:"max_fetch_bytes"`
	MaxPixels     int64         `yaml:"max_pixels"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	Parallel     bool          `yaml:"parallel"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			AllowedHosts:    []string{"*"},
			Debug:           false,
			Secret:          "insecure-secret-key",
			MaxMemory:       32 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Recognition: RecognitionConfig{
			ModelPath: filepath.Join(homeDir, ".local/share/facecompare/models"),
			Detector:  "hog",
			Workers:   1,
		},
		Imaging: ImagingConfig{
			MaxWidth:      250,
			FetchTimeout:  5 * time.Second,
			MaxFetchBytes: 20 << 20,
			MaxPixels:     40_000_000,
		},
		Pipeline: PipelineConfig{
			Parallel:     false,
			StageTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file.
// On error the defaults are returned alongside it.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facecompare/facecompare.yaml"); err == nil {
		return Load("/etc/facecompare/facecompare.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facecompare/facecompare.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// envInt reads an environment variable as a positive integer.
// Returns the current value if the variable is unset or invalid.
func envInt(key string, current int) int {
	s := os.Getenv(key)
	if s == "" {
		return current
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return current
}

// ApplyEnv overrides deployment-specific values from FACECOMPARE_* variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("FACECOMPARE_HOST"); v != "" {
		c.Server.Host = v
	}
	c.Server.Port = envInt("FACECOMPARE_PORT", c.Server.Port)
	if v := os.Getenv("FACECOMPARE_SECRET"); v != "" {
		c.Server.Secret = v
	}
	if v := os.Getenv("FACECOMPARE_ALLOWED_HOSTS"); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		c.Server.AllowedHosts = hosts
	}
	if v := os.Getenv("FACECOMPARE_MODEL_PATH"); v != "" {
		c.Recognition.ModelPath = v
	}
	c.Recognition.Workers = envInt("FACECOMPARE_WORKERS", c.Recognition.Workers)
	if v := os.Getenv("FACECOMPARE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	if c.Logging.File != "" {
		c.Logging.File = ExpandPath(c.Logging.File)
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Server.AllowedHosts) == 0 {
		return fmt.Errorf("allowed_hosts must not be empty (use \"*\" to allow any host)")
	}
	if c.Server.MaxMemory <= 0 {
		return fmt.Errorf("max_memory must be positive, got %d", c.Server.MaxMemory)
	}

	validDetectors := map[string]bool{"hog": true, "cnn": true, "auto": true}
	if !validDetectors[c.Recognition.Detector] {
		return fmt.Errorf("invalid detector: %s (must be hog, cnn, or auto)", c.Recognition.Detector)
	}
	if c.Recognition.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Recognition.Workers)
	}

	if c.Imaging.MaxWidth <= 0 {
		return fmt.Errorf("max_width must be positive, got %d", c.Imaging.MaxWidth)
	}
	if c.Imaging.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive, got %s", c.Imaging.FetchTimeout)
	}
	if c.Imaging.MaxFetchBytes <= 0 {
		return fmt.Errorf("max_fetch_bytes must be positive, got %d", c.Imaging.MaxFetchBytes)
	}
	if c.Imaging.MaxPixels <= 0 {
		return fmt.Errorf("max_pixels must be positive, got %d", c.Imaging.MaxPixels)
	}

	if c.Pipeline.StageTimeout < 0 {
		return fmt.Errorf("stage_timeout must not be negative, got %s", c.Pipeline.StageTimeout)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
