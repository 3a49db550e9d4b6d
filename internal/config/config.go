// Package config handles configuration loading and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
)

// Heart-rate sources.
const (
	HeartRateNone      = "none"
	HeartRateWebSocket = "websocket"
	HeartRateSerial    = "serial"
)

// Config holds all configuration for the daemon.
type Config struct {
	StoragePath   string `yaml:"storage_path"`
	RecordSamples bool   `yaml:"record_samples"` // Keep raw samples for export/replay

	Detection     DetectionConfig     `yaml:"detection"`
	Input         InputConfig         `yaml:"input"`
	HeartRate     HeartRateConfig     `yaml:"heart_rate"`
	Notifications NotificationsConfig `yaml:"notifications"`
	API           APIConfig           `yaml:"api"`
}

// DetectionConfig tunes the feature window and decision engine.
type DetectionConfig struct {
	WindowSeconds            float64 `yaml:"window_seconds"`
	InferenceIntervalSeconds float64 `yaml:"inference_interval_seconds"`
	HistorySize              int     `yaml:"history_size"`
	StressThreshold          float64 `yaml:"stress_threshold"`
	CooldownSeconds          float64 `yaml:"cooldown_seconds"`
	ModelPath                string  `yaml:"model_path"` // Empty: heuristic only
}

// InputConfig selects the scroll input device.
type InputConfig struct {
	WheelEnabled    bool    `yaml:"wheel_enabled"`
	Device          string  `yaml:"device"` // Empty: auto-detect
	PixelsPerDetent float64 `yaml:"pixels_per_detent"`
}

// HeartRateConfig selects the optional heart-rate feed.
type HeartRateConfig struct {
	Source     string `yaml:"source"` // none, websocket, serial
	URL        string `yaml:"url"`
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
}

// NotificationsConfig controls how interventions reach the user.
type NotificationsConfig struct {
	Desktop    bool   `yaml:"desktop"`
	SocketPath string `yaml:"socket_path"`
}

// APIConfig controls the local HTTP API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	storage := filepath.Join(home, ".local", "share", "stressnudger")

	return &Config{
		StoragePath:   storage,
		RecordSamples: true,

		Detection: DetectionConfig{
			WindowSeconds:            biometrics.DefaultWindowSpan.Seconds(),
			InferenceIntervalSeconds: biometrics.DefaultInferenceInterval.Seconds(),
			HistorySize:              biometrics.DefaultHistorySize,
			StressThreshold:          biometrics.DefaultStressThreshold,
			CooldownSeconds:          biometrics.DefaultCooldown.Seconds(),
		},

		Input: InputConfig{
			WheelEnabled:    true,
			PixelsPerDetent: 53,
		},

		HeartRate: HeartRateConfig{
			Source:   HeartRateNone,
			BaudRate: 115200,
		},

		Notifications: NotificationsConfig{
			Desktop:    true,
			SocketPath: filepath.Join(storage, "stressnudger.sock"),
		},

		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:7878",
		},
	}
}

// Path returns the default config file location.
func Path() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "stressnudger", "config.yaml")
}

// Load loads configuration from the default path, falling back to defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil
	}

	configPaths := []string{
		Path(),
		filepath.Join(home, ".local", "share", "stressnudger", "config.yaml"),
	}

	for _, path := range configPaths {
		err := loadFromFile(cfg, path)
		if err == nil {
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	return cfg, nil
}

// LoadFile loads an explicit config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFromFile(cfg, path); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads a YAML config file and merges it into cfg.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	// Expand ~ in paths
	cfg.StoragePath = expandTilde(cfg.StoragePath)
	cfg.Detection.ModelPath = expandTilde(cfg.Detection.ModelPath)
	cfg.Notifications.SocketPath = expandTilde(cfg.Notifications.SocketPath)
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	d := c.Detection
	switch {
	case d.WindowSeconds <= 0:
		return fmt.Errorf("detection.window_seconds must be positive, got %v", d.WindowSeconds)
	case d.InferenceIntervalSeconds <= 0:
		return fmt.Errorf("detection.inference_interval_seconds must be positive, got %v", d.InferenceIntervalSeconds)
	case d.HistorySize < 1:
		return fmt.Errorf("detection.history_size must be at least 1, got %d", d.HistorySize)
	case d.StressThreshold <= 0 || d.StressThreshold >= 1:
		return fmt.Errorf("detection.stress_threshold must be in (0,1), got %v", d.StressThreshold)
	case d.CooldownSeconds < 0:
		return fmt.Errorf("detection.cooldown_seconds must not be negative, got %v", d.CooldownSeconds)
	}

	switch c.HeartRate.Source {
	case "", HeartRateNone:
	case HeartRateWebSocket:
		if c.HeartRate.URL == "" {
			return errors.New("heart_rate.url is required for the websocket source")
		}
	case HeartRateSerial:
		if c.HeartRate.SerialPort == "" {
			return errors.New("heart_rate.serial_port is required for the serial source")
		}
	default:
		return fmt.Errorf("unknown heart_rate.source %q", c.HeartRate.Source)
	}

	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api.listen is required when the API is enabled")
	}
	return nil
}

// EngineConfig converts the detection settings for the engine.
func (c *Config) EngineConfig() biometrics.EngineConfig {
	d := c.Detection
	return biometrics.EngineConfig{
		WindowSpan:        seconds(d.WindowSeconds),
		InferenceInterval: seconds(d.InferenceIntervalSeconds),
		HistorySize:       d.HistorySize,
		Threshold:         d.StressThreshold,
		Cooldown:          seconds(d.CooldownSeconds),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DatabasePath returns the SQLite file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StoragePath, "stressnudger.db")
}

// Save writes the current config to disk.
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

// SaveTo writes the config to path.
func (c *Config) SaveTo(path string) error {
	if path == "" {
		return errors.New("no config path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureStorageDir creates the storage directory if it doesn't exist.
func (c *Config) EnsureStorageDir() error {
	return os.MkdirAll(c.StoragePath, 0700)
}
