package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the complete sidecar configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Whisper WhisperConfig `yaml:"whisper"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// WhisperConfig contains model selection configuration
type WhisperConfig struct {
	Model          string   `yaml:"model"`
	ComputeProfile string   `yaml:"compute_profile"`
	ModelsDir      string   `yaml:"models_dir"`
	AllowedModels  []string `yaml:"allowed_models"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is present,
// matching the sidecar's zero-config startup behavior.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8767,
			Address: "0.0.0.0",
		},
		Whisper: WhisperConfig{
			Model:          "base",
			ComputeProfile: "int8_float32",
			ModelsDir:      "models",
			AllowedModels:  []string{"base", "distil-large-v3"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file, applies environment
// overrides, and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides file values with the sidecar's environment surface:
// WHISPER_MODEL, WHISPER_COMPUTE, WHISPER_PORT, WHISPER_MODELS_DIR
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("WHISPER_MODEL"); v != "" {
		c.Whisper.Model = v
	}

	if v := os.Getenv("WHISPER_COMPUTE"); v != "" {
		c.Whisper.ComputeProfile = v
	}

	if v := os.Getenv("WHISPER_MODELS_DIR"); v != "" {
		c.Whisper.ModelsDir = v
	}

	if v := os.Getenv("WHISPER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WHISPER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	return nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Whisper.Validate(); err != nil {
		return fmt.Errorf("whisper config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates whisper configuration
func (w *WhisperConfig) Validate() error {
	if w.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if w.ModelsDir == "" {
		return fmt.Errorf("models_dir cannot be empty")
	}

	if len(w.AllowedModels) == 0 {
		return fmt.Errorf("allowed_models cannot be empty")
	}

	for _, name := range w.AllowedModels {
		if name == w.Model {
			return nil
		}
	}

	return fmt.Errorf("model %q is not in allowed_models %v", w.Model, w.AllowedModels)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}
