// Package config holds all Project OS configuration, loaded from a yaml file
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Project OS configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Root directory for per-user/per-project state.
	DataDir string `yaml:"data_dir"`

	LLM     LLMConfig     `yaml:"llm"`
	Memory  MemoryConfig  `yaml:"memory"`
	Server  ServerConfig  `yaml:"server"`
	Time    TimeConfig    `yaml:"time"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the thin HTTP/WebSocket front end.
type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	// Maximum concurrent turn workers across all connections.
	MaxWorkers int `yaml:"max_workers"`
}

// TimeConfig configures time awareness.
type TimeConfig struct {
	// Default zone used when the user profile carries none.
	DefaultTimezone string `yaml:"default_timezone"`
}

// LoggingConfig configures zap output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`   // empty = stderr
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "projectos",
		Version: "1.0.0",
		DataDir: "projects",

		LLM: LLMConfig{
			Provider:       "anthropic",
			Model:          "claude-3-5-haiku-20241022",
			Timeout:        "120s",
			MaxTokens:      4096,
			ClassifierTemp: 0.1,
		},

		Memory: MemoryConfig{
			MaxHistoryPairs:     12,
			DistillEveryNTurns:  3,
			FactsCompactMax:     30,
			FactsCompactChars:   2400,
			ExcerptTailChars:    9000,
			MaxTimeAnchors:      8,
			AnchorDedupeWindow:  "120s",
			ForbiddenSubstrMax:  24,
			ViolationReportMax:  8,
			InterpretiveWindow:  8,
			BringupInjectionMax: 5,
		},

		Server: ServerConfig{
			ListenAddr:   ":8775",
			ReadTimeout:  "60s",
			WriteTimeout: "60s",
			MaxWorkers:   32,
		},

		Time: TimeConfig{
			DefaultTimezone: "America/Chicago",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a yaml config file, applies defaults for missing fields, then
// applies environment overrides. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the configuration to a yaml file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides applies PROJECTOS_* environment variables over the
// loaded configuration.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("PROJECTOS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PROJECTOS_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("PROJECTOS_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("PROJECTOS_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("PROJECTOS_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("PROJECTOS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROJECTOS_TIMEZONE"); v != "" {
		c.Time.DefaultTimezone = v
	}
}

// ParseDuration parses a duration string with a fallback.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
