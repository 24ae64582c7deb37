// Package config loads the control-plane server configuration from YAML
// with environment-variable overrides.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Listen  string        `yaml:"listen"`
	DBPath  string        `yaml:"db_path"`
	Signing SigningConfig `yaml:"signing"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// SigningConfig carries the shared secret used to stamp policies and
// commands. An empty secret disables signing for the whole process; every
// instance serving the same fleet must be provisioned with the same secret.
type SigningConfig struct {
	Secret string `yaml:"secret"`
	KeyID  string `yaml:"key_id"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	LogSpans    bool    `yaml:"log_spans"`
}

// Default returns a config with sensible defaults.
func Default() *ServerConfig {
	return &ServerConfig{
		Listen: ":8080",
		DBPath: "controlplane.db",
		Signing: SigningConfig{
			KeyID: "default",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Load reads config from a YAML file, if present, and applies env overrides.
func Load(path string) (*ServerConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if listen := os.Getenv("STAFFSIGHT_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if dbPath := os.Getenv("STAFFSIGHT_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if secret := os.Getenv("STAFFSIGHT_SIGNING_SECRET"); secret != "" {
		cfg.Signing.Secret = secret
	}
	if keyID := os.Getenv("STAFFSIGHT_SIGNING_KEY_ID"); keyID != "" {
		cfg.Signing.KeyID = keyID
	}
	if level := os.Getenv("STAFFSIGHT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

// Validate normalizes out-of-range values back to their defaults.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return ErrMissingListen
	}
	if c.DBPath == "" {
		return ErrMissingDBPath
	}
	if c.Signing.KeyID == "" {
		c.Signing.KeyID = "default"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	return nil
}

var (
	ErrMissingListen = &Error{"listen address is required"}
	ErrMissingDBPath = &Error{"database path is required"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
