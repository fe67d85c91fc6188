package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/user/ptyhost/configs"
)

// EnvPrefix prefixes every environment override, e.g. PTYHOST_PORT.
const EnvPrefix = "PTYHOST"

type Config struct {
	Host          string        `yaml:"host" envconfig:"HOST"`
	Port          int           `yaml:"port" envconfig:"PORT"`
	Token         string        `yaml:"token,omitempty" envconfig:"TOKEN"`
	Command       string        `yaml:"command" envconfig:"COMMAND"`
	DefaultDir    string        `yaml:"default_dir" envconfig:"DEFAULT_DIR"`
	DBPath        string        `yaml:"db_path" envconfig:"DB_PATH"`
	LogLevel      string        `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogDev        bool          `yaml:"log_dev" envconfig:"LOG_DEV"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	BatchInterval time.Duration `yaml:"batch_interval" envconfig:"BATCH_INTERVAL"`
	EventBuffer   int           `yaml:"event_buffer" envconfig:"EVENT_BUFFER"`

	ConfigPath string `yaml:"-" ignored:"true"`
	PrintToken bool   `yaml:"-" ignored:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          8765,
		Command:       "claude",
		LogLevel:      "info",
		WriteTimeout:  5 * time.Second,
		BatchInterval: 16 * time.Millisecond,
		EventBuffer:   1024,
	}
}

// Load reads ~/.config/ptyhost/config.yaml (or $PTYHOST_CONFIG), then
// environment overrides, then flags from args.
func Load(args []string) (*Config, error) {
	path := os.Getenv(EnvPrefix + "_CONFIG")
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".config", "ptyhost", "config.yaml")
	}
	return LoadFrom(path, args)
}

// LoadFrom is Load with an explicit config file path. A missing file is
// created from the shipped defaults.
func LoadFrom(path string, args []string) (*Config, error) {
	cfg := Default()
	cfg.ConfigPath = path

	if err := cfg.loadFromFile(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		if err := writeDefaults(path); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		if err := cfg.loadFromFile(); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	fs := flag.NewFlagSet("ptyhost", flag.ContinueOnError)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	fs.StringVar(&cfg.Command, "command", cfg.Command, "program started in every session")
	fs.StringVar(&cfg.DefaultDir, "dir", cfg.DefaultDir, "working directory used when a spawn request has none")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "session history database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.LogDev, "log-dev", cfg.LogDev, "human readable log output")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "deadline for a single terminal write")
	fs.DurationVar(&cfg.BatchInterval, "batch-interval", cfg.BatchInterval, "websocket output coalescing window (0 disables)")
	fs.IntVar(&cfg.EventBuffer, "event-buffer", cfg.EventBuffer, "capacity of the session event channel")
	fs.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := persistToken(path, token); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	if cfg.DefaultDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DefaultDir = home
		}
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(path), "history.db")
	}

	return cfg, nil
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("command must not be empty")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid write timeout %s", c.WriteTimeout)
	}
	if c.BatchInterval < 0 {
		return fmt.Errorf("invalid batch interval %s", c.BatchInterval)
	}
	return nil
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", c.ConfigPath, err)
	}
	return nil
}

// persistToken stores token in the config file and leaves every other key,
// and the file's comments, as they were. Environment and flag overrides never
// reach the file.
func persistToken(path, token string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level is not a mapping", path)
	}
	setScalar(doc.Content[0], "token", token)

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

func setScalar(mapping *yaml.Node, key, value string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1].SetString(value)
			return
		}
	}
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	v := &yaml.Node{}
	v.SetString(value)
	mapping.Content = append(mapping.Content, k, v)
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, configs.DefaultConfig, 0o600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
