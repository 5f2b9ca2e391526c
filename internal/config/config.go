package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neboloop/nexus/internal/defaults"
)

type Config struct {
	DataDir string `yaml:"data_dir"`
	// Locale selects the language of user-facing error text ("zh" or default English).
	Locale string `yaml:"locale"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Server struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		AuthSecret         string `yaml:"auth_secret"`
		RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
		RateLimitBurst     int    `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	Keyring struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"keyring"`

	Gemini struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"gemini"`

	Web struct {
		BaseURL   string        `yaml:"base_url"`
		UploadURL string        `yaml:"upload_url"`
		UserAgent string        `yaml:"user_agent"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"web"`

	Retry struct {
		// BackoffUnit scales the 2^attempt wait between web attempts.
		BackoffUnit time.Duration `yaml:"backoff_unit"`
	} `yaml:"retry"`
}

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	if err := c.merge(data); err != nil {
		return c, err
	}
	c.applyDefaults()
	return c, nil
}

// MergeFile overlays a user config file on top of c. A missing file is not an error.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := c.merge(data); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.applyDefaults()
	return nil
}

func (c *Config) merge(data []byte) error {
	expanded := os.ExpandEnv(string(data))
	return yaml.Unmarshal([]byte(expanded), c)
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		if dir, err := defaults.DataDir(); err == nil {
			c.DataDir = dir
		} else {
			c.DataDir = ".nexus"
		}
	}
	// Expand ~ in DataDir (config file may have a tilde path)
	if strings.HasPrefix(c.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		c.DataDir = filepath.Join(home, c.DataDir[2:])
	}
	if c.Database.Path == "" {
		c.Database.Path = defaults.DBPath(c.DataDir)
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 27460
	}
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.Gemini.Timeout == 0 {
		c.Gemini.Timeout = 5 * time.Minute
	}
	if c.Web.BaseURL == "" {
		c.Web.BaseURL = "https://gemini.google.com"
	}
	if c.Web.UploadURL == "" {
		c.Web.UploadURL = "https://content-push.googleapis.com/upload"
	}
	if c.Web.Timeout == 0 {
		c.Web.Timeout = 5 * time.Minute
	}
	if c.Retry.BackoffUnit == 0 {
		c.Retry.BackoffUnit = time.Second
	}
	if c.Locale == "" {
		c.Locale = os.Getenv("LANG")
	}
}

// UserConfigPath returns the path of the optional user override file.
func (c Config) UserConfigPath() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
