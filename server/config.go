package server

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/liseuse/reader"
)

// Config holds the liseuse service configuration.
type Config struct {
	Addr        string `yaml:"addr"`
	DBPath      string `yaml:"db_path"`
	LibraryRoot string `yaml:"library_root"`

	// JWTSecret signs reader tokens. Empty disables identity: every request
	// is the anonymous reader.
	JWTSecret string `yaml:"jwt_secret"`
	// RequireAuth refuses anonymous readers on the API, websocket and MCP
	// routes.
	RequireAuth bool `yaml:"require_auth"`

	MaxFileSize int64 `yaml:"max_file_size"`
	MaxBody     int64 `yaml:"max_body"`

	Reader reader.Config `yaml:"reader"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":8090"
	}
	if c.DBPath == "" {
		c.DBPath = "liseuse.db"
	}
	if c.LibraryRoot == "" {
		c.LibraryRoot = "library"
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 50 << 20
	}
	if c.MaxBody <= 0 {
		c.MaxBody = 1 << 20
	}
}

// Defaults fills unset fields.
func (c *Config) Defaults() { c.defaults() }

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
