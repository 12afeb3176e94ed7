// Package config loads the daoctl configuration.
//
// Config file locations (priority order):
//  1. $DAOCTL_CONFIG
//  2. ./daoctl.yaml
//  3. ~/.config/daoctl/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/enyo/rincewind-sub000/internal/uid"
)

const (
	// EnvConfigPath names an explicit config file.
	EnvConfigPath = "DAOCTL_CONFIG"
	// ConfigFileName is looked up in the working directory.
	ConfigFileName = "daoctl.yaml"
	// ConfigDirName is the directory under ~/.config.
	ConfigDirName = "daoctl"
)

// Backing-resource drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
	DriverDynamoDB = "dynamodb"
)

// Config is the daoctl configuration file.
type Config struct {
	Driver      string         `yaml:"driver"`
	DSN         string         `yaml:"dsn,omitempty"`
	Dir         string         `yaml:"dir,omitempty"`
	Format      string         `yaml:"format,omitempty"`
	DynamoDB    DynamoDBConfig `yaml:"dynamodb,omitempty"`
	Definitions string         `yaml:"definitions"`
	Verbose     bool           `yaml:"verbose,omitempty"`

	// IDGenerator names the id generator for drivers that assign ids
	// themselves: "ulid", "uuid" or "uid(n)". Empty keeps the driver default.
	IDGenerator string `yaml:"idGenerator,omitempty"`
}

// DynamoDBConfig locates the single table.
type DynamoDBConfig struct {
	Table    string `yaml:"table,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	IsoDates bool   `yaml:"isoDates,omitempty"`
}

// Load finds and loads the config file, or returns defaults if none found.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

// DefaultConfig is a local SQLite database next to a definitions file.
func DefaultConfig() *Config {
	return &Config{
		Driver:      DriverSQLite,
		DSN:         "./daoctl.db",
		Format:      "json",
		Definitions: "./daos.yaml",
		DynamoDB:    DynamoDBConfig{Region: "eu-central-1"},
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Driver == "" {
		c.Driver = d.Driver
	}
	if c.Driver == DriverSQLite && c.DSN == "" {
		c.DSN = d.DSN
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Definitions == "" {
		c.Definitions = d.Definitions
	}
	if c.DynamoDB.Region == "" {
		c.DynamoDB.Region = d.DynamoDB.Region
	}
}

// Validate checks the driver-specific settings.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("driver %s needs a dsn", c.Driver)
		}
	case DriverFile:
		if c.Dir == "" {
			return fmt.Errorf("driver file needs a dir")
		}
		if c.Format != "json" && c.Format != "yaml" {
			return fmt.Errorf("unknown file format %q", c.Format)
		}
	case DriverDynamoDB:
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("driver dynamodb needs a table")
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.IDGenerator != "" {
		if _, err := uid.ForKind(c.IDGenerator); err != nil {
			return err
		}
	}
	return nil
}

// NewID resolves IDGenerator. It returns nil when none is configured.
func (c *Config) NewID() (uid.Generator, error) {
	if c.IDGenerator == "" {
		return nil, nil
	}
	return uid.ForKind(c.IDGenerator)
}

// FindConfigPath returns the first existing config file, "" if none.
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" && fileExists(path) {
		return path
	}
	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
