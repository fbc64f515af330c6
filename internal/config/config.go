// ABOUTME: Configuration loading and parsing for servequery-agent
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// MinSecretLength is the minimum auth_secret length in bytes.
const MinSecretLength = 32

// Config represents the complete servequery-agent configuration
type Config struct {
	Server      ServerConfig       `yaml:"server" toml:"server"`
	Database    DatabaseConfig     `yaml:"database" toml:"database"`
	Auth        AuthConfig         `yaml:"auth" toml:"auth"`
	Permissions PermissionsConfig  `yaml:"permissions" toml:"permissions"`
	DataSources []DataSourceConfig `yaml:"datasources" toml:"datasources"`
	Actions     []ActionConfig     `yaml:"actions" toml:"actions"`
	Logging     LoggingConfig      `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig locates the permission store
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds caller token configuration
type AuthConfig struct {
	Secret   string        `yaml:"auth_secret" toml:"auth_secret"`
	TokenTTL time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// PermissionsConfig configures the permission cache
type PermissionsConfig struct {
	CacheTTL  time.Duration `yaml:"-" toml:"-"`
	CacheSize int           `yaml:"cache_size" toml:"cache_size"`

	CacheTTLRaw string `yaml:"cache_ttl" toml:"cache_ttl"`
}

// Data source types
const (
	DataSourceSQL   = "sql"
	DataSourceMongo = "mongo"
)

// DataSourceConfig declares one data source
type DataSourceConfig struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`

	// DSN is the SQLite database of a sql data source.
	DSN string `yaml:"dsn" toml:"dsn"`

	// URI, Database and Collections describe a mongo data source.
	URI         string                  `yaml:"uri" toml:"uri"`
	Database    string                  `yaml:"database" toml:"database"`
	Collections []MongoCollectionConfig `yaml:"collections" toml:"collections"`
}

// MongoCollectionConfig declares a Mongo collection and its field types
type MongoCollectionConfig struct {
	Name       string            `yaml:"name" toml:"name"`
	PrimaryKey string            `yaml:"primary_key" toml:"primary_key"`
	Fields     map[string]string `yaml:"fields" toml:"fields"`
}

// ActionConfig declares a custom action served without Go customization.
// Running it answers SuccessMessage, where {count} is replaced by the number
// of targeted records.
type ActionConfig struct {
	Collection     string            `yaml:"collection" toml:"collection"`
	Name           string            `yaml:"name" toml:"name"`
	Scope          string            `yaml:"scope" toml:"scope"`
	SuccessMessage string            `yaml:"success_message" toml:"success_message"`
	Form           []FormFieldConfig `yaml:"form" toml:"form"`
}

// FormFieldConfig is one input of a declared action form
type FormFieldConfig struct {
	Label       string `yaml:"label" toml:"label"`
	Type        string `yaml:"type" toml:"type"`
	Required    bool   `yaml:"required" toml:"required"`
	Description string `yaml:"description" toml:"description"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultPath returns the configuration path: SERVEQUERY_CONFIG when set,
// otherwise servequery/agent.yaml under the user config directory.
func DefaultPath() string {
	if p := os.Getenv("SERVEQUERY_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "servequery", "agent.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ShutdownTimeoutRaw == "" {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Auth.TokenTTLRaw == "" {
		cfg.Auth.TokenTTL = time.Hour
	}
	if cfg.Permissions.CacheTTLRaw == "" {
		cfg.Permissions.CacheTTL = 30 * time.Second
	}
	if cfg.Permissions.CacheSize == 0 {
		cfg.Permissions.CacheSize = 1000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	for i := range cfg.Actions {
		if cfg.Actions[i].Scope == "" {
			cfg.Actions[i].Scope = string(toolkit.ActionScopeSingle)
		}
		if cfg.Actions[i].SuccessMessage == "" {
			cfg.Actions[i].SuccessMessage = "Action executed on {count} record(s)"
		}
		for j := range cfg.Actions[i].Form {
			if cfg.Actions[i].Form[j].Type == "" {
				cfg.Actions[i].Form[j].Type = string(toolkit.ColumnTypeString)
			}
		}
	}
	for i := range cfg.DataSources {
		for j := range cfg.DataSources[i].Collections {
			if cfg.DataSources[i].Collections[j].PrimaryKey == "" {
				cfg.DataSources[i].Collections[j].PrimaryKey = "_id"
			}
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.Secret) < MinSecretLength {
		return fmt.Errorf("auth.auth_secret must be at least %d bytes", MinSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.Permissions.CacheTTL < 0 {
		return fmt.Errorf("permissions.cache_ttl must not be negative")
	}
	if c.Permissions.CacheSize < 0 {
		return fmt.Errorf("permissions.cache_size must not be negative")
	}

	names := map[string]bool{}
	for i, ds := range c.DataSources {
		if ds.Name == "" {
			return fmt.Errorf("datasources[%d].name is required", i)
		}
		if names[ds.Name] {
			return fmt.Errorf("datasources[%d]: duplicate name %q", i, ds.Name)
		}
		names[ds.Name] = true

		if err := ds.validate(); err != nil {
			return fmt.Errorf("datasources[%d] (%s): %w", i, ds.Name, err)
		}
	}

	actions := map[string]bool{}
	for i, a := range c.Actions {
		if a.Collection == "" || a.Name == "" {
			return fmt.Errorf("actions[%d]: collection and name are required", i)
		}
		key := a.Collection + "/" + a.Name
		if actions[key] {
			return fmt.Errorf("actions[%d]: duplicate action %s", i, key)
		}
		actions[key] = true

		switch toolkit.ActionScope(a.Scope) {
		case toolkit.ActionScopeSingle, toolkit.ActionScopeBulk, toolkit.ActionScopeGlobal:
		default:
			return fmt.Errorf("actions[%d]: scope must be Single, Bulk or Global (got %q)", i, a.Scope)
		}
		for j, f := range a.Form {
			if f.Label == "" {
				return fmt.Errorf("actions[%d].form[%d]: label is required", i, j)
			}
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	return nil
}

func (d DataSourceConfig) validate() error {
	switch d.Type {
	case DataSourceSQL:
		if d.DSN == "" {
			return fmt.Errorf("dsn is required")
		}
	case DataSourceMongo:
		if d.URI == "" {
			return fmt.Errorf("uri is required")
		}
		if d.Database == "" {
			return fmt.Errorf("database is required")
		}
		if len(d.Collections) == 0 {
			return fmt.Errorf("at least one collection is required")
		}
		for _, col := range d.Collections {
			if col.Name == "" {
				return fmt.Errorf("collection name is required")
			}
			for field, t := range col.Fields {
				if !validColumnType(t) {
					return fmt.Errorf("collection %s: field %s has unknown type %q", col.Name, field, t)
				}
			}
		}
	default:
		return fmt.Errorf("type must be %s or %s (got %q)", DataSourceSQL, DataSourceMongo, d.Type)
	}
	return nil
}

// ColumnTypes converts the declared field types of a Mongo collection.
func (m MongoCollectionConfig) ColumnTypes() map[string]toolkit.ColumnType {
	out := make(map[string]toolkit.ColumnType, len(m.Fields))
	for field, t := range m.Fields {
		out[field] = toolkit.ColumnType(t)
	}
	return out
}

func validColumnType(t string) bool {
	switch toolkit.ColumnType(t) {
	case toolkit.ColumnTypeString, toolkit.ColumnTypeNumber, toolkit.ColumnTypeBoolean,
		toolkit.ColumnTypeDate, toolkit.ColumnTypeDateonly, toolkit.ColumnTypeUUID,
		toolkit.ColumnTypeJSON, toolkit.ColumnTypeEnum:
		return true
	default:
		return false
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Permissions.CacheTTLRaw != "" {
		cfg.Permissions.CacheTTL, err = time.ParseDuration(cfg.Permissions.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache_ttl %q: %w", cfg.Permissions.CacheTTLRaw, err)
		}
	}

	return nil
}
