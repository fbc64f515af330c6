// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "agent.yaml", `
server:
  http_addr: "0.0.0.0:3310"
  shutdown_timeout: "10s"

database:
  path: "./permissions.db"

auth:
  auth_secret: "`+testSecret+`"
  token_ttl: "15m"

permissions:
  cache_ttl: "1m"
  cache_size: 50

datasources:
  - name: main
    type: sql
    dsn: "./app.db"
  - name: events
    type: mongo
    uri: "mongodb://localhost:27017"
    database: app
    collections:
      - name: events
        fields:
          kind: String
          amount: Number

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:3310" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:3310")
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, 10*time.Second)
	}
	if cfg.Database.Path != "./permissions.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./permissions.db")
	}
	if cfg.Auth.TokenTTL != 15*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, 15*time.Minute)
	}
	if cfg.Permissions.CacheTTL != time.Minute {
		t.Errorf("Permissions.CacheTTL = %v, want %v", cfg.Permissions.CacheTTL, time.Minute)
	}
	if cfg.Permissions.CacheSize != 50 {
		t.Errorf("Permissions.CacheSize = %d, want 50", cfg.Permissions.CacheSize)
	}

	if len(cfg.DataSources) != 2 {
		t.Fatalf("len(DataSources) = %d, want 2", len(cfg.DataSources))
	}
	if cfg.DataSources[0].Type != DataSourceSQL || cfg.DataSources[0].DSN != "./app.db" {
		t.Errorf("DataSources[0] = %+v", cfg.DataSources[0])
	}
	mongo := cfg.DataSources[1]
	if mongo.Collections[0].PrimaryKey != "_id" {
		t.Errorf("default primary key = %q, want _id", mongo.Collections[0].PrimaryKey)
	}
	types := mongo.Collections[0].ColumnTypes()
	if types["amount"] != toolkit.ColumnTypeNumber {
		t.Errorf("amount type = %q, want Number", types["amount"])
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "agent.toml", `
[server]
http_addr = "127.0.0.1:3310"

[database]
path = "./permissions.db"

[auth]
auth_secret = "`+testSecret+`"

[permissions]
cache_ttl = "0s"

[[datasources]]
name = "main"
type = "sql"
dsn = "./app.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:3310" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Permissions.CacheTTL != 0 {
		t.Errorf("Permissions.CacheTTL = %v, want 0 (explicitly disabled)", cfg.Permissions.CacheTTL)
	}
	if len(cfg.DataSources) != 1 || cfg.DataSources[0].Name != "main" {
		t.Errorf("DataSources = %+v", cfg.DataSources)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, "agent.yaml", `
server:
  http_addr: ":3310"
database:
  path: "./permissions.db"
auth:
  auth_secret: "`+testSecret+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("TokenTTL = %v, want 1h", cfg.Auth.TokenTTL)
	}
	if cfg.Permissions.CacheTTL != 30*time.Second {
		t.Errorf("CacheTTL = %v, want 30s", cfg.Permissions.CacheTTL)
	}
	if cfg.Permissions.CacheSize != 1000 {
		t.Errorf("CacheSize = %d, want 1000", cfg.Permissions.CacheSize)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_AGENT_SECRET", testSecret)
	t.Setenv("TEST_AGENT_DB", "/tmp/perm.db")

	configPath := writeConfig(t, "agent.yaml", `
server:
  http_addr: ":3310"
database:
  path: "${TEST_AGENT_DB}"
auth:
  auth_secret: "${TEST_AGENT_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Secret != testSecret {
		t.Errorf("Auth.Secret = %q, want expanded value", cfg.Auth.Secret)
	}
	if cfg.Database.Path != "/tmp/perm.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/perm.db")
	}
}

func TestLoad_Errors(t *testing.T) {
	base := `
server:
  http_addr: ":3310"
database:
  path: "./permissions.db"
auth:
  auth_secret: "` + testSecret + `"
`
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "server: [", "parsing config file"},
		{"bad duration", base + "permissions:\n  cache_ttl: \"soon\"\n", "cache_ttl"},
		{"missing http addr", "database:\n  path: x\nauth:\n  auth_secret: \"" + testSecret + "\"\n", "server.http_addr is required"},
		{"missing database", "server:\n  http_addr: \":1\"\nauth:\n  auth_secret: \"" + testSecret + "\"\n", "database.path is required"},
		{"short secret", "server:\n  http_addr: \":1\"\ndatabase:\n  path: x\nauth:\n  auth_secret: short\n", "auth.auth_secret"},
		{"negative cache ttl", base + "permissions:\n  cache_ttl: \"-1s\"\n", "cache_ttl must not be negative"},
		{"bad log level", base + "logging:\n  level: loud\n", "logging.level"},
		{"bad log format", base + "logging:\n  format: xml\n", "logging.format"},
		{"datasource without name", base + "datasources:\n  - type: sql\n    dsn: x\n", "datasources[0].name is required"},
		{"duplicate datasource", base + "datasources:\n  - {name: a, type: sql, dsn: x}\n  - {name: a, type: sql, dsn: y}\n", "duplicate name"},
		{"unknown datasource type", base + "datasources:\n  - {name: a, type: redis}\n", "type must be"},
		{"sql without dsn", base + "datasources:\n  - {name: a, type: sql}\n", "dsn is required"},
		{"mongo without uri", base + "datasources:\n  - {name: a, type: mongo, database: d}\n", "uri is required"},
		{"mongo without collections", base + "datasources:\n  - {name: a, type: mongo, uri: u, database: d}\n", "at least one collection"},
		{"action without name", base + "actions:\n  - collection: actors\n", "collection and name are required"},
		{"duplicate action", base + "actions:\n  - {collection: actors, name: a}\n  - {collection: actors, name: a}\n", "duplicate action actors/a"},
		{"bad action scope", base + "actions:\n  - {collection: actors, name: a, scope: Many}\n", "scope must be"},
		{"form field without label", base + "actions:\n  - collection: actors\n    name: a\n    form:\n      - type: Number\n", "label is required"},
		{"mongo bad field type", base + "datasources:\n  - name: a\n    type: mongo\n    uri: u\n    database: d\n    collections:\n      - name: c\n        fields: {x: Float}\n", "unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "agent.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Actions(t *testing.T) {
	cfg, err := Load(writeConfig(t, "agent.yaml", `
server:
  http_addr: ":3310"
database:
  path: "./permissions.db"
auth:
  auth_secret: "`+testSecret+`"
actions:
  - collection: actors
    name: archive
    scope: Bulk
    success_message: "Archived {count}"
    form:
      - label: Reason
        required: true
  - collection: actors
    name: ping
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Actions) != 2 {
		t.Fatalf("len(Actions) = %d, want 2", len(cfg.Actions))
	}

	archive := cfg.Actions[0]
	if archive.Scope != "Bulk" || archive.SuccessMessage != "Archived {count}" {
		t.Errorf("archive = %+v", archive)
	}
	if len(archive.Form) != 1 || archive.Form[0].Type != "String" || !archive.Form[0].Required {
		t.Errorf("archive.Form = %+v", archive.Form)
	}

	ping := cfg.Actions[1]
	if ping.Scope != string(toolkit.ActionScopeSingle) {
		t.Errorf("ping.Scope = %q, want Single", ping.Scope)
	}
	if !strings.Contains(ping.SuccessMessage, "{count}") {
		t.Errorf("ping.SuccessMessage = %q, want default message", ping.SuccessMessage)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want reading config file error", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("SERVEQUERY_CONFIG", "/etc/servequery/agent.toml")
	if got := DefaultPath(); got != "/etc/servequery/agent.toml" {
		t.Errorf("DefaultPath() = %q, want env value", got)
	}

	t.Setenv("SERVEQUERY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "servequery", "agent.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}
}
