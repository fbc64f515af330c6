// ABOUTME: Tests for the server orchestrator
// ABOUTME: Runs a full server over SQLite files and exercises configured actions

package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servequery/servequery-agent/internal/agent"
	"github.com/servequery/servequery-agent/internal/auth"
	"github.com/servequery/servequery-agent/internal/config"
	"github.com/servequery/servequery-agent/internal/datasource/memory"
	"github.com/servequery/servequery-agent/internal/store"
	"github.com/servequery/servequery-agent/internal/toolkit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig creates a data database with three actors and a permission
// store where user 1 (role admin) may trigger actors/archive.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	dataPath := filepath.Join(dir, "data.db")
	db, err := sql.Open("sqlite", dataPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE actors (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO actors (id, name) VALUES (1, 'Ada'), (2, 'Grace'), (3, 'Linus');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	permPath := filepath.Join(dir, "permissions.db")
	s, err := store.NewSQLiteStore(permPath)
	require.NoError(t, err)
	role := &store.Role{Name: "admin"}
	require.NoError(t, s.CreateRole(ctx, role))
	user := &store.User{Email: "admin@example.com", RoleID: role.ID}
	require.NoError(t, s.CreateUser(ctx, user))
	require.NoError(t, s.SetActionPermission(ctx, &store.ActionPermission{
		RoleID: role.ID, Collection: "actors", Action: "archive", TriggerEnabled: true,
	}))
	require.NoError(t, s.Close())

	return &config.Config{
		Server:      config.ServerConfig{HTTPAddr: "127.0.0.1:0", ShutdownTimeout: 5 * time.Second},
		Database:    config.DatabaseConfig{Path: permPath},
		Auth:        config.AuthConfig{Secret: testSecret, TokenTTL: time.Hour},
		Permissions: config.PermissionsConfig{CacheSize: 10},
		DataSources: []config.DataSourceConfig{{Name: "main", Type: config.DataSourceSQL, DSN: dataPath}},
		Actions: []config.ActionConfig{{
			Collection:     "actors",
			Name:           "archive",
			Scope:          "Bulk",
			SuccessMessage: "Archived {count}",
			Form:           []config.FormFieldConfig{{Label: "Reason", Type: "String", Required: true}},
		}},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

// serve runs srv on a random port until the test ends.
func serve(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shutdown in time")
		}
	})
	return "http://" + ln.Addr().String()
}

func callerToken(t *testing.T, id int) string {
	t.Helper()
	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	token, err := verifier.Generate(&toolkit.Caller{ID: id, Email: "admin@example.com"}, time.Hour)
	require.NoError(t, err)
	return token
}

func postAction(t *testing.T, url, token string, ids ...string) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"data": map[string]any{"attributes": map[string]any{"ids": ids}}})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestServer_ConfiguredAction(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t), testLogger())
	require.NoError(t, err)
	base := serve(t, srv)

	resp, err := http.Get(base + "/servequery/healthcheck")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body := postAction(t, base+"/servequery/_actions/actors/archive", callerToken(t, 1), "1", "3")
	assert.Equal(t, http.StatusOK, status, "body: %v", body)
	assert.Equal(t, "Archived 2", body["success"])

	status, body = postAction(t, base+"/servequery/_actions/actors/archive", callerToken(t, 99), "1")
	assert.Equal(t, http.StatusForbidden, status, "unknown users have no permission")
	assert.NotNil(t, body["errors"])
}

func TestServer_AuditLog(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	base := serve(t, srv)

	status, _ := postAction(t, base+"/servequery/_actions/actors/archive", callerToken(t, 1), "2")
	require.Equal(t, http.StatusOK, status)

	entries, err := srv.store.ListAuditLog(context.Background(), store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditOutcomeAllowed, entries[0].Outcome)
	assert.Equal(t, 1, entries[0].ActorUserID)
}

func TestServer_ReloadPermissions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Permissions.CacheTTL = time.Hour
	srv, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	base := serve(t, srv)
	url := base + "/servequery/_actions/actors/archive"

	status, _ := postAction(t, url, callerToken(t, 1), "1")
	require.Equal(t, http.StatusOK, status)

	// Revoke through the store, as servequery-admin would.
	ctx := context.Background()
	perm, err := srv.store.GetActionPermission(ctx, 1, "actors", "archive")
	require.NoError(t, err)
	perm.TriggerEnabled = false
	require.NoError(t, srv.store.SetActionPermission(ctx, perm))

	status, _ = postAction(t, url, callerToken(t, 1), "1")
	assert.Equal(t, http.StatusOK, status, "cached permission still applies")

	srv.ReloadPermissions()
	status, body := postAction(t, url, callerToken(t, 1), "1")
	assert.Equal(t, http.StatusForbidden, status, "body: %v", body)
}

func TestServer_Options(t *testing.T) {
	cfg := testConfig(t)
	cfg.Actions = nil

	extra := memory.NewCollection("notes", toolkit.CollectionSchema{
		Fields: map[string]toolkit.ColumnSchema{"id": {ColumnType: toolkit.ColumnTypeNumber, IsPrimaryKey: true}},
	})
	var customized bool
	srv, err := New(context.Background(), cfg, testLogger(),
		WithDataSource(memory.NewDataSource(extra)),
		WithCustomization(func(a *agent.Agent) {
			customized = true
			a.CustomizeCollection("notes", func(c *agent.CollectionCustomizer) {
				c.AddAction("pin", agent.ActionDefinition{
					Execute: func(context.Context, *agent.ActionContext) (agent.ActionResult, error) {
						return agent.Success("pinned"), nil
					},
				})
			})
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	assert.True(t, customized)
	assert.NotNil(t, srv.Agent())
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{"weak secret", func(cfg *config.Config) { cfg.Auth.Secret = "short" }, "creating JWT verifier"},
		{"action on unknown collection", func(cfg *config.Config) {
			cfg.Actions = append(cfg.Actions, config.ActionConfig{Collection: "ghosts", Name: "boo", Scope: "Single"})
		}, "starting agent"},
		{"missing data source file", func(cfg *config.Config) {
			cfg.DataSources[0].DSN = filepath.Join(t.TempDir(), "missing", "data.db")
		}, "opening data source main"},
		{"duplicate collection", func(cfg *config.Config) {
			cfg.DataSources = append(cfg.DataSources, config.DataSourceConfig{Name: "copy", Type: config.DataSourceSQL, DSN: cfg.DataSources[0].DSN})
		}, "combining data sources"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			_, err := New(context.Background(), cfg, testLogger())
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error = %v", err)
		})
	}
}
