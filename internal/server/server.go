// ABOUTME: Server orchestrator that owns the store, data sources and HTTP listener
// ABOUTME: Manages startup wiring and graceful shutdown of every component

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/servequery/servequery-agent/internal/agent"
	"github.com/servequery/servequery-agent/internal/auth"
	"github.com/servequery/servequery-agent/internal/authorization"
	"github.com/servequery/servequery-agent/internal/config"
	"github.com/servequery/servequery-agent/internal/datasource/mongods"
	"github.com/servequery/servequery-agent/internal/datasource/sqlds"
	"github.com/servequery/servequery-agent/internal/permissions"
	"github.com/servequery/servequery-agent/internal/store"
	"github.com/servequery/servequery-agent/internal/toolkit"
)

// Server runs one agent over HTTP.
type Server struct {
	config      *config.Config
	store       *store.SQLiteStore
	permissions *permissions.Service
	agent       *agent.Agent
	verifier    *auth.JWTVerifier
	httpServer  *http.Server
	logger      *slog.Logger

	// closers release data sources on shutdown, in reverse opening order
	closers []namedCloser
}

type namedCloser struct {
	label string
	close func(ctx context.Context) error
}

// Option adjusts a Server before the agent starts.
type Option func(*options)

type options struct {
	customizations []func(*agent.Agent)
	dataSources    []toolkit.DataSource
}

// WithCustomization runs fn on the agent after the configured actions are declared.
func WithCustomization(fn func(a *agent.Agent)) Option {
	return func(o *options) { o.customizations = append(o.customizations, fn) }
}

// WithDataSource adds a data source built outside the configuration.
func WithDataSource(ds toolkit.DataSource) Option {
	return func(o *options) { o.dataSources = append(o.dataSources, ds) }
}

// initStore opens the permission store. SERVEQUERY_DB_PATH overrides database.path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SERVEQUERY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New wires every component described by cfg. On error, everything opened so
// far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.Secret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		store:    sqlStore,
		verifier: verifier,
		logger:   logger,
	}

	if err := s.init(ctx, o); err != nil {
		_ = s.closeAll(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context, o options) error {
	sources, err := s.openDataSources(ctx)
	if err != nil {
		return err
	}
	sources = append(sources, o.dataSources...)

	composite, err := toolkit.NewCompositeDataSource(sources...)
	if err != nil {
		return fmt.Errorf("combining data sources: %w", err)
	}

	s.permissions = permissions.New(s.store, permissions.Options{
		CacheTTL:  s.config.Permissions.CacheTTL,
		CacheSize: s.config.Permissions.CacheSize,
	}, s.logger)

	s.agent = agent.New(composite, agent.Options{
		Authorization: authorization.NewService(s.permissions, s.logger),
		Scopes:        s.permissions,
		Audit:         s.store,
		Logger:        s.logger,
	})
	for _, action := range s.config.Actions {
		declareAction(s.agent, action)
	}
	for _, fn := range o.customizations {
		fn(s.agent)
	}
	if err := s.agent.Start(); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Server.HTTPAddr,
		Handler:           s.agent.Handler(s.verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// openDataSources connects the configured data sources.
func (s *Server) openDataSources(ctx context.Context) ([]toolkit.DataSource, error) {
	var sources []toolkit.DataSource
	for _, dsCfg := range s.config.DataSources {
		logger := s.logger.With("datasource", dsCfg.Name)

		switch dsCfg.Type {
		case config.DataSourceSQL:
			ds, err := sqlds.Open(ctx, dsCfg.DSN, logger)
			if err != nil {
				return nil, fmt.Errorf("opening data source %s: %w", dsCfg.Name, err)
			}
			s.closers = append(s.closers, namedCloser{
				label: "data source " + dsCfg.Name,
				close: func(context.Context) error { return ds.Close() },
			})
			sources = append(sources, ds)

		case config.DataSourceMongo:
			collections := make([]mongods.CollectionConfig, len(dsCfg.Collections))
			for i, c := range dsCfg.Collections {
				collections[i] = mongods.CollectionConfig{
					Name:       c.Name,
					PrimaryKey: c.PrimaryKey,
					Fields:     c.ColumnTypes(),
				}
			}
			ds, err := mongods.Connect(ctx, dsCfg.URI, dsCfg.Database, collections, logger)
			if err != nil {
				return nil, fmt.Errorf("connecting data source %s: %w", dsCfg.Name, err)
			}
			s.closers = append(s.closers, namedCloser{label: "data source " + dsCfg.Name, close: ds.Close})
			sources = append(sources, ds)

		default:
			return nil, fmt.Errorf("data source %s: unsupported type %q", dsCfg.Name, dsCfg.Type)
		}
	}
	return sources, nil
}

// Agent returns the agent served by s.
func (s *Server) Agent() *agent.Agent {
	return s.agent
}

// ReloadPermissions drops cached users, permissions and scopes so the next
// request reads the permission store again.
func (s *Server) ReloadPermissions() {
	s.permissions.Invalidate()
	s.logger.Info("permission cache cleared")
}

// Run listens on server.http_addr and serves until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		_ = s.closeAll(context.Background())
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := s.startServer(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown uses a fresh context since the serving context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if s.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	}
	if err := s.closeAll(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) closeAll(ctx context.Context) error {
	var errs []error
	if s.permissions != nil {
		s.permissions.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = appendCloseError(errs, s.closers[i].label, s.closers[i].close(ctx))
	}
	s.closers = nil
	if s.store != nil {
		errs = appendCloseError(errs, "store close", s.store.Close())
		s.store = nil
	}
	return errors.Join(errs...)
}
