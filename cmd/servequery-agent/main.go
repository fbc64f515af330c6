// ABOUTME: Entry point for the servequery-agent server
// ABOUTME: Serves custom actions and mints caller tokens for local testing

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/servequery/servequery-agent/internal/assets"
	"github.com/servequery/servequery-agent/internal/auth"
	"github.com/servequery/servequery-agent/internal/config"
	"github.com/servequery/servequery-agent/internal/server"
	"github.com/servequery/servequery-agent/internal/store"
	"github.com/servequery/servequery-agent/internal/toolkit"
)

// Version is set at build time.
var version = "dev"

const banner = `
  ___  ___ _ ____   _____  __ _ _   _  ___ _ __ _   _
 / __|/ _ \ '__\ \ / / _ \/ _' | | | |/ _ \ '__| | | |
 \__ \  __/ |   \ V /  __/ (_| | |_| |  __/ |  | |_| |
 |___/\___|_|    \_/ \___|\__, |\__,_|\___|_|   \__, |
                             |_|                |___/
`

// getDataPath returns the servequery data directory.
// Priority: XDG_DATA_HOME/servequery > ~/.local/share/servequery
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "servequery")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: servequery-agent <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                          Start the agent server")
		fmt.Println("  init                           Write a config file with a random auth secret")
		fmt.Println("  health                         Check agent health")
		fmt.Println("  token --user ID [--ttl 1h]     Mint a caller token for a permission store user")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:       %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:         %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Permissions:  %s\n", cfg.Database.Path)
	for _, ds := range cfg.DataSources {
		green.Print("    ▶ ")
		fmt.Printf("Data source:  %s ", ds.Name)
		gray.Printf("(%s)\n", ds.Type)
	}
	fmt.Println()

	logger.Info("starting servequery-agent",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"datasources", len(cfg.DataSources),
		"actions", len(cfg.Actions),
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	go reloadOnHangup(ctx, srv)

	return srv.Run(ctx)
}

// reloadOnHangup drops cached permissions on SIGHUP so changes made with
// servequery-admin apply before the cache TTL runs out.
func reloadOnHangup(ctx context.Context, srv *server.Server) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			srv.ReloadPermissions()
		}
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/servequery/healthcheck", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runInit writes a starter config with a random auth secret.
func runInit() error {
	configPath := config.DefaultPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating auth secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	dataPath := getDataPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content, err := assets.StarterConfig(assets.ConfigValues{
		HTTPAddr:     "localhost:3310",
		DatabasePath: filepath.Join(dataPath, "permissions.db"),
		AuthSecret:   secret,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", configPath)
	return nil
}

// parseTokenArgs supports "--user 3", "--user=3" and the same forms of --ttl.
func parseTokenArgs(args []string) (userID int, ttl time.Duration, err error) {
	var userRaw, ttlRaw string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "--ttl":
			if i+1 >= len(args) {
				return 0, 0, fmt.Errorf("%s requires a value", arg)
			}
			if arg == "--user" {
				userRaw = args[i+1]
			} else {
				ttlRaw = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--user="):
			userRaw = strings.TrimPrefix(arg, "--user=")
		case strings.HasPrefix(arg, "--ttl="):
			ttlRaw = strings.TrimPrefix(arg, "--ttl=")
		case strings.HasPrefix(arg, "-"):
			return 0, 0, fmt.Errorf("unknown flag: %s", arg)
		default:
			return 0, 0, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if userRaw == "" {
		return 0, 0, errors.New("--user flag is required")
	}
	userID, err = strconv.Atoi(userRaw)
	if err != nil || userID <= 0 {
		return 0, 0, fmt.Errorf("invalid user id %q", userRaw)
	}
	if ttlRaw != "" {
		ttl, err = time.ParseDuration(ttlRaw)
		if err != nil || ttl <= 0 {
			return 0, 0, fmt.Errorf("invalid ttl %q", ttlRaw)
		}
	}
	return userID, ttl, nil
}

// runToken mints a caller token carrying the profile of a store user.
func runToken(ctx context.Context, args []string) error {
	userID, ttl, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ttl == 0 {
		ttl = cfg.Auth.TokenTTL
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("getting user %d: %w", userID, err)
	}

	role := ""
	if r, err := s.GetRole(ctx, user.RoleID); err == nil {
		role = r.Name
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.Secret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(callerFromUser(user, role), ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func callerFromUser(u *store.User, role string) *toolkit.Caller {
	return &toolkit.Caller{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Team:      u.Team,
		Role:      role,
		Tags:      u.Tags,
		Timezone:  "UTC",
	}
}
