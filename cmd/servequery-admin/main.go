// ABOUTME: Admin CLI for the servequery-agent permission store
// ABOUTME: Manages roles, users, action permissions and scopes, and reads the audit log

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/servequery/servequery-agent/internal/config"
	"github.com/servequery/servequery-agent/internal/store"
)

const banner = `
                                                             _           _
  ___  ___ _ ____   _____  __ _ _   _  ___ _ __ _   _      __ _| |_ __ ___ (_)_ __
 / __|/ _ \ '__\ \ / / _ \/ _' | | | |/ _ \ '__| | | |___ / _' | | '_ ' _ \| | '_ \
 \__ \  __/ |   \ V /  __/ (_| | |_| |  __/ |  | |_| |___| (_| | | | | | | | | | | |
 |___/\___|_|    \_/ \___|\__, |\__,_|\___|_|   \__, |    \__,_|_|_| |_| |_|_|_| |_|
                             |_|                |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cmd, args); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	handler, ok := commands[cmd]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	return handler(ctx, &cli{store: s, out: os.Stdout}, args)
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: servequery-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  roles [list]                                  List roles")
	fmt.Println("  roles create --name <name>                    Create a role")
	fmt.Println("  roles delete <id>                             Delete a role without users")
	fmt.Println("  users [list]                                  List users")
	fmt.Println("  users create --email <e> --role <name>        Create a user")
	fmt.Println("      [--first-name <n>] [--last-name <n>] [--team <t>] [--tag key=value]...")
	fmt.Println("  users delete <id>                             Delete a user")
	fmt.Println("  permissions list --collection <c> --action <a>")
	fmt.Println("                                                Show every role's permission on an action")
	fmt.Println("  permissions set --role <name> --collection <c> --action <a>")
	fmt.Println("      [--trigger] [--trigger-condition <json>]")
	fmt.Println("      [--approval-required] [--approval-required-condition <json>]")
	fmt.Println("      [--approve] [--approve-condition <json>] [--self-approve]")
	fmt.Println("  permissions delete --role <name> --collection <c> --action <a>")
	fmt.Println("  scopes list --role <name>                     List a role's scopes")
	fmt.Println("  scopes set --role <name> --collection <c> --condition <json>")
	fmt.Println("  scopes delete --role <name> --collection <c>")
	fmt.Println("  audit [--user <id>] [--outcome <o>] [--limit <n>]")
	fmt.Println("                                                Show recent authorization decisions")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  SERVEQUERY_CONFIG        Config file (default: $XDG_CONFIG_HOME/servequery/agent.yaml)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  servequery-admin roles create --name Operations")
	fmt.Println("  servequery-admin users create --email ada@example.com --role Operations --team ops")
	fmt.Println(`  servequery-admin permissions set --role Operations --collection actors --action archive \`)
	fmt.Println(`      --trigger --approval-required --approval-required-condition '{"field":"age","operator":"GreaterThan","value":60}'`)
	fmt.Println(`  servequery-admin scopes set --role Operations --collection actors --condition '{"field":"team","operator":"Equal","value":"{{currentUser.team}}"}'`)
	fmt.Println()
}
