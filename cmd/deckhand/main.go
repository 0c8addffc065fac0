package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/deckhand/internal/config"
	"github.com/hpungsan/deckhand/internal/db"
	"github.com/hpungsan/deckhand/internal/errors"
	"github.com/hpungsan/deckhand/internal/gateway"
	"github.com/hpungsan/deckhand/internal/mcp"
	"github.com/hpungsan/deckhand/internal/session"
	"github.com/hpungsan/deckhand/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"login": true, "logout": true, "status": true,
	"list": true, "show": true,
	"start": true, "stop": true, "restart": true, "create": true, "delete": true,
	"file": true, "ui": true,
	"help": true,
}

// globalFlags contains app-level flags that may precede a subcommand.
var globalFlags = map[string]bool{
	"--api-url": true, "--format": true, "-f": true, "--log-level": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	// Global flag ahead of the subcommand → CLI
	name, _, _ := strings.Cut(arg, "=")
	return globalFlags[name]
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
       _           _    _                     _
    __| | ___  ___| | _| |__   __ _ _ __   __| |
   / _' |/ _ \/ __| |/ / '_ \ / _' | '_ \ / _' |
  | (_| |  __/ (__|   <| | | | (_| | | | | (_| |
   \__,_|\___|\___|_|\_\_| |_|\__,_|_| |_|\__,_|

  Client for the projects API

  Usage: deckhand <command> [options]
         deckhand --help

  MCP server mode requires piped input.`)
}

// deps is the core every surface shares: one gateway over one persistent
// session, and one project cache fed by it.
type deps struct {
	cfg   *config.Config
	gw    *gateway.Gateway
	store *store.Store
}

// newDeps wires the gateway and store against apiURL.
func newDeps(database *sql.DB, cfg *config.Config, apiURL string, logger *slog.Logger, stderr io.Writer) (*deps, error) {
	holder := session.NewPersistent(database, session.WithMaxAge(cfg.TokenMaxAge()))
	gw, err := gateway.New(apiURL, holder,
		gateway.WithLogger(logger),
		gateway.WithHooks(newHooks(cfg, stderr)),
	)
	if err != nil {
		return nil, err
	}
	return &deps{
		cfg:   cfg,
		gw:    gw,
		store: store.New(gw, store.WithLogger(logger)),
	}, nil
}

// newHooks maps the configured error policy onto gateway hooks. A rejected
// session always tells the user how to log in again; other failures are
// only echoed under the "notify" policy.
func newHooks(cfg *config.Config, stderr io.Writer) gateway.Hooks {
	hooks := gateway.Hooks{
		OnAuthFailure: func(_ context.Context, _ *errors.DeckError) {
			fmt.Fprintln(stderr, "session expired or rejected; run 'deckhand login'")
		},
	}
	if cfg.Notify() {
		hooks.OnOtherError = func(_ context.Context, err *errors.DeckError) {
			fmt.Fprintf(stderr, "warning: [%s] %s\n", err.Code, err.Message)
		}
	}
	return hooks
}

// newLogger returns a text logger on w at the named level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil)
		if err := app.Run(os.Args); err != nil {
			fatalf("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatalf("could not determine home directory: %v", err)
	}

	baseDir := filepath.Join(homeDir, ".deckhand")

	database, err := db.Init(baseDir)
	if err != nil {
		fatalf("failed to initialize database: %v", err)
	}
	defer database.Close()

	wd, err := os.Getwd()
	if err != nil {
		wd = ""
	}
	cfg, err := config.LoadWithRepo(baseDir, wd)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("invalid config: %v", err)
	}
	db.ConfigurePool(database, cfg)

	if n, err := db.PurgeExpiredSessions(context.Background(), database, time.Now()); err != nil {
		slog.Warn("purge expired sessions", "error", err)
	} else if n > 0 {
		slog.Debug("purged expired sessions", "count", n)
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(database, cfg)
		if err := app.Run(os.Args); err != nil {
			fatalf("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'deckhand --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default). stdout carries the protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", "tools", unknown)
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", "types", unknown)
	}

	d, err := newDeps(database, cfg, cfg.APIURL, logger, os.Stderr)
	if err != nil {
		fatalf("%v", err)
	}
	if err := mcp.Run(d.gw, d.store, cfg, Version); err != nil {
		fatalf("%v", err)
	}
}
