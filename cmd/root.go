// Package cmd wires up the CLI flags and dispatches to the chatd core.
package cmd

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"chatd/config"
	"chatd/internal/core"
	"chatd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X chatd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the chat server.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("chatd", flag.ContinueOnError)

	// ── listeners ────────────────────────────────────────────────
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind address (default all interfaces)")
	fs.IntVar(&cfg.WSPort, "ws-port", cfg.WSPort, "Also accept WebSocket clients on this port")
	fs.StringVar(&cfg.WSPath, "ws-path", cfg.WSPath, "HTTP path for WebSocket upgrades")
	fs.IntVar(&cfg.BindAttempts, "bind-attempts", cfg.BindAttempts, "Retries while the port is busy")

	// ── sessions ─────────────────────────────────────────────────
	fs.IntVar(&cfg.MaxLineLength, "max-line", cfg.MaxLineLength, "Longest accepted command line in bytes (also caps one WebSocket message)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Drop clients that block a write this long")

	// ── output ───────────────────────────────────────────────────
	var verbose int
	var quiet bool
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Log errors only")
	fs.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "Log server stats at this interval (0 = off)")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("chatd %s\n", version)
		return nil
	}
	if showHelp || (len(args) == 0 && cfg.Port == 0) {
		printUsage(fs)
		return nil
	}

	switch {
	case quiet:
		cfg.Verbose = 0
	case verbose > 0:
		cfg.Verbose += verbose
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── build ────────────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	if dryRun {
		printPlan(cfg)
		return nil
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0: // port from CHATD_PORT, or Validate reports it missing
		return nil
	case 1:
		port, err := config.ParsePort(remaining[0])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = port
		return nil
	default:
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
}

func printPlan(cfg *config.Config) {
	fmt.Printf("chat      tcp://%s\n", util.FormatAddr(cfg.Host, cfg.Port))
	if cfg.WSPort != 0 {
		fmt.Printf("websocket ws://%s%s\n", util.FormatAddr(cfg.Host, cfg.WSPort), cfg.WSPath)
	}
	fmt.Printf("max line  %d bytes\n", cfg.MaxLineLength)
	fmt.Printf("write     %s timeout\n", cfg.WriteTimeout)
	fmt.Printf("verbosity %d\n", cfg.Verbose)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatd - room-based chat relay v%s

Clients speak a line protocol over TCP (or WebSocket with --ws-port):
/nick, /join, /leave, /priv, /bye, or plain text to the current room.

Usage:
  chatd [options] <port>

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  CHATD_HOST CHATD_PORT CHATD_WS_PORT CHATD_WS_PATH CHATD_BIND_ATTEMPTS
  CHATD_MAX_LINE CHATD_WRITE_TIMEOUT CHATD_VERBOSE CHATD_STATS_INTERVAL
  (flags override environment; durations in seconds)

Examples:
  chatd 7000                                  Serve on every interface
  chatd --host 127.0.0.1 -v 7000              Local only, verbose
  chatd --ws-port 8080 7000                   TCP and WebSocket clients
  printf '/nick bob\n/join lobby\n' | nc localhost 7000
`)
}
