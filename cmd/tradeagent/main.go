// Command tradeagent is the entry point for the trading agent. It loads
// configuration, validates it, sets up signal handling, and runs one of:
//
//	tradeagent run             trade until interrupted
//	tradeagent panic           sell every holding and clear the position
//	tradeagent encrypt-secret  encrypt a credential read from stdin
//
// Exit codes: 0 on success, 1 on startup or command failure, 2 when the
// reconnect supervisor gives up.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/tradeagent/internal/app"
	"github.com/alanyoungcy/tradeagent/internal/config"
	"github.com/alanyoungcy/tradeagent/internal/crypto"
	"github.com/alanyoungcy/tradeagent/internal/domain"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitHalted = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitFailed
	}

	switch args[0] {
	case "run":
		return runAgent(args[1:], stdout, stderr)
	case "panic":
		return runPanic(args[1:], stdout, stderr)
	case "encrypt-secret":
		return runEncrypt(args[1:], stdin, stdout, stderr)
	case "-h", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return exitFailed
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: tradeagent <command> [flags]

commands:
  run             trade until interrupted
  panic           sell every holding and clear the persisted position
  encrypt-secret  encrypt a secret read from stdin`)
}

// runAgent loads the configuration and trades until SIGINT/SIGTERM.
func runAgent(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitFailed
	}

	cfg, logger, ok := loadConfig(*configPath, stdout)
	if !ok {
		return exitFailed
	}
	logger.Info("trading agent starting",
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("agent exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		if errors.Is(err, domain.ErrReconnectExhausted) {
			return exitHalted
		}
		return exitFailed
	}

	logger.Info("trading agent stopped")
	return exitOK
}

// runPanic liquidates all holdings.
func runPanic(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("panic", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitFailed
	}

	cfg, logger, ok := loadConfig(*configPath, stdout)
	if !ok {
		return exitFailed
	}

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := application.Panic(ctx)
	if err != nil {
		logger.Error("panic close failed", slog.Int("closed", n), slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "panic close failed after %d order(s): %v\n", n, err)
		return exitFailed
	}
	fmt.Fprintf(stdout, "closed %d position(s)\n", n)
	return exitOK
}

// runEncrypt reads one secret line from stdin and writes the encrypted blob.
// The password comes from the environment so it never lands in shell history.
func runEncrypt(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("encrypt-secret", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "file to write the encrypted secret to")
	passwordEnv := fs.String("password-env", "TRADEAGENT_SECRET_PASSWORD", "environment variable holding the password")
	if err := fs.Parse(args); err != nil {
		return exitFailed
	}
	if *out == "" {
		fmt.Fprintln(stderr, "encrypt-secret: -out is required")
		return exitFailed
	}
	password := os.Getenv(*passwordEnv)
	if password == "" {
		fmt.Fprintf(stderr, "encrypt-secret: %s is not set\n", *passwordEnv)
		return exitFailed
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		fmt.Fprintf(stderr, "encrypt-secret: read stdin: %v\n", err)
		return exitFailed
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		fmt.Fprintln(stderr, "encrypt-secret: empty secret on stdin")
		return exitFailed
	}

	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		fmt.Fprintf(stderr, "encrypt-secret: %v\n", err)
		return exitFailed
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		fmt.Fprintf(stderr, "encrypt-secret: write %s: %v\n", *out, err)
		return exitFailed
	}
	fmt.Fprintf(stdout, "wrote %s\n", *out)
	return exitOK
}

// loadConfig loads and validates the configuration and builds the JSON
// logger at the configured level.
func loadConfig(path string, stdout io.Writer) (*config.Config, *slog.Logger, bool) {
	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, nil, false
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, nil, false
	}
	return cfg, logger, true
}
