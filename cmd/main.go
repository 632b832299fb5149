package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/okian/etude/internal/config"
	"github.com/okian/etude/pkg/logger"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "etude:", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "etude",
		Usage:   "practice feedback for sheet music",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error (overrides config)",
				EnvVars: []string{"ETUDE_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "engines",
				Usage:   "comma separated OMR engines in priority order (overrides config)",
				EnvVars: []string{"ETUDE_OMR_ENGINES"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			scoreCommand(),
			practiceCommand(),
		},
	}
}

// loadConfig layers command line overrides on top of config.Load.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.Context)
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("engines") {
		cfg.OMREngines = splitList(c.String("engines"))
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// initLogger writes logs to w so that command output on stdout stays clean.
func initLogger(ctx context.Context, cfg *config.Config, w io.Writer) error {
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(w)); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}
