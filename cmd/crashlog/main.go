// Command crashlog inspects the reports and crash marker written by the
// crash handler.
//
// Usage:
//
//	crashlog list [--group]             # reports under every configured root
//	crashlog show <path> | --latest     # print one report, compressed or not
//	crashlog status                     # crash marker and notification throttle
//	crashlog clear                      # reset the crash marker
//	crashlog archive --older-than 168h  # zstd-compress old reports
//
// Global flags select the config file (--config, YAML or TOML), override the
// report root (--dir) and the marker database (--store).
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/strongdm/ai-crashlog/pkg/crashlog"
)

const name = "crashlog"

// overridden during build with ldflags
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

// app holds the state shared by every command after flags are parsed.
type app struct {
	out    io.Writer
	cfg    crashlog.Config
	dir    string
	store  string
	logger *slog.Logger
}

func newApp(out io.Writer) *cli.Command {
	a := &app{out: out, cfg: crashlog.DefaultConfig(), logger: slog.Default()}
	return &cli.Command{
		Name:    name,
		Usage:   "Inspect crash reports and the crash marker",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "config file (.yaml, .yml or .toml)",
				Sources: cli.EnvVars("CRASHLOG_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "report directory to scan instead of the configured roots",
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "crash marker database (default from config)",
				Sources: cli.EnvVars("CRASHLOG_STORE"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
				Value: "warn",
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.listCmd(),
			a.showCmd(),
			a.statusCmd(),
			a.clearCmd(),
			a.archiveCmd(),
		},
	}
}

// before loads the config and sets up logging.
func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var level slog.Level
	switch cmd.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if path := cmd.String("config"); path != "" {
		cfg, err := crashlog.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		a.cfg = cfg
		a.logger.Debug("config loaded", "path", path)
	}
	a.dir = cmd.String("dir")
	a.store = cmd.String("store")
	if a.store == "" {
		a.store = a.cfg.StoreFile()
	}
	return ctx, nil
}

// roots returns the directories to scan for reports.
func (a *app) roots() []string {
	if a.dir != "" {
		return []string{a.dir}
	}
	return a.cfg.ReportRoots()
}
