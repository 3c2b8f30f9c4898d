// Command castrank runs the ranking and notification pipeline.
//
// Usage:
//
//	castrank [-config path] serve [-recompute]
//	castrank [-config path] recompute [-event id]
//	castrank [-config path] mark-read -id notification-id
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahrav/castrank/internal/application"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "castrank: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: castrank [-config path] serve|recompute|mark-read [flags]")

func run(ctx context.Context, args []string, stderr io.Writer) error {
	global := flag.NewFlagSet("castrank", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "YAML configuration file")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errUsage
	}

	cfg, err := application.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := application.NewLogger(stderr, cfg.Log).With("service", cfg.Service)
	slog.SetDefault(logger)

	cmd, cmdArgs := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "serve":
		return serve(ctx, cfg, logger, cmdArgs, stderr)
	case "recompute":
		return recompute(ctx, cfg, logger, cmdArgs, stderr)
	case "mark-read":
		return markRead(ctx, cfg, logger, cmdArgs, stderr)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func serve(ctx context.Context, cfg application.Config, logger *slog.Logger, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	initial := fs.Bool("recompute", false, "recompute every leaderboard before watching for changes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(app, logger)

	if *initial {
		if err := app.Pipeline.RecomputeAll(ctx); err != nil {
			logger.Error("initial recompute failed",
				"event", "bootstrap_recompute_failed",
				"module", bootstrapModule,
				"layer", "platform",
				"error", err.Error(),
			)
		}
	}
	return app.Run(ctx)
}

func recompute(ctx context.Context, cfg application.Config, logger *slog.Logger, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("recompute", flag.ContinueOnError)
	fs.SetOutput(stderr)
	event := fs.String("event", "", "ranking event to recompute; empty recomputes all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(app, logger)

	if *event == "" {
		return app.Pipeline.RecomputeAll(ctx)
	}
	return app.Pipeline.Leaderboard.Recompute(ctx, *event)
}

func markRead(ctx context.Context, cfg application.Config, logger *slog.Logger, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("mark-read", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "notification ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("mark-read: -id is required")
	}

	app, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(app, logger)

	return app.Pipeline.MarkNotificationRead(ctx, *id)
}

func closeApp(app *App, logger *slog.Logger) {
	if err := app.Close(); err != nil {
		logger.Error("shutdown close failed",
			"event", "bootstrap_close_failed",
			"module", bootstrapModule,
			"layer", "platform",
			"error", err.Error(),
		)
	}
}
