// Command browserpoold runs the browser session pool as a long-lived
// supervisor: it launches the Playwright driver, serves the pool until
// interrupted, and tears everything down in order on exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/entrhq/browserpool/pkg/config"
	"github.com/entrhq/browserpool/pkg/driver"
	"github.com/entrhq/browserpool/pkg/driver/playwright"
	"github.com/entrhq/browserpool/pkg/logging"
	"github.com/entrhq/browserpool/pkg/pool"
	"github.com/entrhq/browserpool/pkg/session"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "browserpoold",
		Short:         "Browser session pool supervisor",
		Long:          "browserpoold brokers a capacity-bounded pool of browsers, contexts, and pages, reclaiming idle resources on a timer.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	drv, err := playwright.New()
	if err != nil {
		return fmt.Errorf("failed to start driver: %w", err)
	}

	manager := session.NewManager(drv,
		session.WithLogger(log.Named("session")),
		session.WithOperationTimeout(cfg.Driver.OperationTimeout.Std()),
	)
	p := pool.New(manager, pool.Limits{
		MaxBrowsers:           cfg.Pool.MaxBrowsers,
		MaxContextsPerBrowser: cfg.Pool.MaxContextsPerBrowser,
		MaxPagesPerContext:    cfg.Pool.MaxPagesPerContext,
	}, pool.WithLogger(log.Named("pool")))

	// Warm the pool so the first caller does not pay the launch cost.
	warmID, err := p.AcquireBrowser(context.Background(), cfg.BrowserKind(), driver.LaunchOptions{
		Headless: cfg.Driver.Headless,
	})
	if err != nil {
		log.Warn("failed to pre-warm browser", zap.Error(err))
	} else {
		log.Info("pre-warmed browser", zap.String("browser_id", warmID))
	}

	sweeper := pool.NewSweeper(manager, cfg.Cleanup.Interval.Std(), cfg.Cleanup.IdleTimeout.Std(),
		pool.WithSweeperLogger(log.Named("sweeper")))
	sweeper.Start()

	log.Info("browserpoold started",
		zap.String("browser_kind", cfg.Driver.Kind),
		zap.Int("max_browsers", cfg.Pool.MaxBrowsers),
		zap.Duration("idle_timeout", cfg.Cleanup.IdleTimeout.Std()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	// Shutdown order matters: stop the timer before draining the tables,
	// then stop the driver once nothing references it.
	log.Info("shutting down")
	sweeper.Stop()
	manager.Shutdown(context.Background())
	if err := drv.Close(); err != nil {
		log.Warn("driver shutdown failed", zap.Error(err))
	}
	return nil
}
