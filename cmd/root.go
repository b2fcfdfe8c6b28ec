// Package cmd defines the frontier-crawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/app"
	"github.com/JakeFAU/frontier-crawler/internal/config"
	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/JakeFAU/frontier-crawler/internal/logging"
	"github.com/JakeFAU/frontier-crawler/internal/recovery"
)

// service is what the subcommands drive. *app.App satisfies it.
type service interface {
	Key() string
	Crawl(ctx context.Context) error
	Stats(ctx context.Context) (crawler.Stats, error)
	Persist(ctx context.Context) error
	Restore(ctx context.Context) (recovery.Outcome, error)
	Clear(ctx context.Context) error
	Close() error
}

// newService builds the application. Tests replace it.
var newService = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (service, error) {
	return app.New(ctx, cfg, logger)
}

type serviceKey struct{}

type rootOptions struct {
	cfgFile string
	key     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "frontier-crawler",
		Short: "Crawl one web domain with any number of workers sharing a Redis frontier.",
		Long: `frontier-crawler runs one crawl worker per process. Workers share a
frontier of pending, in-flight, visited and failed URLs held in Redis, so a crawl
scales by starting more processes. On shutdown the frontier is written to a
snapshot that the next worker to start restores.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			svc, err := newService(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), serviceKey{}, svc))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if svc, ok := cmd.Context().Value(serviceKey{}).(service); ok {
				if err := svc.Close(); err != nil {
					zap.L().Warn("shutdown failed", zap.Error(err))
				}
			}
			_ = zap.L().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.key, "key", "", "crawl key, overrides crawl.key")

	cmd.AddCommand(
		newCrawlCmd(),
		newStatusCmd(),
		newSnapshotCmd(),
		newRestoreCmd(),
		newClearCmd(),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if opts.key != "" {
		cfg.Crawl.Key = opts.key
	}
	if f := cmd.Flags().Lookup("seed"); f != nil && f.Changed {
		seed, _ := cmd.Flags().GetBool("seed")
		cfg.Crawl.SeedWorker = seed
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func resolveService(ctx context.Context) (service, error) {
	svc, ok := ctx.Value(serviceKey{}).(service)
	if !ok || svc == nil {
		return nil, errors.New("application services not initialized")
	}
	return svc, nil
}

// Execute runs the command line until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
