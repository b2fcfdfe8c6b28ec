package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl worker",
		Long: `Restores the frontier from a snapshot when the store is empty, crawls until
the shared queue drains or the process is signalled, then snapshots the frontier.
A seed worker (--seed) enqueues the seed URLs first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveService(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Crawl(cmd.Context()); err != nil {
				return fmt.Errorf("crawl %s: %w", svc.Key(), err)
			}
			zap.L().Info("crawl command finished", zap.String("crawl_key", svc.Key()))
			return nil
		},
	}
	cmd.Flags().Bool("seed", false, "enqueue seed URLs before crawling, overrides crawl.seed_worker")
	return cmd
}
