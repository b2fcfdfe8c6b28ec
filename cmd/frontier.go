package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print frontier counts as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveService(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Write the frontier state to the snapshot store now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveService(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Persist(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot written for %s\n", svc.Key())
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore the frontier from its snapshot without crawling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveService(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := svc.Restore(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restore %s: %s\n", svc.Key(), outcome)
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every frontier collection of the crawl key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("clear deletes the whole frontier; pass --yes to confirm")
			}
			svc, err := resolveService(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", svc.Key())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
