package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the evidence cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Evict aged and least recently used evidence bundles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		policy := evictPolicy()
		if cmd.Flags().Changed("max-age") {
			policy.MaxAge, _ = cmd.Flags().GetDuration("max-age")
		}
		if cmd.Flags().Changed("max-entries") {
			policy.MaxEntries, _ = cmd.Flags().GetInt("max-entries")
		}

		n, err := st.EvictEvidence(ctx, policy)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "evicted %d cached evidence bundle(s)\n", n)
		return nil
	},
}

func init() {
	cachePruneCmd.Flags().Duration("max-age", 0, "evict entries cached longer than this (defaults to cache.max_age_hours)")
	cachePruneCmd.Flags().Int("max-entries", 0, "keep at most this many entries (defaults to cache.max_entries)")

	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
