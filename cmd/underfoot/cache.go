package main

import (
	"github.com/spf13/cobra"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the response caches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print exact, location and semantic cache occupancy as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()
			return printJSON(cmd, a.health.CacheStats(ctx))
		},
	})
	return cmd
}
