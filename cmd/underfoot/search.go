package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   `search "<query>"`,
		Short: "Run one search and print the response as JSON",
		Example: `  underfoot search "hidden gems in Pikeville KY"
  underfoot search --force "underground bars near Austin"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()

			resp, err := a.search.Execute(ctx, strings.Join(args, " "), force)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return printJSON(cmd, resp)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "bypass both cache tiers for reading")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
