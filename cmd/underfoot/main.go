// Command underfoot serves and runs underground travel searches.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/config"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/version"
)

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	env      string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "underfoot",
		Short: "Underfoot: hidden places search service",
		Long: `Underfoot finds off-the-beaten-path places for a free-form travel query.

It parses the query, geocodes the location, fans out to web, social and
event sources, ranks the results and caches responses in an exact tier and
a semantic (embedding + radius) tier.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.env, "env", config.GetEnv(), "environment config to load (local, docker, prod)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newSearchCmd(opts),
		newCacheCmd(opts),
	)
	return cmd
}

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
