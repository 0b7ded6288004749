package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the entry point when mcphub is called without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "mcphub",
	Short: "Connection hub for external tool servers",
	Long: `mcphub maintains long-lived connections to a configurable set of
external tool servers over stdio, SSE, or streamable HTTP, merges their
tool catalogs behind one interface, and keeps connections healthy with
automatic reconnects and file-watch-driven restarts.`,
	// SilenceUsage prevents cobra from printing usage on errors the
	// application already reports.
	SilenceUsage: true,
}

// SetVersion injects the build version from the main package.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcphub version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
