package cmd

import (
	"fmt"
	"os"
	"sort"

	"mcphub/internal/config"
	"mcphub/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	checkGlobalPath  string
	checkProjectPath string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration layers without connecting",
	Long: `Loads and merges both configuration layers, runs full validation,
and prints the effective server set. Useful after editing configuration
to catch typos, duplicate names, or parameter mismatches before they
take down a running hub.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	logging.Init(logging.LevelWarn, os.Stderr)

	cfgs, err := config.NewLoader().Load(checkGlobalPath, checkProjectPath)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %d servers\n", len(cfgs))
	for _, name := range names {
		cfg := cfgs[name]
		target := cfg.Command
		if cfg.IsRemote() {
			target = cfg.URL
		}
		status := ""
		if cfg.Disabled {
			status = " (disabled)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s %s%s\n", name, cfg.Transport, target, status)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkGlobalPath, "global", defaultGlobalConfigPath(), "Path to the global configuration layer")
	checkCmd.Flags().StringVar(&checkProjectPath, "project", ".mcphub/config.yaml", "Path to the project configuration layer")
}
