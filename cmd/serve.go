package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"mcphub/internal/hub"
	"mcphub/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	serveGlobalPath  string
	serveProjectPath string
	serveStateDir    string
	serveLogLevel    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub and keep all configured servers connected",
	Long: `Loads the global and project configuration layers, connects every
enabled server in parallel, and runs until interrupted. Configuration
files are watched: edits are merged and applied live without a restart.

Servers that fail to connect retry on an exponential backoff schedule;
the hub itself stays up regardless of individual server health.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Init(logging.ParseLevel(serveLogLevel), os.Stderr)

	h, err := hub.New(hub.Options{
		GlobalPath:  serveGlobalPath,
		ProjectPath: serveProjectPath,
		StateDir:    serveStateDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize hub: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := h.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	h.Stop()
	return nil
}

// defaultGlobalConfigPath is the per-user layer, honoring
// XDG_CONFIG_HOME when set.
func defaultGlobalConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "mcphub", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mcphub", "config.yaml")
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveGlobalPath, "global", defaultGlobalConfigPath(), "Path to the global configuration layer")
	serveCmd.Flags().StringVar(&serveProjectPath, "project", filepath.Join(".mcphub", "config.yaml"), "Path to the project configuration layer")
	serveCmd.Flags().StringVar(&serveStateDir, "state-dir", hub.DefaultStateDir(), "Directory for the persisted snapshot and tool caches")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
