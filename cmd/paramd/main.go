package main

import (
	"fmt"
	"os"

	"github.com/cuemby/paramd/pkg/config"
	"github.com/cuemby/paramd/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paramd",
	Short: "paramd - system parameter service",
	Long: `paramd keeps a host's system parameters in a shared memory workspace.

Processes read parameters directly from the mapped workspace, write them
through the daemon's API socket, and subscribe to changes of a name prefix
through the watcher socket. Every access is checked against the DAC and
label policies with the caller's credentials.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"paramd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default $PARAMD_CONFIG)")
	rootCmd.PersistentFlags().String("api-socket", "", "API socket path")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(journalCmd)
}

// loadConfig loads the config file and applies the persistent flags on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("api-socket"); v != "" {
		cfg.API.Socket = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	log.Init(cfg.LogSettings())
	return cfg, nil
}
