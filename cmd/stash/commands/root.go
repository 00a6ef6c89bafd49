package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stash",
	Short: "Stash - inspect and manage persisted form state",
	Long: `Stash persists form-like state into a key/value backend (Redis, a bbolt
file, or a shared directory). This CLI operates on the stored keys of a
prefix namespace: list them, measure them, and clear them in bulk.

Select a backend with --redis, --bolt, or --dir, or set one in .stash.yml.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (default .stash.yml if present)")
	rootCmd.PersistentFlags().StringVar(&flagRedis, "redis", "", "Redis address (host:port)")
	rootCmd.PersistentFlags().StringVar(&flagBolt, "bolt", "", "Path to a bbolt database file")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Path to a shared store directory")
	rootCmd.PersistentFlags().StringVar(&flagPrefix, "prefix", "", "Key prefix namespace (default \"stash:\")")
}
