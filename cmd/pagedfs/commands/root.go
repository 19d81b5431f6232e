// Package commands implements the pagedfs CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "pagedfs",
	Short: "pagedfs - paged block store worker",
	Long: `pagedfs is a worker-side paged block cache. It exposes a
block-oriented API while storing block contents as fixed-size pages
spread across local storage directories, streaming cache misses from
the underlying file system and reporting commits to the block master.

Use "pagedfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
