// Package cmd implements the imgpipe CLI's cobra command tree, grounded in
// the teacher's cmd package layout: a rootCmd with persistent flags plus one
// file per subcommand, each registering itself on rootCmd from its own
// init().
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath  string
	verbose     bool
	metricsAddr string
}

var flags rootFlags

var rootCmd = &cobra.Command{
	Use:           "imgpipe",
	Short:         "Fetch, decode, and cache an image through the imagepipeline library",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this address while the command runs")
}

// Execute runs the command tree; main.go's sole job is to call this.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
