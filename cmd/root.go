// Package cmd defines the CLI commands for the places-crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "places-crawler",
		Short: "A browser-driven crawler for JS-rendered listing sites",
		Long: `places-crawler discovers place listings for configured searches,
extracts structured detail records with reviews, photos, and contact
information, and appends them to the configured sink.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./places-crawler.yaml)")
	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
