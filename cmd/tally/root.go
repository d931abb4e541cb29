package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath   string
	outputFormat string

	rootCmd = &cobra.Command{
		Use:   "tally",
		Short: "Cloud resource reconciliation engine",
		Long: `Tally keeps a local record of every tracked cloud resource.

Each pass lists one resource type in one cloud context (an AWS region or a
Kubernetes cluster), adds records for new resources, refreshes changed ones
and drops records whose resource is gone. Bulk actions apply a provider
operation to selected records behind a policy guard.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`tally {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
}
