package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/pkg/resource"
)

var typesProvider string

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Show the supported resource types and their actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := checkFormat(outputFormat); err != nil {
			return err
		}
		specs := resource.All()
		if typesProvider != "" {
			filtered := specs[:0]
			for _, s := range specs {
				if s.Provider == typesProvider {
					filtered = append(filtered, s)
				}
			}
			specs = filtered
		}
		return renderTypes(cmd.OutOrStdout(), outputFormat, specs)
	},
}

func init() {
	rootCmd.AddCommand(typesCmd)

	typesCmd.Flags().StringVar(&typesProvider, "provider", "", "Only show types of this provider (aws, k8s)")
}
