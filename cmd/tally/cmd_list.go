package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/pkg/resource"
)

var listSelect selectorFlags

var listCmd = &cobra.Command{
	Use:   "list CONTEXT TYPE",
	Short: "List the local records of a scope",
	Example: `  tally list prod-us-east-1 aws.instance
  tally list cluster-a k8s.deployment -o json
  tally list prod-us-east-1 aws.volume --tag env=dev --name 'scratch-*'`,
	Args: cobra.ExactArgs(2),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listSelect.register(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(outputFormat); err != nil {
		return err
	}
	t, err := resource.ParseType(args[1])
	if err != nil {
		return err
	}
	spec, _ := resource.Lookup(t)
	f, err := listSelect.filter()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	recs, err := a.service.List(ctx, args[0], t)
	if err != nil {
		return err
	}
	return renderRecords(cmd.OutOrStdout(), outputFormat, spec, f.Records(recs))
}
