package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/internal/reconciler"
	"github.com/yairfalse/tally/pkg/resource"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile CONTEXT [TYPE]",
	Short: "Reconcile local records with a cloud context",
	Long: `Run one reconciliation pass per resource type of a cloud context.

A pass lists the resources of one type, creates records for new ones,
refreshes changed ones and removes records whose resource is gone. Without
a TYPE every type enabled for the context is reconciled concurrently.`,
	Example: `  tally reconcile prod-us-east-1               # All types of the context
  tally reconcile prod-us-east-1 aws.volume    # Volumes only
  tally reconcile cluster-a k8s.pod -o json    # Pods as JSON`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if err := checkFormat(outputFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	var results []reconciler.Result
	if len(args) == 2 {
		t, err := resource.ParseType(args[1])
		if err != nil {
			return err
		}
		res, err := a.service.TriggerReconcile(ctx, args[0], t)
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		all, passErr := a.service.TriggerReconcileAll(ctx, args[0])
		for _, res := range all {
			results = append(results, res)
		}
		if passErr != nil && len(results) == 0 {
			return passErr
		}
		err = passErr
	}

	if renderErr := renderResults(cmd.OutOrStdout(), outputFormat, results); renderErr != nil {
		return renderErr
	}
	if err != nil {
		return err
	}
	return failedRecords(results)
}

// failedRecords turns per-record failures into a non-zero exit.
func failedRecords(results []reconciler.Result) error {
	failed := 0
	for _, r := range results {
		failed += r.Failed()
	}
	if failed > 0 {
		return fmt.Errorf("%d records could not be persisted", failed)
	}
	return nil
}
