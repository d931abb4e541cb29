package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/internal/bulk"
	"github.com/yairfalse/tally/pkg/resource"
)

var (
	bulkCommit bool
	bulkSelect selectorFlags
)

var bulkCmd = &cobra.Command{
	Use:   "bulk ACTION CONTEXT TYPE [ID...]",
	Short: "Apply an action to selected resources",
	Long: `Apply a provider action (delete, start, stop, reboot, detach,
disassociate) to tracked resources of one scope.

Without --commit the targets are only previewed: each one is looked up and
checked against the guard policy, and nothing is changed. With --commit the
action runs against the provider with rate limiting, and local records are
updated to match.

Targets are the listed ids plus every tracked record matching the
--tag, --exclude-tag and --name selectors.`,
	Example: `  tally bulk delete prod-us-east-1 aws.volume vol-0a1b vol-0c2d
  tally bulk stop prod-us-east-1 aws.instance i-0123 --commit
  tally bulk disassociate prod-us-east-1 aws.elastic_ip eipalloc-01 --commit
  tally bulk delete prod-us-east-1 aws.snapshot --tag env=dev --exclude-tag tally:protected=true`,
	Args: cobra.MinimumNArgs(3),
	RunE: runBulk,
}

func init() {
	rootCmd.AddCommand(bulkCmd)

	bulkCmd.Flags().BoolVar(&bulkCommit, "commit", false, "Execute the action instead of previewing it")
	bulkSelect.register(bulkCmd)
}

func bulkRequest(args []string) (bulk.Request, error) {
	t, err := resource.ParseType(args[2])
	if err != nil {
		return bulk.Request{}, err
	}
	return bulk.Request{
		CloudContext: args[1],
		Type:         t,
		Action:       resource.Action(args[0]),
		Targets:      args[3:],
	}, nil
}

func runBulk(cmd *cobra.Command, args []string) error {
	if err := checkFormat(outputFormat); err != nil {
		return err
	}
	req, err := bulkRequest(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	f, err := bulkSelect.filter()
	if err != nil {
		return err
	}
	if !f.IsEmpty() {
		recs, err := a.service.List(ctx, req.CloudContext, req.Type)
		if err != nil {
			return err
		}
		req.Targets = append(req.Targets, f.IDs(recs)...)
	}

	out, err := a.service.TriggerBulkAction(ctx, req, bulkCommit)
	if err != nil {
		return err
	}
	if out.Preview != nil {
		return renderPreview(cmd.OutOrStdout(), outputFormat, *out.Preview)
	}
	if err := renderBulkResult(cmd.OutOrStdout(), outputFormat, *out.Result); err != nil {
		return err
	}
	if n := len(out.Result.Failed); n > 0 {
		return fmt.Errorf("%d of %d targets failed", n, n+len(out.Result.Succeeded))
	}
	return nil
}
