package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/internal/journal"
)

var (
	journalSince time.Duration
	journalRun   string
	journalScope string
	journalLimit int
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Replay the audit journal",
	Example: `  tally journal --since 24h
  tally journal --run 5f0c2d8e-...
  tally journal --scope prod-us-east-1/aws.volume -o json`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().DurationVar(&journalSince, "since", 24*time.Hour, "Only entries newer than this (0 for all)")
	journalCmd.Flags().StringVar(&journalRun, "run", "", "Only entries of this run id")
	journalCmd.Flags().StringVar(&journalScope, "scope", "", "Only entries of this scope (context/type)")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 0, "Show at most the last N matching entries")
}

func runJournal(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(outputFormat); err != nil {
		return err
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	var since time.Time
	if journalSince > 0 {
		since = time.Now().Add(-journalSince)
	}
	entries, err := collectEntries(cfg.Journal.Dir, since, journalRun, journalScope, journalLimit)
	if err != nil {
		return err
	}
	return renderEntries(cmd.OutOrStdout(), outputFormat, entries)
}

// collectEntries replays the journal in dir and keeps the matching entries.
func collectEntries(dir string, since time.Time, runID, scope string, limit int) ([]*journal.Entry, error) {
	var out []*journal.Entry
	err := journal.Replay(dir, journal.DefaultPrefix, since, func(e *journal.Entry) error {
		if runID != "" && e.RunID != runID {
			return nil
		}
		if scope != "" && e.Scope != scope {
			return nil
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
