package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/yairfalse/tally/internal/bulk"
	"github.com/yairfalse/tally/internal/journal"
	"github.com/yairfalse/tally/internal/reconciler"
	"github.com/yairfalse/tally/pkg/resource"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	return t
}

type resultOutput struct {
	reconciler.Result
	Errors []string `json:"errors,omitempty"`
}

// renderResults prints pass results ordered by type.
func renderResults(w io.Writer, format string, results []reconciler.Result) error {
	sort.Slice(results, func(i, j int) bool { return results[i].Type < results[j].Type })

	if format == formatJSON {
		out := make([]resultOutput, 0, len(results))
		for _, r := range results {
			out = append(out, resultOutput{Result: r, Errors: r.ErrorMessages()})
		}
		return writeJSON(w, out)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Context", "Type", "Fetched", "Created", "Updated", "Unchanged", "Deleted", "Pending", "Failed", "Duration"})
	for _, r := range results {
		t.AppendRow(table.Row{
			r.CloudContext, r.Type, r.Fetched, r.Created, r.Updated,
			r.Unchanged, r.Deleted, r.Pending, r.Failed(), r.Duration.Round(time.Millisecond),
		})
	}
	t.Render()

	for _, r := range results {
		for _, msg := range r.ErrorMessages() {
			fmt.Fprintf(w, "  %s: %s\n", r.Scope(), msg)
		}
	}
	return nil
}

// renderRecords prints the local records of one scope.
func renderRecords(w io.Writer, format string, spec resource.TypeSpec, recs []resource.LocalRecord) error {
	if format == formatJSON {
		if recs == nil {
			recs = []resource.LocalRecord{}
		}
		return writeJSON(w, recs)
	}

	header := table.Row{"ID", "Name"}
	for _, c := range spec.Columns {
		header = append(header, columnTitle(c))
	}
	header = append(header, "Refs", "Refreshed")

	t := newTable(w)
	t.AppendHeader(header)
	for _, rec := range recs {
		row := table.Row{rec.ResourceID, orDash(rec.Name)}
		for _, c := range spec.Columns {
			row = append(row, fieldValue(rec.Fields, c))
		}
		row = append(row, formatRefs(rec.Refs), rec.Refreshed.Format(time.RFC3339))
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{spec.Count(len(recs))})
	t.Render()
	return nil
}

// renderPreview prints what a bulk action would do.
func renderPreview(w io.Writer, format string, p bulk.Preview) error {
	if format == formatJSON {
		return writeJSON(w, p)
	}

	t := newTable(w)
	t.SetTitle(fmt.Sprintf("%s %s in %s", p.Request.Action, p.Request.Type, p.Request.CloudContext))
	t.AppendHeader(table.Row{"ID", "Name", "Tracked", "Allowed", "Reason"})
	for _, tg := range p.Targets {
		t.AppendRow(table.Row{tg.ResourceID, orDash(tg.Name), yesNo(tg.Found), yesNo(tg.Allowed), strings.Join(tg.Reasons, "; ")})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d of %d actionable", len(p.Actionable()), len(p.Targets))})
	t.Render()
	return nil
}

type bulkResultOutput struct {
	bulk.Result
	Errors map[string]string `json:"errors,omitempty"`
}

// renderBulkResult prints the outcome of a committed bulk action.
func renderBulkResult(w io.Writer, format string, r bulk.Result) error {
	if format == formatJSON {
		return writeJSON(w, bulkResultOutput{Result: r, Errors: r.ErrorMessages()})
	}

	t := newTable(w)
	t.SetTitle(fmt.Sprintf("%s %s in %s (run %s)", r.Request.Action, r.Request.Type, r.Request.CloudContext, r.RunID))
	t.AppendHeader(table.Row{"ID", "Status", "Error"})
	for _, id := range r.Succeeded {
		t.AppendRow(table.Row{id, "ok", ""})
	}
	msgs := r.ErrorMessages()
	for _, id := range r.Failed {
		t.AppendRow(table.Row{id, "failed", msgs[id]})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d succeeded, %d failed", len(r.Succeeded), len(r.Failed))})
	t.Render()
	return nil
}

// renderTypes prints the supported resource types.
func renderTypes(w io.Writer, format string, specs []resource.TypeSpec) error {
	if format == formatJSON {
		type typeOutput struct {
			Type     resource.Type     `json:"type"`
			Provider string            `json:"provider"`
			Label    string            `json:"label"`
			Actions  []resource.Action `json:"actions"`
		}
		out := make([]typeOutput, 0, len(specs))
		for _, s := range specs {
			out = append(out, typeOutput{Type: s.Type, Provider: s.Provider, Label: s.Label, Actions: actionsOf(s)})
		}
		return writeJSON(w, out)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Type", "Provider", "Label", "Actions"})
	for _, s := range specs {
		names := make([]string, 0, len(s.Actions))
		for _, a := range actionsOf(s) {
			names = append(names, string(a))
		}
		t.AppendRow(table.Row{s.Type, s.Provider, s.Label, orDash(strings.Join(names, ", "))})
	}
	t.Render()
	return nil
}

// renderEntries prints journal entries.
func renderEntries(w io.Writer, format string, entries []*journal.Entry) error {
	if format == formatJSON {
		if entries == nil {
			entries = []*journal.Entry{}
		}
		return writeJSON(w, entries)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Seq", "Time", "Type", "Run", "Scope", "Resource", "Error"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Sequence, e.Timestamp.Format(time.RFC3339), e.Type, shortRun(e.RunID),
			orDash(e.Scope), orDash(e.ResourceID), e.Error,
		})
	}
	t.Render()
	return nil
}

func actionsOf(s resource.TypeSpec) []resource.Action {
	out := make([]resource.Action, 0, len(s.Actions))
	for a := range s.Actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func columnTitle(field string) string {
	return strings.ToUpper(strings.ReplaceAll(field, "_", " "))
}

func fieldValue(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return "-"
	}
	return orDash(fmt.Sprint(v))
}

func formatRefs(refs resource.AssociatedRefs) string {
	if len(refs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+refs[k])
	}
	return strings.Join(parts, ",")
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return orDash(id)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
