package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tally/internal/bulk"
	"github.com/yairfalse/tally/internal/journal"
	"github.com/yairfalse/tally/internal/reconciler"
	"github.com/yairfalse/tally/pkg/resource"
)

func TestCheckFormat(t *testing.T) {
	assert.NoError(t, checkFormat("table"))
	assert.NoError(t, checkFormat("json"))
	assert.Error(t, checkFormat("yaml"))
}

func TestRenderResults_Table(t *testing.T) {
	var buf bytes.Buffer
	results := []reconciler.Result{
		{CloudContext: "prod", Type: resource.TypeVolume, Fetched: 3, Created: 2, Errors: []error{errors.New("vol-9: disk full")}},
		{CloudContext: "prod", Type: resource.TypeInstance, Fetched: 1, Unchanged: 1},
	}
	require.NoError(t, renderResults(&buf, formatTable, results))

	out := buf.String()
	assert.Contains(t, out, "aws.volume")
	assert.Contains(t, out, "aws.instance")
	assert.Contains(t, out, "prod/aws.volume: vol-9: disk full")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("aws.instance")), bytes.Index(buf.Bytes(), []byte("aws.volume")))
}

func TestRenderResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	results := []reconciler.Result{
		{CloudContext: "prod", Type: resource.TypeVolume, Created: 2, Errors: []error{errors.New("boom")}},
	}
	require.NoError(t, renderResults(&buf, formatJSON, results))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "aws.volume", decoded[0]["type"])
	assert.Equal(t, float64(2), decoded[0]["created"])
	assert.Equal(t, []any{"boom"}, decoded[0]["errors"])
}

func TestRenderRecords(t *testing.T) {
	spec, ok := resource.Lookup(resource.TypeVolume)
	require.True(t, ok)

	recs := []resource.LocalRecord{{
		ResourceID: "vol-1",
		Name:       "data",
		Fields:     map[string]any{"size_gib": 100, "state": "in-use"},
		Refs:       resource.AssociatedRefs{resource.RefInstance: "i-1"},
		Refreshed:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}}

	var buf bytes.Buffer
	require.NoError(t, renderRecords(&buf, formatTable, spec, recs))
	out := buf.String()
	assert.Contains(t, out, "SIZE GIB")
	assert.Contains(t, out, "vol-1")
	assert.Contains(t, out, "in-use")
	assert.Contains(t, out, "instance_id=i-1")
	assert.Contains(t, strings.ToLower(out), "1 volume")

	buf.Reset()
	require.NoError(t, renderRecords(&buf, formatJSON, spec, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestRenderPreview(t *testing.T) {
	p := bulk.Preview{
		Request: bulk.Request{CloudContext: "prod", Type: resource.TypeVolume, Action: resource.ActionDelete},
		Targets: []bulk.Target{
			{ResourceID: "vol-1", Name: "data", Found: true, Allowed: true},
			{ResourceID: "vol-2", Found: true, Allowed: false, Reasons: []string{"vol-2 is protected against delete"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderPreview(&buf, formatTable, p))
	out := buf.String()
	assert.Contains(t, strings.ToLower(out), "delete aws.volume in prod")
	assert.Contains(t, out, "vol-2 is protected against delete")
	assert.Contains(t, strings.ToLower(out), "1 of 2 actionable")
}

func TestRenderBulkResult(t *testing.T) {
	r := bulk.Result{
		RunID:     "run-1",
		Request:   bulk.Request{CloudContext: "prod", Type: resource.TypeInstance, Action: resource.ActionStop},
		Succeeded: []string{"i-1"},
		Failed:    []string{"i-2"},
		Errors:    map[string]error{"i-2": errors.New("throttled")},
	}

	var buf bytes.Buffer
	require.NoError(t, renderBulkResult(&buf, formatTable, r))
	out := buf.String()
	assert.Contains(t, out, "throttled")
	assert.Contains(t, strings.ToLower(out), "1 succeeded, 1 failed")

	buf.Reset()
	require.NoError(t, renderBulkResult(&buf, formatJSON, r))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, map[string]any{"i-2": "throttled"}, decoded["errors"])
}

func TestRenderTypes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderTypes(&buf, formatTable, resource.All()))
	out := buf.String()
	assert.Contains(t, out, "aws.volume")
	assert.Contains(t, out, "k8s.pod")
	assert.Contains(t, out, "delete, detach")
}

func TestCollectEntries(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir, journal.DefaultPrefix)
	require.NoError(t, err)
	require.NoError(t, j.Append(journal.EntryPassStarted, "run-1", "prod/aws.volume", "", nil))
	require.NoError(t, j.Append(journal.EntryCreated, "run-1", "prod/aws.volume", "vol-1", nil))
	require.NoError(t, j.Append(journal.EntryCreated, "run-2", "prod/aws.instance", "i-1", nil))
	require.NoError(t, j.Append(journal.EntryDeleted, "run-2", "prod/aws.instance", "i-2", nil))
	require.NoError(t, j.Close())

	all, err := collectEntries(dir, time.Time{}, "", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byRun, err := collectEntries(dir, time.Time{}, "run-1", "", 0)
	require.NoError(t, err)
	assert.Len(t, byRun, 2)

	byScope, err := collectEntries(dir, time.Time{}, "", "prod/aws.instance", 1)
	require.NoError(t, err)
	require.Len(t, byScope, 1)
	assert.Equal(t, "i-2", byScope[0].ResourceID)

	var buf bytes.Buffer
	require.NoError(t, renderEntries(&buf, formatTable, all))
	assert.Contains(t, buf.String(), "vol-1")
}
