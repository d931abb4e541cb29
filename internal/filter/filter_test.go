package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tally/pkg/resource"
)

func record(id, name string, kv ...string) resource.LocalRecord {
	return resource.LocalRecord{
		ResourceID: id,
		Type:       resource.TypeInstance,
		Name:       name,
		Tags:       resource.NewTags(kv...),
	}
}

func mustNew(t *testing.T, include, exclude map[string]string, pattern string) *Filter {
	t.Helper()
	f, err := New(include, exclude, pattern)
	require.NoError(t, err)
	return f
}

func TestMatches_NoFilters(t *testing.T) {
	f := mustNew(t, nil, nil, "")
	assert.True(t, f.IsEmpty())
	assert.True(t, f.Matches(record("i-1", "web", "env", "prod")))
	assert.True(t, f.Matches(record("i-2", "")))
}

func TestMatches_IncludeTags(t *testing.T) {
	f := mustNew(t, map[string]string{"env": "prod", "team": "platform"}, nil, "")

	assert.True(t, f.Matches(record("i-1", "web", "env", "prod", "team", "platform")))
	assert.False(t, f.Matches(record("i-2", "web", "env", "prod")))
	assert.False(t, f.Matches(record("i-3", "web", "env", "staging", "team", "platform")))
}

func TestMatches_ExcludeTags(t *testing.T) {
	f := mustNew(t, nil, map[string]string{"tally:protected": "true"}, "")

	assert.False(t, f.Matches(record("i-1", "db", "tally:protected", "true")))
	assert.True(t, f.Matches(record("i-2", "db", "tally:protected", "false")))
	assert.True(t, f.Matches(record("i-3", "db")))
}

func TestMatches_IncludeAndExclude(t *testing.T) {
	f := mustNew(t, map[string]string{"env": "dev"}, map[string]string{"keep": "yes"}, "")

	assert.True(t, f.Matches(record("i-1", "a", "env", "dev")))
	assert.False(t, f.Matches(record("i-2", "b", "env", "dev", "keep", "yes")))
	assert.False(t, f.Matches(record("i-3", "c", "keep", "no")))
}

func TestMatches_NamePattern(t *testing.T) {
	f := mustNew(t, nil, nil, "web-*")

	assert.True(t, f.Matches(record("i-1", "web-1")))
	assert.False(t, f.Matches(record("i-2", "api-1")))
	assert.False(t, f.Matches(record("i-3", "")))
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(nil, nil, "web-[")
	assert.ErrorContains(t, err, "invalid name pattern")
}

func TestRecordsAndIDs(t *testing.T) {
	recs := []resource.LocalRecord{
		record("vol-1", "scratch", "env", "dev"),
		record("vol-2", "data", "env", "prod"),
		record("vol-3", "tmp", "env", "dev"),
	}

	f := mustNew(t, map[string]string{"env": "dev"}, nil, "")
	assert.Len(t, f.Records(recs), 2)
	assert.Equal(t, []string{"vol-1", "vol-3"}, f.IDs(recs))

	empty := mustNew(t, nil, nil, "")
	assert.Equal(t, recs, empty.Records(recs))
	assert.Equal(t, []string{"vol-1", "vol-2", "vol-3"}, empty.IDs(recs))
}

func TestParseSelectors(t *testing.T) {
	tests := []struct {
		name      string
		selectors []string
		want      map[string]string
		wantErr   bool
	}{
		{name: "none", selectors: nil, want: nil},
		{name: "pairs", selectors: []string{"env=prod", "team = platform"}, want: map[string]string{"env": "prod", "team": "platform"}},
		{name: "bare key", selectors: []string{"orphan"}, want: map[string]string{"orphan": ""}},
		{name: "value with equals", selectors: []string{"expr=a=b"}, want: map[string]string{"expr": "a=b"}},
		{name: "empty key", selectors: []string{"=prod"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelectors(tt.selectors)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
