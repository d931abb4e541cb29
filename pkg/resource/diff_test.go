package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeString(t *testing.T) {
	s := Scope{CloudContext: "prod-us-east-1", Type: TypeVolume}
	assert.Equal(t, "prod-us-east-1/aws.volume", s.String())
}

func TestScope_DifferentContexts(t *testing.T) {
	a := LocalRecord{CloudContext: "a", Type: TypeInstance}
	b := LocalRecord{CloudContext: "b", Type: TypeInstance}

	assert.NotEqual(t, a.Scope(), b.Scope())
}

func TestDiffType_Constants(t *testing.T) {
	assert.Equal(t, DiffType("added"), DiffAdded)
	assert.Equal(t, DiffType("deleted"), DiffDeleted)
	assert.Equal(t, DiffType("modified"), DiffModified)
}

func TestRecordDiff_Summary(t *testing.T) {
	d := RecordDiff{
		Type:       DiffModified,
		ResourceID: "vol-1",
		Changes: map[string]Change{
			"tag.Name":        {Previous: "old", Current: "new"},
			"field.state":     {Previous: "in-use", Current: "available"},
			"ref.instance_id": {Previous: "i-123", Current: ""},
		},
	}

	assert.Equal(t, []string{"field.state", "ref.instance_id", "tag.Name"}, d.Fields())
	assert.Equal(t, "field.state, ref.instance_id, tag.Name", d.Summary())
}

func TestAssociatedRefs_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b AssociatedRefs
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs empty value", nil, AssociatedRefs{RefInstance: ""}, true},
		{"same", AssociatedRefs{RefInstance: "i-1"}, AssociatedRefs{RefInstance: "i-1"}, true},
		{"different value", AssociatedRefs{RefInstance: "i-1"}, AssociatedRefs{RefInstance: "i-2"}, false},
		{"cleared", AssociatedRefs{RefInstance: "i-1"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestLocalRecord_CloneIsIndependent(t *testing.T) {
	orig := LocalRecord{
		ResourceID: "i-1",
		Fields:     map[string]any{"state": "running"},
		Tags:       NewTags("Name", "web"),
		Refs:       AssociatedRefs{RefInstance: "i-9"},
	}

	c := orig.Clone()
	c.Fields["state"] = "stopped"
	c.Tags[0].Value = "db"
	c.Refs[RefInstance] = "i-8"

	assert.Equal(t, "running", orig.Fields["state"])
	assert.Equal(t, "web", orig.Tags[0].Value)
	assert.Equal(t, "i-9", orig.Refs[RefInstance])
}
