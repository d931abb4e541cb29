package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTags_KeepsFirstPositionLastValue(t *testing.T) {
	tags := NewTags("Name", "a", "env", "prod", "Name", "b")

	assert.Equal(t, Tags{{Key: "Name", Value: "b"}, {Key: "env", Value: "prod"}}, tags)
}

func TestTags_Get(t *testing.T) {
	tags := NewTags("Name", "", "env", "prod")

	v, ok := tags.Get("Name")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	_, ok = tags.Get("missing")
	assert.False(t, ok)
}

func TestTags_EqualIgnoresOrder(t *testing.T) {
	a := NewTags("Name", "web", "env", "prod")
	b := NewTags("env", "prod", "Name", "web")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(NewTags("Name", "web")))
	assert.False(t, a.Equal(NewTags("Name", "web", "env", "dev")))
	assert.True(t, Tags(nil).Equal(Tags{}))
}

func TestTags_SetDoesNotMutate(t *testing.T) {
	orig := NewTags("Name", "web")
	updated := orig.Set("Name", "db").Set("team", "core")

	assert.Equal(t, "web", orig[0].Value)
	assert.Equal(t, Tags{{Key: "Name", Value: "db"}, {Key: "team", Value: "core"}}, updated)
}

func TestTags_Delete(t *testing.T) {
	tags := NewTags("Name", "web", "env", "prod")

	assert.Equal(t, NewTags("env", "prod"), tags.Delete("Name"))
	assert.Nil(t, NewTags("Name", "web").Delete("Name"))
}

func TestTagsFromMap_SortsKeys(t *testing.T) {
	tags := TagsFromMap(map[string]string{"b": "2", "a": "1"})

	assert.Equal(t, Tags{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, tags)
	assert.Nil(t, TagsFromMap(nil))
}
