package resource

import "sort"

// NameTag is the tag key that drives display-name derivation.
const NameTag = "Name"

// Tag is a single provider-side key/value annotation.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tags is an ordered list of tags with unique keys. Order is kept as the
// provider reported it but plays no part in equality.
type Tags []Tag

// NewTags builds a tag list from alternating key/value pairs. A repeated key
// keeps its first position and takes the last value.
func NewTags(kv ...string) Tags {
	var t Tags
	for i := 0; i+1 < len(kv); i += 2 {
		t = t.Set(kv[i], kv[i+1])
	}
	return t
}

// TagsFromMap converts an unordered map into tags sorted by key.
func TagsFromMap(m map[string]string) Tags {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := make(Tags, 0, len(keys))
	for _, k := range keys {
		t = append(t, Tag{Key: k, Value: m[k]})
	}
	return t
}

// Get returns the value stored under key.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Set returns tags with key set to value, replacing in place when present.
func (t Tags) Set(key, value string) Tags {
	for i, tag := range t {
		if tag.Key == key {
			out := t.Clone()
			out[i].Value = value
			return out
		}
	}
	return append(t.Clone(), Tag{Key: key, Value: value})
}

// Delete returns tags without key.
func (t Tags) Delete(key string) Tags {
	out := make(Tags, 0, len(t))
	for _, tag := range t {
		if tag.Key != key {
			out = append(out, tag)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Map returns the tags as a plain map.
func (t Tags) Map() map[string]string {
	m := make(map[string]string, len(t))
	for _, tag := range t {
		m[tag.Key] = tag.Value
	}
	return m
}

// Equal compares two tag lists ignoring order.
func (t Tags) Equal(other Tags) bool {
	if len(t) != len(other) {
		return false
	}
	m := t.Map()
	for _, tag := range other {
		v, ok := m[tag.Key]
		if !ok || v != tag.Value {
			return false
		}
	}
	return true
}

// Clone returns a copy of the list, nil when empty.
func (t Tags) Clone() Tags {
	if len(t) == 0 {
		return nil
	}
	out := make(Tags, len(t))
	copy(out, t)
	return out
}
