package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeMetadata_DropsNulls(t *testing.T) {
	in := map[string]any{"a": "x", "b": nil}
	out := SanitizeMetadata(in)
	_, hasB := out["b"]
	assert.False(t, hasB)
	assert.Equal(t, "x", out["a"])
}

func TestSanitizeMetadata_DropsEmptyLists(t *testing.T) {
	in := map[string]any{"tags": []string{}, "other": []string{"x"}}
	out := SanitizeMetadata(in)
	_, hasTags := out["tags"]
	assert.False(t, hasTags)
	assert.Equal(t, []string{"x"}, out["other"])
}

func TestSanitizeMetadata_StringifiesNestedMaps(t *testing.T) {
	in := map[string]any{"nested": map[string]any{"x": 1}}
	out := SanitizeMetadata(in)
	_, isString := out["nested"].(string)
	assert.True(t, isString)
}

func TestSanitizeMetadata_Idempotent(t *testing.T) {
	in := map[string]any{
		"a":      "x",
		"b":      nil,
		"tags":   []string{"y", "z"},
		"nested": map[string]any{"k": "v"},
		"empty":  []string{},
	}
	once := SanitizeMetadata(in)
	twice := SanitizeMetadata(once)
	assert.Equal(t, once, twice)
}
