package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"prose wrapper", `Here you go: {"a":1} done`, `{"a":1}`},
		{"nested", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`},
		{"no object", `nothing here`, ""},
		{"unbalanced", `{"a":1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractJSONObject(tt.input))
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`{"a":1}`))
}

func TestUnmarshalStrict(t *testing.T) {
	var intent Intent
	err := UnmarshalStrict("Sure! ```json\n{\"intent\":\"recall\",\"entities\":[\"name\"],\"scope\":\"all\"}\n```", &intent)
	require.NoError(t, err)
	assert.Equal(t, IntentRecall, intent.Intent)
	assert.Equal(t, []string{"name"}, intent.Entities)

	err = UnmarshalStrict("no json at all", &intent)
	assert.Error(t, err)
}
