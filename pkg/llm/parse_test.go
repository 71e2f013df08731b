package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string]any
	}{
		{
			name:    "bare object",
			content: `{"a": 1}`,
			want:    map[string]any{"a": float64(1)},
		},
		{
			name:    "json code fence",
			content: "```json\n{\"a\": 1}\n```",
			want:    map[string]any{"a": float64(1)},
		},
		{
			name:    "plain code fence",
			content: "```\n{\"a\": 1}\n```",
			want:    map[string]any{"a": float64(1)},
		},
		{
			name:    "prose around the object",
			content: "Here is the plan:\n{\"a\": 1}\nLet me know.",
			want:    map[string]any{"a": float64(1)},
		},
		{
			name:    "nested braces",
			content: `result {"outer": {"inner": 2}} done`,
			want:    map[string]any{"outer": map[string]any{"inner": float64(2)}},
		},
		{
			name:    "braces inside strings",
			content: `{"msg": "use {placeholders} here"}`,
			want:    map[string]any{"msg": "use {placeholders} here"},
		},
		{
			name:    "escaped quotes inside strings",
			content: `{"msg": "she said \"go\" now}"}`,
			want:    map[string]any{"msg": `she said "go" now}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			require.NoError(t, ExtractJSON(tt.content, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	var got []int
	require.NoError(t, ExtractJSON("steps: [1, 2, 3] end", &got))
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestExtractJSONErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no json at all", "I cannot help with that.", "no JSON found"},
		{"unbalanced object", `{"a": {"b": 1}`, "unbalanced JSON"},
		{"invalid json", `{"a": oops}`, "failed to parse"},
		{"empty content", "", "no JSON found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			err := ExtractJSON(tt.content, &got)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
