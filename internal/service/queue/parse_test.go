package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"array", `Some text before [{"key": "value"}] some text after`, `[{"key": "value"}]`},
		{"object", `Prefix {"key": "value"} suffix`, `{"key": "value"}`},
		{"nested", `Start {"outer": {"inner": "value"}} end`, `{"outer": {"inner": "value"}}`},
		{"braces in strings", `Text {"key": "value with { braces }"} more`, `{"key": "value with { braces }"}`},
		{"escaped quotes", `{"key": "value with \"escaped\" quotes"}`, `{"key": "value with \"escaped\" quotes"}`},
		{"nested arrays", `prefix [[1, 2], [3, 4]] suffix`, `[[1, 2], [3, 4]]`},
		{"no json", `No JSON here at all`, ``},
		{"unbalanced", `starts { but never closes`, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.input))
		})
	}
}

func TestParseModelOutputDirectJSON(t *testing.T) {
	out := ParseModelOutput(`{"title": "Q3 report", "sections": ["a", "b"]}`)
	assert.Empty(t, out.Text)
	assert.JSONEq(t, `{"title": "Q3 report", "sections": ["a", "b"]}`, string(out.Data))
}

func TestParseModelOutputMarkdownFence(t *testing.T) {
	input := "Here is the draft:\n```json\n{\"title\": \"Q3\"}\n```\nLet me know."
	out := ParseModelOutput(input)
	assert.JSONEq(t, `{"title": "Q3"}`, string(out.Data))
}

func TestParseModelOutputTrailingComma(t *testing.T) {
	out := ParseModelOutput(`{"items": ["a", "b",],}`)
	assert.JSONEq(t, `{"items": ["a", "b"]}`, string(out.Data))
}

func TestParseModelOutputMixedProse(t *testing.T) {
	out := ParseModelOutput(`Sure! The result is {"score": 7} as requested.`)
	assert.JSONEq(t, `{"score": 7}`, string(out.Data))
}

func TestParseModelOutputFallbackToText(t *testing.T) {
	out := ParseModelOutput("This response has no structure at all.")
	assert.Nil(t, out.Data)
	assert.Equal(t, "This response has no structure at all.", out.Text)
}

func TestParseModelOutputBareScalar(t *testing.T) {
	// A bare number is valid JSON but useless as structured output.
	out := ParseModelOutput("42")
	assert.Nil(t, out.Data)
	assert.Equal(t, "42", out.Text)
}

func TestParseModelOutputEmpty(t *testing.T) {
	out := ParseModelOutput("   \n  ")
	assert.Nil(t, out.Data)
	assert.Empty(t, out.Text)
}

func TestRemoveTrailingCommas(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, removeTrailingCommas(`{"a": 1,}`))
	assert.Equal(t, `[1, 2]`, removeTrailingCommas(`[1, 2,]`))
	assert.Equal(t, `{"a": [1]}`, removeTrailingCommas(`{"a": [1,],}`))
}
