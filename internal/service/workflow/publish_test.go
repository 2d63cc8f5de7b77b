package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	p := NewPublisher(dir)

	path, err := p.Publish("blog-post", "exec-1", json.RawMessage(`{"research": {"text": "findings"}}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "blog-post-exec-1.json"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"research": {"text": "findings"}}`, string(body))
}

func TestPublishEmptyContext(t *testing.T) {
	p := NewPublisher(t.TempDir())

	path, err := p.Publish("report", "exec-2", nil)
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(body))
}

func TestPublishCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "artifacts")
	p := NewPublisher(dir)

	_, err := p.Publish("report", "exec-3", json.RawMessage(`{"a": 1}`))
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPublishUnconfiguredDir(t *testing.T) {
	p := NewPublisher("")

	_, err := p.Publish("report", "exec-4", nil)
	assert.Error(t, err)
}

func TestSanitizeArtifactName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"blog-post", "blog-post"},
		{"Weekly Report #3", "Weekly-Report--3"},
		{"../etc/passwd", "---etc-passwd"},
		{"  ", "artifact"},
		{"snake_case_ok", "snake_case_ok"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sanitizeArtifactName(tc.in), "input %q", tc.in)
	}
}
