package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

// Publisher writes publish-step artifacts into a target directory. Writes are
// atomic: a crashed publish never leaves a partial artifact behind.
type Publisher struct {
	dir string
}

// NewPublisher creates a publisher writing into dir.
func NewPublisher(dir string) *Publisher {
	return &Publisher{dir: dir}
}

// Publish writes the artifact for one execution and returns its path. The
// artifact body is the accumulated context, so everything the pipeline
// produced travels with the published result.
func (p *Publisher) Publish(artifactName string, execID core.ExecutionID, execContext json.RawMessage) (string, error) {
	if p.dir == "" {
		return "", core.ErrValidation("PUBLISH_DIR_UNSET", "publish directory is not configured")
	}
	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating publish directory: %w", err)
	}

	body := execContext
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	var indented map[string]json.RawMessage
	if err := json.Unmarshal(body, &indented); err == nil {
		if pretty, err := json.MarshalIndent(indented, "", "  "); err == nil {
			body = pretty
		}
	}

	name := fmt.Sprintf("%s-%s.json", sanitizeArtifactName(artifactName), execID)
	path := filepath.Join(p.dir, name)
	if err := renameio.WriteFile(path, body, 0o640); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", name, err)
	}
	return path, nil
}

// sanitizeArtifactName keeps artifact filenames flat and portable.
func sanitizeArtifactName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "artifact"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
