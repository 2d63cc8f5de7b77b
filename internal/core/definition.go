package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowDefinition is a static, named, ordered list of step specs.
// Definitions are content-addressed: a definition is immutable once stored
// and any change produces a new (id, version) pair. Running executions pin
// the version they started with.
type WorkflowDefinition struct {
	ID        string
	Version   int
	Name      string
	Steps     []StepSpec
	CreatedAt time.Time
}

// Validate checks definition invariants.
func (d *WorkflowDefinition) Validate() error {
	if d.ID == "" {
		return ErrValidation("DEFINITION_ID_REQUIRED", "definition ID cannot be empty")
	}
	if len(d.Steps) == 0 {
		return ErrValidation("DEFINITION_EMPTY", fmt.Sprintf("definition %q has no steps", d.ID))
	}
	seen := make(map[string]bool, len(d.Steps))
	for i := range d.Steps {
		if err := d.Steps[i].Validate(); err != nil {
			return err
		}
		if seen[d.Steps[i].Name] {
			return ErrValidation("STEP_NAME_DUPLICATE",
				fmt.Sprintf("definition %q repeats step name %q", d.ID, d.Steps[i].Name))
		}
		seen[d.Steps[i].Name] = true
	}
	return nil
}

// Fingerprint returns a stable hash of the step list, used to decide whether
// a re-loaded definition file is a new version.
func (d *WorkflowDefinition) Fingerprint() string {
	b, err := json.Marshal(d.Steps)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
