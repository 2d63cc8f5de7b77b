package core

import (
	"encoding/json"
	"fmt"
)

// StepKind discriminates the four step types a definition may contain.
type StepKind string

const (
	StepKindAI       StepKind = "ai"
	StepKindApproval StepKind = "approval"
	StepKindPublish  StepKind = "publish"
	StepKindCustom   StepKind = "custom"
)

// StepSpec is the static description of one workflow step. It is a tagged
// union over StepKind: each kind uses only the fields listed for it and
// Validate rejects the rest.
//
//	ai:       Capability (required), Provider/Model overrides, MaxRetries,
//	          StaticInput merged into the job input.
//	approval: no extra fields.
//	publish:  ArtifactName (defaults to the step name).
//	custom:   Condition gating execution; evaluates over the accumulated
//	          context, false means the step is skipped.
type StepSpec struct {
	Name         string          `yaml:"name" json:"name"`
	Kind         StepKind        `yaml:"kind" json:"kind"`
	Capability   string          `yaml:"capability,omitempty" json:"capability,omitempty"`
	Provider     string          `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model        string          `yaml:"model,omitempty" json:"model,omitempty"`
	MaxRetries   *int            `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	StaticInput  json.RawMessage `yaml:"-" json:"static_input,omitempty"`
	ArtifactName string          `yaml:"artifact_name,omitempty" json:"artifact_name,omitempty"`
	Condition    *Condition      `yaml:"condition,omitempty" json:"condition,omitempty"`

	// RawStaticInput accepts arbitrary YAML for static_input before it is
	// normalized to JSON in Normalize.
	RawStaticInput map[string]any `yaml:"static_input,omitempty" json:"-"`
}

// Normalize converts YAML-friendly fields into their canonical form.
func (s *StepSpec) Normalize() error {
	if len(s.RawStaticInput) > 0 {
		b, err := json.Marshal(s.RawStaticInput)
		if err != nil {
			return fmt.Errorf("encoding static_input for step %q: %w", s.Name, err)
		}
		s.StaticInput = b
		s.RawStaticInput = nil
	}
	return nil
}

// Validate checks the tagged-union rules for this spec.
func (s *StepSpec) Validate() error {
	if s.Name == "" {
		return ErrValidation("STEP_NAME_REQUIRED", "step name cannot be empty")
	}
	switch s.Kind {
	case StepKindAI:
		if s.Capability == "" {
			return ErrValidation("STEP_CAPABILITY_REQUIRED",
				fmt.Sprintf("ai step %q requires a capability", s.Name))
		}
		if s.MaxRetries != nil && *s.MaxRetries < 0 {
			return ErrValidation("STEP_MAX_RETRIES_INVALID",
				fmt.Sprintf("ai step %q has negative max_retries", s.Name))
		}
	case StepKindApproval:
		if s.Capability != "" || s.Condition != nil {
			return ErrValidation("STEP_FIELDS_INVALID",
				fmt.Sprintf("approval step %q carries fields of another kind", s.Name))
		}
	case StepKindPublish:
		if s.Capability != "" {
			return ErrValidation("STEP_FIELDS_INVALID",
				fmt.Sprintf("publish step %q carries fields of another kind", s.Name))
		}
	case StepKindCustom:
		if s.Condition != nil {
			if err := s.Condition.Validate(); err != nil {
				return err
			}
		}
	default:
		return ErrValidation("STEP_KIND_UNKNOWN",
			fmt.Sprintf("step %q has unknown kind %q", s.Name, s.Kind))
	}
	return nil
}
