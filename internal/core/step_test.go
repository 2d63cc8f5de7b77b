package core

import "testing"

func TestStepSpec_Validate(t *testing.T) {
	retries := 2
	negative := -1

	tests := []struct {
		name    string
		spec    StepSpec
		wantErr bool
	}{
		{"ai step", StepSpec{Name: "research", Kind: StepKindAI, Capability: "research"}, false},
		{"ai step with retries", StepSpec{Name: "draft", Kind: StepKindAI, Capability: "draft", MaxRetries: &retries}, false},
		{"ai step without capability", StepSpec{Name: "research", Kind: StepKindAI}, true},
		{"ai step negative retries", StepSpec{Name: "draft", Kind: StepKindAI, Capability: "draft", MaxRetries: &negative}, true},
		{"approval step", StepSpec{Name: "review", Kind: StepKindApproval}, false},
		{"approval step with stray capability", StepSpec{Name: "review", Kind: StepKindApproval, Capability: "draft"}, true},
		{"publish step", StepSpec{Name: "publish", Kind: StepKindPublish}, false},
		{"publish step with stray capability", StepSpec{Name: "publish", Kind: StepKindPublish, Capability: "draft"}, true},
		{"custom step", StepSpec{Name: "gate", Kind: StepKindCustom}, false},
		{"custom step with condition", StepSpec{Name: "gate", Kind: StepKindCustom,
			Condition: &Condition{Field: "tone", Op: OpEquals, Value: "formal"}}, false},
		{"custom step with bad condition", StepSpec{Name: "gate", Kind: StepKindCustom,
			Condition: &Condition{Field: "tone", Op: "regex", Value: ".*"}}, true},
		{"unknown kind", StepSpec{Name: "x", Kind: "shell"}, true},
		{"missing name", StepSpec{Kind: StepKindAI, Capability: "research"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStepSpec_Normalize(t *testing.T) {
	spec := StepSpec{
		Name:           "draft",
		Kind:           StepKindAI,
		Capability:     "draft",
		RawStaticInput: map[string]any{"style": "long-form"},
	}
	if err := spec.Normalize(); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if string(spec.StaticInput) != `{"style":"long-form"}` {
		t.Fatalf("unexpected static input: %s", spec.StaticInput)
	}
	if spec.RawStaticInput != nil {
		t.Fatal("raw static input should be cleared after normalize")
	}
}

func TestWorkflowDefinition_Validate(t *testing.T) {
	def := &WorkflowDefinition{
		ID:      "blog-post",
		Version: 1,
		Name:    "Blog post",
		Steps: []StepSpec{
			{Name: "research", Kind: StepKindAI, Capability: "research"},
			{Name: "review", Kind: StepKindApproval},
			{Name: "publish", Kind: StepKindPublish},
		},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	def.Steps = append(def.Steps, StepSpec{Name: "research", Kind: StepKindAI, Capability: "research"})
	if err := def.Validate(); err == nil {
		t.Fatal("expected duplicate step name to be rejected")
	}

	def.Steps = nil
	if err := def.Validate(); err == nil {
		t.Fatal("expected empty definition to be rejected")
	}
}

func TestWorkflowDefinition_Fingerprint(t *testing.T) {
	a := &WorkflowDefinition{ID: "d", Steps: []StepSpec{{Name: "s", Kind: StepKindPublish}}}
	b := &WorkflowDefinition{ID: "d", Steps: []StepSpec{{Name: "s", Kind: StepKindPublish}}}
	if a.Fingerprint() == "" || a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical step lists must share a fingerprint")
	}

	b.Steps[0].Name = "other"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("different step lists must not share a fingerprint")
	}
}
