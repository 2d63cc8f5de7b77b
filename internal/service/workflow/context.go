// Package workflow implements the execution state machine: the step loop
// over a pinned definition, asynchronous resumption when jobs settle, the
// approval resolution chain, and definition loading.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Reserved input keys the engine injects when building a job's input. Static
// step input cannot shadow them.
const (
	inputKeyContext       = "context"
	inputKeyRevisionNotes = "revision_notes"
)

// MergeJobInput builds the input for an ai step's job: task input fields,
// overlaid with the step's static input, plus the accumulated context under
// "context" and an optional revision hint under "revision_notes".
func MergeJobInput(taskInput, execContext, staticInput json.RawMessage, revisionNotes string) (json.RawMessage, error) {
	merged, err := decodeObject(taskInput)
	if err != nil {
		return nil, fmt.Errorf("decoding task input: %w", err)
	}

	static, err := decodeObject(staticInput)
	if err != nil {
		return nil, fmt.Errorf("decoding static input: %w", err)
	}
	for k, v := range static {
		if k == inputKeyContext || k == inputKeyRevisionNotes {
			continue
		}
		merged[k] = v
	}

	if len(execContext) > 0 && string(execContext) != "{}" {
		merged[inputKeyContext] = json.RawMessage(execContext)
	}
	if revisionNotes != "" {
		merged[inputKeyRevisionNotes] = revisionNotes
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding job input: %w", err)
	}
	return out, nil
}

// MergeStepOutput records a completed step's output in the execution context
// under the step's name.
func MergeStepOutput(execContext json.RawMessage, stepName string, output json.RawMessage) (json.RawMessage, error) {
	ctx, err := decodeObject(execContext)
	if err != nil {
		return nil, fmt.Errorf("decoding execution context: %w", err)
	}
	if len(output) == 0 {
		output = json.RawMessage("{}")
	}
	ctx[stepName] = json.RawMessage(output)

	out, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("encoding execution context: %w", err)
	}
	return out, nil
}

// ContextMap decodes the accumulated context for condition evaluation.
func ContextMap(execContext json.RawMessage) (map[string]any, error) {
	if len(execContext) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(execContext, &m); err != nil {
		return nil, fmt.Errorf("decoding execution context: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// ContextKeys returns the step names present in the context, sorted.
func ContextKeys(execContext json.RawMessage) []string {
	m, err := ContextMap(execContext)
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
