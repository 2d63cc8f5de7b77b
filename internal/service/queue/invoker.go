package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/flowforge/internal/adapters/provider"
	"github.com/hugo-lorenzo-mato/flowforge/internal/config"
	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

// JobOutput is the persisted result of one successful invocation.
type JobOutput struct {
	Text  string          `json:"text,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Usage Usage           `json:"usage"`
}

// Usage records token accounting for one invocation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Invoker resolves a job's capability to a configured provider call.
type Invoker struct {
	registry *provider.Registry
	caps     map[string]config.CapabilityConfig

	defaultProvider string
	defaultModel    string
	invokeTimeout   time.Duration
}

// NewInvoker builds an invoker over the given provider registry and
// capability table.
func NewInvoker(registry *provider.Registry, providers config.ProvidersConfig, invokeTimeout time.Duration) *Invoker {
	if invokeTimeout <= 0 {
		invokeTimeout = 120 * time.Second
	}
	return &Invoker{
		registry:        registry,
		caps:            providers.Capabilities,
		defaultProvider: providers.Default,
		defaultModel:    providers.Model,
		invokeTimeout:   invokeTimeout,
	}
}

// Invoke runs one job attempt: capability lookup, provider resolution, model
// call, tolerant output parsing. Every failure comes back as a DomainError
// so the worker can decide between requeue and terminal failure.
func (inv *Invoker) Invoke(ctx context.Context, job *core.Job) (json.RawMessage, error) {
	capCfg, ok := inv.caps[job.Capability]
	if !ok {
		return nil, core.ErrValidation(core.CodeCapabilityUnknown,
			fmt.Sprintf("capability %q is not configured", job.Capability))
	}

	providerName := firstNonEmpty(job.Provider, capCfg.Provider, inv.defaultProvider)
	p, err := inv.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	req := core.ProviderRequest{
		Model:       firstNonEmpty(job.Model, capCfg.Model, inv.defaultModel),
		MaxTokens:   capCfg.MaxTokens,
		Temperature: capCfg.Temperature,
		Timeout:     inv.invokeTimeout,
	}
	if capCfg.SystemPrompt != "" {
		req.Messages = append(req.Messages, core.Message{Role: "system", Content: capCfg.SystemPrompt})
	}
	req.Messages = append(req.Messages, core.Message{Role: "user", Content: renderInput(job.Input)})

	result, err := p.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	parsed := ParseModelOutput(result.Text)
	output := JobOutput{
		Text: parsed.Text,
		Data: parsed.Data,
		Usage: Usage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
		},
	}
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, core.ErrExecution(core.CodeParseFailed,
			fmt.Sprintf("encoding output for job %s: %v", job.ID, err))
	}
	return encoded, nil
}

// renderInput turns the job input into the user message. A bare prompt field
// is sent as-is; anything else goes through as compact JSON for the model to
// interpret.
func renderInput(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err == nil && len(fields) == 1 {
		if rawPrompt, ok := fields["prompt"]; ok {
			var prompt string
			if err := json.Unmarshal(rawPrompt, &prompt); err == nil {
				return prompt
			}
		}
	}
	return string(input)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
