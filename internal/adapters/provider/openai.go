package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAI calls the chat completions API.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAI creates an OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, core.ErrAuth("openai API key is not set")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name implements core.Provider.
func (o *OpenAI) Name() string { return "openai" }

type openAIRequest struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	MaxTokens   int            `json:"max_completion_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke implements core.Provider.
func (o *OpenAI) Invoke(ctx context.Context, req core.ProviderRequest) (*core.ProviderResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body := openAIRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("openai", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, core.ErrNetwork(fmt.Sprintf("reading openai response: %v", err))
	}

	var decoded openAIResponse
	if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode < 300 {
		return nil, core.ErrExecution("PROVIDER_RESPONSE_INVALID",
			fmt.Sprintf("decoding openai response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		detail := ""
		if decoded.Error != nil {
			detail = decoded.Error.Message
		}
		return nil, classifyStatus("openai", resp.StatusCode, detail)
	}
	if len(decoded.Choices) == 0 {
		return nil, core.ErrExecution("PROVIDER_RESPONSE_EMPTY", "openai returned no choices")
	}

	return &core.ProviderResult{
		Text:             decoded.Choices[0].Message.Content,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}, nil
}

// classifyTransportError maps client-side failures onto domain categories so
// the worker can decide between requeue and terminal failure.
func classifyTransportError(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout(fmt.Sprintf("%s request timed out", name))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return core.ErrNetwork(fmt.Sprintf("%s request failed: %v", name, err))
}

func classifyStatus(name string, status int, detail string) error {
	msg := fmt.Sprintf("%s returned HTTP %d", name, status)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrAuth(msg)
	case status == http.StatusTooManyRequests:
		return core.ErrRateLimit(msg)
	case status >= 500:
		return core.ErrNetwork(msg)
	default:
		// Remaining 4xx are request defects; retrying the same payload
		// cannot succeed.
		return core.ErrValidation("PROVIDER_REQUEST_REJECTED", msg)
	}
}

var _ core.Provider = (*OpenAI)(nil)
