package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zoobzio/capitan"
)

// Provider turns a prompt into raw model output.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt, temperature float64) (string, error)
}

// StatusError is returned when the model API answers with a non-2xx status.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("openai error: status %d", e.Status)
	}
	return fmt.Sprintf("openai error (%d): %s", e.Status, e.Message)
}

// OpenAIConfig configures the chat-completions provider.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAI calls an OpenAI-compatible chat completions endpoint in JSON mode.
type OpenAI struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI constructs the provider.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAI{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *OpenAI) Name() string { return "openai" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the prompt and returns the first choice's content.
func (p *OpenAI) Complete(ctx context.Context, prompt Prompt, temperature float64) (string, error) {
	start := time.Now()
	capitan.Info(ctx, ProviderCallStarted,
		ProviderKey.Field(p.Name()),
		ModelKey.Field(p.model),
	)

	body, err := json.Marshal(chatCompletionRequest{
		Model: p.model,
		Messages: []message{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature:    temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.failed(ctx, 0, start, err.Error())
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Status: resp.StatusCode}
		var errResp errorResponse
		if json.Unmarshal(data, &errResp) == nil {
			statusErr.Message = errResp.Error.Message
		}
		p.failed(ctx, resp.StatusCode, start, statusErr.Error())
		return "", statusErr
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(data, &completion); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(completion.Choices) == 0 {
		p.failed(ctx, resp.StatusCode, start, "no choices")
		return "", fmt.Errorf("no response choices returned")
	}

	capitan.Info(ctx, ProviderCallCompleted,
		ProviderKey.Field(p.Name()),
		ModelKey.Field(completion.Model),
		HTTPStatusCodeKey.Field(resp.StatusCode),
		TotalTokensKey.Field(completion.Usage.TotalTokens),
		DurationMsKey.Field(int(time.Since(start).Milliseconds())),
	)
	return completion.Choices[0].Message.Content, nil
}

func (p *OpenAI) failed(ctx context.Context, status int, start time.Time, msg string) {
	capitan.Error(ctx, ProviderCallFailed,
		ProviderKey.Field(p.Name()),
		ModelKey.Field(p.model),
		HTTPStatusCodeKey.Field(status),
		DurationMsKey.Field(int(time.Since(start).Milliseconds())),
		ErrorKey.Field(msg),
	)
}
