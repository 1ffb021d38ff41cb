// Package perception wraps the model providers behind a single caller
// interface and runs the strict-JSON intent and continuity classifiers.
package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"projectos/internal/config"
	"projectos/internal/types"
)

// ModelCaller accepts an ordered message list and returns the completion.
// Implementations must be safe to invoke from worker goroutines.
type ModelCaller interface {
	Chat(ctx context.Context, messages []types.Message) (string, error)
}

// NewCaller builds the configured provider client.
func NewCaller(cfg config.LLMConfig) (ModelCaller, error) {
	switch cfg.Provider {
	case "anthropic", "":
		return NewAnthropicCaller(cfg)
	case "gemini":
		return NewGeminiCaller(cfg)
	case "openai":
		return NewOpenAICaller(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// =============================================================================
// OPENAI-COMPATIBLE HTTP CLIENT
// =============================================================================

// OpenAICaller speaks the chat-completions wire format against any
// compatible endpoint.
type OpenAICaller struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewOpenAICaller creates a chat-completions client from config.
func NewOpenAICaller(cfg config.LLMConfig) *OpenAICaller {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAICaller{
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     cfg.Model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: config.ParseDuration(cfg.Timeout, 120*time.Second),
		},
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends the ordered message list and returns the completion text.
func (c *OpenAICaller) Chat(ctx context.Context, messages []types.Message) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	msgs := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: msgs, MaxTokens: c.maxTokens})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
