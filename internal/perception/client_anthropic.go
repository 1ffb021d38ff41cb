package perception

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"projectos/internal/config"
	"projectos/internal/types"
)

// AnthropicCaller wraps the official Anthropic SDK.
type AnthropicCaller struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicCaller creates an Anthropic-backed caller from config.
func NewAnthropicCaller(cfg config.LLMConfig) (*AnthropicCaller, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicCaller{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
	}, nil
}

// Chat sends the ordered message list. System messages are folded into the
// system prompt in order; the rest keep their roles.
func (c *AnthropicCaller) Chat(ctx context.Context, messages []types.Message) (string, error) {
	var systemParts []string
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case types.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(turns) == 0 {
		return "", fmt.Errorf("no user message to send")
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  turns,
	}
	if len(systemParts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemParts, "\n\n")},
		}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic call failed: %w", err)
	}

	var out strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("unexpected response format: no text blocks")
	}
	return strings.TrimSpace(out.String()), nil
}
