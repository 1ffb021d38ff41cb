package perception

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"projectos/internal/config"
	"projectos/internal/types"
)

// GeminiCaller wraps the Google GenAI SDK.
type GeminiCaller struct {
	client *genai.Client
	model  string
}

// NewGeminiCaller creates a Gemini-backed caller from config.
func NewGeminiCaller(cfg config.LLMConfig) (*GeminiCaller, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiCaller{client: client, model: model}, nil
}

// Chat sends the ordered message list. System messages become the system
// instruction; user/assistant turns map to user/model contents.
func (c *GeminiCaller) Chat(ctx context.Context, messages []types.Message) (string, error) {
	var systemParts []string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", fmt.Errorf("no user message to send")
	}

	cfg := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini call failed: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	return strings.TrimSpace(text), nil
}
