package config

// LLMConfig configures the model callers.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// MaxTokens caps a single completion.
	MaxTokens int `yaml:"max_tokens"`

	// ClassifierTemp is the temperature for strict-JSON classifier calls.
	ClassifierTemp float64 `yaml:"classifier_temp"`
}
