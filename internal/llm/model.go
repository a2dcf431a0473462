package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ljutzkanovltd/codeharvest/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Model wraps a langchaingo LLM for code summarization.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: cfg.LLMModel,
	}, nil
}

const summarizeSystemPrompt = `You are a code documentation assistant. Summarize the given code block in 1-3 sentences.
Describe what the code does and which APIs or patterns it demonstrates.
Do not restate the code; do not speculate beyond what is shown.`

// Summarize produces a short summary of a code block. The surrounding
// document text is passed as context to anchor the summary.
func (m *Model) Summarize(ctx context.Context, code, contextWindow string) (string, error) {
	var b strings.Builder
	if contextWindow != "" {
		fmt.Fprintf(&b, "Surrounding document context:\n%s\n\n", contextWindow)
	}
	fmt.Fprintf(&b, "Code block:\n%s\n\nSummary:", code)

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, summarizeSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, b.String()),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", classifyProviderError(err))
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("summarize: no response choices")
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}

// ModelName returns the configured LLM model name.
func (m *Model) ModelName() string {
	return m.modelName
}
