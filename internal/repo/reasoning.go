package repo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opsmendstack/opsmend-heal/internal/config"
)

const reasoningSystemPrompt = "You are a self-healing workflow agent that suggests corrective actions."

// ReasoningClient asks an OpenAI-compatible chat-completion endpoint for
// healing action suggestions. Groq-style endpoints work unchanged through the
// configurable base URL.
type ReasoningClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewReasoningClient constructs a reasoning client, or nil when the
// collaborator is not configured. A nil client disables the reasoning path.
func NewReasoningClient(cfg config.ReasoningConfig, logger *slog.Logger) *ReasoningClient {
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = "llama-3.1-70b-versatile"
	}

	logger.Info("reasoning collaborator enabled", slog.String("model", model))
	return &ReasoningClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}
}

// Suggest sends the prompt and returns the raw suggestion text. The caller
// bounds the context; any transport or model failure surfaces as an error so
// the resolver can fall back.
func (r *ReasoningClient) Suggest(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: reasoningSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   120,
		Temperature: 0.6,
	})
	if err != nil {
		return "", fmt.Errorf("reasoning completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("reasoning returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
