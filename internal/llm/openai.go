package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible APIs.
type OpenAIProvider struct {
	client       *openai.Client
	model        string
	providerName string
	maxTokens    int
	logger       *slog.Logger
}

// NewOpenAIProvider creates a provider backed by go-openai.
func NewOpenAIProvider(cfg ProviderConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("OpenAI API key is required")
		}
		apiKey = "not-needed" // Local servers like Ollama/LM Studio don't require API keys
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}

	providerName := cfg.Provider
	if providerName == "" {
		providerName = string(ProviderOpenAI)
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        model,
		providerName: providerName,
		maxTokens:    cfg.MaxTokens,
		logger:       logger.With("component", "openai_provider", "model", model),
	}, nil
}

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: p.convertMessages(req),
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else if p.maxTokens > 0 {
		chatReq.MaxTokens = p.maxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.JSONOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	p.logger.Debug("sending completion request", "message_count", len(chatReq.Messages))

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI API")
	}

	text, err := textOrEmpty(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return &Completion{
		Text:  text,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return p.providerName }

// Model returns the model name.
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) convertMessages(req Request) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return result
}
