// Package llm provides a unified interface for interacting with various LLM providers.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Provider defines the interface that all LLM providers must implement.
type Provider interface {
	// Complete sends a request and returns the model's text reply.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// Name returns the provider name (e.g., "openai", "anthropic").
	Name() string

	// Model returns the model name being used.
	Model() string
}

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one text message in the request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request represents a completion request.
type Request struct {
	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages is the conversation, usually a single user prompt.
	Messages []Message `json:"messages"`

	// Temperature overrides the provider default when set.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`

	// JSONOutput asks the provider to constrain the reply to a JSON object.
	JSONOutput bool `json:"json_output,omitempty"`
}

// UserPrompt builds a request holding a single user message.
func UserPrompt(system, prompt string) Request {
	return Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	}
}

// WithTemperature returns a copy of the request using t.
func (r Request) WithTemperature(t float64) Request {
	r.Temperature = &t
	return r
}

// Completion is the model reply.
type Completion struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// Usage contains token usage information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TotalTokens returns the total number of tokens used.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// ErrEmptyCompletion is returned when the provider replies with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// ProviderConfig holds common configuration for LLM providers.
type ProviderConfig struct {
	// Provider is the provider name (openai, anthropic, ollama, lmstudio).
	Provider string `json:"provider"`

	// Model is the model to use.
	Model string `json:"model"`

	// APIKey is the API key for authentication.
	APIKey string `json:"api_key,omitempty"`

	// BaseURL overrides the API endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// MaxTokens is the default maximum tokens to generate.
	MaxTokens int `json:"max_tokens,omitempty"`
}

func textOrEmpty(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
