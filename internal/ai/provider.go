// Package ai defines one interface over the supported AI backends (Claude,
// OpenAI and a self-hosted Ollama server) and classifies their failures into
// the application's error taxonomy.
package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apperrors "subtrack/internal/errors"
	"subtrack/internal/models"
)

const (
	// DefaultTimeout bounds a single provider call when no timeout is configured.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens caps completion length for feature prompts.
	DefaultMaxTokens = 2000

	// maxResponseBytes caps how much of a provider body is read.
	maxResponseBytes = 4 << 20
)

// CompletionRequest is a single prompt sent to a provider. Context carries
// optional background (portfolio summary, chat history) that providers place
// wherever their API expects system text.
type CompletionRequest struct {
	Prompt    string
	Context   string
	MaxTokens int
}

// Completion is the text a provider returned.
type Completion struct {
	Text  string
	Model string
}

// Provider is implemented by every AI backend.
type Provider interface {
	// Kind identifies the backend.
	Kind() models.AIProviderKind

	// Complete sends one prompt and returns the reply text. It makes exactly
	// one HTTP request and never retries.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// ListModels returns the model identifiers the backend offers.
	ListModels(ctx context.Context) ([]string, error)
}

// Options configures a provider instance.
type Options struct {
	APIKey     string
	BaseURL    string // empty selects the public endpoint (or OLLAMA default)
	Model      string // empty selects the backend default
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Factory builds a provider for a backend kind.
type Factory func(kind models.AIProviderKind, opts Options) (Provider, error)

// New is the default Factory.
func New(kind models.AIProviderKind, opts Options) (Provider, error) {
	switch kind {
	case models.AIProviderClaude:
		return NewClaudeProvider(opts), nil
	case models.AIProviderOpenAI:
		return NewOpenAIProvider(opts), nil
	case models.AIProviderOllama:
		return NewOllamaProvider(opts), nil
	}
	return nil, apperrors.WithMessage(apperrors.ErrInvalidProviderConfig, fmt.Sprintf("unknown provider %q", kind))
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(kind models.AIProviderKind) string {
	switch kind {
	case models.AIProviderClaude:
		return DefaultClaudeModel
	case models.AIProviderOpenAI:
		return DefaultOpenAIModel
	case models.AIProviderOllama:
		return DefaultOllamaModel
	}
	return ""
}

func maxTokens(req CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
