package ai

import (
	"context"
	"net/http"
	"strings"

	"subtrack/internal/models"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"
)

// OllamaProvider talks to a self-hosted Ollama server. No API key is used.
type OllamaProvider struct {
	transport
	baseURL string
	model   string
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(opts Options) *OllamaProvider {
	return &OllamaProvider{
		transport: newTransport(models.AIProviderOllama, opts),
		baseURL:   strings.TrimRight(orDefault(opts.BaseURL, DefaultOllamaURL), "/"),
		model:     orDefault(opts.Model, DefaultOllamaModel),
	}
}

// Kind returns the backend kind.
func (p *OllamaProvider) Kind() models.AIProviderKind { return models.AIProviderOllama }

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]int `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model    string  `json:"model"`
	Response *string `json:"response"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Complete calls /api/generate with streaming disabled.
func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	body := ollamaRequest{
		Model:   p.model,
		Prompt:  req.Prompt,
		System:  req.Context,
		Stream:  false,
		Options: map[string]int{"num_predict": maxTokens(req)},
	}

	var resp ollamaResponse
	if err := p.doJSON(ctx, http.MethodPost, p.baseURL+"/api/generate", nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.Response == nil {
		return nil, p.malformed("response field missing")
	}

	return &Completion{Text: *resp.Response, Model: orDefault(resp.Model, p.model)}, nil
}

// ListModels asks the server which models are pulled locally.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	var resp ollamaTagsResponse
	if err := p.doJSON(ctx, http.MethodGet, p.baseURL+"/api/tags", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Models == nil {
		return nil, p.malformed("tags response has no models field")
	}

	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
