package ai

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"subtrack/internal/models"
)

const (
	openAIBaseURL      = "https://api.openai.com"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIProvider talks to the OpenAI Chat Completions API.
type OpenAIProvider struct {
	transport
	apiKey  string
	baseURL string // overridable for tests
	model   string
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(opts Options) *OpenAIProvider {
	return &OpenAIProvider{
		transport: newTransport(models.AIProviderOpenAI, opts),
		apiKey:    opts.APIKey,
		baseURL:   strings.TrimRight(orDefault(opts.BaseURL, openAIBaseURL), "/"),
		model:     orDefault(opts.Model, DefaultOpenAIModel),
	}
}

// Kind returns the backend kind.
func (p *OpenAIProvider) Kind() models.AIProviderKind { return models.AIProviderOpenAI }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message *openAIMessage `json:"message"`
	} `json:"choices"`
}

type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *OpenAIProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

// Complete sends the context as a system message followed by the prompt.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.Context != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.Context})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body := openAIRequest{Model: p.model, MaxTokens: maxTokens(req), Messages: messages}

	var resp openAIResponse
	if err := p.doJSON(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", p.headers(), body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, p.malformed("response has no choices")
	}

	return &Completion{Text: resp.Choices[0].Message.Content, Model: orDefault(resp.Model, p.model)}, nil
}

// ListModels queries the models endpoint, sorted by id.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	var resp openAIModelsResponse
	if err := p.doJSON(ctx, http.MethodGet, p.baseURL+"/v1/models", p.headers(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, p.malformed("models response has no data field")
	}

	ids := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}
