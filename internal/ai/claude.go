package ai

import (
	"context"
	"net/http"
	"strings"

	"subtrack/internal/models"
)

const (
	claudeBaseURL      = "https://api.anthropic.com"
	claudeAPIVersion   = "2023-06-01"
	DefaultClaudeModel = "claude-3-5-sonnet-20241022"
)

// ClaudeProvider talks to the Anthropic Messages API.
type ClaudeProvider struct {
	transport
	apiKey  string
	baseURL string // overridable for tests
	model   string
}

// NewClaudeProvider creates a Claude provider.
func NewClaudeProvider(opts Options) *ClaudeProvider {
	return &ClaudeProvider{
		transport: newTransport(models.AIProviderClaude, opts),
		apiKey:    opts.APIKey,
		baseURL:   strings.TrimRight(orDefault(opts.BaseURL, claudeBaseURL), "/"),
		model:     orDefault(opts.Model, DefaultClaudeModel),
	}
}

// Kind returns the backend kind.
func (p *ClaudeProvider) Kind() models.AIProviderKind { return models.AIProviderClaude }

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type claudeModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *ClaudeProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": claudeAPIVersion,
	}
}

// Complete sends the prompt as a single user message; the context becomes the system prompt.
func (p *ClaudeProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	body := claudeRequest{
		Model:     p.model,
		MaxTokens: maxTokens(req),
		System:    req.Context,
		Messages:  []claudeMessage{{Role: "user", Content: req.Prompt}},
	}

	var resp claudeResponse
	if err := p.doJSON(ctx, http.MethodPost, p.baseURL+"/v1/messages", p.headers(), body, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, p.malformed("response has no text content")
	}

	return &Completion{Text: text.String(), Model: orDefault(resp.Model, p.model)}, nil
}

// ListModels queries the models endpoint.
func (p *ClaudeProvider) ListModels(ctx context.Context) ([]string, error) {
	var resp claudeModelsResponse
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
	return ids, nil
}
