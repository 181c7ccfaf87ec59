package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "subtrack/internal/errors"
	"subtrack/internal/models"
)

// transport performs bounded JSON calls and maps failures onto
// PROVIDER_UNAVAILABLE, PROVIDER_INVALID_CREDENTIALS and MALFORMED_RESPONSE.
type transport struct {
	kind       models.AIProviderKind
	httpClient *http.Client
	timeout    time.Duration
}

func newTransport(kind models.AIProviderKind, opts Options) transport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return transport{kind: kind, httpClient: client, timeout: timeout}
}

func (t transport) unavailable(format string, args ...any) error {
	return apperrors.Wrap(apperrors.ErrProviderUnavailable, fmt.Errorf("%s: "+format, append([]any{t.kind}, args...)...))
}

func (t transport) malformed(format string, args ...any) error {
	return apperrors.Wrap(apperrors.ErrMalformedResponse, fmt.Errorf("%s: "+format, append([]any{t.kind}, args...)...))
}

func (t transport) rejected(status int) error {
	return apperrors.Wrap(apperrors.ErrProviderInvalidCredentials, fmt.Errorf("%s: credentials rejected with status %d", t.kind, status))
}

// doJSON sends body (if any) to url and decodes a 200 response into out.
func (t transport) doJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, fmt.Errorf("encoding %s request: %w", t.kind, err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return t.unavailable("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return t.unavailable("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return t.rejected(resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return t.unavailable("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return t.malformed("decoding response: %v", err)
	}
	return nil
}
