// Package backend talks to the query service that turns questions into SQL
// and executes them.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

// ErrUpstream is wrapped by every failure of the HTTP call itself.
var ErrUpstream = errors.New("upstream request failed")

// Config describes the backend endpoint.
type Config struct {
	URL     string        `yaml:"url"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
	APIKey  string        `yaml:"api_key"`
}

// HTTPBackend posts questions to a JSON endpoint.
//
// Request:  {"question": "..."}
// Response: {"output": "text" | {...}, "error": "..."}
//
// A non-empty "error" field is returned as text output so the gateway can
// classify it; only transport failures and non-2xx statuses are errors.
type HTTPBackend struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

const (
	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 2048
	// maxResponseBody bounds how much of any response is read.
	maxResponseBody = 8 << 20
)

// New validates cfg and returns an HTTPBackend.
func New(cfg Config) (*HTTPBackend, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend URL %q: scheme must be http or https", cfg.URL)
	}
	path := cfg.Path
	if path == "" {
		path = "/query"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPBackend{
		endpoint: strings.TrimRight(target.String(), "/") + path,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Execute sends question to the backend.
func (b *HTTPBackend) Execute(ctx context.Context, question string) (models.Response, error) {
	body, err := json.Marshal(queryRequest{Question: question})
	if err != nil {
		return models.Response{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return models.Response{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return models.Response{}, fmt.Errorf("%w: read response: %w", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := models.TruncateUTF8(strings.TrimSpace(string(respBody)), maxErrorBody)
		return models.Response{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}
	if len(respBody) > maxResponseBody {
		return models.Response{}, fmt.Errorf("%w: response larger than %d bytes", ErrUpstream, maxResponseBody)
	}

	return decodeOutput(respBody)
}

func decodeOutput(body []byte) (models.Response, error) {
	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return models.Response{}, fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	if qr.Error != "" {
		return models.TextResponse(qr.Error), nil
	}

	raw := bytes.TrimSpace(qr.Output)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.TextResponse(""), nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.Response{}, fmt.Errorf("%w: decode output: %w", ErrUpstream, err)
		}
		return models.TextResponse(s), nil
	case '{':
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return models.Response{}, fmt.Errorf("%w: decode output: %w", ErrUpstream, err)
		}
		return models.StructuredResponse(m), nil
	default:
		// Numbers, arrays and booleans are passed through as their JSON text.
		return models.TextResponse(string(raw)), nil
	}
}
