package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/llm-gateway/internal/config"
)

const maxErrorBody = 64 * 1024

// Client talks to an OpenAI-compatible inference backend. It never retries.
type Client struct {
	baseURL    string
	completion *http.Client
	models     *http.Client
	health     *http.Client
}

// NewClient creates a backend client with per-call deadlines from cfg
func NewClient(cfg config.BackendConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		completion: &http.Client{Timeout: orDefault(cfg.CompletionTimeout, 120*time.Second)},
		models:     &http.Client{Timeout: orDefault(cfg.ModelsTimeout, 10*time.Second)},
		health:     &http.Client{Timeout: orDefault(cfg.HealthTimeout, 5*time.Second)},
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Complete forwards a chat completion request
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	payload, err := req.Payload()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.completion.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	var body map[string]any
	if isEventStream(resp.Header.Get("Content-Type")) {
		body, err = aggregateStream(resp.Body)
	} else {
		body, err = decodeBody(resp.Body)
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, transportError(err)
		}
		return nil, &BackendError{
			Status: http.StatusBadGateway,
			Body:   "invalid response from backend",
			Err:    err,
		}
	}

	return newCompletionResult(body), nil
}

// ListModels returns the backend's model listing untouched
func (c *Client) ListModels(ctx context.Context) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.models.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(err)
	}
	if !json.Valid(raw) {
		return nil, &BackendError{Status: http.StatusBadGateway, Body: "invalid response from backend"}
	}
	return json.RawMessage(raw), nil
}

// Health probes the backend health endpoint. Any non-200 answer is an error.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.health.Do(httpReq)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode != http.StatusOK {
		return &BackendError{Status: resp.StatusCode}
	}
	return nil
}

func decodeBody(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body == nil {
		return nil, errors.New("empty response body")
	}
	return body, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &BackendError{
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(b)),
	}
}

func transportError(err error) error {
	be := &BackendError{Unreachable: true, Err: err}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		be.Timeout = true
	}
	return be
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}
