package llm

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message is one chat message on the wire
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest holds the fields forwarded to the backend
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// Payload returns the JSON body sent to the backend
func (r CompletionRequest) Payload() ([]byte, error) {
	if r.Messages == nil {
		r.Messages = []Message{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}
	return b, nil
}

// CompletionResult is a decoded chat completion. Body keeps every field the
// backend returned so callers can pass it through untouched.
type CompletionResult struct {
	Body             map[string]any
	ReplyText        string
	HasReply         bool
	CompletionTokens int
	TotalTokens      int
	Model            string
}

func newCompletionResult(body map[string]any) *CompletionResult {
	res := &CompletionResult{Body: body}

	if choices, ok := body["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				if content, ok := msg["content"].(string); ok {
					res.ReplyText = content
					res.HasReply = true
				}
			}
		}
	}

	if usage, ok := body["usage"].(map[string]any); ok {
		res.CompletionTokens = intField(usage, "completion_tokens")
		res.TotalTokens = intField(usage, "total_tokens")
	}

	if model, ok := body["model"].(string); ok {
		res.Model = model
	}

	return res
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// BackendError reports a failed backend call. Unreachable is set when no
// HTTP response was received; Timeout narrows that to an expired deadline.
type BackendError struct {
	Status      int
	Body        string
	Unreachable bool
	Timeout     bool
	Err         error
}

func (e *BackendError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("backend timed out: %v", e.Err)
	case e.Unreachable:
		return fmt.Sprintf("backend unreachable: %v", e.Err)
	default:
		return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
	}
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError reports whether err carries a *BackendError
func IsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
