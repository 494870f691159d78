package llm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// aggregateStream drains an SSE chat completion stream and folds the deltas
// into a single chat.completion body.
func aggregateStream(r io.Reader) (map[string]any, error) {
	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	var (
		content      strings.Builder
		role         = "assistant"
		finishReason any
		meta         = map[string]any{}
		usage        any
		chunks       int
	)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		dec := json.NewDecoder(strings.NewReader(data))
		dec.UseNumber()
		var chunk map[string]any
		if err := dec.Decode(&chunk); err != nil {
			return nil, fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		chunks++

		for _, key := range []string{"id", "created", "model", "system_fingerprint"} {
			if v, ok := chunk[key]; ok {
				if _, seen := meta[key]; !seen {
					meta[key] = v
				}
			}
		}
		if u, ok := chunk["usage"]; ok && u != nil {
			usage = u
		}

		choices, _ := chunk["choices"].([]any)
		if len(choices) == 0 {
			continue
		}
		choice, _ := choices[0].(map[string]any)
		if fr, ok := choice["finish_reason"]; ok && fr != nil {
			finishReason = fr
		}
		delta, _ := choice["delta"].(map[string]any)
		if rl, ok := delta["role"].(string); ok && rl != "" {
			role = rl
		}
		if c, ok := delta["content"].(string); ok {
			content.WriteString(c)
		}
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}
	if chunks == 0 {
		return nil, errors.New("empty stream")
	}

	body := map[string]any{
		"object": "chat.completion",
		"choices": []any{
			map[string]any{
				"index": json.Number("0"),
				"message": map[string]any{
					"role":    role,
					"content": content.String(),
				},
				"finish_reason": finishReason,
			},
		},
	}
	for k, v := range meta {
		body[k] = v
	}
	if usage != nil {
		body["usage"] = usage
	}
	return body, nil
}
