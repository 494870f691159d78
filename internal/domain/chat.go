package domain

// ChatMessage is one entry of the caller supplied conversation
type ChatMessage struct {
	Role    string `json:"role" validate:"required,max=20"`
	Content string `json:"content"`
}

// ChatRequest represents an OpenAI-style chat completion request with the
// gateway's session bookkeeping fields.
type ChatRequest struct {
	Model       string        `json:"model" validate:"omitempty,max=100"`
	Messages    []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	SessionID   string        `json:"session_id" validate:"omitempty,max=100"`
	UserID      string        `json:"user_id" validate:"omitempty,max=100"`
	Temperature *float64      `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int          `json:"max_tokens" validate:"omitempty,gte=0"`
	Stream      bool          `json:"stream"`
}

// LastMessage returns the newest message of the request, if any
func (r ChatRequest) LastMessage() (ChatMessage, bool) {
	if len(r.Messages) == 0 {
		return ChatMessage{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}
