package domain

import (
	"time"
)

// ChatSession represents a conversation thread owned by a single user
type ChatSession struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        *string   `json:"title"`
	ModelName    string    `json:"model_name"`
	SystemPrompt *string   `json:"system_prompt"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionSummary is a session annotated with its derived message count
type SessionSummary struct {
	ChatSession
	MessageCount int `json:"message_count"`
}

// SessionCreate represents the session creation payload
type SessionCreate struct {
	Title        *string `json:"title" validate:"omitempty,max=200"`
	ModelName    string  `json:"model_name" validate:"omitempty,max=100"`
	SystemPrompt *string `json:"system_prompt"`
	UserID       string  `json:"user_id" validate:"omitempty,max=100"`
}
