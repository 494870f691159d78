package domain

import "time"

// RequestLog is the write-only audit record of a chat completion call.
// UserID and SessionID stay nil when the call failed before they were resolved.
type RequestLog struct {
	ID             string
	UserID         *string
	SessionID      *string
	Endpoint       string
	Method         string
	IPAddress      string
	UserAgent      string
	RequestData    string
	ResponseStatus int
	ResponseTimeMs int64
	CreatedAt      time.Time
}
