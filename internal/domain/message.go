package domain

import "time"

// Message is a call-log entry written once per finished call.
type Message struct {
	CallID    CallID    `json:"call_id"`
	Author    UserID    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
