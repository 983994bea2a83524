package domain

import "time"

// PromptResponse is one participant's answer to one shared prompt.
type PromptResponse struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	PromptIndex int       `json:"prompt_index"`
	Response    string    `json:"response"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is an insert-only chat line. Seq is assigned by the store and
// breaks ties between equal CreatedAt values.
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	SessionID string    `json:"session_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
