package models

import "time"

// Sender tags which side of the exchange wrote a message row.

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one side of a chat turn. RequestHuman is only ever set on
// user-authored rows; Handled is meaningful only when RequestHuman is true.
type Message struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Sender       Sender    `json:"sender"`
	Text         string    `json:"text"`
	RequestHuman bool      `json:"request_human"`
	Handled      bool      `json:"handled"`
	CreatedAt    time.Time `json:"created_at"`
}

// PendingRequest is a pending escalation annotated with the owner's username
// for the admin listing.
type PendingRequest struct {
	ID        int64     `json:"id"`
	Username  string    `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
}
