package models

import "time"

// Message roles. Role is persisted on every message; older databases may
// carry rows without one, which readers handle via the text-prefix fallback
// in the reconcile package.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	IsFavourite bool   `json:"is_favourite"`
}

type Message struct {
	ID        int64     `json:"id"`
	ConvID    int64     `json:"conversation_id"`
	Role      string    `json:"role"`
	Text      *string   `json:"text"` // nil for image-only messages
	CreatedAt time.Time `json:"created_at"`
	Images    []Image   `json:"images"`
}

type Image struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"message_id"`
	ImageURL  string `json:"image_url"`
}

// ClassificationResult is the classifier's answer for a single image. It is
// never persisted; the orchestrator consumes it to synthesize a reply
// message.
type ClassificationResult struct {
	Success    bool        `json:"success"`
	Prediction string      `json:"prediction"`
	Confidence float64     `json:"confidence"`
	TopK       []TopKEntry `json:"top_k"`
	Error      string      `json:"error,omitempty"`
}

type TopKEntry struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}
