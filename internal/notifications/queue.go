package notifications

import "time"

// MessageType identifies which email template a queue item renders.
type MessageType string

// Message types.
const (
	MessageTypeMagicLink MessageType = "magic_link"
	MessageTypeWelcome   MessageType = "welcome"
	MessageTypeGoodbye   MessageType = "goodbye"
)

// QueueStatus represents the status of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// TemplateData carries everything a template needs to render. It is stored
// as JSONB alongside the queue item so the worker can render without
// re-reading the subscriber.
type TemplateData struct {
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Locale        string     `json:"locale"`
	Link          string     `json:"link,omitempty"`
	LinkExpiresAt *time.Time `json:"link_expires_at,omitempty"`
}

// QueueItem represents an email in the outbox.
type QueueItem struct {
	ID            string
	SubscriberID  string
	Recipient     string
	MessageType   MessageType
	Payload       TemplateData
	Status        QueueStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

// QueueStats holds outbox size by status.
type QueueStats struct {
	Pending    int
	Processing int
	Sent       int
	Failed     int
}
