package notifications

import "context"

// Email is a rendered message ready for delivery.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers rendered emails.
type Sender interface {
	Send(ctx context.Context, email Email) error
}
