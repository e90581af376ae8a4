// Package mailer delivers compiled reports over SMTP.
package mailer

import "context"

// Message is a rendered report ready for delivery.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Delivery reports the outcome of one send.
type Delivery struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Delivery status values.
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
)

// Sender delivers messages. Failures are returned to the caller, never
// swallowed; a failed delivery does not alter stored session state.
type Sender interface {
	Send(ctx context.Context, msg Message) (Delivery, error)
}
