// Package notifications sends SLA escalation alerts to chat webhooks.
package notifications

import "context"

// Notification is a rendered message ready for delivery.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a notification.
type Sender interface {
	Send(ctx context.Context, notification Notification) error
}

// RetryableError is implemented by sender errors that may succeed on retry.
type RetryableError interface {
	error
	IsRetryable() bool
}
