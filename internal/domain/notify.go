package domain

import "context"

// Notifier delivers a text reply to a recipient over the outbound messaging
// transport. Errors are for the caller to log; delivery failure never changes
// the webhook acknowledgment.
type Notifier interface {
	Send(ctx context.Context, to string, body string) error
}
