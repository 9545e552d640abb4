package domain

import "context"

// AuditStore is a put-only blob store for raw request traceability.
type AuditStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}
