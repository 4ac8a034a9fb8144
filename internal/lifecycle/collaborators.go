package lifecycle

import (
	"context"
	"time"
)

// Notification is the structured payload handed to the external notification
// capability. Delivery retries and templates are the collaborator's problem.
type Notification struct {
	Recipient string            `json:"recipient"`
	Template  string            `json:"template"`
	Data      map[string]string `json:"data,omitempty"`
}

// Notifier sends a templated notification to a user. Deletion-related member
// notifications are security-relevant and non-suppressible; the orchestrator
// always sends them regardless of notification preferences.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// SessionInvalidator revokes every active session of a user. Session
// management itself lives outside this service.
type SessionInvalidator interface {
	InvalidateAll(ctx context.Context, userID uint) error
}

// BlobStore is the external object storage boundary used for export
// artifacts: put with a bounded lifetime, prefix deletion for tenant cleanup,
// and time-limited retrieval URLs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, expiry time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
