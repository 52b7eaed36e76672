// Package replay remembers how each court action was acknowledged, so a
// client resending the same request id gets the original outcome instead of
// a second mutation. It also carries "session changed" notifications between
// server instances.
package replay

import (
	"context"
	"time"
)

// Entry is the recorded outcome of one request.
type Entry struct {
	Applied    bool      `json:"applied"`
	Status     int       `json:"status,omitempty"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Cache stores entries keyed by user and request id. The first entry
// recorded for a key wins.
type Cache interface {
	Record(ctx context.Context, userID, requestID string, entry Entry) error
	Lookup(ctx context.Context, userID, requestID string) (Entry, bool, error)
}

// Update announces that a session changed for the listed users.
type Update struct {
	SessionID string   `json:"session_id"`
	UserIDs   []string `json:"user_ids"`
}

type Notifier interface {
	Publish(ctx context.Context, update Update) error
	// Subscribe delivers updates to fn until ctx is done.
	Subscribe(ctx context.Context, fn func(Update)) error
}

const DefaultTTL = 10 * time.Minute
