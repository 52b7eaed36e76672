// Package client keeps one participant's copy of the court state in sync
// with the server. The server is the only writer: the client sends
// intents, receives whole views back and never patches the view itself.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courtroom/api/internal/court"
)

const (
	DefaultAckTimeout     = 2500 * time.Millisecond
	LongRunningAckTimeout = 5 * time.Second
)

var (
	// ErrAckTimeout means the action may or may not have been applied.
	ErrAckTimeout = errors.New("ack timed out")

	// ErrUnavailable means the transport could not reach the server.
	ErrUnavailable = errors.New("server unavailable")

	ErrNotConnected = errors.New("push channel not connected")
	ErrQueued       = errors.New("action queued until the server is reachable")
	ErrQueueFull    = errors.New("action queue is full")
)

// Transport carries actions to the server and reads the caller's view.
// Send must be idempotent per requestID.
type Transport interface {
	Send(ctx context.Context, requestID string, action court.Action) (court.View, error)
	Fetch(ctx context.Context) (court.View, error)
}

// Channel is a live push connection.
type Channel interface {
	Transport
	Done() <-chan struct{}
	Close() error
}

// Error is a rejection returned by the server. Rejections are final: the
// same request will be rejected again.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("court error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("court error: code=%s message=%s", e.Code, e.Message)
}

// IsRejection reports whether err is a definitive server answer rather
// than a delivery problem.
func IsRejection(err error) bool {
	var courtErr *Error
	return errors.As(err, &courtErr)
}

// AckTimeout is how long to wait for the acknowledgment of kind.
func AckTimeout(kind court.ActionKind) time.Duration {
	if kind.LongRunning() {
		return LongRunningAckTimeout
	}
	return DefaultAckTimeout
}
