// Package channels defines the contract between messaging surfaces and the
// pipeline. Adapters push inbound messages through a handler callback and
// expose a send path for replies and proactive messages.
package channels

import (
	"context"
	"time"
)

// InboundMessage is a message received from a channel
type InboundMessage struct {
	UserID     string
	ChatID     int64
	MessageID  string // channel-scoped id, used for deduplication
	Username   string
	Text       string
	ReceivedAt time.Time
	IsVoice    bool
}

// OutboundMessage is a message to deliver to a channel
type OutboundMessage struct {
	ChatID int64
	Text   string
}

// Channel is a messaging surface adapter
type Channel interface {
	// ID returns the channel identifier
	ID() string

	// Connect starts receiving messages. Returns once the receive loop is
	// running; the loop stops when ctx is cancelled or Disconnect is called.
	Connect(ctx context.Context) error

	// Disconnect stops the receive loop
	Disconnect() error

	// Send delivers a message
	Send(ctx context.Context, msg OutboundMessage) error

	// SetHandler sets the callback for incoming messages. Must be called
	// before Connect.
	SetHandler(fn func(InboundMessage))
}
