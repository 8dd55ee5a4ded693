// Package telegraph bridges OPAL conversations to chat platforms (Slack, Discord).
package telegraph

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message delivery for a
// single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string // "slack", "discord"
	ChannelID string
	// ThreadID is the thread replies should go to. Adapters that thread
	// replies under top-level messages set it to the message's own ID.
	ThreadID  string
	UserID    string
	UserName  string
	Text      string
	Mentioned bool // the bot was addressed directly
	Timestamp time.Time
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string
	ThreadID  string // empty for a top-level message
	Text      string // platform-native formatting
	Cards     []Card // structured attachments (plan, sources)
}

// Card is a titled attachment rendered as a Slack attachment or Discord embed.
type Card struct {
	Title  string
	Body   string
	Color  string // hex, e.g. "#36a64f"
	Fields []Field
}

// Field is a key-value pair displayed in a card.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
