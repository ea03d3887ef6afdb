package message

import (
	"time"

	"github.com/google/uuid"
)

// ConversationType distinguishes direct chats from group chats.
type ConversationType string

const (
	ConversationDM    ConversationType = "dm"
	ConversationGroup ConversationType = "group"
)

// ContentType tags the payload kind carried by a message.
type ContentType string

const (
	ContentText ContentType = "text"
)

// Content is the normalized message payload. Text is always fully
// decoded/decrypted plain UTF-8; no platform encoding leaks past
// the adapter that built it.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

// Inbound is the normalized envelope every channel adapter produces.
// It is immutable once built.
type Inbound struct {
	ID               string           `json:"id"`
	ChannelType      string           `json:"channel_type"`
	ChannelID        string           `json:"channel_id"`
	SenderID         string           `json:"sender_id"`
	SenderName       string           `json:"sender_name"`
	ConversationType ConversationType `json:"conversation_type"`
	GroupID          string           `json:"group_id,omitempty"`
	Content          Content          `json:"content"`
	Timestamp        int64            `json:"timestamp"` // epoch ms
	Raw              any              `json:"-"`         // opaque platform payload, diagnostics only
}

// Outbound is the normalized envelope adapters translate into a
// platform-native send call.
type Outbound struct {
	ConversationType ConversationType `json:"conversation_type"`
	TargetID         string           `json:"target_id"`
	Content          Content          `json:"content"`
	ReplyToMessageID string           `json:"reply_to_message_id,omitempty"`
}

// NewID returns a generated message id for platforms that do not
// supply one.
func NewID() string {
	return uuid.NewString()
}

// NowMillis returns the current time as epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Truncate clamps text to max runes, appending marker when clamping
// occurred. Adapters call this before every platform send so a reply
// is shortened visibly rather than dropped by the platform.
func Truncate(text string, max int, marker string) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	markerRunes := []rune(marker)
	if len(markerRunes) >= max {
		return string(markerRunes[:max])
	}
	return string(runes[:max-len(markerRunes)]) + marker
}
