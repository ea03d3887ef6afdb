// Package session maps raw channel/sender identifiers onto long-lived
// conversation sessions with TTL eviction and a hard concurrency cap.
package session

import (
	"fmt"
	"time"

	"github.com/satrio/kurir/pkg/message"
)

// Session is the stable conversation identity shared with the router and
// agent runner. Exactly one live session exists per lookup key.
type Session struct {
	ID               string                   `json:"id"`
	UserID           string                   `json:"user_id"`
	ChannelType      string                   `json:"channel_type"`
	ChannelID        string                   `json:"channel_id"`
	ConversationType message.ConversationType `json:"conversation_type"`
	GroupID          string                   `json:"group_id,omitempty"`
	SDKSessionID     string                   `json:"sdk_session_id,omitempty"`
	TotalCostUSD     float64                  `json:"total_cost_usd"`
	CreatedAt        time.Time                `json:"created_at"`
	LastActiveAt     time.Time                `json:"last_active_at"`
	Metadata         map[string]any           `json:"metadata,omitempty"`
}

// Key derives the deterministic lookup key for a conversation. The sender
// id is embedded even for group keys, so the same user in the same group
// always maps to one session while two users in that group never collide.
func Key(channelType, senderID string, conversationType message.ConversationType, groupID string) string {
	if conversationType == message.ConversationGroup {
		return fmt.Sprintf("%s:%s:%s", channelType, groupID, senderID)
	}
	return fmt.Sprintf("%s:dm:%s", channelType, senderID)
}
