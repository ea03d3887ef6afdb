package wsgateway

import "encoding/json"

// Gateway opcodes. These values are part of the wire protocol and must
// not change.
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opResume       = 6
	opHello        = 10
	opHeartbeatAck = 11
)

// Dispatch event types carrying chat payloads.
const (
	eventReady          = "READY"
	eventResumed        = "RESUMED"
	eventAtMessage      = "AT_MESSAGE_CREATE"
	eventGroupAtMessage = "GROUP_AT_MESSAGE_CREATE"
	eventDirectMessage  = "DIRECT_MESSAGE_CREATE"
)

// frame is the universal gateway envelope. Every inbound dispatch carries
// a monotonically increasing sequence number in S; the highest seen value
// is echoed in heartbeats, which resume semantics depend on.
type frame struct {
	Op int             `json:"op"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// helloPayload arrives immediately after the socket opens.
type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // ms
}

// identifyPayload authenticates a fresh session.
type identifyPayload struct {
	Token      string         `json:"token"`
	Intents    int            `json:"intents"`
	Shard      [2]int         `json:"shard"`
	Properties map[string]any `json:"properties"`
}

// resumePayload reattaches to a prior session after an in-process
// reconnect. It is never sent on a cold start.
type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// readyPayload confirms a session; only after READY is the adapter
// considered healthy.
type readyPayload struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	User      gwUser `json:"user"`
	Shard     [2]int `json:"shard"`
}

type gwUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// messagePayload is the chat payload of the MESSAGE_CREATE family.
type messagePayload struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	ChannelID   string   `json:"channel_id"`
	GuildID     string   `json:"guild_id"`
	GroupOpenID string   `json:"group_openid"`
	Author      gwUser   `json:"author"`
	Mentions    []gwUser `json:"mentions"`
	Timestamp   string   `json:"timestamp"`
}
