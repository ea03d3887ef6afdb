// Package wsgateway implements the opcode-based WebSocket gateway
// channel family: a stateful socket session with heartbeats, sequence
// tracking and identify/resume semantics, plus REST sends.
package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/channel"
	"github.com/satrio/kurir/pkg/message"
)

const (
	channelName = "wsgateway"

	maxTextRunes     = 4000
	truncationMarker = "\n…（内容过长，已截断）"
	apologyPrefix    = "抱歉，处理消息时出现错误: "

	defaultGatewayURL = "wss://api.sgroup.qq.com/websocket"
	defaultAPIBase    = "https://api.sgroup.qq.com"
	defaultTokenURL   = "https://bots.qq.com/app/getAppAccessToken"

	// defaultIntents subscribes to guild at-messages, direct messages
	// and group at-messages.
	defaultIntents = 1<<30 | 1<<12 | 1<<25

	defaultReconnectDelay = 5 * time.Second
)

// GroupPolicy values.
const (
	GroupPolicyMentionOnly = "mention_only"
	GroupPolicyAll         = "all"
)

// Config holds the validated adapter configuration.
type Config struct {
	AppID          string
	AppSecret      string
	GatewayURL     string
	APIBase        string
	TokenURL       string
	Intents        int
	GroupPolicy    string
	ReconnectDelay time.Duration
	AllowedSenders []string
}

// Adapter drives one gateway session. The protocol states are
// disconnected → connecting → awaiting hello → identifying/resuming →
// ready, and back to disconnected on close or error.
type Adapter struct {
	cfg     Config
	allowed map[string]bool
	logger  zerolog.Logger

	mu        sync.Mutex
	handler   channel.Handler
	conn      *websocket.Conn
	sessionID string
	botID     string
	timer     *time.Timer
	started   bool

	writeMu sync.Mutex

	healthy atomic.Bool
	stopped atomic.Bool
	seq     atomic.Int64
	hasSeq  atomic.Bool

	done          chan struct{}
	heartbeatStop chan struct{}

	creds      *appTokenCache
	httpClient *http.Client
	policy     channel.ReconnectPolicy
}

// New creates an uninitialized adapter.
func New() *Adapter {
	return &Adapter{
		logger: log.With().Str("component", channelName).Logger(),
	}
}

func (a *Adapter) Name() string { return channelName }

// Initialize validates credentials and applies transport defaults.
func (a *Adapter) Initialize(_ context.Context, cfg map[string]any) error {
	c := Config{
		AppID:          channel.StringField(cfg, "app_id"),
		AppSecret:      channel.StringField(cfg, "app_secret"),
		GatewayURL:     channel.StringField(cfg, "gateway_url"),
		APIBase:        channel.StringField(cfg, "api_base"),
		TokenURL:       channel.StringField(cfg, "token_url"),
		Intents:        channel.IntField(cfg, "intents"),
		GroupPolicy:    channel.StringField(cfg, "group_policy"),
		AllowedSenders: channel.StringSliceField(cfg, "allowed_senders"),
	}
	if secs := channel.IntField(cfg, "reconnect_delay_seconds"); secs > 0 {
		c.ReconnectDelay = time.Duration(secs) * time.Second
	}

	if c.AppID == "" {
		return channel.NewConfigError(channelName, "app_id")
	}
	if c.AppSecret == "" {
		return channel.NewConfigError(channelName, "app_secret")
	}

	if c.GatewayURL == "" {
		c.GatewayURL = defaultGatewayURL
	}
	if c.APIBase == "" {
		c.APIBase = defaultAPIBase
	}
	if c.TokenURL == "" {
		c.TokenURL = defaultTokenURL
	}
	if c.Intents == 0 {
		c.Intents = defaultIntents
	}
	if c.GroupPolicy == "" {
		c.GroupPolicy = GroupPolicyMentionOnly
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}

	a.cfg = c
	a.allowed = make(map[string]bool, len(c.AllowedSenders))
	for _, s := range c.AllowedSenders {
		a.allowed[s] = true
	}
	if a.httpClient == nil {
		a.httpClient = http.DefaultClient
	}
	a.creds = newAppTokenCache(c.TokenURL, c.AppID, c.AppSecret, a.httpClient)
	a.policy = channel.NewFixedDelay(c.ReconnectDelay)
	return nil
}

// OnMessage registers the inbound handler; the last registration wins.
func (a *Adapter) OnMessage(h channel.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Healthy reports whether the session has reached READY.
func (a *Adapter) Healthy() bool { return a.healthy.Load() }

// Start dials the gateway and begins the protocol state machine. Health
// flips true only after the READY dispatch confirms the session.
func (a *Adapter) Start(_ context.Context) error {
	if a.creds == nil {
		return fmt.Errorf("%s: not initialized", channelName)
	}

	a.stopped.Store(false)
	a.done = make(chan struct{})

	if err := a.connect(false); err != nil {
		return err
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	return nil
}

// Stop cancels any pending reconnect, stops the heartbeat and closes the
// socket. No handler invocations happen after Stop returns; late
// in-flight events are dropped. Idempotent.
func (a *Adapter) Stop(_ context.Context) error {
	if a.stopped.Swap(true) {
		return nil
	}

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	conn := a.conn
	a.conn = nil
	a.started = false
	a.mu.Unlock()

	if a.done != nil {
		close(a.done)
	}
	a.stopHeartbeat()
	if conn != nil {
		_ = conn.Close()
	}

	a.setHealthy(false)
	a.logger.Info().Msg("Gateway adapter stopped")
	return nil
}

// connect dials the gateway and hands the socket to the read loop. When
// resume is true a prior in-process session exists and a Resume frame
// will be sent after Hello instead of Identify.
func (a *Adapter) connect(resume bool) error {
	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.GatewayURL, nil)
	if err != nil {
		return &channel.TransportError{Channel: channelName, Err: err}
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	a.logger.Info().Str("url", a.cfg.GatewayURL).Bool("resume", resume).Msg("Gateway socket opened")
	go a.readLoop(conn, resume)
	return nil
}

// readLoop consumes frames until the socket dies, then schedules a
// reconnect unless the adapter is stopping.
func (a *Adapter) readLoop(conn *websocket.Conn, resume bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.onDisconnect(err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			observability.RecordDecodeError(channelName)
			a.logger.Warn().Err(err).Msg("Dropping undecodable frame")
			continue
		}
		a.handleFrame(conn, f, resume)
	}
}

func (a *Adapter) handleFrame(conn *websocket.Conn, f frame, resume bool) {
	if f.S != nil && *f.S > a.seq.Load() {
		a.seq.Store(*f.S)
		a.hasSeq.Store(true)
	}

	switch f.Op {
	case opHello:
		var hello helloPayload
		if err := json.Unmarshal(f.D, &hello); err != nil {
			observability.RecordDecodeError(channelName)
			a.logger.Warn().Err(err).Msg("Malformed Hello payload")
			return
		}
		a.startHeartbeat(conn, time.Duration(hello.HeartbeatInterval)*time.Millisecond)
		if err := a.authenticate(conn, resume); err != nil {
			a.logger.Error().Err(err).Msg("Gateway authentication failed")
			_ = conn.Close()
		}

	case opHeartbeat:
		// Server requested an immediate heartbeat.
		a.sendHeartbeat(conn)

	case opHeartbeatAck:
		a.logger.Trace().Msg("Heartbeat acknowledged")

	case opDispatch:
		a.handleDispatch(f)

	default:
		a.logger.Debug().Int("op", f.Op).Msg("Ignoring unknown opcode")
	}
}

// authenticate sends Identify on a fresh session or Resume when an
// in-process session id and sequence exist. Resume is never attempted
// on a cold start; session state does not survive the process.
func (a *Adapter) authenticate(conn *websocket.Conn, resume bool) error {
	token, err := a.creds.get(context.Background())
	if err != nil {
		return err
	}
	authToken := fmt.Sprintf("QQBot %s", token)

	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	if resume && sessionID != "" {
		a.logger.Info().Str("session_id", sessionID).Int64("seq", a.seq.Load()).Msg("Resuming gateway session")
		return a.writeFrame(conn, frame{Op: opResume, D: mustMarshal(resumePayload{
			Token:     authToken,
			SessionID: sessionID,
			Seq:       a.seq.Load(),
		})})
	}

	a.logger.Info().Msg("Identifying fresh gateway session")
	return a.writeFrame(conn, frame{Op: opIdentify, D: mustMarshal(identifyPayload{
		Token:      authToken,
		Intents:    a.cfg.Intents,
		Shard:      [2]int{0, 1},
		Properties: map[string]any{},
	})})
}

func (a *Adapter) handleDispatch(f frame) {
	switch f.T {
	case eventReady:
		var ready readyPayload
		if err := json.Unmarshal(f.D, &ready); err != nil {
			observability.RecordDecodeError(channelName)
			a.logger.Warn().Err(err).Msg("Malformed READY payload")
			return
		}
		a.mu.Lock()
		a.sessionID = ready.SessionID
		a.botID = ready.User.ID
		a.mu.Unlock()
		a.policy.Reset()
		a.setHealthy(true)
		a.logger.Info().
			Str("session_id", ready.SessionID).
			Str("bot_id", ready.User.ID).
			Msg("Gateway session ready")

	case eventResumed:
		a.policy.Reset()
		a.setHealthy(true)
		a.logger.Info().Msg("Gateway session resumed")

	case eventAtMessage, eventGroupAtMessage, eventDirectMessage:
		a.handleChatMessage(f.T, f.D)

	default:
		a.logger.Debug().Str("event", f.T).Msg("Ignoring dispatch event")
	}
}

// handleChatMessage normalizes one MESSAGE_CREATE-family event and hands
// it to the registered handler on its own goroutine; the read loop never
// blocks on the agent.
func (a *Adapter) handleChatMessage(eventType string, raw json.RawMessage) {
	var payload messagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		observability.RecordDecodeError(channelName)
		a.logger.Warn().Err(err).Msg("Malformed message payload")
		return
	}

	a.mu.Lock()
	botID := a.botID
	handler := a.handler
	a.mu.Unlock()

	// Never react to our own messages.
	if payload.Author.Bot || (botID != "" && payload.Author.ID == botID) {
		return
	}
	if len(a.allowed) > 0 && !a.allowed[payload.Author.ID] {
		a.logger.Warn().Str("sender", payload.Author.ID).Msg("Sender not in allowlist, dropping")
		return
	}

	conv := message.ConversationGroup
	groupID := payload.GroupOpenID
	targetID := payload.ChannelID
	if eventType == eventDirectMessage {
		conv = message.ConversationDM
		groupID = ""
		if payload.GuildID != "" {
			targetID = payload.GuildID
		}
	} else if groupID == "" {
		groupID = payload.ChannelID
	} else {
		targetID = payload.GroupOpenID
	}

	text := payload.Content
	if conv == message.ConversationGroup {
		mentioned := mentionsBot(payload, botID)
		if a.cfg.GroupPolicy == GroupPolicyMentionOnly && !mentioned {
			a.logger.Debug().Msg("Group message without bot mention, dropping")
			return
		}
		text = stripMentions(text, botID)
	}

	if handler == nil {
		a.logger.Warn().Msg("No handler registered, dropping event")
		return
	}

	id := payload.ID
	if id == "" {
		id = message.NewID()
	}
	inbound := message.Inbound{
		ID:               id,
		ChannelType:      channelName,
		ChannelID:        a.cfg.AppID,
		SenderID:         payload.Author.ID,
		SenderName:       payload.Author.Username,
		ConversationType: conv,
		GroupID:          groupID,
		Content:          message.Content{Type: message.ContentText, Text: text},
		Timestamp:        parseTimestamp(payload.Timestamp),
		Raw:              string(raw),
	}
	observability.RecordInbound(channelName)

	done := a.done
	go func() {
		select {
		case <-done:
			return // stopped; drop late events
		default:
		}

		ctx := context.Background()
		reply, err := handler(ctx, inbound)
		if err != nil {
			a.logger.Error().Err(err).Str("sender", inbound.SenderID).Msg("Handler failed")
			reply = apologyPrefix + err.Error()
		} else if reply == "" {
			reply = channel.DefaultReply
		}

		select {
		case <-done:
			return
		default:
		}

		out := message.Outbound{
			ConversationType: conv,
			TargetID:         targetID,
			Content:          message.Content{Type: message.ContentText, Text: reply},
			ReplyToMessageID: payload.ID,
		}
		if err := a.SendMessage(ctx, out); err != nil {
			a.logger.Error().Err(err).Str("target", targetID).Msg("Reply send failed")
		}
	}()
}

// onDisconnect flips health and schedules a reconnect on the fixed
// delay, unless Stop caused the closure.
func (a *Adapter) onDisconnect(err error) {
	a.stopHeartbeat()
	a.setHealthy(false)

	if a.stopped.Load() {
		return
	}

	delay := a.policy.Next()
	a.logger.Warn().Err(err).Dur("delay", delay).Msg("Gateway socket lost, scheduling reconnect")
	observability.RecordReconnect(channelName)

	a.mu.Lock()
	a.timer = time.AfterFunc(delay, func() {
		if a.stopped.Load() {
			return
		}
		// A session id exists, so this is an in-process reconnect and
		// resume is worth attempting.
		a.mu.Lock()
		resume := a.sessionID != ""
		a.mu.Unlock()
		if err := a.connect(resume); err != nil {
			a.onDisconnect(err)
		}
	})
	a.mu.Unlock()
}

// startHeartbeat begins the heartbeat timer at the interval announced in
// Hello. Each beat echoes the highest sequence number seen, which the
// server requires for correct resume semantics.
func (a *Adapter) startHeartbeat(conn *websocket.Conn, interval time.Duration) {
	a.stopHeartbeat()

	stop := make(chan struct{})
	a.mu.Lock()
	a.heartbeatStop = stop
	a.mu.Unlock()

	// An immediate first beat, then on the interval.
	a.sendHeartbeat(conn)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.sendHeartbeat(conn)
			case <-stop:
				return
			}
		}
	}()
}

func (a *Adapter) stopHeartbeat() {
	a.mu.Lock()
	if a.heartbeatStop != nil {
		close(a.heartbeatStop)
		a.heartbeatStop = nil
	}
	a.mu.Unlock()
}

func (a *Adapter) sendHeartbeat(conn *websocket.Conn) {
	f := frame{Op: opHeartbeat}
	if a.hasSeq.Load() {
		f.D = mustMarshal(a.seq.Load())
	} else {
		f.D = json.RawMessage("null")
	}
	if err := a.writeFrame(conn, f); err != nil {
		a.logger.Warn().Err(err).Msg("Heartbeat write failed")
	}
}

func (a *Adapter) writeFrame(conn *websocket.Conn, f frame) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (a *Adapter) setHealthy(v bool) {
	a.healthy.Store(v)
	observability.SetAdapterHealthy(channelName, v)
}

var mentionPattern = regexp.MustCompile(`<@!?\d+>|<@!?[A-Za-z0-9_-]+>`)

// mentionsBot reports whether the event mentions the bot, via the
// mention list or an inline mention token.
func mentionsBot(payload messagePayload, botID string) bool {
	for _, m := range payload.Mentions {
		if m.ID == botID {
			return true
		}
	}
	if botID == "" {
		return false
	}
	return strings.Contains(payload.Content, "<@"+botID+">") ||
		strings.Contains(payload.Content, "<@!"+botID+">")
}

// stripMentions removes bot-mention tokens from the text.
func stripMentions(text, botID string) string {
	if botID != "" {
		text = strings.ReplaceAll(text, "<@!"+botID+">", "")
		text = strings.ReplaceAll(text, "<@"+botID+">", "")
	}
	text = mentionPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func parseTimestamp(s string) int64 {
	if s == "" {
		return message.NowMillis()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return message.NowMillis()
	}
	return t.UnixMilli()
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
