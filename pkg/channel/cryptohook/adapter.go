// Package cryptohook implements the encrypted-webhook channel family:
// platform events arrive as signed, AES-encrypted HTTP callbacks and
// replies go out through a separate authenticated REST call.
package cryptohook

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/channel"
	"github.com/satrio/kurir/pkg/message"
)

const (
	channelName = "cryptohook"

	// maxTextRunes is the platform's hard text limit.
	maxTextRunes = 2048

	truncationMarker = "\n…（内容过长，已截断）"
	apologyPrefix    = "抱歉，处理消息时出现错误: "
)

// Config holds the validated adapter configuration.
type Config struct {
	Token          string
	EncodingAESKey string
	CorpID         string
	CorpSecret     string
	AgentID        string
	ListenAddr     string
	Path           string
	APIBase        string
	AllowedSenders []string
}

// Adapter receives encrypted webhook callbacks and replies over the
// platform's REST send API.
type Adapter struct {
	cfg     Config
	aesKey  []byte
	allowed map[string]bool
	logger  zerolog.Logger

	mu      sync.Mutex
	handler channel.Handler

	healthy atomic.Bool
	stopped atomic.Bool
	server  *http.Server
	addr    string
	done    chan struct{}

	creds      *credentialCache
	httpClient *http.Client
}

// New creates an uninitialized adapter. Initialize must run before Start.
func New() *Adapter {
	return &Adapter{
		logger:     log.With().Str("component", channelName).Logger(),
		httpClient: http.DefaultClient,
	}
}

func (a *Adapter) Name() string { return channelName }

// Initialize validates every required credential field and derives the
// AES key. It fails with an error naming the missing field and never
// substitutes defaults for secrets.
func (a *Adapter) Initialize(_ context.Context, cfg map[string]any) error {
	c := Config{
		Token:          channel.StringField(cfg, "token"),
		EncodingAESKey: channel.StringField(cfg, "encoding_aes_key"),
		CorpID:         channel.StringField(cfg, "corp_id"),
		CorpSecret:     channel.StringField(cfg, "corp_secret"),
		AgentID:        channel.StringField(cfg, "agent_id"),
		ListenAddr:     channel.StringField(cfg, "listen_addr"),
		Path:           channel.StringField(cfg, "path"),
		APIBase:        channel.StringField(cfg, "api_base"),
		AllowedSenders: channel.StringSliceField(cfg, "allowed_senders"),
	}

	for field, value := range map[string]string{
		"token":            c.Token,
		"encoding_aes_key": c.EncodingAESKey,
		"corp_id":          c.CorpID,
		"corp_secret":      c.CorpSecret,
		"agent_id":         c.AgentID,
	} {
		if value == "" {
			return channel.NewConfigError(channelName, field)
		}
	}

	key, err := deriveAESKey(c.EncodingAESKey)
	if err != nil {
		return fmt.Errorf("%s: %w", channelName, err)
	}

	if c.ListenAddr == "" {
		c.ListenAddr = ":9080"
	}
	if c.Path == "" {
		c.Path = "/callback"
	}
	if c.APIBase == "" {
		c.APIBase = "https://qyapi.weixin.qq.com"
	}

	a.cfg = c
	a.aesKey = key
	a.allowed = make(map[string]bool, len(c.AllowedSenders))
	for _, s := range c.AllowedSenders {
		a.allowed[s] = true
	}
	a.creds = newCredentialCache(c.APIBase, c.CorpID, c.CorpSecret, a.httpClient)
	return nil
}

// OnMessage registers the inbound handler; the last registration wins.
func (a *Adapter) OnMessage(h channel.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Healthy reports whether the callback server is listening.
func (a *Adapter) Healthy() bool { return a.healthy.Load() }

// Addr returns the bound listener address once Start has succeeded.
func (a *Adapter) Addr() string { return a.addr }

// Start binds the callback listener. Health flips true only once the
// listener is confirmed bound.
func (a *Adapter) Start(_ context.Context) error {
	if a.creds == nil {
		return fmt.Errorf("%s: not initialized", channelName)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Path, a.handleCallback)

	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return &channel.TransportError{Channel: channelName, Err: err}
	}

	a.stopped.Store(false)
	a.done = make(chan struct{})
	a.addr = ln.Addr().String()
	a.server = &http.Server{Handler: mux}
	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Msg("Callback server failed")
		}
	}()

	a.healthy.Store(true)
	observability.SetAdapterHealthy(channelName, true)

	a.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("path", a.cfg.Path).
		Msg("Encrypted webhook listener started")
	return nil
}

// Stop shuts the listener down. Idempotent; events in flight after Stop
// returns are dropped, not queued.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.stopped.Swap(true) {
		return nil
	}
	a.healthy.Store(false)
	observability.SetAdapterHealthy(channelName, false)

	if a.done != nil {
		close(a.done)
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Callback server shutdown")
		}
		a.server = nil
	}
	return nil
}

// handleCallback serves both callback entry points: GET for one-time
// endpoint verification and POST for events.
func (a *Adapter) handleCallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleVerification(w, r)
	case http.MethodPost:
		a.handleEvent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the platform's one-time URL check: verify
// the signature over echostr, decrypt it and echo the plaintext back.
func (a *Adapter) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	echostr := q.Get("echostr")

	if !verifySignature(a.cfg.Token, q.Get("timestamp"), q.Get("nonce"), echostr, q.Get("msg_signature")) {
		observability.RecordDecodeError(channelName)
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}

	content, _, err := decrypt(a.aesKey, echostr)
	if err != nil {
		observability.RecordDecodeError(channelName)
		a.logger.Warn().Err(err).Msg("Echo verification decrypt failed")
		http.Error(w, "decrypt failed", http.StatusBadRequest)
		return
	}
	_, _ = w.Write(content)
}

// handleEvent verifies the signature before any decryption, then always
// answers 200 "success" and processes the event asynchronously. The
// platform retries aggressively on any non-success response, so the
// pipeline is fire-and-forget relative to the HTTP response.
func (a *Adapter) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	encrypted := extractField(string(body), "Encrypt")
	if encrypted == "" {
		observability.RecordDecodeError(channelName)
		http.Error(w, "missing Encrypt element", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	if !verifySignature(a.cfg.Token, q.Get("timestamp"), q.Get("nonce"), encrypted, q.Get("msg_signature")) {
		observability.RecordDecodeError(channelName)
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}

	go a.process(encrypted)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}

// process decrypts and dispatches one event off the request path.
func (a *Adapter) process(encrypted string) {
	done := a.done
	if done == nil {
		return
	}
	select {
	case <-done:
		return // stopped; drop late events
	default:
	}

	content, _, err := decrypt(a.aesKey, encrypted)
	if err != nil {
		observability.RecordDecodeError(channelName)
		a.logger.Warn().Err(err).Msg("Event decrypt failed, dropping")
		return
	}

	ev := parseEvent(content)
	if ev.MsgType != "text" {
		a.logger.Debug().Str("msg_type", ev.MsgType).Msg("Ignoring non-text event")
		return
	}
	if len(a.allowed) > 0 && !a.allowed[ev.FromUserName] {
		a.logger.Warn().Str("sender", ev.FromUserName).Msg("Sender not in allowlist, dropping")
		return
	}

	id := ev.MsgID
	if id == "" {
		id = message.NewID()
	}
	inbound := message.Inbound{
		ID:               id,
		ChannelType:      channelName,
		ChannelID:        a.cfg.CorpID,
		SenderID:         ev.FromUserName,
		SenderName:       ev.FromUserName,
		ConversationType: message.ConversationDM,
		Content:          message.Content{Type: message.ContentText, Text: ev.Content},
		Timestamp:        message.NowMillis(),
		Raw:              string(content),
	}
	observability.RecordInbound(channelName)

	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		a.logger.Warn().Msg("No handler registered, dropping event")
		return
	}

	ctx := context.Background()
	reply, err := handler(ctx, inbound)
	if err != nil {
		a.logger.Error().Err(err).Str("sender", ev.FromUserName).Msg("Handler failed")
		reply = apologyPrefix + err.Error()
	} else if reply == "" {
		reply = channel.DefaultReply
	}

	select {
	case <-done:
		return // stopped while the handler ran
	default:
	}

	out := message.Outbound{
		ConversationType: message.ConversationDM,
		TargetID:         ev.FromUserName,
		Content:          message.Content{Type: message.ContentText, Text: reply},
	}
	if err := a.SendMessage(ctx, out); err != nil {
		a.logger.Error().Err(err).Str("sender", ev.FromUserName).Msg("Reply send failed")
	}
}
