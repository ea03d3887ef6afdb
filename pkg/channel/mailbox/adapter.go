// Package mailbox implements the mailbox channel family: an IMAP
// connection that waits for new mail with IDLE when the server supports
// it and falls back to interval polling otherwise, replying over SMTP.
package mailbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/channel"
	"github.com/satrio/kurir/pkg/message"
)

const (
	channelName = "mailbox"

	maxTextRunes     = 100_000
	truncationMarker = "\n…（内容过长，已截断）"
	apologyPrefix    = "抱歉，处理消息时出现错误: "

	defaultIMAPPort     = 993
	defaultSMTPPort     = 465
	defaultMailboxName  = "INBOX"
	defaultPollInterval = 60 * time.Second
	defaultSubject      = "Message from kurir"

	backoffInitial = time.Second
	backoffMax     = 60 * time.Second
)

// mailMessage is one normalized piece of unseen mail.
type mailMessage struct {
	SeqNum    uint32
	MessageID string
	Subject   string
	From      string
	FromName  string
	Date      time.Time
	Text      string
}

// mailSession is one live IMAP connection. Wait blocks until the server
// hints at new mail, the poll interval elapses, or stop closes; any
// returned error tears the session down for a reconnect.
type mailSession interface {
	UnseenMessages() ([]mailMessage, error)
	MarkSeen(seqNum uint32) error
	Wait(stop <-chan struct{}, pollInterval time.Duration) error
	Close() error
}

// Config holds the validated adapter configuration.
type Config struct {
	Username       string
	Password       string
	IMAPHost       string
	IMAPPort       int
	SMTPHost       string
	SMTPPort       int
	MailboxName    string
	PollInterval   time.Duration
	AllowedSenders []string
}

// Adapter watches one mailbox and replies from the same account.
type Adapter struct {
	cfg     Config
	allowed map[string]bool
	logger  zerolog.Logger

	mu      sync.Mutex
	handler channel.Handler

	healthy atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	policy channel.ReconnectPolicy

	// Swappable for tests.
	dial     func(cfg Config) (mailSession, error)
	sendMail func(cfg Config, to, subject, inReplyTo, body string) error
}

// New creates an uninitialized adapter.
func New() *Adapter {
	return &Adapter{
		logger:   log.With().Str("component", channelName).Logger(),
		dial:     dialIMAP,
		sendMail: sendSMTP,
	}
}

func (a *Adapter) Name() string { return channelName }

// Initialize validates account credentials and host settings.
func (a *Adapter) Initialize(_ context.Context, cfg map[string]any) error {
	c := Config{
		Username:       channel.StringField(cfg, "username"),
		Password:       channel.StringField(cfg, "password"),
		IMAPHost:       channel.StringField(cfg, "imap_host"),
		IMAPPort:       channel.IntField(cfg, "imap_port"),
		SMTPHost:       channel.StringField(cfg, "smtp_host"),
		SMTPPort:       channel.IntField(cfg, "smtp_port"),
		MailboxName:    channel.StringField(cfg, "mailbox"),
		AllowedSenders: channel.StringSliceField(cfg, "allowed_senders"),
	}
	if secs := channel.IntField(cfg, "poll_interval_seconds"); secs > 0 {
		c.PollInterval = time.Duration(secs) * time.Second
	}

	required := map[string]string{
		"username":  c.Username,
		"password":  c.Password,
		"imap_host": c.IMAPHost,
		"smtp_host": c.SMTPHost,
	}
	for _, field := range []string{"username", "password", "imap_host", "smtp_host"} {
		if required[field] == "" {
			return channel.NewConfigError(channelName, field)
		}
	}

	if c.IMAPPort == 0 {
		c.IMAPPort = defaultIMAPPort
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = defaultSMTPPort
	}
	if c.MailboxName == "" {
		c.MailboxName = defaultMailboxName
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}

	a.cfg = c
	a.allowed = make(map[string]bool, len(c.AllowedSenders))
	for _, s := range c.AllowedSenders {
		a.allowed[strings.ToLower(s)] = true
	}
	a.policy = channel.NewExponentialBackoff(backoffInitial, backoffMax)
	return nil
}

// OnMessage registers the inbound handler; the last registration wins.
func (a *Adapter) OnMessage(h channel.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Healthy reports whether an authenticated IMAP session is up.
func (a *Adapter) Healthy() bool { return a.healthy.Load() }

// Start launches the connection loop. Connection failures do not fail
// Start; the loop keeps retrying with exponential backoff until Stop.
func (a *Adapter) Start(_ context.Context) error {
	if a.cfg.Username == "" {
		return fmt.Errorf("%s: not initialized", channelName)
	}

	a.stopped.Store(false)
	a.done = make(chan struct{})

	a.wg.Add(1)
	go a.run()
	a.logger.Info().Str("imap", a.cfg.IMAPHost).Str("mailbox", a.cfg.MailboxName).Msg("Mailbox adapter started")
	return nil
}

// Stop terminates the connection loop and waits for it. Idempotent.
func (a *Adapter) Stop(_ context.Context) error {
	if a.stopped.Swap(true) {
		return nil
	}
	if a.done != nil {
		close(a.done)
	}
	a.wg.Wait()
	a.setHealthy(false)
	a.logger.Info().Msg("Mailbox adapter stopped")
	return nil
}

// run dials, serves, and reconnects until stopped. The backoff resets
// after every successful login so a long-lived session followed by a
// blip retries quickly.
func (a *Adapter) run() {
	defer a.wg.Done()

	for {
		select {
		case <-a.done:
			return
		default:
		}

		session, err := a.dial(a.cfg)
		if err != nil {
			a.setHealthy(false)
			delay := a.policy.Next()
			a.logger.Warn().Err(err).Dur("delay", delay).Msg("IMAP connect failed, backing off")
			observability.RecordReconnect(channelName)
			select {
			case <-a.done:
				return
			case <-time.After(delay):
			}
			continue
		}

		a.policy.Reset()
		a.setHealthy(true)
		a.logger.Info().Msg("IMAP session established")

		err = a.serve(session)
		_ = session.Close()
		a.setHealthy(false)
		if err != nil {
			a.logger.Warn().Err(err).Msg("IMAP session ended")
		}
	}
}

// serve drains unseen mail, then alternates between waiting for new
// mail and draining again until the session errors or Stop is called.
func (a *Adapter) serve(session mailSession) error {
	if err := a.processUnseen(session); err != nil {
		return err
	}
	for {
		select {
		case <-a.done:
			return nil
		default:
		}

		if err := session.Wait(a.done, a.cfg.PollInterval); err != nil {
			return err
		}

		select {
		case <-a.done:
			return nil
		default:
		}

		if err := a.processUnseen(session); err != nil {
			return err
		}
	}
}

// processUnseen handles every unseen message in order. A message is
// flagged \Seen only after it has been handed off and answered, so a
// crash before that point redelivers it on the next session.
func (a *Adapter) processUnseen(session mailSession) error {
	msgs, err := session.UnseenMessages()
	if err != nil {
		return err
	}

	for _, m := range msgs {
		if a.handleMail(m) {
			if err := session.MarkSeen(m.SeqNum); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleMail filters, dispatches and replies to one message. It reports
// whether the message was consumed and should be flagged \Seen; filtered
// mail is consumed too, only an unregistered handler leaves it unseen.
func (a *Adapter) handleMail(m mailMessage) bool {
	from := strings.ToLower(m.From)
	if from == "" || from == strings.ToLower(a.cfg.Username) {
		return true
	}
	if len(a.allowed) > 0 && !a.allowed[from] {
		a.logger.Warn().Str("sender", m.From).Msg("Sender not in allowlist, dropping")
		return true
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return true
	}

	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		a.logger.Warn().Msg("No handler registered, leaving mail unseen")
		return false
	}

	id := m.MessageID
	if id == "" {
		id = message.NewID()
	}
	ts := m.Date.UnixMilli()
	if m.Date.IsZero() {
		ts = message.NowMillis()
	}
	inbound := message.Inbound{
		ID:               id,
		ChannelType:      channelName,
		ChannelID:        a.cfg.Username,
		SenderID:         m.From,
		SenderName:       m.FromName,
		ConversationType: message.ConversationDM,
		Content:          message.Content{Type: message.ContentText, Text: text},
		Timestamp:        ts,
		Raw:              m,
	}
	observability.RecordInbound(channelName)

	reply, err := handler(context.Background(), inbound)
	if err != nil {
		a.logger.Error().Err(err).Str("sender", m.From).Msg("Handler failed")
		reply = apologyPrefix + err.Error()
	} else if reply == "" {
		reply = channel.DefaultReply
	}

	subject := m.Subject
	if subject == "" {
		subject = defaultSubject
	} else if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	if err := a.deliver(m.From, subject, m.MessageID, reply); err != nil {
		a.logger.Error().Err(err).Str("target", m.From).Msg("Reply send failed")
	}
	return true
}

// SendMessage sends a plain-text mail. TargetID is the recipient
// address; ReplyToMessageID threads the mail when set.
func (a *Adapter) SendMessage(_ context.Context, out message.Outbound) error {
	if out.TargetID == "" {
		return fmt.Errorf("%s: outbound message has no target", channelName)
	}
	return a.deliver(out.TargetID, defaultSubject, out.ReplyToMessageID, out.Content.Text)
}

func (a *Adapter) deliver(to, subject, inReplyTo, body string) error {
	body = message.Truncate(body, maxTextRunes, truncationMarker)
	if err := a.sendMail(a.cfg, to, subject, inReplyTo, body); err != nil {
		observability.RecordSendError(channelName)
		return &channel.TransportError{Channel: channelName, Err: err}
	}
	observability.RecordOutbound(channelName)
	return nil
}

func (a *Adapter) setHealthy(v bool) {
	a.healthy.Store(v)
	observability.SetAdapterHealthy(channelName, v)
}
