// Package longpoll implements the cursor-based long-poll channel
// family on the Telegram Bot API. A single poll loop advances an
// update-id cursor; acknowledgment is implicit in the next request's
// offset, so an update is never redelivered even when its handler
// fails.
package longpoll

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/channel"
	"github.com/satrio/kurir/pkg/message"
)

const (
	channelName = "longpoll"

	maxTextRunes     = 4096
	truncationMarker = "\n…（内容过长，已截断）"
	apologyPrefix    = "抱歉，处理消息时出现错误: "

	defaultPollTimeout = 30 // seconds, passed to the platform
	defaultErrorDelay  = 3 * time.Second
)

// botClient is the slice of the Bot API the adapter uses. Keeping the
// offset handling on explicit GetUpdates calls rather than the
// library's channel wrapper is what makes the cursor semantics
// observable.
type botClient interface {
	GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config holds the validated adapter configuration.
type Config struct {
	BotToken       string
	APIEndpoint    string
	PollTimeout    int
	ErrorDelay     time.Duration
	AllowedSenders []string
}

// Adapter polls for updates and pushes normalized messages to the
// registered handler.
type Adapter struct {
	cfg     Config
	allowed map[string]bool
	logger  zerolog.Logger

	mu      sync.Mutex
	handler channel.Handler
	client  botClient
	selfID  int64

	healthy atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	// connect dials the platform and reports the bot's own user id.
	// Swappable for tests.
	connect func(cfg Config) (botClient, int64, error)
}

// New creates an uninitialized adapter.
func New() *Adapter {
	return &Adapter{
		logger:  log.With().Str("component", channelName).Logger(),
		connect: dialBot,
	}
}

func dialBot(cfg Config) (botClient, int64, error) {
	var bot *tgbotapi.BotAPI
	var err error
	if cfg.APIEndpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, cfg.APIEndpoint)
	} else {
		bot, err = tgbotapi.NewBotAPI(cfg.BotToken)
	}
	if err != nil {
		return nil, 0, err
	}
	return bot, bot.Self.ID, nil
}

func (a *Adapter) Name() string { return channelName }

// Initialize validates the token and applies polling defaults.
func (a *Adapter) Initialize(_ context.Context, cfg map[string]any) error {
	c := Config{
		BotToken:       channel.StringField(cfg, "bot_token"),
		APIEndpoint:    channel.StringField(cfg, "api_endpoint"),
		PollTimeout:    channel.IntField(cfg, "poll_timeout_seconds"),
		AllowedSenders: channel.StringSliceField(cfg, "allowed_senders"),
	}
	if secs := channel.IntField(cfg, "error_delay_seconds"); secs > 0 {
		c.ErrorDelay = time.Duration(secs) * time.Second
	}

	if c.BotToken == "" {
		return channel.NewConfigError(channelName, "bot_token")
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.ErrorDelay == 0 {
		c.ErrorDelay = defaultErrorDelay
	}

	a.cfg = c
	a.allowed = make(map[string]bool, len(c.AllowedSenders))
	for _, s := range c.AllowedSenders {
		a.allowed[s] = true
	}
	return nil
}

// OnMessage registers the inbound handler; the last registration wins.
func (a *Adapter) OnMessage(h channel.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Healthy reports whether the last platform interaction succeeded.
func (a *Adapter) Healthy() bool { return a.healthy.Load() }

// Start authenticates against the platform and launches the poll loop.
// The loop starts at offset zero so updates queued while the process
// was down are drained on the first request.
func (a *Adapter) Start(_ context.Context) error {
	if a.cfg.BotToken == "" {
		return fmt.Errorf("%s: not initialized", channelName)
	}

	client, selfID, err := a.connect(a.cfg)
	if err != nil {
		return &channel.AuthError{Channel: channelName, Err: err}
	}

	a.mu.Lock()
	a.client = client
	a.selfID = selfID
	a.mu.Unlock()

	a.stopped.Store(false)
	a.done = make(chan struct{})
	a.setHealthy(true)
	a.logger.Info().Int64("bot_id", selfID).Msg("Long-poll adapter started")

	a.wg.Add(1)
	go a.pollLoop(client)
	return nil
}

// Stop terminates the poll loop and waits for it to exit. Idempotent.
func (a *Adapter) Stop(_ context.Context) error {
	if a.stopped.Swap(true) {
		return nil
	}
	if a.done != nil {
		close(a.done)
	}
	a.wg.Wait()
	a.setHealthy(false)
	a.logger.Info().Msg("Long-poll adapter stopped")
	return nil
}

// pollLoop owns the update cursor. The offset advances to the highest
// update id plus one before any handler runs, so a crashing or failing
// handler can never cause redelivery.
func (a *Adapter) pollLoop(client botClient) {
	defer a.wg.Done()

	offset := 0
	for {
		select {
		case <-a.done:
			return
		default:
		}

		cfg := tgbotapi.NewUpdate(offset)
		cfg.Timeout = a.cfg.PollTimeout

		updates, err := client.GetUpdates(cfg)
		if err != nil {
			a.setHealthy(false)
			a.logger.Warn().Err(err).Dur("delay", a.cfg.ErrorDelay).Msg("Poll failed, backing off")
			select {
			case <-a.done:
				return
			case <-time.After(a.cfg.ErrorDelay):
			}
			continue
		}
		a.setHealthy(true)

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			a.dispatch(update)
		}
	}
}

// dispatch normalizes one update and hands it to the handler on its own
// goroutine so a slow agent never stalls the poll cursor.
func (a *Adapter) dispatch(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if msg.From.ID == a.selfID || msg.From.IsBot {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if len(a.allowed) > 0 && !a.allowed[senderID] {
		a.logger.Warn().Str("sender", senderID).Msg("Sender not in allowlist, dropping")
		return
	}

	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler == nil {
		a.logger.Warn().Msg("No handler registered, dropping update")
		return
	}

	conv := message.ConversationGroup
	groupID := strconv.FormatInt(msg.Chat.ID, 10)
	if msg.Chat.IsPrivate() {
		conv = message.ConversationDM
		groupID = ""
	}

	senderName := msg.From.UserName
	if senderName == "" {
		senderName = msg.From.FirstName
	}

	inbound := message.Inbound{
		ID:               strconv.Itoa(msg.MessageID),
		ChannelType:      channelName,
		ChannelID:        strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:         senderID,
		SenderName:       senderName,
		ConversationType: conv,
		GroupID:          groupID,
		Content:          message.Content{Type: message.ContentText, Text: msg.Text},
		Timestamp:        int64(msg.Date) * 1000,
		Raw:              update,
	}
	observability.RecordInbound(channelName)

	done := a.done
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

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
			return // stopped; drop the reply
		default:
		}

		out := message.Outbound{
			ConversationType: conv,
			TargetID:         chatID,
			Content:          message.Content{Type: message.ContentText, Text: reply},
			ReplyToMessageID: inbound.ID,
		}
		if err := a.SendMessage(ctx, out); err != nil {
			a.logger.Error().Err(err).Str("target", chatID).Msg("Reply send failed")
		}
	}()
}

// SendMessage posts a text message to a chat. TargetID is the numeric
// chat id in decimal form.
func (a *Adapter) SendMessage(_ context.Context, out message.Outbound) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%s: adapter not started", channelName)
	}

	chatID, err := strconv.ParseInt(out.TargetID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid chat id %q: %w", channelName, out.TargetID, err)
	}

	text := message.Truncate(out.Content.Text, maxTextRunes, truncationMarker)
	msg := tgbotapi.NewMessage(chatID, text)
	if out.ReplyToMessageID != "" {
		if replyTo, err := strconv.Atoi(out.ReplyToMessageID); err == nil {
			msg.ReplyToMessageID = replyTo
		}
	}

	if _, err := client.Send(msg); err != nil {
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
