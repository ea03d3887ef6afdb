package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satrio/kurir/pkg/channel"
	"github.com/satrio/kurir/pkg/message"
)

type sentMail struct {
	to        string
	subject   string
	inReplyTo string
	body      string
}

// fakeSession serves scripted batches of unseen mail and records which
// messages were flagged seen, interleaved with sends in recorder.
type fakeSession struct {
	mu      sync.Mutex
	batches [][]mailMessage
	seen    []uint32
	events  *[]string
	eventMu *sync.Mutex
}

func (f *fakeSession) UnseenMessages() ([]mailMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeSession) MarkSeen(seqNum uint32) error {
	f.mu.Lock()
	f.seen = append(f.seen, seqNum)
	f.mu.Unlock()
	f.eventMu.Lock()
	*f.events = append(*f.events, fmt.Sprintf("seen:%d", seqNum))
	f.eventMu.Unlock()
	return nil
}

func (f *fakeSession) Wait(stop <-chan struct{}, _ time.Duration) error {
	select {
	case <-stop:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("wait timed out")
	}
}

func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) seenSeqs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.seen...)
}

type mailboxHarness struct {
	adapter *Adapter
	session *fakeSession
	sent    chan sentMail
	events  []string
	eventMu sync.Mutex
}

func newHarness(t *testing.T, cfg map[string]any, batches [][]mailMessage) *mailboxHarness {
	t.Helper()
	h := &mailboxHarness{sent: make(chan sentMail, 16)}
	h.session = &fakeSession{batches: batches, events: &h.events, eventMu: &h.eventMu}

	a := New()
	a.dial = func(Config) (mailSession, error) { return h.session, nil }
	a.sendMail = func(_ Config, to, subject, inReplyTo, body string) error {
		h.eventMu.Lock()
		h.events = append(h.events, "send:"+to)
		h.eventMu.Unlock()
		h.sent <- sentMail{to: to, subject: subject, inReplyTo: inReplyTo, body: body}
		return nil
	}

	if cfg == nil {
		cfg = map[string]any{
			"username":  "bot@example.com",
			"password":  "pw",
			"imap_host": "imap.example.com",
			"smtp_host": "smtp.example.com",
		}
	}
	require.NoError(t, a.Initialize(context.Background(), cfg))
	h.adapter = a
	return h
}

func (h *mailboxHarness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.adapter.Start(context.Background()))
	t.Cleanup(func() { h.adapter.Stop(context.Background()) })
}

func (h *mailboxHarness) awaitSend(t *testing.T) sentMail {
	t.Helper()
	select {
	case m := <-h.sent:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no mail was sent")
		return sentMail{}
	}
}

func inboundMail(seq uint32, from, subject, msgID, text string) mailMessage {
	return mailMessage{
		SeqNum:    seq,
		MessageID: msgID,
		Subject:   subject,
		From:      from,
		FromName:  "Alice",
		Date:      time.Unix(1_700_000_000, 0),
		Text:      text,
	}
}

func TestMailbox_RepliesThenMarksSeen(t *testing.T) {
	h := newHarness(t, nil, [][]mailMessage{{
		inboundMail(3, "alice@example.com", "Need help", "<mid1@example.com>", "question"),
	}})

	h.adapter.OnMessage(func(ctx context.Context, in message.Inbound) (string, error) {
		assert.Equal(t, "mailbox", in.ChannelType)
		assert.Equal(t, "bot@example.com", in.ChannelID)
		assert.Equal(t, "alice@example.com", in.SenderID)
		assert.Equal(t, message.ConversationDM, in.ConversationType)
		assert.Equal(t, "question", in.Content.Text)
		assert.Equal(t, int64(1_700_000_000_000), in.Timestamp)
		return "answer", nil
	})
	h.start(t)

	m := h.awaitSend(t)
	assert.Equal(t, "alice@example.com", m.to)
	assert.Equal(t, "Re: Need help", m.subject)
	assert.Equal(t, "<mid1@example.com>", m.inReplyTo)
	assert.Equal(t, "answer", m.body)

	require.Eventually(t, func() bool {
		return len(h.session.seenSeqs()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint32{3}, h.session.seenSeqs())

	// The reply goes out before the flag flips.
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	assert.Equal(t, []string{"send:alice@example.com", "seen:3"}, h.events)
}

func TestMailbox_HandlerErrorSendsApology(t *testing.T) {
	h := newHarness(t, nil, [][]mailMessage{{
		inboundMail(1, "alice@example.com", "hi", "<m1>", "boom"),
	}})
	h.adapter.OnMessage(func(ctx context.Context, in message.Inbound) (string, error) {
		return "", errors.New("agent exploded")
	})
	h.start(t)

	m := h.awaitSend(t)
	assert.Equal(t, apologyPrefix+"agent exploded", m.body)
}

func TestMailbox_EmptyReplyUsesDefault(t *testing.T) {
	h := newHarness(t, nil, [][]mailMessage{{
		inboundMail(1, "alice@example.com", "hi", "<m1>", "ping"),
	}})
	h.adapter.OnMessage(func(ctx context.Context, in message.Inbound) (string, error) {
		return "", nil
	})
	h.start(t)

	m := h.awaitSend(t)
	assert.Equal(t, channel.DefaultReply, m.body)
}

func TestMailbox_FiltersConsumeWithoutDispatch(t *testing.T) {
	h := newHarness(t, map[string]any{
		"username":        "bot@example.com",
		"password":        "pw",
		"imap_host":       "imap.example.com",
		"smtp_host":       "smtp.example.com",
		"allowed_senders": []any{"alice@example.com"},
	}, [][]mailMessage{{
		inboundMail(1, "bot@example.com", "self", "<m1>", "loop"),
		inboundMail(2, "mallory@example.com", "spam", "<m2>", "buy now"),
		inboundMail(3, "Alice@Example.com", "hi", "<m3>", "real question"),
	}})

	var calls atomic.Int32
	h.adapter.OnMessage(func(ctx context.Context, in message.Inbound) (string, error) {
		calls.Add(1)
		return "ack", nil
	})
	h.start(t)

	h.awaitSend(t)
	require.Eventually(t, func() bool {
		return len(h.session.seenSeqs()) == 3
	}, 5*time.Second, 10*time.Millisecond)

	// Filtered mail is flagged seen so it never loops, but only the
	// allowed sender reached the handler.
	assert.Equal(t, []uint32{1, 2, 3}, h.session.seenSeqs())
	assert.Equal(t, int32(1), calls.Load())
}

func TestMailbox_NoHandlerLeavesMailUnseen(t *testing.T) {
	h := newHarness(t, nil, [][]mailMessage{{
		inboundMail(1, "alice@example.com", "hi", "<m1>", "question"),
	}})
	h.start(t)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.session.seenSeqs())
}

func TestMailbox_ReconnectsWithBackoff(t *testing.T) {
	h := newHarness(t, nil, nil)

	var dials atomic.Int32
	session := h.session
	h.adapter.dial = func(Config) (mailSession, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return session, nil
	}
	h.adapter.policy = channel.NewFixedDelay(10 * time.Millisecond)

	h.start(t)

	require.Eventually(t, h.adapter.Healthy, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, dials.Load(), int32(3))
}

func TestMailbox_Initialize_MissingFields(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"username":  "bot@example.com",
			"password":  "pw",
			"imap_host": "imap.example.com",
			"smtp_host": "smtp.example.com",
		}
	}
	for _, field := range []string{"username", "password", "imap_host", "smtp_host"} {
		t.Run("missing "+field, func(t *testing.T) {
			cfg := base()
			delete(cfg, field)

			err := New().Initialize(context.Background(), cfg)
			require.Error(t, err)

			var cfgErr *channel.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, field, cfgErr.Field)
		})
	}
}

func TestMailbox_SendMessageClamp(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.start(t)

	err := h.adapter.SendMessage(context.Background(), message.Outbound{
		TargetID: "alice@example.com",
		Content:  message.Content{Type: message.ContentText, Text: strings.Repeat("长", maxTextRunes+100)},
	})
	require.NoError(t, err)

	m := h.awaitSend(t)
	assert.Equal(t, maxTextRunes, len([]rune(m.body)))
	assert.True(t, strings.HasSuffix(m.body, truncationMarker))
}

func TestMailbox_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.start(t)

	require.NoError(t, h.adapter.Stop(context.Background()))
	require.NoError(t, h.adapter.Stop(context.Background()))
	assert.False(t, h.adapter.Healthy())
}
