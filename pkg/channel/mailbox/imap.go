package mailbox

import (
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/satrio/kurir/pkg/channel"
)

// imapSession is the production mailSession over one TLS IMAP
// connection.
type imapSession struct {
	c *client.Client
}

func dialIMAP(cfg Config) (mailSession, error) {
	addr := fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, err
	}
	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, &channel.AuthError{Channel: channelName, Err: err}
	}
	if _, err := c.Select(cfg.MailboxName, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select %s: %w", cfg.MailboxName, err)
	}
	return &imapSession{c: c}, nil
}

// UnseenMessages fetches every message without the \Seen flag. The body
// fetch uses BODY.PEEK so the fetch itself does not flip the flag; only
// MarkSeen does.
func (s *imapSession) UnseenMessages() ([]mailMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := s.c.Search(criteria)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	ch := make(chan *imap.Message, len(ids))
	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- s.c.Fetch(seqset, items, ch)
	}()

	var out []mailMessage
	for msg := range ch {
		m := mailMessage{SeqNum: msg.SeqNum}
		if env := msg.Envelope; env != nil {
			m.MessageID = env.MessageId
			m.Subject = env.Subject
			m.Date = env.Date
			if len(env.From) > 0 {
				m.From = env.From[0].Address()
				m.FromName = env.From[0].PersonalName
			}
		}
		if body := msg.GetBody(section); body != nil {
			if text, err := extractText(body); err == nil {
				m.Text = text
			}
		}
		out = append(out, m)
	}
	if err := <-fetchErr; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *imapSession) MarkSeen(seqNum uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNum)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return s.c.Store(seqset, item, []interface{}{imap.SeenFlag}, nil)
}

// Wait idles until the server reports a mailbox change, the poll
// interval elapses, or stop closes. The library falls back to NOOP
// polling on servers without IDLE.
func (s *imapSession) Wait(stop <-chan struct{}, pollInterval time.Duration) error {
	updates := make(chan client.Update, 16)
	s.c.Updates = updates
	defer func() { s.c.Updates = nil }()

	idleStop := make(chan struct{})
	idleDone := make(chan error, 1)
	go func() {
		idleDone <- s.c.Idle(idleStop, &client.IdleOptions{PollInterval: pollInterval})
	}()

	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	select {
	case err := <-idleDone:
		return err
	case <-stop:
	case <-updates:
	case <-timer.C:
	}

	close(idleStop)
	for {
		select {
		case err := <-idleDone:
			return err
		case <-updates:
			// drain so the client never blocks while unwinding
		}
	}
}

func (s *imapSession) Close() error {
	return s.c.Logout()
}
