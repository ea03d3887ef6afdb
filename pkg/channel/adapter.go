package channel

import (
	"context"

	"github.com/satrio/kurir/pkg/message"
)

// Handler processes one normalized inbound message and returns the reply
// text. An empty reply with a nil error means the adapter should send its
// locale default acknowledgement instead.
type Handler func(ctx context.Context, msg message.Inbound) (string, error)

// DefaultReply is the acknowledgement adapters send when a handler
// returns no text of its own.
const DefaultReply = "处理完成"

// Adapter is the contract every channel implementation satisfies, one
// instance per external platform. Lifecycle: Initialize validates config
// and fails fast on missing credentials, Start opens the transport and
// flips the health flag on confirmed readiness, Stop tears the transport
// down idempotently. Healthy is a cheap flag read, never a network probe.
type Adapter interface {
	// Name returns the channel type tag (e.g. "wsgateway", "mailbox").
	Name() string

	// Initialize validates configuration. It must name any missing
	// required credential field and must never substitute defaults
	// for secrets.
	Initialize(ctx context.Context, cfg map[string]any) error

	// Start opens the transport and begins delivering inbound messages
	// to the registered handler.
	Start(ctx context.Context) error

	// Stop tears down the transport, cancels pending reconnects and
	// heartbeats, and guarantees no handler invocations after return.
	// It is idempotent and safe to call before Start.
	Stop(ctx context.Context) error

	// SendMessage translates the outbound envelope into the platform's
	// native send API. Text is clamped to the platform limit first.
	SendMessage(ctx context.Context, msg message.Outbound) error

	// OnMessage registers the inbound handler. Exactly one handler is
	// active; the last registration wins.
	OnMessage(h Handler)

	// Healthy reports whether the transport is connected and ready.
	Healthy() bool
}
