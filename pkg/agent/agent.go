// Package agent defines the opaque reply backend consumed by the router.
// The reasoning implementation lives outside this repository; the gateway
// only depends on this narrow contract.
package agent

import (
	"context"

	"github.com/satrio/kurir/pkg/session"
)

// ChunkFunc receives incremental reply fragments. Only the webchat
// transport consumes streaming; channel adapters pass nil.
type ChunkFunc func(text string, kind string)

// Runner produces a reply for one message within a session. It may fail;
// callers surface the failure on the originating channel.
type Runner interface {
	Run(ctx context.Context, s *session.Session, text string) (string, error)
}

// StreamingRunner is optionally implemented by runners that can emit
// incremental chunks while producing the final reply.
type StreamingRunner interface {
	RunStreaming(ctx context.Context, s *session.Session, text string, onChunk ChunkFunc) (string, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, s *session.Session, text string) (string, error)

func (f RunnerFunc) Run(ctx context.Context, s *session.Session, text string) (string, error) {
	return f(ctx, s, text)
}
