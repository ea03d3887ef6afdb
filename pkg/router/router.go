// Package router bridges normalized inbound messages to the agent
// backend: it resolves the conversation session, invokes the runner and
// hands the reply text back to the originating adapter.
package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/satrio/kurir/pkg/agent"
	"github.com/satrio/kurir/pkg/message"
	"github.com/satrio/kurir/pkg/session"
)

// Router is the core's only upstream call path.
type Router struct {
	sessions *session.Manager
	runner   agent.Runner
	logger   zerolog.Logger
}

// New creates a router over the shared session manager and agent runner.
func New(sessions *session.Manager, runner agent.Runner, logger zerolog.Logger) *Router {
	return &Router{
		sessions: sessions,
		runner:   runner,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// HandleMessage resolves the session for the message, touches it and asks
// the agent for a reply. onChunk is forwarded when the runner supports
// streaming and is otherwise ignored.
func (r *Router) HandleMessage(ctx context.Context, msg message.Inbound, onChunk agent.ChunkFunc) (string, error) {
	s := r.sessions.GetOrCreate(msg.ChannelType, msg.SenderID, msg.ConversationType, msg.GroupID)

	r.logger.Debug().
		Str("session_id", s.ID).
		Str("channel", msg.ChannelType).
		Str("sender", msg.SenderID).
		Msg("Routing inbound message")

	var reply string
	var err error
	if sr, ok := r.runner.(agent.StreamingRunner); ok && onChunk != nil {
		reply, err = sr.RunStreaming(ctx, s, msg.Content.Text, onChunk)
	} else {
		reply, err = r.runner.Run(ctx, s, msg.Content.Text)
	}
	if err != nil {
		return "", fmt.Errorf("agent run failed for session %s: %w", s.ID, err)
	}
	return reply, nil
}
