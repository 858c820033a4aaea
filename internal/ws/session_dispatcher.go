package ws

import (
	"context"

	"go.uber.org/zap"
)

type incomingHandler func(context.Context, incomingMessage)

// The push channel is one-way; front-ends only send keepalives.
func (s *session) dispatchIncoming(ctx context.Context, msg incomingMessage) {
	handlers := map[string]incomingHandler{
		"ping":      s.onPing,
		"heartbeat": s.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	s.logger.Debug("ws unknown message type",
		zap.String("session_id", s.id),
		zap.String("type", msg.Type),
	)
}

func (s *session) onPing(_ context.Context, _ incomingMessage) {
	s.sendJSON(Message{Type: "pong"})
}

func (s *session) onNoop(_ context.Context, _ incomingMessage) {}
