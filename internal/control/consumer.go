package control

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Source delivers raw command payloads one at a time until ctx ends. The
// deliver callback runs to completion before the next payload is read.
type Source interface {
	Run(ctx context.Context, deliver func(raw []byte)) error
}

// Outcome describes what a consumer did with a payload.
type Outcome int

const (
	Ignored Outcome = iota
	Applied
	Duplicate
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return "ignored"
	}
}

// Consumer is the front-end side of the channel: validate, drop repeats of
// the last applied id, dispatch. Its dedup state is independent of any
// gateway the payload passed through.
type Consumer struct {
	dispatcher *Dispatcher
	dedup      *Deduper
	logger     *zap.Logger
}

// NewConsumer builds a consumer that mutates target.
func NewConsumer(target Setter, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		dispatcher: NewDispatcher(target),
		dedup:      NewDeduper(),
		logger:     logger,
	}
}

// Handle processes one raw payload.
func (c *Consumer) Handle(raw []byte) (Outcome, error) {
	cmd, err := Decode(raw)
	if err != nil {
		return Rejected, err
	}
	return c.Apply(cmd), nil
}

// Apply dispatches an already decoded command subject to dedup.
func (c *Consumer) Apply(cmd Command) Outcome {
	if !c.dedup.Accept(cmd.ID) {
		return Duplicate
	}
	if !c.dispatcher.Dispatch(cmd) {
		return Ignored
	}
	return Applied
}

// Consume runs src into c until ctx ends. Per-payload failures never stop
// the loop.
func Consume(ctx context.Context, src Source, c *Consumer) error {
	err := src.Run(ctx, func(raw []byte) {
		outcome, err := c.Handle(raw)
		if err != nil {
			c.logger.Debug("control payload dropped", zap.Error(err))
			return
		}
		c.logger.Debug("control payload handled", zap.Stringer("outcome", outcome))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
