package gateway

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/openclaw-gateway/internal/control"
	"github.com/saker-ai/openclaw-gateway/internal/transport/codec"
)

// Broadcaster pushes an event to every connected front-end.
type Broadcaster interface {
	Broadcast(event string, payload any) int
}

// Result is what Submit did with an accepted command.
type Result struct {
	Command   control.Command
	Duplicate bool
	Delivered int
}

// Gateway validates, de-duplicates and broadcasts commands arriving from the
// HTTP endpoint or the file watcher. Submissions are serialized so delivery
// order matches arrival order: the broadcast runs under the gateway lock, so
// a front-end that stops reading delays every other submission by up to the
// hub's write deadline before it is dropped.
type Gateway struct {
	mu          sync.Mutex
	dedup       *control.Deduper
	broadcaster Broadcaster
	event       string
	logger      *zap.Logger
}

// New creates a gateway that broadcasts under codec.EventCommand.
func New(broadcaster Broadcaster, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		dedup:       control.NewDeduper(),
		broadcaster: broadcaster,
		event:       codec.EventCommand,
		logger:      logger,
	}
}

// Submit handles one raw payload. Validation failures are returned as
// control errors (see control.ReasonOf). A repeat of the last accepted id is
// accepted but not broadcast again.
func (g *Gateway) Submit(ctx context.Context, raw []byte, source string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	cmd, err := control.Decode(raw)
	if err != nil {
		return Result{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.dedup.Accept(cmd.ID) {
		g.logger.Debug("control command duplicate",
			zap.String("source", source),
			zap.String("command", string(cmd.Name)),
			zap.String("id", cmd.ID),
		)
		return Result{Command: cmd, Duplicate: true}, nil
	}

	delivered := 0
	if g.broadcaster != nil {
		delivered = g.broadcaster.Broadcast(g.event, cmd)
	}
	g.logger.Info("control command broadcast",
		zap.String("source", source),
		zap.String("command", string(cmd.Name)),
		zap.String("id", cmd.ID),
		zap.Int("clients", delivered),
	)
	return Result{Command: cmd, Delivered: delivered}, nil
}

// Run feeds src into Submit until ctx ends. Rejected payloads are dropped.
func (g *Gateway) Run(ctx context.Context, src control.Source, source string) error {
	err := src.Run(ctx, func(raw []byte) {
		if _, err := g.Submit(ctx, raw, source); err != nil {
			g.logger.Debug("control payload dropped", zap.String("source", source), zap.Error(err))
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
