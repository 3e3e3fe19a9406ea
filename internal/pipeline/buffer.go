package pipeline

import (
	"context"
	"log/slog"

	"github.com/solatis/engage/internal/buffer"
	"github.com/solatis/engage/internal/types"
)

// InMemoryBuffer retains operations until the chain is attached.
// Access is serialized by the owning Chain.
type InMemoryBuffer struct {
	logger *slog.Logger
	ring   *buffer.Ring[types.Operation]
	open   bool
}

// NewInMemoryBuffer creates a closed buffer holding up to capacity operations.
// Non-positive capacity selects buffer.DefaultCapacity.
func NewInMemoryBuffer(capacity int, logger *slog.Logger) *InMemoryBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBuffer{logger: logger, ring: buffer.NewRing[types.Operation](capacity)}
}

// Process holds op while closed and passes it through once open.
func (b *InMemoryBuffer) Process(_ context.Context, op types.Operation) (types.Operation, bool, error) {
	if b.open {
		return op, true, nil
	}
	op.Buffered = true
	if !b.ring.Write(op) {
		b.logger.Warn("buffer full, oldest operation dropped", "capacity", b.ring.Cap())
	}
	return op, false, nil
}

// Open switches to pass-through and returns the retained operations, oldest first.
func (b *InMemoryBuffer) Open() []types.Operation {
	b.open = true
	out := make([]types.Operation, 0, b.ring.Len())
	for {
		op, ok := b.ring.Read()
		if !ok {
			return out
		}
		out = append(out, op)
	}
}

// Len reports how many operations are held.
func (b *InMemoryBuffer) Len() int { return b.ring.Len() }
