// Package pipeline implements the ordered event-processing chain.
//
// A Chain is an explicit list of Stages built once. The first stage is always
// an InMemoryBuffer: until Attach supplies the downstream stages it holds every
// operation, and afterwards it is a pass-through. Attach drains the buffer
// through the new stages before any later operation runs, so buffered and live
// operations keep submission order.
//
// The Chain is not goroutine-affine but serializes Execute and Attach with a
// mutex; callers that need non-blocking submission run it on a queue.Serial.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/solatis/engage/internal/types"
)

// Stage performs one transform on an operation.
// It returns the (possibly rewritten) operation and whether the chain should
// continue. A non-nil error stops the chain for this operation.
type Stage interface {
	Process(ctx context.Context, op types.Operation) (types.Operation, bool, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, op types.Operation) (types.Operation, bool, error)

// Process calls f.
func (f StageFunc) Process(ctx context.Context, op types.Operation) (types.Operation, bool, error) {
	return f(ctx, op)
}

// ErrAlreadyAttached is returned by Attach on a chain that already has stages.
var ErrAlreadyAttached = errors.New("pipeline already attached")

// Chain runs operations through its buffer and attached stages.
type Chain struct {
	logger *slog.Logger

	mu     sync.Mutex
	buffer *InMemoryBuffer
	stages []Stage
}

// NewChain creates a chain whose only stage is buffer.
func NewChain(buffer *InMemoryBuffer, logger *slog.Logger) (*Chain, error) {
	if buffer == nil {
		return nil, fmt.Errorf("buffer cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger, buffer: buffer}, nil
}

// Execute runs op through the chain.
// Stage errors are logged and returned; the operation is dropped either way.
func (c *Chain) Execute(ctx context.Context, op types.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, cont, err := c.buffer.Process(ctx, op)
	if err != nil || !cont {
		return err
	}
	return c.run(ctx, op)
}

// Attach installs the downstream stages and drains buffered operations
// through them in FIFO order. It may only be called once.
func (c *Chain) Attach(ctx context.Context, stages ...Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stages != nil {
		return ErrAlreadyAttached
	}
	c.stages = append([]Stage{}, stages...)

	pending := c.buffer.Open()
	if len(pending) > 0 {
		c.logger.Debug("draining buffered operations", "count", len(pending))
	}
	for _, op := range pending {
		_ = c.run(ctx, op)
	}
	return nil
}

// Attached reports whether Attach has run.
func (c *Chain) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stages != nil
}

func (c *Chain) run(ctx context.Context, op types.Operation) error {
	for _, stage := range c.stages {
		var (
			cont bool
			err  error
		)
		op, cont, err = stage.Process(ctx, op)
		if err != nil {
			c.logDrop(op, err)
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (c *Chain) logDrop(op types.Operation, err error) {
	attrs := []any{"op", op.Kind.String(), "buffered", op.Buffered, "error", err}
	if op.Kind == types.OpReport {
		attrs = append(attrs, "event", op.Event.Name, "event_id", op.Event.ID)
	}
	if types.IsValidation(err) || errors.Is(err, types.ErrUnknownEvent) {
		c.logger.Warn("operation dropped", attrs...)
		return
	}
	c.logger.Error("operation failed", attrs...)
}
