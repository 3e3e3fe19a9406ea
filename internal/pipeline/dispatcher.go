package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solatis/engage/internal/types"
)

// Component is a backend that consumes pipeline output.
// Handle must not block on network I/O; components own their own queues.
type Component interface {
	Name() string
	Handle(ctx context.Context, op types.Operation) error
}

// Dispatcher fans an operation out to every component in order.
// A failing or panicking component is logged and never stops the others.
type Dispatcher struct {
	components []Component
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewDispatcher creates a dispatcher over components.
func NewDispatcher(logger *slog.Logger, components ...Component) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		components: append([]Component{}, components...),
		logger:     logger,
		tracer:     otel.Tracer("github.com/solatis/engage/internal/pipeline"),
	}
}

// Process implements Stage. It is always the last stage.
func (d *Dispatcher) Process(ctx context.Context, op types.Operation) (types.Operation, bool, error) {
	for _, c := range d.components {
		if err := d.handle(ctx, c, op); err != nil {
			d.logger.Warn("component failed", "component", c.Name(), "op", op.Kind.String(), "error", err)
		}
	}
	return op, false, nil
}

func (d *Dispatcher) handle(ctx context.Context, c Component, op types.Operation) (err error) {
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("component", c.Name()),
			attribute.String("op", op.Kind.String()),
		))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("component panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return c.Handle(ctx, op)
}
