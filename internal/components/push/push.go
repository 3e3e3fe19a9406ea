// Package push adapts the registration state machine to the pipeline.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solatis/engage/internal/types"
)

// Name is the component name used in logs.
const Name = "push"

// Registrar is the part of *registration.Machine the component drives.
type Registrar interface {
	Register() error
}

// Component re-registers the device whenever the user identity changes.
type Component struct {
	registrar Registrar
	logger    *slog.Logger
}

// New creates the component.
func New(registrar Registrar, logger *slog.Logger) (*Component, error) {
	if registrar == nil {
		return nil, fmt.Errorf("registrar cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Component{registrar: registrar, logger: logger.With("component", Name)}, nil
}

// Name implements pipeline.Component.
func (c *Component) Name() string { return Name }

// Handle implements pipeline.Component.
func (c *Component) Handle(_ context.Context, op types.Operation) error {
	if op.Kind != types.OpSetUserID {
		return nil
	}
	err := c.registrar.Register()
	if errors.Is(err, types.ErrNoDeviceToken) {
		// Registration happens once the platform hands over a token.
		c.logger.Debug("no device token yet, registration deferred", "user_id", op.UserID)
		return nil
	}
	return err
}
