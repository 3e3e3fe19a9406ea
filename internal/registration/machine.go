package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solatis/engage/internal/core/storage"
	"github.com/solatis/engage/internal/queue"
	"github.com/solatis/engage/internal/types"
)

// DefaultRequestTimeout bounds one delivery attempt.
const DefaultRequestTimeout = 30 * time.Second

// Config carries the Machine's collaborators.
type Config struct {
	Files          *FileStore
	Sender         Sender
	Storage        storage.Storage
	Device         types.Device
	TenantID       int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Machine runs the per-kind registration sub-machines.
// Snapshots are taken on the caller's goroutine; persistence and delivery
// run on one serial queue, so intent files are never touched concurrently.
type Machine struct {
	files    *FileStore
	sender   Sender
	store    storage.Storage
	device   types.Device
	tenantID int
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	q        *queue.Serial

	mu     sync.Mutex
	states map[Kind]State
}

// NewMachine creates a Machine. Call RetryFailedOperationsIfExist once the
// SDK is running to resubmit intents left by an earlier launch.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Files == nil {
		return nil, fmt.Errorf("files cannot be nil")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Machine{
		files:    cfg.Files,
		sender:   cfg.Sender,
		store:    cfg.Storage,
		device:   cfg.Device,
		tenantID: cfg.TenantID,
		timeout:  timeout,
		logger:   logger.With("component", "registration"),
		tracer:   otel.Tracer("github.com/solatis/engage/internal/registration"),
		q:        queue.NewSerial("registration", logger),
		states:   make(map[Kind]State),
	}, nil
}

// Register records the current identity and token with the service.
func (m *Machine) Register() error { return m.submit(KindSetUser) }

// Unregister removes the device token from the service.
func (m *Machine) Unregister() error { return m.submit(KindUnregister) }

// OptIn re-enables push delivery for the device.
func (m *Machine) OptIn() error { return m.submit(KindOptIn) }

// OptOut disables push delivery for the device.
func (m *Machine) OptOut() error { return m.submit(KindOptOut) }

// RetryFailedOperationsIfExist resubmits every persisted intent with its
// original snapshot. A retried Unregister that succeeds is followed by a
// fresh Register built from current identity.
func (m *Machine) RetryFailedOperationsIfExist() {
	m.q.Submit(func() {
		for _, k := range Kinds {
			intent, err := m.files.Load(k)
			if errors.Is(err, types.ErrIntentNotFound) {
				continue
			}
			if err != nil {
				m.logger.Error("discarding unreadable intent", "kind", k.String(), "error", err)
				if derr := m.files.Discard(k); derr != nil {
					m.logger.Error("discard intent failed", "kind", k.String(), "error", derr)
				}
				continue
			}

			m.logger.Info("retrying registration", "kind", k.String(), "intent_id", intent.ID)
			if !m.deliver(intent) || k != KindUnregister {
				continue
			}
			fresh, err := m.snapshot(KindSetUser)
			if err != nil {
				m.logger.Warn("follow-up registration skipped", "error", err)
				continue
			}
			m.persistAndDeliver(fresh)
		}
	})
}

// State reports the sub-machine state of k.
func (m *Machine) State(k Kind) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[k]
}

// Flush waits until all submitted work has finished.
func (m *Machine) Flush() { m.q.Flush() }

// Close waits for submitted work and stops the queue.
func (m *Machine) Close() { m.q.Close() }

func (m *Machine) submit(k Kind) error {
	intent, err := m.snapshot(k)
	if err != nil {
		m.logger.Warn("registration skipped", "kind", k.String(), "error", err)
		return err
	}
	m.q.Submit(func() { m.persistAndDeliver(intent) })
	return nil
}

// snapshot captures identity as it is right now.
func (m *Machine) snapshot(k Kind) (Intent, error) {
	ctx := context.Background()
	token := storage.GetString(ctx, m.store, storage.KeyDeviceToken)
	if token == "" {
		return Intent{}, types.ErrNoDeviceToken
	}

	intent := Intent{
		ID:        types.NewIntentID(),
		Kind:      k,
		CreatedAt: time.Now().UTC(),
		TenantID:  m.tenantID,
		DeviceID:  m.device.ID,
		AppNS:     m.device.AppNS,
		OSVersion: m.device.OSVersion,
		OptIn:     true,
		Token:     token,
	}
	if _, ok, _ := m.store.Get(ctx, storage.KeyOptIn); ok {
		intent.OptIn = storage.GetBool(ctx, m.store, storage.KeyOptIn)
	}
	switch k {
	case KindOptIn:
		intent.OptIn = true
	case KindOptOut:
		intent.OptIn = false
	}

	if customer := storage.GetString(ctx, m.store, storage.KeyCustomerID); customer != "" {
		intent.CustomerID = customer
		intent.IsConversion = storage.GetBool(ctx, m.store, storage.KeyIsFirstConversion)
		intent.InitialVisitorID = storage.GetString(ctx, m.store, storage.KeyInitialVisitorID)
		return intent, nil
	}
	if visitor := storage.GetString(ctx, m.store, storage.KeyVisitorID); visitor != "" {
		intent.VisitorID = visitor
		return intent, nil
	}
	return Intent{}, types.ErrNoIdentity
}

// persistAndDeliver runs on m.q.
func (m *Machine) persistAndDeliver(intent Intent) {
	if err := m.files.Save(intent); err != nil {
		// Delivery is still attempted; only the restart guarantee is lost.
		m.logger.Error("persist intent failed", "kind", intent.Kind.String(), "error", err)
	}
	m.setState(intent.Kind, StatePending)
	m.deliver(intent)
}

// deliver sends a persisted intent and settles it on success. Runs on m.q.
func (m *Machine) deliver(intent Intent) bool {
	m.setState(intent.Kind, StateInFlight)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	ctx, span := m.tracer.Start(ctx, "registration.send", trace.WithAttributes(
		attribute.String("kind", intent.Kind.String()),
		attribute.String("intent_id", intent.ID),
	))
	defer span.End()

	if err := m.sender.Send(ctx, intent); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.setState(intent.Kind, StateFailed)
		m.logger.Warn("registration failed, will retry on next launch",
			"kind", intent.Kind.String(), "intent_id", intent.ID, "error", err)
		return false
	}

	if err := m.files.Clear(intent); err != nil {
		m.logger.Error("clear intent failed", "kind", intent.Kind.String(), "error", err)
	}
	m.applySettled(intent)
	m.setState(intent.Kind, StateSettled)
	m.logger.Debug("registration settled", "kind", intent.Kind.String(), "intent_id", intent.ID)
	return true
}

// applySettled updates local state derived from an acknowledged intent.
func (m *Machine) applySettled(intent Intent) {
	ctx := context.Background()
	var err error
	switch intent.Kind {
	case KindOptIn, KindOptOut:
		err = storage.SetBool(ctx, m.store, storage.KeyOptIn, intent.OptIn)
	case KindSetUser:
		if intent.IsConversion {
			err = storage.SetBool(ctx, m.store, storage.KeyIsFirstConversion, false)
		}
	}
	if err != nil {
		m.logger.Error("update local registration state failed", "kind", intent.Kind.String(), "error", err)
	}
}

func (m *Machine) setState(k Kind, s State) {
	m.mu.Lock()
	m.states[k] = s
	m.mu.Unlock()
}
