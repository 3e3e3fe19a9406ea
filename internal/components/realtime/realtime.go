// Package realtime delivers events to the low-latency realtime gateway.
//
// Delivery is fire-and-forget: a failed event is logged and dropped. Identity
// mutations (set user id, set email) are the exception. When one fails, a flag
// is raised in storage, and every later event first resends the identity
// currently stored before being sent itself, so the gateway always learns an
// identity before any event attributed to it.
//
// All work runs on one serial queue, which is what keeps identity resends
// ordered ahead of the event that triggered them.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solatis/engage/internal/capability"
	"github.com/solatis/engage/internal/core/storage"
	"github.com/solatis/engage/internal/queue"
	"github.com/solatis/engage/internal/types"
)

// Name is the component name used in logs.
const Name = "realtime"

const reportPath = "reportEvent"

// Connectivity answers whether the network is reachable.
// *capability.Monitor satisfies it.
type Connectivity interface {
	Status(ctx context.Context, req capability.Requirement) bool
}

// Config carries the component's collaborators.
type Config struct {
	Realtime       types.RealtimeConfig
	TenantID       int
	Events         map[string]types.EventsConfig
	Storage        storage.Storage
	Connectivity   Connectivity
	Client         *http.Client
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Component is the realtime gateway backend.
type Component struct {
	cfg     types.RealtimeConfig
	tenant  int
	events  map[string]types.EventsConfig
	store   storage.Storage
	conn    Connectivity
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
	q       *queue.Serial
}

// New creates the component and records the first visit if none is stored.
func New(cfg Config) (*Component, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if cfg.Connectivity == nil {
		return nil, fmt.Errorf("connectivity cannot be nil")
	}
	if cfg.Realtime.Gateway == "" {
		return nil, fmt.Errorf("realtime gateway cannot be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Component{
		cfg:     cfg.Realtime,
		tenant:  cfg.TenantID,
		events:  cfg.Events,
		store:   cfg.Storage,
		conn:    cfg.Connectivity,
		client:  client,
		timeout: timeout,
		logger:  logger.With("component", Name),
		tracer:  otel.Tracer("github.com/solatis/engage/internal/components/realtime"),
		q:       queue.NewSerial(Name, logger),
	}
	c.firstVisit(context.Background())
	return c, nil
}

// Name implements pipeline.Component.
func (c *Component) Name() string { return Name }

// Handle implements pipeline.Component. Delivery happens asynchronously.
func (c *Component) Handle(_ context.Context, op types.Operation) error {
	var event types.Event
	switch op.Kind {
	case types.OpReport:
		event = op.Event
	case types.OpReportScreen:
		event = types.PageVisitEvent(op.Screen)
	default:
		return nil
	}

	ec, ok := c.events[event.Name]
	if !ok || !ec.SupportedOnRealtime {
		return nil
	}
	if !c.q.Submit(func() { c.process(event) }) {
		return fmt.Errorf("realtime component closed")
	}
	return nil
}

// Flush waits for queued deliveries.
func (c *Component) Flush() { c.q.Flush() }

// Close drains and stops the queue.
func (c *Component) Close() { c.q.Close() }

// process runs on c.q.
func (c *Component) process(event types.Event) {
	ctx := context.Background()

	switch event.Name {
	case types.EventSetUserID:
		c.sendIdentity(ctx, storage.KeyRealtimeSetUserIDFailed, event, storage.KeyCustomerID)
		return
	case types.EventSetEmail:
		c.sendIdentity(ctx, storage.KeyRealtimeSetEmailFailed, event, storage.KeyUserEmail)
		return
	}

	c.retryIdentity(ctx)
	if err := c.send(ctx, event); err != nil {
		c.logger.Warn("event delivery failed", "event", event.Name, "event_id", event.ID, "error", err)
	}
}

// retryIdentity resends pending identity mutations, user id before email.
func (c *Component) retryIdentity(ctx context.Context) {
	if storage.GetBool(ctx, c.store, storage.KeyRealtimeSetUserIDFailed) {
		if customer := storage.GetString(ctx, c.store, storage.KeyCustomerID); customer != "" {
			event := types.SetUserIDEvent(
				storage.GetString(ctx, c.store, storage.KeyInitialVisitorID),
				customer,
				storage.GetString(ctx, c.store, storage.KeyVisitorID),
			)
			c.sendIdentity(ctx, storage.KeyRealtimeSetUserIDFailed, event, storage.KeyCustomerID)
		}
	}
	if storage.GetBool(ctx, c.store, storage.KeyRealtimeSetEmailFailed) {
		if email := storage.GetString(ctx, c.store, storage.KeyUserEmail); email != "" {
			c.sendIdentity(ctx, storage.KeyRealtimeSetEmailFailed, types.SetEmailEvent(email), storage.KeyUserEmail)
		}
	}
}

// sendIdentity sends an identity event and maintains its failure flag.
// The flag clears only if the stored identity still equals the one sent;
// a newer identity stored meanwhile keeps it raised.
func (c *Component) sendIdentity(ctx context.Context, flag storage.Key, event types.Event, identityKey storage.Key) {
	sentIdentity := storage.GetString(ctx, c.store, identityKey)

	if err := c.send(ctx, event); err != nil {
		c.logger.Warn("identity delivery failed, will resend before next event", "event", event.Name, "error", err)
		if err := storage.SetBool(ctx, c.store, flag, true); err != nil {
			c.logger.Error("raise identity retry flag failed", "flag", string(flag), "error", err)
		}
		return
	}

	if storage.GetString(ctx, c.store, identityKey) != sentIdentity {
		return
	}
	if err := c.store.Delete(ctx, flag); err != nil {
		c.logger.Error("clear identity retry flag failed", "flag", string(flag), "error", err)
	}
}

type requestBody struct {
	UUID             string         `json:"uuid"`
	Tenant           int            `json:"tenant"`
	Category         string         `json:"category"`
	Event            string         `json:"event"`
	Origin           string         `json:"origin"`
	Customer         *string        `json:"customer"`
	Visitor          *string        `json:"visitor"`
	Timestamp        string         `json:"timestamp"`
	Context          map[string]any `json:"context"`
	FirstVisitorDate string         `json:"firstVisitorDate"`
}

type responseBody struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

func (c *Component) body(ctx context.Context, event types.Event) (requestBody, error) {
	customer := storage.GetString(ctx, c.store, storage.KeyCustomerID)
	visitor := storage.GetString(ctx, c.store, storage.KeyVisitorID)
	if customer == "" && visitor == "" {
		return requestBody{}, types.ErrNoIdentity
	}

	params := make(map[string]any, len(event.Context))
	for k, v := range event.Context {
		params[k] = v.Any()
	}
	ts := time.UnixMilli(event.Timestamp)
	if event.Timestamp == 0 {
		ts = time.Now()
	}

	body := requestBody{
		UUID:             string(event.ID),
		Tenant:           c.tenant,
		Category:         event.Category,
		Event:            event.Name,
		Origin:           "sdk",
		Timestamp:        ts.UTC().Format(time.RFC3339Nano),
		Context:          params,
		FirstVisitorDate: strconv.FormatInt(c.firstVisit(ctx), 10),
	}
	if customer != "" {
		body.Customer = &customer
	} else {
		body.Visitor = &visitor
	}
	return body, nil
}

// firstVisit returns the install's first visit in unix seconds. New records
// it, so events dropped while offline do not push the date later.
func (c *Component) firstVisit(ctx context.Context) int64 {
	if ts, ok := storage.GetInt(ctx, c.store, storage.KeyFirstVisitTimestamp); ok {
		return ts
	}
	now := time.Now().Unix()
	if err := storage.SetInt(ctx, c.store, storage.KeyFirstVisitTimestamp, now); err != nil {
		c.logger.Warn("record first visit failed", "error", err)
	}
	return now
}

func (c *Component) send(ctx context.Context, event types.Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "realtime.send", trace.WithAttributes(
		attribute.String("event", event.Name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !c.conn.Status(ctx, capability.Connectivity) {
		return fmt.Errorf("device offline")
	}

	body, err := c.body(ctx, event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	url := strings.TrimRight(c.cfg.Gateway, "/") + "/" + reportPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("X-Realtime-Token", c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &types.StatusError{URL: url, Status: resp.StatusCode, Body: string(raw)}
	}

	var out responseBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !out.Status {
		return fmt.Errorf("gateway rejected event: %s", out.Message)
	}
	c.logger.Debug("event delivered", "event", event.Name, "message", out.Message)
	return nil
}
