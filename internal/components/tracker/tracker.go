// Package tracker batches reports for the analytics tracker.
//
// Reports accumulate until DispatchNow or until the batch reaches its limit.
// The pending batch is snapshotted after every change so a restart resumes
// it instead of losing it.
//
// The pending batch is capped at MaxPending entries; past the cap the oldest
// entries are dropped. After a failed dispatch, reaching the batch limit no
// longer dispatches until a backoff elapses. DispatchNow always tries.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solatis/engage/internal/queue"
	"github.com/solatis/engage/internal/types"
)

// Name is the component name used in logs.
const Name = "tracker"

// DefaultBatchLimit is the number of entries that triggers a dispatch.
const DefaultBatchLimit = 100

// DefaultMaxPending caps the pending batch while the tracker is unreachable.
const DefaultMaxPending = 1000

// Backoff bounds for limit-triggered dispatches after a failure.
const (
	minRetryBackoff = 5 * time.Second
	maxRetryBackoff = 5 * time.Minute
)

// EntryKind tags a batch entry.
type EntryKind string

const (
	EntryEvent  EntryKind = "event"
	EntryUser   EntryKind = "user"
	EntryScreen EntryKind = "screen"
)

// Entry is one tracked item.
type Entry struct {
	Kind      EntryKind      `json:"kind" msgpack:"kind"`
	EventID   int            `json:"event_id,omitempty" msgpack:"event_id,omitempty"`
	Name      string         `json:"name,omitempty" msgpack:"name,omitempty"`
	Params    map[string]any `json:"params,omitempty" msgpack:"params,omitempty"`
	UserID    string         `json:"user_id,omitempty" msgpack:"user_id,omitempty"`
	Path      string         `json:"path,omitempty" msgpack:"path,omitempty"`
	Title     string         `json:"title,omitempty" msgpack:"title,omitempty"`
	Category  string         `json:"category,omitempty" msgpack:"category,omitempty"`
	Timestamp int64          `json:"timestamp" msgpack:"timestamp"`
}

// Batch is what a Transport delivers.
type Batch struct {
	SiteID   int     `json:"site_id"`
	Category string  `json:"category"`
	Entries  []Entry `json:"entries"`
}

// Transport delivers a batch to the tracker.
type Transport interface {
	Send(ctx context.Context, batch Batch) error
}

// Config carries the component's collaborators.
type Config struct {
	Tracker        types.TrackerConfig
	Events         map[string]types.EventsConfig
	Transport      Transport
	Snapshots      *Snapshots
	BatchLimit     int
	// MaxPending defaults to DefaultMaxPending and is never below BatchLimit.
	MaxPending     int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Component is the batched tracker backend.
type Component struct {
	cfg        types.TrackerConfig
	events     map[string]types.EventsConfig
	transport  Transport
	snapshots  *Snapshots
	limit      int
	maxPending int
	timeout    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
	q          *queue.Serial
	now        func() time.Time

	// Owned by q.
	pending  []Entry
	failures int
	retryAt  time.Time
}

// New creates the component and restores any batch left by an earlier run.
func New(cfg Config) (*Component, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if maxPending < limit {
		maxPending = limit
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Component{
		cfg:        cfg.Tracker,
		events:     cfg.Events,
		transport:  cfg.Transport,
		snapshots:  cfg.Snapshots,
		limit:      limit,
		maxPending: maxPending,
		timeout:    timeout,
		logger:     logger.With("component", Name),
		tracer:     otel.Tracer("github.com/solatis/engage/internal/components/tracker"),
		q:          queue.NewSerial(Name, logger),
		now:        time.Now,
	}

	if c.snapshots != nil {
		restored, err := c.snapshots.Load()
		if err != nil {
			c.logger.Error("discarding unreadable tracker snapshot", "error", err)
			if derr := c.snapshots.Remove(); derr != nil {
				c.logger.Error("remove tracker snapshot failed", "error", derr)
			}
		}
		if len(restored) > 0 {
			c.logger.Info("restored pending tracker batch", "entries", len(restored))
		}
		c.pending = c.trim(c.encodable(restored))
	}
	return c, nil
}

// Name implements pipeline.Component.
func (c *Component) Name() string { return Name }

// Handle implements pipeline.Component.
func (c *Component) Handle(_ context.Context, op types.Operation) error {
	var entry Entry
	switch op.Kind {
	case types.OpReport:
		ec, ok := c.events[op.Event.Name]
		if !ok || !ec.SupportedOnTracker {
			return nil
		}
		params := make(map[string]any, len(op.Event.Context))
		for k, v := range op.Event.Context {
			params[k] = v.Any()
		}
		entry = Entry{
			Kind:      EntryEvent,
			EventID:   ec.ID,
			Name:      op.Event.Name,
			Params:    params,
			Timestamp: op.Event.Timestamp,
		}
	case types.OpSetUserID:
		entry = Entry{Kind: EntryUser, UserID: op.UserID, Timestamp: time.Now().UnixMilli()}
	case types.OpReportScreen:
		entry = Entry{
			Kind:      EntryScreen,
			Path:      op.Screen.Path,
			Title:     op.Screen.Title,
			Category:  op.Screen.Category,
			Timestamp: time.Now().UnixMilli(),
		}
	case types.OpDispatchNow:
		if !c.q.Submit(c.dispatch) {
			return fmt.Errorf("tracker component closed")
		}
		return nil
	default:
		return nil
	}

	if !c.q.Submit(func() { c.add(entry) }) {
		return fmt.Errorf("tracker component closed")
	}
	return nil
}

// Dispatch sends the pending batch without going through the pipeline.
func (c *Component) Dispatch() { c.q.Submit(c.dispatch) }

// Pending returns a copy of the entries not yet delivered.
func (c *Component) Pending() []Entry {
	var out []Entry
	done := make(chan struct{})
	if !c.q.Submit(func() {
		out = append([]Entry(nil), c.pending...)
		close(done)
	}) {
		return nil
	}
	<-done
	return out
}

// Flush waits for queued work.
func (c *Component) Flush() { c.q.Flush() }

// Close stops the queue. The pending batch stays in the snapshot.
func (c *Component) Close() { c.q.Close() }

func (c *Component) add(e Entry) {
	if err := checkEncodable(e); err != nil {
		c.logger.Warn("tracker entry dropped", "name", e.Name, "error", err)
		return
	}
	c.pending = c.trim(append(c.pending, e))
	c.persist()
	if len(c.pending) >= c.limit && !c.now().Before(c.retryAt) {
		c.dispatch()
	}
}

// trim drops the oldest entries beyond the cap.
func (c *Component) trim(entries []Entry) []Entry {
	if over := len(entries) - c.maxPending; over > 0 {
		c.logger.Warn("tracker batch full, oldest entries dropped", "dropped", over)
		entries = append(entries[:0:0], entries[over:]...)
	}
	return entries
}

// encodable returns entries without the ones the transport cannot encode.
func (c *Component) encodable(entries []Entry) []Entry {
	kept := entries[:0:0]
	for _, e := range entries {
		if err := checkEncodable(e); err != nil {
			c.logger.Warn("tracker entry dropped", "name", e.Name, "error", err)
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// checkEncodable rejects entries json cannot carry, such as NaN parameters.
func checkEncodable(e Entry) error {
	if _, err := json.Marshal(e); err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return nil
}

// dispatch runs on c.q.
func (c *Component) dispatch() {
	if kept := c.encodable(c.pending); len(kept) != len(c.pending) {
		c.pending = kept
		c.persist()
	}
	if len(c.pending) == 0 {
		return
	}
	batch := Batch{
		SiteID:   c.cfg.SiteID,
		Category: c.cfg.CategoryName,
		Entries:  append([]Entry(nil), c.pending...),
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "tracker.dispatch", trace.WithAttributes(
		attribute.Int("entries", len(batch.Entries)),
	))
	defer span.End()

	if err := c.transport.Send(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failures++
		backoff := minRetryBackoff << min(c.failures-1, 6)
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
		c.retryAt = c.now().Add(backoff)
		c.logger.Warn("tracker dispatch failed, batch kept",
			"entries", len(batch.Entries), "retry_in", backoff, "error", err)
		return
	}

	c.failures = 0
	c.retryAt = time.Time{}
	c.pending = c.pending[:0]
	c.persist()
	c.logger.Debug("tracker batch dispatched", "entries", len(batch.Entries))
}

func (c *Component) persist() {
	if c.snapshots == nil {
		return
	}
	if err := c.snapshots.Save(c.pending); err != nil {
		c.logger.Error("save tracker snapshot failed", "error", err)
	}
}
