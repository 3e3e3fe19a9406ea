// Package capability answers "is this device able to do X" questions.
//
// A Monitor caches one boolean per Requirement. Concurrent requests for an
// uncached requirement are coalesced: the first one starts a probe, later
// ones join its waiter list, and every waiter is resolved exactly once with
// the same value when the probe finishes.
//
// Probes run with a timeout. A probe that errors or times out resolves its
// waiters with false and is not cached, so the next request probes again.
// All monitor state lives on a single queue.Serial; callbacks run there too
// and must not block.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solatis/engage/internal/queue"
	"github.com/solatis/engage/internal/types"
)

// Requirement names a device capability.
type Requirement int

const (
	Connectivity Requirement = iota
	AdvertisingPermission
	NotificationPermission
)

func (r Requirement) String() string {
	switch r {
	case Connectivity:
		return "connectivity"
	case AdvertisingPermission:
		return "advertising_permission"
	case NotificationPermission:
		return "notification_permission"
	default:
		return fmt.Sprintf("requirement(%d)", int(r))
	}
}

// DefaultProbeTimeout bounds a probe when none is configured.
const DefaultProbeTimeout = 10 * time.Second

// Prober performs the underlying platform check for one requirement.
type Prober interface {
	Probe(ctx context.Context, req Requirement) (bool, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, req Requirement) (bool, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, req Requirement) (bool, error) {
	return f(ctx, req)
}

// Static returns a Prober that always answers v.
func Static(v bool) Prober {
	return ProberFunc(func(context.Context, Requirement) (bool, error) { return v, nil })
}

// Monitor is the coalescing, caching capability checker.
type Monitor struct {
	probers map[Requirement]Prober
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	q      *queue.Serial
	wg     sync.WaitGroup

	// owned by q
	closed   bool
	cache    map[Requirement]bool
	waiters  map[Requirement][]func(bool)
	inflight map[Requirement]bool
}

// NewMonitor creates a monitor. Requirements without a prober resolve false.
// Non-positive timeout selects DefaultProbeTimeout.
func NewMonitor(probers map[Requirement]Prober, timeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := make(map[Requirement]Prober, len(probers))
	for k, v := range probers {
		p[k] = v
	}
	return &Monitor{
		probers:  p,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		q:        queue.NewSerial("capability", logger),
		cache:    make(map[Requirement]bool),
		waiters:  make(map[Requirement][]func(bool)),
		inflight: make(map[Requirement]bool),
	}
}

// GetStatus resolves req and invokes cb with the result on the monitor queue.
func (m *Monitor) GetStatus(req Requirement, cb func(bool)) {
	m.q.Submit(func() {
		if v, ok := m.cache[req]; ok {
			cb(v)
			return
		}
		if m.closed {
			cb(false)
			return
		}
		m.waiters[req] = append(m.waiters[req], cb)
		if m.inflight[req] {
			return
		}
		m.inflight[req] = true
		m.wg.Add(1)
		go m.probe(req)
	})
}

// GetStatuses resolves every requirement in reqs and invokes cb once with
// all results.
func (m *Monitor) GetStatuses(reqs []Requirement, cb func(map[Requirement]bool)) {
	if len(reqs) == 0 {
		m.q.Submit(func() { cb(map[Requirement]bool{}) })
		return
	}
	results := make(map[Requirement]bool, len(reqs))
	remaining := len(reqs)
	for _, req := range reqs {
		m.GetStatus(req, func(v bool) {
			// Callbacks all run on m.q, so the barrier needs no lock.
			results[req] = v
			remaining--
			if remaining == 0 {
				cb(results)
			}
		})
	}
}

// Status blocks until req is resolved or ctx is done.
// It must not be called from a monitor callback.
func (m *Monitor) Status(ctx context.Context, req Requirement) bool {
	ch := make(chan bool, 1)
	m.GetStatus(req, func(v bool) { ch <- v })
	select {
	case v := <-ch:
		return v
	case <-ctx.Done():
		return false
	}
}

// Invalidate drops the cached status of req.
func (m *Monitor) Invalidate(req Requirement) {
	m.q.Submit(func() { delete(m.cache, req) })
}

// Close cancels running probes and stops the monitor.
// Pending waiters of cancelled probes are resolved with false.
func (m *Monitor) Close() {
	m.cancel()
	m.q.Submit(func() { m.closed = true })
	m.q.Flush()
	m.wg.Wait()
	m.q.Close()
}

type probeResult struct {
	ok  bool
	err error
}

func (m *Monitor) probe(req Requirement) {
	defer m.wg.Done()

	prober, ok := m.probers[req]
	if !ok {
		m.q.Submit(func() {
			m.resolve(req, probeResult{err: fmt.Errorf("%w: no prober for %s", types.ErrCapabilityProbe, req)})
		})
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	ch := make(chan probeResult, 1)
	go func() {
		ok, err := prober.Probe(ctx, req)
		ch <- probeResult{ok: ok, err: err}
	}()

	var r probeResult
	select {
	case r = <-ch:
		if r.err != nil {
			r.err = fmt.Errorf("%w: %s: %v", types.ErrCapabilityProbe, req, r.err)
		}
	case <-ctx.Done():
		r = probeResult{err: fmt.Errorf("%w: %s: %v", types.ErrCapabilityProbe, req, ctx.Err())}
	}
	m.q.Submit(func() { m.resolve(req, r) })
}

// resolve runs on m.q.
func (m *Monitor) resolve(req Requirement, r probeResult) {
	m.inflight[req] = false
	value := r.ok
	if r.err != nil {
		m.logger.Warn("capability probe failed", "requirement", req.String(), "error", r.err)
		value = false
	} else {
		m.cache[req] = value
	}

	waiters := m.waiters[req]
	delete(m.waiters, req)
	for _, cb := range waiters {
		cb(value)
	}
}
