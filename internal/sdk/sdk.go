// Package sdk is the producer-facing facade. It owns the pipeline, the
// configuration bootstrap, the capability monitor and the backend components,
// and wires them together once the remote configuration arrives.
//
// Every producer call is non-blocking. Calls are queued on one serial
// "pipeline" queue, so operations reach the components in call order whether
// they were made before or after the configuration arrived. Failures are
// logged, never returned.
package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync/atomic"
	"time"

	"github.com/solatis/engage/internal/capability"
	"github.com/solatis/engage/internal/components/push"
	"github.com/solatis/engage/internal/components/realtime"
	"github.com/solatis/engage/internal/components/tracker"
	"github.com/solatis/engage/internal/core/storage"
	"github.com/solatis/engage/internal/pipeline"
	"github.com/solatis/engage/internal/queue"
	"github.com/solatis/engage/internal/registration"
	"github.com/solatis/engage/internal/remoteconfig"
	"github.com/solatis/engage/internal/types"
)

// Defaults applied to zero Options fields.
const (
	DefaultBufferCapacity = 100
	DefaultProbeTimeout   = capability.DefaultProbeTimeout
	DefaultRequestTimeout = 30 * time.Second
)

// Options configures an SDK instance.
type Options struct {
	TenantToken     string
	ConfigName      string
	GlobalConfigURL string
	TenantConfigURL string

	DataDir       string
	SharedDataDir string
	Storage       storage.Storage
	Device        types.Device

	BufferCapacity int
	TrackerBatch   int
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration

	// ConnectivityURL is probed with HEAD requests. Empty means always online.
	ConnectivityURL string
	HTTPClient      *http.Client

	// Overrides for the network collaborators; nil selects the HTTP ones.
	Fetcher          remoteconfig.Fetcher
	Probers          map[capability.Requirement]capability.Prober
	TrackerTransport tracker.Transport
	Sender           registration.Sender

	Logger *slog.Logger
}

// SDK is a running instance.
type SDK struct {
	opts      Options
	logger    *slog.Logger
	store     storage.Storage
	device    types.Device
	client    *http.Client
	monitor   *capability.Monitor
	bootstrap *remoteconfig.Bootstrap
	chain     *pipeline.Chain
	q         *queue.Serial

	ctx    context.Context
	cancel context.CancelFunc

	ready     atomic.Bool
	readyCh   chan struct{}
	started   atomic.Bool
	closeDone chan struct{}
	closing   atomic.Bool

	// Owned by q.
	configured bool
	tracker    *tracker.Component
	realtime   *realtime.Component
	machine    *registration.Machine
	deferred   []registration.Kind
}

// New validates opts, establishes the install's visitor identity and
// returns an SDK that buffers operations until Start delivers a configuration.
func New(opts Options) (*SDK, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if opts.GlobalConfigURL == "" || opts.TenantConfigURL == "" {
		return nil, fmt.Errorf("configuration urls cannot be empty")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data dir cannot be empty")
	}
	if opts.SharedDataDir == "" {
		opts.SharedDataDir = opts.DataDir
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = DefaultBufferCapacity
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.RequestTimeout}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SDK{
		opts:      opts,
		logger:    logger,
		store:     opts.Storage,
		device:    opts.Device,
		client:    client,
		ctx:       ctx,
		cancel:    cancel,
		readyCh:   make(chan struct{}),
		closeDone: make(chan struct{}),
	}

	if err := s.ensureVisitor(); err != nil {
		cancel()
		return nil, err
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = remoteconfig.HTTPFetcher{Client: client}
	}
	bootstrap, err := remoteconfig.NewBootstrap(fetcher,
		remoteconfig.ExpandURL(opts.GlobalConfigURL, opts.TenantToken, opts.ConfigName),
		remoteconfig.ExpandURL(opts.TenantConfigURL, opts.TenantToken, opts.ConfigName),
		logger)
	if err != nil {
		cancel()
		return nil, err
	}
	s.bootstrap = bootstrap

	chain, err := pipeline.NewChain(pipeline.NewInMemoryBuffer(opts.BufferCapacity, logger), logger)
	if err != nil {
		cancel()
		return nil, err
	}
	s.chain = chain

	s.monitor = capability.NewMonitor(s.probers(), opts.ProbeTimeout, logger)
	s.q = queue.NewSerial("pipeline", logger)
	return s, nil
}

// ensureVisitor assigns a visitor id on first launch. The device id
// defaults to it so registrations stay stable across restarts.
func (s *SDK) ensureVisitor() error {
	ctx := context.Background()
	visitor := storage.GetString(ctx, s.store, storage.KeyVisitorID)
	if visitor == "" {
		visitor = types.NewVisitorID()
		if err := s.store.Set(ctx, storage.KeyVisitorID, visitor); err != nil {
			return fmt.Errorf("store visitor id: %w", err)
		}
		if err := s.store.Set(ctx, storage.KeyInitialVisitorID, visitor); err != nil {
			return fmt.Errorf("store initial visitor id: %w", err)
		}
		s.logger.Info("new install", "visitor_id", visitor)
	}
	if s.device.ID == "" {
		s.device.ID = visitor
	}
	return nil
}

func (s *SDK) probers() map[capability.Requirement]capability.Prober {
	probers := make(map[capability.Requirement]capability.Prober, 3)
	for req, p := range s.opts.Probers {
		probers[req] = p
	}
	if _, ok := probers[capability.Connectivity]; !ok {
		if s.opts.ConnectivityURL != "" {
			probers[capability.Connectivity] = capability.HTTPProber{Client: s.client, URL: s.opts.ConnectivityURL}
		} else {
			probers[capability.Connectivity] = capability.Static(true)
		}
	}
	return probers
}

// Start begins the configuration bootstrap. It returns at once; Ready
// reports when the configuration has been applied.
func (s *SDK) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("sdk already started")
		return
	}
	s.bootstrap.Start(ctx, s.onBootstrap)
}

// restart reruns the bootstrap if no configuration has been applied yet.
func (s *SDK) restart() {
	if s.ready.Load() || !s.started.Load() {
		return
	}
	s.bootstrap.Start(s.ctx, s.onBootstrap)
}

// onBootstrap hands a configuration to q. On failure operations stay
// buffered until Foreground reruns the bootstrap.
func (s *SDK) onBootstrap(cfg types.Configuration, err error) {
	if err != nil {
		return
	}
	s.q.Submit(func() { s.configure(cfg) })
}

// configure builds the components and attaches the pipeline. Runs on q.
func (s *SDK) configure(cfg types.Configuration) {
	if s.configured {
		return
	}
	s.configured = true

	var components []pipeline.Component
	if cfg.Realtime.Enabled && cfg.Realtime.Gateway != "" {
		rt, err := realtime.New(realtime.Config{
			Realtime:       cfg.Realtime,
			TenantID:       cfg.TenantID,
			Events:         cfg.Events,
			Storage:        s.store,
			Connectivity:   s.monitor,
			Client:         s.client,
			RequestTimeout: s.opts.RequestTimeout,
			Logger:         s.logger,
		})
		if err != nil {
			s.logger.Error("realtime component disabled", "error", err)
		} else {
			s.realtime = rt
			components = append(components, rt)
		}
	}

	if cfg.Tracker.Endpoint != "" || s.opts.TrackerTransport != nil {
		if tr, err := s.newTracker(cfg); err != nil {
			s.logger.Error("tracker component disabled", "error", err)
		} else {
			s.tracker = tr
			components = append(components, tr)
		}
	}

	if cfg.Registration.Endpoint != "" || s.opts.Sender != nil {
		if m, err := s.newMachine(cfg); err != nil {
			s.logger.Error("push registration disabled", "error", err)
		} else if pc, err := push.New(m, s.logger); err != nil {
			s.logger.Error("push registration disabled", "error", err)
			m.Close()
		} else {
			s.machine = m
			components = append(components, pc)
		}
	}

	stages := []pipeline.Stage{
		pipeline.NewNormalizer(cfg),
		pipeline.NewDecorator(cfg, s.device),
		pipeline.NewValidator(cfg),
		pipeline.NewDispatcher(s.logger, components...),
	}
	if err := s.chain.Attach(s.ctx, stages...); err != nil {
		s.logger.Error("attach pipeline failed", "error", err)
		return
	}

	if s.machine != nil {
		s.machine.RetryFailedOperationsIfExist()
		for _, k := range s.deferred {
			s.register(k)
		}
	}
	s.deferred = nil

	s.ready.Store(true)
	close(s.readyCh)
	s.logger.Info("sdk ready", "components", len(components))
}

func (s *SDK) newTracker(cfg types.Configuration) (*tracker.Component, error) {
	transport := s.opts.TrackerTransport
	if transport == nil {
		transport = tracker.HTTPTransport{Client: s.client, Endpoint: cfg.Tracker.Endpoint}
	}
	snaps, err := tracker.NewSnapshots(s.opts.DataDir)
	if err != nil {
		return nil, err
	}
	return tracker.New(tracker.Config{
		Tracker:        cfg.Tracker,
		Events:         cfg.Events,
		Transport:      transport,
		Snapshots:      snaps,
		BatchLimit:     s.opts.TrackerBatch,
		RequestTimeout: s.opts.RequestTimeout,
		Logger:         s.logger,
	})
}

func (s *SDK) newMachine(cfg types.Configuration) (*registration.Machine, error) {
	files, err := registration.NewFileStore(s.opts.SharedDataDir)
	if err != nil {
		return nil, err
	}
	sender := s.opts.Sender
	if sender == nil {
		sender = registration.HTTPSender{Client: s.client, Endpoint: cfg.Registration.Endpoint}
	}
	return registration.NewMachine(registration.Config{
		Files:          files,
		Sender:         sender,
		Storage:        s.store,
		Device:         s.device,
		TenantID:       cfg.TenantID,
		RequestTimeout: s.opts.RequestTimeout,
		Logger:         s.logger,
	})
}

// submit queues fn on the pipeline queue.
func (s *SDK) submit(what string, fn func()) {
	if !s.q.Submit(fn) {
		s.logger.Warn("sdk closed, operation dropped", "operation", what)
	}
}

// execute queues op for the pipeline.
func (s *SDK) execute(op types.Operation) {
	s.submit(op.Kind.String(), func() { s.run(op) })
}

// run executes op on the chain. Runs on q. The chain logs drops itself.
func (s *SDK) run(op types.Operation) {
	_ = s.chain.Execute(s.ctx, op)
}

// ReportEvent reports a custom event. Unsupported parameter values drop it.
func (s *SDK) ReportEvent(name string, params map[string]any) {
	ctx, err := types.ContextOf(params)
	if err != nil {
		s.logger.Warn("event dropped", "event", name, "error", err)
		return
	}
	s.execute(types.Report(types.NewEvent(name, types.CategoryCustom, ctx)))
}

// ReportScreenVisit reports a screen view. An empty path drops it.
func (s *SDK) ReportScreenVisit(path, title, category string) {
	path = strings.TrimSpace(path)
	if path == "" {
		s.logger.Warn("screen visit dropped", "error", "empty screen path")
		return
	}
	s.execute(types.ReportScreen(types.Screen{
		Path:     path,
		Title:    strings.TrimSpace(title),
		Category: strings.TrimSpace(category),
	}))
}

// SetUserID records the customer id. Repeating the current id is a no-op.
// The first customer id on a visitor-only install marks a conversion.
func (s *SDK) SetUserID(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		s.logger.Warn("user id dropped", "error", "empty user id")
		return
	}
	s.submit("set_user_id", func() {
		ctx := context.Background()
		current := storage.GetString(ctx, s.store, storage.KeyCustomerID)
		if current == id {
			s.logger.Debug("user id unchanged", "user_id", id)
			return
		}
		if err := s.store.Set(ctx, storage.KeyCustomerID, id); err != nil {
			s.logger.Error("store user id failed", "error", err)
			return
		}
		if current == "" {
			if err := storage.SetBool(ctx, s.store, storage.KeyIsFirstConversion, true); err != nil {
				s.logger.Error("store conversion flag failed", "error", err)
			}
		}

		visitor := storage.GetString(ctx, s.store, storage.KeyVisitorID)
		initial := storage.GetString(ctx, s.store, storage.KeyInitialVisitorID)
		s.run(types.Report(types.SetUserIDEvent(initial, id, visitor)))
		s.run(types.SetUserID(id))
	})
}

// SetUserEmail records the user's email. Invalid or unchanged emails are dropped.
func (s *SDK) SetUserEmail(email string) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		s.logger.Warn("email dropped", "error", err)
		return
	}
	s.submit("set_user_email", func() {
		ctx := context.Background()
		if storage.GetString(ctx, s.store, storage.KeyUserEmail) == email {
			s.logger.Debug("email unchanged")
			return
		}
		if err := s.store.Set(ctx, storage.KeyUserEmail, email); err != nil {
			s.logger.Error("store email failed", "error", err)
			return
		}
		s.run(types.Report(types.SetEmailEvent(email)))
	})
}

// SignOutUser forgets the customer id and reverts to the initial visitor id.
func (s *SDK) SignOutUser() {
	s.submit("sign_out_user", func() {
		ctx := context.Background()
		if storage.GetString(ctx, s.store, storage.KeyCustomerID) == "" {
			return
		}
		if err := s.store.Delete(ctx, storage.KeyCustomerID); err != nil {
			s.logger.Error("clear user id failed", "error", err)
			return
		}
		initial := storage.GetString(ctx, s.store, storage.KeyInitialVisitorID)
		if err := s.store.Set(ctx, storage.KeyVisitorID, initial); err != nil {
			s.logger.Error("restore visitor id failed", "error", err)
		}
		s.register(registration.KindSetUser)
	})
}

// DispatchNow asks batching components to send what they hold.
func (s *SDK) DispatchNow() {
	s.execute(types.DispatchNow())
}

// SetDeviceToken stores the push token and registers it.
func (s *SDK) SetDeviceToken(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		s.logger.Warn("device token dropped", "error", "empty token")
		return
	}
	s.submit("set_device_token", func() {
		ctx := context.Background()
		if storage.GetString(ctx, s.store, storage.KeyDeviceToken) == token {
			return
		}
		if err := s.store.Set(ctx, storage.KeyDeviceToken, token); err != nil {
			s.logger.Error("store device token failed", "error", err)
			return
		}
		s.register(registration.KindSetUser)
	})
}

// Unregister removes the device token from the push service.
func (s *SDK) Unregister() {
	s.submit("unregister", func() { s.register(registration.KindUnregister) })
}

// OptIn re-enables push delivery.
func (s *SDK) OptIn() {
	s.submit("opt_in", func() { s.register(registration.KindOptIn) })
}

// OptOut disables push delivery.
func (s *SDK) OptOut() {
	s.submit("opt_out", func() { s.register(registration.KindOptOut) })
}

// register hands k to the machine, or defers it until configuration
// brings one up. Runs on q.
func (s *SDK) register(k registration.Kind) {
	if s.machine == nil {
		if s.configured {
			s.logger.Debug("push registration not configured", "kind", k.String())
			return
		}
		for _, d := range s.deferred {
			if d == k {
				return
			}
		}
		s.deferred = append(s.deferred, k)
		return
	}

	var err error
	switch k {
	case registration.KindSetUser:
		err = s.machine.Register()
	case registration.KindUnregister:
		err = s.machine.Unregister()
	case registration.KindOptIn:
		err = s.machine.OptIn()
	case registration.KindOptOut:
		err = s.machine.OptOut()
	}
	if err != nil {
		s.logger.Debug("registration not submitted", "kind", k.String(), "error", err)
	}
}

// Foreground handles the host returning to the foreground: connectivity is
// re-probed, failed registrations are retried and the tracker batch is sent.
func (s *SDK) Foreground() {
	s.monitor.Invalidate(capability.Connectivity)
	s.restart()
	s.submit("foreground", func() {
		if s.machine != nil {
			s.machine.RetryFailedOperationsIfExist()
		}
		if s.tracker != nil {
			s.tracker.Dispatch()
		}
	})
}

// Ready reports whether the configuration has been applied.
func (s *SDK) Ready() bool { return s.ready.Load() }

// WaitReady blocks until Ready or ctx is done.
func (s *SDK) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Configuration returns the applied configuration, or types.ErrNotConfigured.
func (s *SDK) Configuration() (types.Configuration, error) {
	return s.bootstrap.Configuration()
}

// Flush waits until every operation submitted so far has been handed to the
// components and the components have finished with it.
func (s *SDK) Flush() {
	s.q.Flush()

	var (
		tr *tracker.Component
		rt *realtime.Component
		m  *registration.Machine
	)
	done := make(chan struct{})
	if !s.q.Submit(func() {
		tr, rt, m = s.tracker, s.realtime, s.machine
		close(done)
	}) {
		return
	}
	<-done

	if rt != nil {
		rt.Flush()
	}
	if tr != nil {
		tr.Flush()
	}
	if m != nil {
		m.Flush()
	}
}

// Close drains queued operations and stops every component. It returns
// ctx.Err() if ctx ends first; shutdown then continues in the background.
func (s *SDK) Close(ctx context.Context) error {
	if s.closing.CompareAndSwap(false, true) {
		go s.shutdown()
	}
	select {
	case <-s.closeDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SDK) shutdown() {
	defer close(s.closeDone)

	s.q.Close()
	// q is closed; its fields are no longer written.
	if s.realtime != nil {
		s.realtime.Close()
	}
	if s.tracker != nil {
		s.tracker.Close()
	}
	if s.machine != nil {
		s.machine.Close()
	}
	s.monitor.Close()
	s.cancel()
	s.logger.Info("sdk closed")
}
