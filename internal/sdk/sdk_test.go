package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/engage/internal/components/tracker"
	"github.com/solatis/engage/internal/core/storage"
	"github.com/solatis/engage/internal/registration"
	"github.com/solatis/engage/internal/remoteconfig"
	"github.com/solatis/engage/internal/types"
)

const globalDoc = `{
  "general": {"logs_service_endpoint": "https://logs.test"},
  "optitrack": {"event_category_name": "LogEvent"},
  "optipush": {"registration_service_endpoint": "https://register.test"},
  "core_events": {
    "set_user_id_event": {
      "id": 1001, "supportedOnOptitrack": true, "supportedOnRealTime": true,
      "parameters": {
        "originalVisitorId": {"type": "String", "optional": false},
        "userId": {"type": "String", "optional": false},
        "updatedVisitorId": {"type": "String", "optional": false}
      }
    },
    "set_email_event": {
      "id": 1002, "supportedOnOptitrack": true, "supportedOnRealTime": true,
      "parameters": {"email": {"type": "String", "optional": false}}
    }
  }
}`

const tenantDocTmpl = `{
  "enableRealtime": true,
  "realtime": {"realtimeToken": "rt-token", "realtimeGateway": %q},
  "optitrack": {"siteId": 42, "optitrackEndpoint": "https://track.test/"},
  "events": {
    "purchase": {
      "id": 2001, "supportedOnOptitrack": true, "supportedOnRealTime": true,
      "parameters": {"amount": {"type": "Number", "optional": false}}
    }
  }
}`

// host serves both configuration documents and the realtime gateway.
type host struct {
	srv *httptest.Server

	mu       sync.Mutex
	realtime []map[string]any
}

func newHost(t *testing.T) *host {
	t.Helper()
	h := &host{}
	mux := http.NewServeMux()
	mux.HandleFunc("/config/global.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, globalDoc)
	})
	mux.HandleFunc("/config/tok/prod.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, tenantDocTmpl, h.srv.URL+"/rt/")
	})
	mux.HandleFunc("/rt/reportEvent", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		h.realtime = append(h.realtime, body)
		h.mu.Unlock()
		fmt.Fprint(w, `{"status": true, "message": "ok"}`)
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *host) realtimeEvents() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]map[string]any(nil), h.realtime...)
}

// gatedFetcher holds every download until the gate is opened.
type gatedFetcher struct {
	inner remoteconfig.Fetcher
	gate  chan struct{}
}

func (f *gatedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	select {
	case <-f.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.inner.Fetch(ctx, url)
}

// flakyFetcher fails every download until heal is called.
type flakyFetcher struct {
	inner    remoteconfig.Fetcher
	mu       sync.Mutex
	healthy  bool
	failures int
}

func (f *flakyFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	if !f.healthy {
		f.failures++
		f.mu.Unlock()
		return nil, errors.New("configuration host unreachable")
	}
	f.mu.Unlock()
	return f.inner.Fetch(ctx, url)
}

func (f *flakyFetcher) failed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

func (f *flakyFetcher) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = true
}

// flakySender rejects registrations while down and records the rest.
type flakySender struct {
	senderRecorder
	down     atomic.Bool
	attempts atomic.Int32
}

func (s *flakySender) Send(ctx context.Context, in registration.Intent) error {
	s.attempts.Add(1)
	if s.down.Load() {
		return errors.New("registration service unavailable")
	}
	return s.senderRecorder.Send(ctx, in)
}

type trackerRecorder struct {
	mu      sync.Mutex
	entries []tracker.Entry
}

func (r *trackerRecorder) Send(_ context.Context, b tracker.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, b.Entries...)
	return nil
}

func (r *trackerRecorder) all() []tracker.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracker.Entry(nil), r.entries...)
}

type senderRecorder struct {
	mu      sync.Mutex
	intents []registration.Intent
}

func (r *senderRecorder) Send(_ context.Context, in registration.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, in)
	return nil
}

func (r *senderRecorder) all() []registration.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registration.Intent(nil), r.intents...)
}

type fixture struct {
	sdk     *SDK
	host    *host
	gate    chan struct{}
	tracker *trackerRecorder
	sender  *senderRecorder
	store   storage.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, nil)
}

// newFixtureWith builds a fixture whose fetcher and sender may be replaced;
// nil keeps the gated fetcher and the recording sender.
func newFixtureWith(t *testing.T, fetcher remoteconfig.Fetcher, sender registration.Sender) *fixture {
	t.Helper()
	h := newHost(t)
	f := &fixture{
		host:    h,
		gate:    make(chan struct{}),
		tracker: &trackerRecorder{},
		sender:  &senderRecorder{},
		store:   storage.NewMemoryStore(),
	}
	if fetcher == nil {
		fetcher = &gatedFetcher{inner: remoteconfig.HTTPFetcher{Client: h.srv.Client()}, gate: f.gate}
	}
	if sender == nil {
		sender = f.sender
	}
	dir := t.TempDir()
	s, err := New(Options{
		TenantToken:      "tok",
		ConfigName:       "prod",
		GlobalConfigURL:  h.srv.URL + "/config/global.json",
		TenantConfigURL:  h.srv.URL + "/config/{token}/{config}.json",
		DataDir:          dir,
		Storage:          f.store,
		Device:           types.Device{AppNS: "test.app", Platform: "linux", DeviceType: "desktop"},
		HTTPClient:       h.srv.Client(),
		Fetcher:          fetcher,
		TrackerTransport: f.tracker,
		Sender:           sender,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	f.sdk = s
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.sdk.Start(context.Background())
	close(f.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sdk.WaitReady(ctx))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{GlobalConfigURL: "g", TenantConfigURL: "t", DataDir: "d"})
	assert.Error(t, err, "storage required")
	_, err = New(Options{Storage: storage.NewMemoryStore(), DataDir: "d"})
	assert.Error(t, err, "urls required")
	_, err = New(Options{Storage: storage.NewMemoryStore(), GlobalConfigURL: "g", TenantConfigURL: "t"})
	assert.Error(t, err, "data dir required")
}

func TestNew_AssignsVisitorOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	visitor := storage.GetString(ctx, f.store, storage.KeyVisitorID)
	require.Len(t, visitor, 16)
	assert.Equal(t, visitor, storage.GetString(ctx, f.store, storage.KeyInitialVisitorID))
	assert.Equal(t, visitor, f.sdk.device.ID)
}

func TestSDK_BufferedEventsDeliveredOnceInOrder(t *testing.T) {
	f := newFixture(t)

	f.sdk.ReportEvent("purchase", map[string]any{"amount": 1})
	f.sdk.ReportEvent("purchase", map[string]any{"amount": 2})
	assert.False(t, f.sdk.Ready())
	_, err := f.sdk.Configuration()
	assert.ErrorIs(t, err, types.ErrNotConfigured)

	f.start(t)
	assert.True(t, f.sdk.Ready())

	f.sdk.ReportEvent("purchase", map[string]any{"amount": 3})
	f.sdk.ReportEvent("purchase", map[string]any{})
	f.sdk.ReportEvent("unknown_event", nil)
	f.sdk.DispatchNow()
	f.sdk.Flush()

	entries := f.tracker.all()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, "purchase", e.Name)
		assert.Equal(t, float64(i+1), e.Params["amount"])
	}

	rt := f.host.realtimeEvents()
	require.Len(t, rt, 3)
	for i, body := range rt {
		assert.Equal(t, "purchase", body["event"])
		ctxMap := body["context"].(map[string]any)
		assert.Equal(t, float64(i+1), ctxMap["amount"])
	}

	cfg, err := f.sdk.Configuration()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.TenantID)
}

func TestSDK_SetUserIDAndRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sdk.SetUserID("cust-1")
	f.sdk.SetUserID("cust-1")
	f.start(t)
	f.sdk.Flush()

	assert.Equal(t, "cust-1", storage.GetString(ctx, f.store, storage.KeyCustomerID))
	var identity int
	for _, body := range f.host.realtimeEvents() {
		if body["event"] == types.EventSetUserID {
			identity++
		}
	}
	assert.Equal(t, 1, identity, "duplicate user id suppressed")
	assert.Empty(t, f.sender.all(), "no token yet")

	f.sdk.SetDeviceToken("push-token")
	f.sdk.Flush()

	intents := f.sender.all()
	require.NotEmpty(t, intents)
	last := intents[len(intents)-1]
	assert.Equal(t, registration.KindSetUser, last.Kind)
	assert.Equal(t, "cust-1", last.CustomerID)
	assert.Equal(t, "push-token", last.Token)
	assert.True(t, last.IsConversion)
	assert.False(t, storage.GetBool(ctx, f.store, storage.KeyIsFirstConversion))
}

func TestSDK_DeferredRegistrationBeforeConfiguration(t *testing.T) {
	f := newFixture(t)

	f.sdk.SetDeviceToken("push-token")
	f.sdk.OptOut()
	f.sdk.Flush()
	assert.Empty(t, f.sender.all())

	f.start(t)
	f.sdk.Flush()

	kinds := map[registration.Kind]bool{}
	for _, in := range f.sender.all() {
		kinds[in.Kind] = true
	}
	assert.True(t, kinds[registration.KindSetUser])
	assert.True(t, kinds[registration.KindOptOut])
	assert.False(t, storage.GetBool(context.Background(), f.store, storage.KeyOptIn))
}

func TestSDK_SetUserEmail(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.sdk.SetUserEmail("not an email")
	f.sdk.SetUserEmail("a@example.com")
	f.sdk.SetUserEmail("a@example.com")
	f.sdk.Flush()

	var emails []any
	for _, body := range f.host.realtimeEvents() {
		if body["event"] == types.EventSetEmail {
			emails = append(emails, body["context"].(map[string]any)["email"])
		}
	}
	assert.Equal(t, []any{"a@example.com"}, emails)
}

func TestSDK_SignOutUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)

	initial := storage.GetString(ctx, f.store, storage.KeyInitialVisitorID)
	f.sdk.SetUserID("cust-1")
	f.sdk.SignOutUser()
	f.sdk.Flush()

	assert.Empty(t, storage.GetString(ctx, f.store, storage.KeyCustomerID))
	assert.Equal(t, initial, storage.GetString(ctx, f.store, storage.KeyVisitorID))
}

func TestSDK_ScreenVisitReachesTracker(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.sdk.ReportScreenVisit("  ", "ignored", "")
	f.sdk.ReportScreenVisit("/cart", "Cart", "shop")
	f.sdk.DispatchNow()
	f.sdk.Flush()

	entries := f.tracker.all()
	require.Len(t, entries, 1)
	assert.Equal(t, tracker.EntryScreen, entries[0].Kind)
	assert.Equal(t, "/cart", entries[0].Path)
}

func TestSDK_CloseDropsLaterOperations(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sdk.Close(ctx))
	require.NoError(t, f.sdk.Close(ctx))

	f.sdk.ReportEvent("purchase", map[string]any{"amount": 1})
	f.sdk.Flush()
	assert.Empty(t, f.host.realtimeEvents())
}

func TestSDK_ForegroundRecoversFailedBootstrap(t *testing.T) {
	fetcher := &flakyFetcher{}
	sender := &flakySender{}
	sender.down.Store(true)
	f := newFixtureWith(t, fetcher, sender)
	fetcher.inner = remoteconfig.HTTPFetcher{Client: f.host.srv.Client()}

	f.sdk.SetDeviceToken("push-token")
	f.sdk.ReportEvent("purchase", map[string]any{"amount": 7})
	f.sdk.Start(context.Background())
	require.Eventually(t, func() bool { return fetcher.failed() > 0 }, 5*time.Second, 10*time.Millisecond)

	assert.False(t, f.sdk.Ready())
	_, err := f.sdk.Configuration()
	assert.ErrorIs(t, err, types.ErrNotConfigured)

	fetcher.heal()
	f.sdk.Foreground()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sdk.WaitReady(ctx))
	f.sdk.DispatchNow()
	f.sdk.Flush()

	entries := f.tracker.all()
	require.Len(t, entries, 1, "buffered event delivered exactly once to the tracker")
	assert.Equal(t, "purchase", entries[0].Name)
	assert.Equal(t, 7.0, entries[0].Params["amount"])
	rt := f.host.realtimeEvents()
	require.Len(t, rt, 1, "buffered event delivered exactly once to realtime")
	assert.Equal(t, "purchase", rt[0]["event"])

	// The deferred registration was attempted on configure and failed.
	assert.Positive(t, sender.attempts.Load())
	assert.Empty(t, sender.all())

	sender.down.Store(false)
	f.sdk.Foreground()
	f.sdk.Flush()

	intents := sender.all()
	require.Len(t, intents, 1, "failed registration retried on foreground")
	assert.Equal(t, registration.KindSetUser, intents[0].Kind)
	assert.Equal(t, "push-token", intents[0].Token)

	f.sdk.DispatchNow()
	f.sdk.Flush()
	assert.Len(t, f.tracker.all(), 1)
	assert.Len(t, f.host.realtimeEvents(), 1)
}
