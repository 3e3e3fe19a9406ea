package remoteconfig

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/engage/internal/types"
)

const globalJSON = `{
  "general": {"logs_service_endpoint": "https://logs.example.com"},
  "optitrack": {"event_category_name": "LogEvent"},
  "optipush": {"registration_service_endpoint": "https://register.example.com"},
  "core_events": {
    "set_user_id_event": {
      "id": 1001, "supportedOnOptitrack": true, "supportedOnRealTime": true,
      "parameters": {"userId": {"type": "String", "optional": false}}
    },
    "x": {
      "id": 1, "supportedOnOptitrack": true, "supportedOnRealTime": false,
      "parameters": {"a": {"type": "Number", "optional": true}}
    }
  }
}`

const tenantJSON = `{
  "enableRealtime": true,
  "realtime": {"realtimeToken": "rt-token", "realtimeGateway": "https://rt.example.com/"},
  "optitrack": {"siteId": 42, "optitrackEndpoint": "https://track.example.com/"},
  "events": {
    "x": {"id": 2, "parameters": {"b": {"type": "String", "optional": false}}},
    "purchase": {
      "id": 2001, "supportedOnOptitrack": true, "supportedOnRealTime": true,
      "parameters": {"amount": {"type": "Number", "optional": false}}
    }
  }
}`

// mapFetcher serves documents from memory.
type mapFetcher struct {
	docs  map[string]string
	errs  map[string]error
	calls atomic.Int32
}

func (f *mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	doc, ok := f.docs[url]
	if !ok {
		return nil, types.ErrDocumentMissing
	}
	return []byte(doc), nil
}

func newFetcher() *mapFetcher {
	return &mapFetcher{docs: map[string]string{"global": globalJSON, "tenant": tenantJSON}}
}

func TestNewBootstrap_Validation(t *testing.T) {
	_, err := NewBootstrap(nil, "g", "t", nil)
	assert.Error(t, err)
	_, err = NewBootstrap(newFetcher(), "", "t", nil)
	assert.Error(t, err)
	_, err = NewBootstrap(newFetcher(), "g", "", nil)
	assert.Error(t, err)
}

func TestBootstrap_Success(t *testing.T) {
	b, err := NewBootstrap(newFetcher(), "global", "tenant", nil)
	require.NoError(t, err)

	_, err = b.Configuration()
	assert.ErrorIs(t, err, types.ErrNotConfigured)

	var seen *types.Configuration
	cfg, err := b.Run(context.Background(), func(c types.Configuration, err error) {
		require.NoError(t, err)
		got, cerr := b.Configuration()
		require.NoError(t, cerr)
		seen = &got
	})
	require.NoError(t, err)
	require.NotNil(t, seen)

	assert.Equal(t, 42, cfg.TenantID)
	assert.Equal(t, "https://logs.example.com", cfg.LogEndpoint)
	assert.Equal(t, types.RealtimeConfig{Enabled: true, Token: "rt-token", Gateway: "https://rt.example.com/"}, cfg.Realtime)
	assert.Equal(t, types.TrackerConfig{SiteID: 42, Endpoint: "https://track.example.com/", CategoryName: "LogEvent"}, cfg.Tracker)
	assert.Equal(t, "https://register.example.com", cfg.Registration.Endpoint)
	assert.Len(t, cfg.Events, 3)
	assert.Contains(t, cfg.Events, "set_user_id_event")
	assert.Contains(t, cfg.Events, "purchase")
}

func TestBootstrap_TenantWinsOnCollision(t *testing.T) {
	b, err := NewBootstrap(newFetcher(), "global", "tenant", nil)
	require.NoError(t, err)
	cfg, err := b.Run(context.Background(), nil)
	require.NoError(t, err)

	x := cfg.Events["x"]
	assert.Equal(t, 2, x.ID, "tenant id overrides global")
	assert.True(t, x.SupportedOnTracker, "global-only field kept")
	assert.Equal(t, types.ParamNumber, x.Parameters["a"].Type)
	assert.Equal(t, types.ParamString, x.Parameters["b"].Type)
	assert.True(t, x.Parameters["b"].Mandatory())
}

func TestBootstrap_Atomicity(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *mapFetcher
		wantErr error
	}{
		{
			name:    "global missing",
			fetcher: &mapFetcher{docs: map[string]string{"tenant": tenantJSON}},
			wantErr: types.ErrDocumentMissing,
		},
		{
			name:    "tenant missing",
			fetcher: &mapFetcher{docs: map[string]string{"global": globalJSON}},
			wantErr: types.ErrDocumentMissing,
		},
		{
			name:    "global undecodable",
			fetcher: &mapFetcher{docs: map[string]string{"global": "{", "tenant": tenantJSON}},
			wantErr: types.ErrDocumentDecode,
		},
		{
			name:    "tenant lacks events",
			fetcher: &mapFetcher{docs: map[string]string{"global": globalJSON, "tenant": `{"enableRealtime": false, "realtime": {}, "optitrack": {}}`}},
			wantErr: types.ErrDocumentDecode,
		},
		{
			name:    "transport error",
			fetcher: &mapFetcher{docs: map[string]string{"global": globalJSON}, errs: map[string]error{"tenant": errors.New("reset")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBootstrap(tt.fetcher, "global", "tenant", nil)
			require.NoError(t, err)

			var called int
			_, err = b.Run(context.Background(), func(_ types.Configuration, err error) {
				called++
				assert.Error(t, err)
			})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, 1, called)

			_, err = b.Configuration()
			assert.ErrorIs(t, err, types.ErrNotConfigured)
		})
	}
}

func TestBootstrap_FailedRunKeepsPreviousConfiguration(t *testing.T) {
	f := newFetcher()
	b, err := NewBootstrap(f, "global", "tenant", nil)
	require.NoError(t, err)
	_, err = b.Run(context.Background(), nil)
	require.NoError(t, err)

	delete(f.docs, "tenant")
	_, err = b.Run(context.Background(), nil)
	require.Error(t, err)

	cfg, err := b.Configuration()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.TenantID)
}

func TestBootstrap_Start(t *testing.T) {
	b, err := NewBootstrap(newFetcher(), "global", "tenant", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	b.Start(context.Background(), func(_ types.Configuration, err error) { done <- err })
	require.NoError(t, <-done)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/global.json":
			w.Write([]byte(globalJSON))
		case "/tenant/tok/prod.json":
			w.Write([]byte(tenantJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tenantURL := ExpandURL(srv.URL+"/tenant/{token}/{config}.json", "tok", "prod")
	b, err := NewBootstrap(HTTPFetcher{Client: srv.Client()}, srv.URL+"/global.json", tenantURL, nil)
	require.NoError(t, err)
	cfg, err := b.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.TenantID)

	_, err = HTTPFetcher{}.Fetch(context.Background(), srv.URL+"/nope.json")
	assert.ErrorIs(t, err, types.ErrDocumentMissing)
	var serr *types.StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.Status)
}

func TestMergeJSON(t *testing.T) {
	older := map[string]any{"a": float64(1), "nested": map[string]any{"keep": true, "over": "old"}}
	newer := map[string]any{"a": float64(2), "nested": map[string]any{"over": "new"}, "added": "x"}

	got := mergeJSON(older, newer)
	assert.Equal(t, map[string]any{
		"a":      float64(2),
		"nested": map[string]any{"keep": true, "over": "new"},
		"added":  "x",
	}, got)

	assert.Equal(t, "scalar", mergeJSON(older, "scalar"))
	assert.Equal(t, newer, mergeJSON(nil, newer))
}
