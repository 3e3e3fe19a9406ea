package remoteconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/engage/internal/types"
)

/*
 * Bootstrap graph.
 *
 *   download(global) ──┐
 *                      ├──> merge ──> complete(cfg | err)
 *   download(tenant) ──┘
 *
 * Both downloads run concurrently in an errgroup; the first failure cancels
 * the other. Merge starts only after both finished successfully. The
 * completion callback runs exactly once per Run, on the goroutine that ran
 * the graph, after the result has been stored, so Configuration() inside the
 * callback already reflects it. A failed run never replaces a configuration
 * from an earlier successful run.
 */

// CompletionFunc receives the outcome of a bootstrap run.
type CompletionFunc func(cfg types.Configuration, err error)

// Bootstrap runs the download graph and keeps the last good configuration.
type Bootstrap struct {
	fetcher   Fetcher
	globalURL string
	tenantURL string
	logger    *slog.Logger
	tracer    trace.Tracer

	mu  sync.RWMutex
	cfg *types.Configuration
}

// NewBootstrap creates a bootstrap for the two document URLs.
func NewBootstrap(fetcher Fetcher, globalURL, tenantURL string, logger *slog.Logger) (*Bootstrap, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if globalURL == "" {
		return nil, fmt.Errorf("global configuration url cannot be empty")
	}
	if tenantURL == "" {
		return nil, fmt.Errorf("tenant configuration url cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrap{
		fetcher:   fetcher,
		globalURL: globalURL,
		tenantURL: tenantURL,
		logger:    logger,
		tracer:    otel.Tracer("github.com/solatis/engage/internal/remoteconfig"),
	}, nil
}

// Run executes the graph and calls complete with the outcome.
// complete may be nil.
func (b *Bootstrap) Run(ctx context.Context, complete CompletionFunc) (types.Configuration, error) {
	ctx, span := b.tracer.Start(ctx, "bootstrap")
	defer span.End()

	cfg, err := b.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Error("configuration bootstrap failed", "error", err)
	} else {
		b.mu.Lock()
		b.cfg = &cfg
		b.mu.Unlock()
		b.logger.Info("configuration bootstrapped", "tenant_id", cfg.TenantID, "events", len(cfg.Events))
	}

	if complete != nil {
		complete(cfg, err)
	}
	return cfg, err
}

// Start runs the graph on a new goroutine.
func (b *Bootstrap) Start(ctx context.Context, complete CompletionFunc) {
	go func() {
		_, _ = b.Run(ctx, complete)
	}()
}

// Configuration returns the last successfully merged configuration, or
// types.ErrNotConfigured if no run has succeeded.
func (b *Bootstrap) Configuration() (types.Configuration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cfg == nil {
		return types.Configuration{}, types.ErrNotConfigured
	}
	return *b.cfg, nil
}

func (b *Bootstrap) run(ctx context.Context) (types.Configuration, error) {
	var (
		global *globalDoc
		tenant *tenantDoc
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := b.fetcher.Fetch(gctx, b.globalURL)
		if err != nil {
			return fmt.Errorf("fetch %s configuration: %w", GlobalDocument, err)
		}
		global, err = decodeGlobal(data)
		return err
	})
	g.Go(func() error {
		data, err := b.fetcher.Fetch(gctx, b.tenantURL)
		if err != nil {
			return fmt.Errorf("fetch %s configuration: %w", TenantDocument, err)
		}
		tenant, err = decodeTenant(data)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.Configuration{}, err
	}
	if global == nil || tenant == nil {
		return types.Configuration{}, errors.New("configuration documents incomplete")
	}

	return merge(global, tenant)
}
