package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/italolelis/appstore_downloader/internal/logctx"
	"github.com/italolelis/appstore_downloader/internal/telemetry"
)

type Source interface {
	Fetch(ctx context.Context) ([]Item, error)
}

// Poller keeps the latest catalog in memory. A failed poll replaces the list
// with an empty one, so a broken endpoint never leaves stale items on screen.
type Poller struct {
	source    Source
	interval  time.Duration
	telemetry *telemetry.Telemetry

	mu        sync.RWMutex
	items     []Item
	updatedAt time.Time
	lastErr   error
}

func NewPoller(source Source, interval time.Duration, tel *telemetry.Telemetry) *Poller {
	return &Poller{
		source:    source,
		interval:  interval,
		telemetry: tel,
		items:     []Item{},
	}
}

// Run polls immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "catalog_poller")
	ctx = logctx.WithLogger(ctx, logger)

	logger.InfoContext(ctx, "starting catalog poller", "interval", p.interval)

	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "shutting down catalog poller")

			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches the catalog once and stores the result.
func (p *Poller) Poll(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	var items []Item

	err := p.telemetry.InstrumentCatalogPoll(ctx, func(ctx context.Context) (int, error) {
		var err error

		items, err = p.source.Fetch(ctx)

		return len(items), err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		var formatErr *CatalogFormatError
		if errors.As(err, &formatErr) {
			logger.WarnContext(ctx, "catalog returned an unusable payload", "err", err)
		} else {
			logger.ErrorContext(ctx, "failed to poll catalog", "err", err)
		}

		items = []Item{}
	}

	p.mu.Lock()
	p.items = items
	p.updatedAt = time.Now()
	p.lastErr = err
	p.mu.Unlock()

	logger.DebugContext(ctx, "catalog polled", "items", len(items))
}

// Items returns a copy of the latest catalog.
func (p *Poller) Items() []Item {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Item, len(p.items))
	copy(out, p.items)

	return out
}

// Status reports when the catalog was last polled and the error of that poll.
func (p *Poller) Status() (time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.updatedAt, p.lastErr
}
