// Package coordinator drives the refresh loops: one goroutine per directly
// scraped lake, one per shared dataset. Coordinators own all fetch and parse
// failures; nothing that happens to one lake can stop another lake's loop.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpinelakes/laketemp/internal/fetch"
	"github.com/alpinelakes/laketemp/internal/laketemp"
	"github.com/alpinelakes/laketemp/internal/metrics"
	"github.com/alpinelakes/laketemp/internal/ratelimit"
	"github.com/alpinelakes/laketemp/internal/scraper"
	"github.com/alpinelakes/laketemp/internal/store"
)

// requestTimeout caps a single upstream GET. The portals are slow but not
// that slow; anything beyond this is treated as a timeout failure.
const requestTimeout = 20 * time.Second

// LakeCoordinator refreshes one GKD Bayern lake. Each instance owns its own
// fetch client so keep-alive connections are reused across ticks.
type LakeCoordinator struct {
	cfg     laketemp.LakeConfig
	url     string
	hints   scraper.GKDHints
	client  *fetch.Client
	store   *store.MemoryStore
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewLakeCoordinator prepares the coordinator for one configured lake. The
// station key hint is taken from the config when present, otherwise inferred
// from the station page URL.
func NewLakeCoordinator(
	cfg laketemp.LakeConfig,
	limiter *ratelimit.Limiter,
	st *store.MemoryStore,
	m *metrics.Metrics,
	log *slog.Logger,
) *LakeCoordinator {
	stationKey := cfg.Source.StationID
	if stationKey == "" {
		stationKey = scraper.GKDStationKeyFromURL(cfg.URL)
	}

	return &LakeCoordinator{
		cfg:     cfg,
		url:     scraper.GKDTableURL(cfg.URL),
		hints:   scraper.GKDHints{TableSelector: cfg.Source.TableSelector, StationKey: stationKey},
		client:  fetch.NewClient("gkd_bayern/"+cfg.EntityID, cfg.UserAgent, limiter, requestTimeout),
		store:   st,
		metrics: m,
		log:     log.With("lake", cfg.EntityID, "source", string(laketemp.SourceGKDBayern)),
	}
}

// EntityID identifies the lake this coordinator serves.
func (c *LakeCoordinator) EntityID() string {
	return c.cfg.EntityID
}

// Run refreshes immediately, then on a fixed-delay loop: the next tick is
// armed only after the current one completes, so a slow upstream stretches
// the cycle instead of stacking requests. Returns when ctx is canceled.
func (c *LakeCoordinator) Run(ctx context.Context) error {
	c.refresh(ctx)

	timer := time.NewTimer(c.cfg.ScanInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			c.refresh(ctx)
			timer.Reset(c.cfg.ScanInterval)
		}
	}
}

// refresh performs one fetch-and-parse tick. Failures are logged and recorded
// but never propagate; the previous reading stays in place and only its age
// can change the lake's status.
func (c *LakeCoordinator) refresh(ctx context.Context) {
	start := time.Now()

	res, err := c.client.Fetch(ctx, c.url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(start, 0, err)
		return
	}

	reading, err := scraper.ParseGKDTable(res.Body, c.hints)
	if err != nil {
		c.fail(start, len(res.Body), err)
		return
	}

	now := time.Now()
	c.store.SetReading(c.cfg.EntityID, reading, now)
	c.metrics.RecordRefresh(laketemp.SourceGKDBayern, true, time.Since(start).Seconds(), len(res.Body))
	c.metrics.MarkRefreshSuccess(laketemp.SourceGKDBayern, float64(now.Unix()))
	c.metrics.SetLakeTemperature(c.cfg.EntityID, reading.Value)
	c.log.Debug("refresh complete",
		"temperature_c", reading.Value,
		"observed_at", reading.ObservedAt,
		"bytes", len(res.Body),
	)
}

func (c *LakeCoordinator) fail(start time.Time, byteSize int, cause error) {
	c.store.SetFailure(c.cfg.EntityID, cause, time.Now())
	c.metrics.RecordRefresh(laketemp.SourceGKDBayern, false, time.Since(start).Seconds(), byteSize)
	c.log.Error("refresh failed", "url", c.url, "error", cause)
}
