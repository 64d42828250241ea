package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alpinelakes/laketemp/internal/laketemp"
	"github.com/alpinelakes/laketemp/internal/metrics"
	"github.com/alpinelakes/laketemp/internal/ratelimit"
	"github.com/alpinelakes/laketemp/internal/scheduler"
	"github.com/alpinelakes/laketemp/internal/store"
)

// Options carries deployment overrides for the shared dataset downloads.
// Empty fields select the published upstream locations.
type Options struct {
	HydroOOEURL    string
	SalzburgOGDURL string
}

// Registry builds one coordinator per direct-scrape lake and one per shared
// dataset, runs them, and sweeps the store for staleness transitions.
type Registry struct {
	store   *store.MemoryStore
	metrics *metrics.Metrics
	log     *slog.Logger

	lakes    []*LakeCoordinator
	datasets map[laketemp.SourceType]*DatasetCoordinator
	sweeper  *scheduler.Sweeper

	cancel context.CancelFunc
	group  *errgroup.Group

	mu         sync.Mutex
	lastStatus map[string]laketemp.Status
}

// NewRegistry seeds the store with every configured lake and builds the
// coordinators. Lakes sharing a dataset source share one DatasetCoordinator;
// its User-Agent comes from the first lake registered to it.
func NewRegistry(
	cfgs []laketemp.LakeConfig,
	opts Options,
	limiter *ratelimit.Limiter,
	st *store.MemoryStore,
	m *metrics.Metrics,
	log *slog.Logger,
) *Registry {
	r := &Registry{
		store:      st,
		metrics:    m,
		log:        log,
		datasets:   make(map[laketemp.SourceType]*DatasetCoordinator),
		lastStatus: make(map[string]laketemp.Status),
	}

	for _, cfg := range cfgs {
		st.Register(cfg)
		switch cfg.Source.Type {
		case laketemp.SourceGKDBayern:
			r.lakes = append(r.lakes, NewLakeCoordinator(cfg, limiter, st, m, log))
		case laketemp.SourceHydroOOE:
			dc, ok := r.datasets[laketemp.SourceHydroOOE]
			if !ok {
				dc = NewHydroOOECoordinator(opts.HydroOOEURL, limiter, st, m, log)
				r.datasets[laketemp.SourceHydroOOE] = dc
			}
			dc.Register(cfg)
		case laketemp.SourceSalzburgOGD:
			dc, ok := r.datasets[laketemp.SourceSalzburgOGD]
			if !ok {
				dc = NewSalzburgOGDCoordinator(opts.SalzburgOGDURL, limiter, st, m, log)
				r.datasets[laketemp.SourceSalzburgOGD] = dc
			}
			dc.Register(cfg)
		default:
			log.Warn("unknown source type; lake not scheduled",
				"lake", cfg.EntityID, "source", string(cfg.Source.Type))
		}
	}

	r.sweeper = scheduler.New(sweepInterval(cfgs), r.sweepStaleness, log)
	return r
}

// Start launches every refresh loop and the staleness sweep. The loops stop
// when ctx is canceled or Stop is called.
func (r *Registry) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	r.group = g
	for _, lc := range r.lakes {
		lc := lc
		g.Go(func() error { return lc.Run(gctx) })
	}
	for _, dc := range r.datasets {
		dc := dc
		g.Go(func() error { return dc.Run(gctx) })
	}

	if err := r.sweeper.Start(); err != nil {
		cancel()
		return err
	}

	r.log.Info("coordinators started", "lakes", len(r.lakes), "datasets", len(r.datasets))
	return nil
}

// Stop cancels the refresh loops, stops the sweep and waits for the loops to
// drain.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.sweeper.Stop()
	if r.group != nil {
		_ = r.group.Wait()
	}
	r.log.Info("coordinators stopped")
}

// sweepStaleness republishes every lake's status gauge and logs fresh/stale
// transitions. Error-state lakes are already logged by their refresh loops.
func (r *Registry) sweepStaleness() {
	now := time.Now()
	for _, entry := range r.store.List() {
		status := entry.Status(now)
		r.metrics.SetLakeStatus(entry.EntityID, status)

		r.mu.Lock()
		prev, seen := r.lastStatus[entry.EntityID]
		r.lastStatus[entry.EntityID] = status
		r.mu.Unlock()

		if !seen || prev == status {
			continue
		}
		switch status {
		case laketemp.StatusStale:
			age := time.Duration(0)
			if entry.Reading != nil {
				age = now.Sub(entry.Reading.ObservedAt)
			}
			r.log.Warn("lake reading went stale",
				"lake", entry.EntityID,
				"age", age.String(),
				"timeout", entry.Timeout.String(),
			)
		case laketemp.StatusFresh:
			r.log.Info("lake reading fresh again", "lake", entry.EntityID)
		}
	}
}

// sweepInterval picks the tightest scan interval so a reading cannot sit
// unnoticed past its timeout for long. The sweeper floors the result.
func sweepInterval(cfgs []laketemp.LakeConfig) time.Duration {
	min := time.Duration(0)
	for _, cfg := range cfgs {
		if min == 0 || cfg.ScanInterval < min {
			min = cfg.ScanInterval
		}
	}
	if min == 0 {
		return laketemp.DefaultScanInterval
	}
	return min
}
