package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/alpinelakes/laketemp/internal/fetch"
	"github.com/alpinelakes/laketemp/internal/laketemp"
	"github.com/alpinelakes/laketemp/internal/metrics"
	"github.com/alpinelakes/laketemp/internal/ratelimit"
	"github.com/alpinelakes/laketemp/internal/scraper"
	"github.com/alpinelakes/laketemp/internal/store"
)

const (
	datasetRequestTimeout = 20 * time.Second

	// Failed downloads stretch the gap to the next attempt: effective
	// interval doubled per consecutive failure, kept between seed and cap.
	// Any success resets the gap to the effective interval.
	backoffSeed        = time.Minute
	backoffCap         = time.Hour
	maxBackoffAttempts = 8
)

// errLakeMissing marks a registered lake that the latest snapshot has no
// entry for. The lake keeps its cached reading; this only surfaces in logs
// and in the lake's last_error field.
var errLakeMissing = errors.New("lake absent from dataset snapshot")

// member is one registered lake plus its precomputed matching hints.
type member struct {
	cfg laketemp.LakeConfig

	// stationID is the authoritative block key when numeric (hydro_ooe).
	stationID string
	// nameHint matches case-insensitively as a substring of station and
	// water names when no station id is configured (hydro_ooe).
	nameHint string
	// entryKey is the normalized lake name the snapshot is keyed by
	// (salzburg_ogd).
	entryKey string
}

// DatasetCoordinator owns one shared bulk download serving any number of
// lakes. Lakes hold only copied readings, never references into the snapshot,
// so a new snapshot can replace the old one without aliasing hazards.
type DatasetCoordinator struct {
	source  laketemp.SourceType
	url     string
	parse   func([]byte) (*scraper.Bulk, error)
	limiter *ratelimit.Limiter
	store   *store.MemoryStore
	metrics *metrics.Metrics
	log     *slog.Logger

	// flight collapses concurrent refresh triggers into one download.
	flight singleflight.Group
	// rearm wakes the run loop when membership changes the effective
	// interval.
	rearm chan struct{}

	mu        sync.Mutex
	client    *fetch.Client
	members   map[string]member
	available map[string]bool
	attempts  int
	override  time.Duration
	snapshot  *laketemp.DatasetSnapshot
	status    store.DatasetStatus
}

// NewHydroOOECoordinator shares one ZRXP export download across all Upper
// Austrian lakes. An empty url selects the published export location.
func NewHydroOOECoordinator(
	url string,
	limiter *ratelimit.Limiter,
	st *store.MemoryStore,
	m *metrics.Metrics,
	log *slog.Logger,
) *DatasetCoordinator {
	if url == "" {
		url = scraper.DefaultHydroOOEURL
	}
	return newDatasetCoordinator(laketemp.SourceHydroOOE, url, scraper.ParseZRXP, limiter, st, m, log)
}

// NewSalzburgOGDCoordinator shares one OGD file download across all Salzburg
// lakes. An empty url selects the published file location.
func NewSalzburgOGDCoordinator(
	url string,
	limiter *ratelimit.Limiter,
	st *store.MemoryStore,
	m *metrics.Metrics,
	log *slog.Logger,
) *DatasetCoordinator {
	if url == "" {
		url = scraper.DefaultSalzburgOGDURL
	}
	return newDatasetCoordinator(laketemp.SourceSalzburgOGD, url, scraper.ParseSeenCSV, limiter, st, m, log)
}

func newDatasetCoordinator(
	source laketemp.SourceType,
	url string,
	parse func([]byte) (*scraper.Bulk, error),
	limiter *ratelimit.Limiter,
	st *store.MemoryStore,
	m *metrics.Metrics,
	log *slog.Logger,
) *DatasetCoordinator {
	return &DatasetCoordinator{
		source:    source,
		url:       url,
		parse:     parse,
		limiter:   limiter,
		store:     st,
		metrics:   m,
		log:       log.With("dataset", string(source)),
		rearm:     make(chan struct{}, 1),
		members:   make(map[string]member),
		available: make(map[string]bool),
	}
}

// Register adds a lake to the shared download and recomputes the refresh
// interval. The first registration freezes the shared client's User-Agent;
// later lakes reuse the connection unchanged and their user_agent values are
// ignored here. If a snapshot already exists, the new lake is served from it
// immediately instead of waiting for the next cycle.
func (c *DatasetCoordinator) Register(cfg laketemp.LakeConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.members[cfg.EntityID]; ok {
		return
	}
	if c.client == nil {
		c.client = fetch.NewDatasetClient(string(c.source), cfg.UserAgent, c.limiter, datasetRequestTimeout)
	}

	m := newMember(c.source, cfg)
	c.members[cfg.EntityID] = m

	if c.snapshot != nil {
		if reading, ok := c.match(m, c.snapshot); ok {
			c.store.SetReading(cfg.EntityID, reading, time.Now())
			c.metrics.SetLakeTemperature(cfg.EntityID, reading.Value)
			c.available[cfg.EntityID] = true
		}
	}

	c.log.Debug("registered lake",
		"lake", cfg.EntityID,
		"name", cfg.Name,
		"scan_interval", cfg.ScanInterval.String(),
	)
	c.rearmLocked()
}

// Deregister removes a lake and recomputes the refresh interval.
func (c *DatasetCoordinator) Deregister(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.members[entityID]; !ok {
		return
	}
	delete(c.members, entityID)
	delete(c.available, entityID)
	c.log.Debug("deregistered lake", "lake", entityID)
	c.rearmLocked()
}

// MemberCount reports how many lakes share this download.
func (c *DatasetCoordinator) MemberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Run refreshes immediately, then on a fixed-delay loop at the effective
// interval (the minimum of the members' scan intervals, stretched by backoff
// after failures). Membership changes re-arm the timer. Returns when ctx is
// canceled.
func (c *DatasetCoordinator) Run(ctx context.Context) error {
	c.refresh(ctx)

	timer := time.NewTimer(c.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.rearm:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.nextDelay())
		case <-timer.C:
			c.refresh(ctx)
			timer.Reset(c.nextDelay())
		}
	}
}

// refresh collapses concurrent triggers into a single download per cycle.
func (c *DatasetCoordinator) refresh(ctx context.Context) {
	c.flight.Do("refresh", func() (interface{}, error) {
		c.doRefresh(ctx)
		return nil, nil
	})
}

func (c *DatasetCoordinator) doRefresh(ctx context.Context) {
	c.mu.Lock()
	client := c.client
	memberCount := len(c.members)
	c.mu.Unlock()
	if client == nil || memberCount == 0 {
		c.log.Debug("no registered lakes; skipping refresh")
		return
	}

	log := c.log.With("refresh_id", uuid.NewString())
	start := time.Now()

	res, err := client.Fetch(ctx, c.url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.finishFailure(log, start, 0, err, true)
		return
	}

	bulk, err := c.parse(res.Body)
	if err != nil {
		// The server answered; the payload is broken. Marking members
		// failed is enough, backoff would not help here.
		c.finishFailure(log, start, len(res.Body), err, false)
		return
	}

	c.finishSuccess(log, start, res, bulk)
}

// finishSuccess replaces the snapshot, clears backoff and fans the new
// readings out to every registered lake.
func (c *DatasetCoordinator) finishSuccess(log *slog.Logger, start time.Time, res *fetch.Result, bulk *scraper.Bulk) {
	now := time.Now()
	snap := &laketemp.DatasetSnapshot{
		FetchedAt: now,
		ByteSize:  len(res.Body),
		Entries:   bulk.Entries,
		Names:     bulk.Names,
	}

	c.mu.Lock()
	c.attempts = 0
	c.override = 0
	c.snapshot = snap
	members := c.sortedMembersLocked()
	interval := c.effectiveIntervalLocked()

	updated := 0
	for _, m := range members {
		id := m.cfg.EntityID
		reading, ok := c.match(m, snap)
		wasAvailable, seen := c.available[id]
		c.available[id] = ok

		if !ok {
			c.store.SetFailure(id, errLakeMissing, now)
			log.Warn("lake missing from dataset snapshot", "lake", id, "name", m.cfg.Name)
			continue
		}

		c.store.SetReading(id, reading, now)
		c.metrics.SetLakeTemperature(id, reading.Value)
		if seen && !wasAvailable {
			log.Info("lake recovered in dataset snapshot", "lake", id, "name", m.cfg.Name)
		}
		updated++
	}

	c.status = store.DatasetStatus{
		Source:    c.source,
		URL:       c.url,
		FetchedAt: now,
		ByteSize:  snap.ByteSize,
		Stations:  len(snap.Entries),
		Members:   len(members),
		Interval:  interval,
		UpdatedAt: now,
	}
	status := c.status
	c.mu.Unlock()

	c.store.SetDatasetStatus(status)
	c.metrics.RecordRefresh(c.source, true, time.Since(start).Seconds(), snap.ByteSize)
	c.metrics.MarkRefreshSuccess(c.source, float64(now.Unix()))
	c.metrics.SetEffectiveInterval(c.source, interval.Seconds())
	log.Debug("dataset refresh complete",
		"bytes", snap.ByteSize,
		"stations", len(snap.Entries),
		"lakes_updated", updated,
		"interval", interval.String(),
	)
}

// finishFailure marks every member failed while leaving their cached
// readings untouched.
func (c *DatasetCoordinator) finishFailure(log *slog.Logger, start time.Time, byteSize int, cause error, backoff bool) {
	now := time.Now()

	c.mu.Lock()
	if backoff {
		c.applyBackoffLocked(cause)
	}
	members := c.sortedMembersLocked()
	interval := c.nextDelayLocked()
	c.status.Source = c.source
	c.status.URL = c.url
	c.status.Members = len(members)
	c.status.Interval = interval
	c.status.LastError = cause.Error()
	c.status.UpdatedAt = now
	status := c.status
	c.mu.Unlock()

	for _, m := range members {
		c.store.SetFailure(m.cfg.EntityID, cause, now)
	}
	c.store.SetDatasetStatus(status)
	c.metrics.RecordRefresh(c.source, false, time.Since(start).Seconds(), byteSize)
	c.metrics.SetEffectiveInterval(c.source, interval.Seconds())
	log.Error("dataset refresh failed", "url", c.url, "error", cause, "next_interval", interval.String())
}

// match finds a member's reading in the snapshot. Hydro lakes match by
// station number first, then by name-hint substring over station and water
// names; Salzburg lakes match by normalized lake name.
func (c *DatasetCoordinator) match(m member, snap *laketemp.DatasetSnapshot) (laketemp.TemperatureReading, bool) {
	switch c.source {
	case laketemp.SourceHydroOOE:
		if m.stationID != "" {
			if reading, ok := snap.Entries[m.stationID]; ok {
				return reading, true
			}
		}
		needle := strings.ToLower(strings.TrimSpace(m.nameHint))
		if needle == "" {
			return laketemp.TemperatureReading{}, false
		}
		keys := make([]string, 0, len(snap.Names))
		for key := range snap.Names {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			for _, name := range snap.Names[key] {
				if strings.Contains(strings.ToLower(name), needle) {
					reading, ok := snap.Entries[key]
					return reading, ok
				}
			}
		}
		return laketemp.TemperatureReading{}, false
	default:
		reading, ok := snap.Entries[m.entryKey]
		return reading, ok
	}
}

func (c *DatasetCoordinator) applyBackoffLocked(cause error) {
	var fe *fetch.FetchError
	if errors.As(cause, &fe) && fe.RetryAfter > 0 {
		c.override = fe.RetryAfter
		return
	}

	if c.attempts < maxBackoffAttempts {
		c.attempts++
	}
	delay := c.effectiveIntervalLocked() * time.Duration(1<<c.attempts)
	if delay < backoffSeed {
		delay = backoffSeed
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	c.override = delay
}

func (c *DatasetCoordinator) nextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextDelayLocked()
}

func (c *DatasetCoordinator) nextDelayLocked() time.Duration {
	if c.override > 0 {
		return c.override
	}
	return c.effectiveIntervalLocked()
}

func (c *DatasetCoordinator) effectiveIntervalLocked() time.Duration {
	if len(c.members) == 0 {
		return laketemp.DefaultScanInterval
	}
	min := time.Duration(0)
	for _, m := range c.members {
		if min == 0 || m.cfg.ScanInterval < min {
			min = m.cfg.ScanInterval
		}
	}
	return min
}

func (c *DatasetCoordinator) sortedMembersLocked() []member {
	out := make([]member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.EntityID < out[j].cfg.EntityID })
	return out
}

func (c *DatasetCoordinator) rearmLocked() {
	select {
	case c.rearm <- struct{}{}:
	default:
	}
}

func newMember(source laketemp.SourceType, cfg laketemp.LakeConfig) member {
	m := member{cfg: cfg, nameHint: cfg.Name}
	switch source {
	case laketemp.SourceHydroOOE:
		if isDigits(cfg.Source.StationID) {
			m.stationID = cfg.Source.StationID
		}
	case laketemp.SourceSalzburgOGD:
		name := cfg.Name
		if cfg.Source.LakeName != "" {
			name = cfg.Source.LakeName
		}
		m.entryKey = scraper.NormalizeLakeName(name)
	}
	return m
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
