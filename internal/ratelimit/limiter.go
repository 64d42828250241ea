// Package ratelimit bounds outbound request pressure per upstream domain.
//
// Two conditions gate every grant: at most maxConcurrent requests in flight
// per domain, and consecutive grants for the same domain spaced at least
// minSpacing apart. The limiter only delays callers; it never fails a request
// on its own.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxConcurrent is the per-domain in-flight request cap.
	DefaultMaxConcurrent = 2
	// DefaultMinSpacing is the minimum gap between grants for one domain.
	DefaultMinSpacing = 250 * time.Millisecond
)

// Limiter is the shared per-domain limiter. One instance is injected into
// every fetch client so that independent coordinators pointed at the same
// domain draw from the same budget.
type Limiter struct {
	maxConcurrent int64
	minSpacing    time.Duration

	mu      sync.Mutex
	domains map[string]*domainLimiter
}

type domainLimiter struct {
	slots  *semaphore.Weighted
	spacer *rate.Limiter
}

// New creates a Limiter. maxConcurrent below 1 is raised to 1; a zero or
// negative minSpacing disables spacing.
func New(maxConcurrent int, minSpacing time.Duration) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		maxConcurrent: int64(maxConcurrent),
		minSpacing:    minSpacing,
		domains:       make(map[string]*domainLimiter),
	}
}

func (l *Limiter) domain(name string) *domainLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.domains[name]
	if !ok {
		spacing := rate.Inf
		if l.minSpacing > 0 {
			spacing = rate.Every(l.minSpacing)
		}
		d = &domainLimiter{
			slots:  semaphore.NewWeighted(l.maxConcurrent),
			spacer: rate.NewLimiter(spacing, 1),
		}
		l.domains[name] = d
	}
	return d
}

// Acquire blocks until the domain has a free slot and the spacing window has
// elapsed, then returns a release function. Release is idempotent and must
// run on every exit path, including cancellation; callers defer it right
// after a successful Acquire.
func (l *Limiter) Acquire(ctx context.Context, domain string) (func(), error) {
	d := l.domain(domain)

	if err := d.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := d.spacer.Wait(ctx); err != nil {
		d.slots.Release(1)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { d.slots.Release(1) })
	}, nil
}

// Pace waits for the spacing window only. Dataset downloads are singular per
// refresh cycle and skip the concurrency slot, but still avoid bursts right
// after process start.
func (l *Limiter) Pace(ctx context.Context, domain string) error {
	return l.domain(domain).spacer.Wait(ctx)
}

// DomainOf extracts the lowercased host name from a URL for use as a limiter
// key. An unparseable URL falls back to the raw string, which still yields a
// stable key.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Hostname())
}
