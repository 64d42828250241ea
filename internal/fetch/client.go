// Package fetch performs rate-limited HTTP GETs against upstream publishers.
//
// One Client is created per lake coordinator and per dataset coordinator so
// connections are reused within a scope and never opened per request. The
// Client never retries; retry policy belongs to the coordinator that owns it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alpinelakes/laketemp/internal/ratelimit"
)

// Kind classifies a fetch failure.
type Kind string

const (
	// KindNetwork covers connection and transport failures.
	KindNetwork Kind = "network"
	// KindTimeout covers client or deadline timeouts.
	KindTimeout Kind = "timeout"
	// KindStatus covers responses outside the 2xx range.
	KindStatus Kind = "status"
	// KindCircuit means the circuit breaker rejected the call before any
	// request was issued.
	KindCircuit Kind = "circuit"
)

// FetchError describes a failed fetch. Coordinators log it and fall back to
// the cached reading; they never crash on it.
type FetchError struct {
	Kind       Kind
	Detail     string
	StatusCode int
	// RetryAfter carries a 429 response's Retry-After delay (seconds form),
	// zero when absent. Dataset coordinators use it to stretch their backoff.
	RetryAfter time.Duration
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.Kind, e.Detail)
}

// Result is a successful response: raw bytes plus the metadata coordinators
// log (status code, byte length via len(Body)).
type Result struct {
	Body       []byte
	StatusCode int
}

// Client performs GETs for one coordinator. The underlying http.Client is
// long-lived so keep-alive connections are reused across ticks.
type Client struct {
	name        string
	userAgent   string
	limiter     *ratelimit.Limiter
	spacingOnly bool
	httpClient  *http.Client
	circuit     *gobreaker.CircuitBreaker
}

// NewClient creates a per-lake client. Every Fetch takes a full rate-limiter
// permit (concurrency slot plus spacing) for the URL's domain.
func NewClient(name, userAgent string, limiter *ratelimit.Limiter, timeout time.Duration) *Client {
	return newClient(name, userAgent, limiter, timeout, false)
}

// NewDatasetClient creates a client for shared dataset downloads. Those are
// singular per refresh cycle, so only the spacing half of the limiter
// applies.
func NewDatasetClient(name, userAgent string, limiter *ratelimit.Limiter, timeout time.Duration) *Client {
	return newClient(name, userAgent, limiter, timeout, true)
}

func newClient(name, userAgent string, limiter *ratelimit.Limiter, timeout time.Duration, spacingOnly bool) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		name:        name,
		userAgent:   userAgent,
		limiter:     limiter,
		spacingOnly: spacingOnly,
		httpClient:  &http.Client{Timeout: timeout},
		circuit:     cb,
	}
}

// Name identifies the client in logs.
func (c *Client) Name() string {
	return c.name
}

// Fetch GETs the URL and returns the raw body. A failure is a *FetchError
// except for context cancellation, which passes through untouched so callers
// can tell shutdown from upstream trouble.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	domain := ratelimit.DomainOf(rawURL)

	if c.spacingOnly {
		if err := c.limiter.Pace(ctx, domain); err != nil {
			return nil, err
		}
	} else {
		release, err := c.limiter.Acquire(ctx, domain)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if reqErr != nil {
			return nil, &FetchError{Kind: KindNetwork, Detail: reqErr.Error()}
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			if errors.Is(doErr, context.Canceled) {
				return nil, doErr
			}
			return nil, classifyTransport(doErr)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			if errors.Is(readErr, context.Canceled) {
				return nil, readErr
			}
			return nil, classifyTransport(readErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			fe := &FetchError{
				Kind:       KindStatus,
				StatusCode: resp.StatusCode,
				Detail:     fmt.Sprintf("unexpected status %d", resp.StatusCode),
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			}
			return nil, fe
		}

		return &Result{Body: body, StatusCode: resp.StatusCode}, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &FetchError{Kind: KindCircuit, Detail: err.Error()}
		}
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &FetchError{Kind: KindNetwork, Detail: err.Error()}
	}

	return result.(*Result), nil
}

func classifyTransport(err error) *FetchError {
	kind := KindNetwork
	var ne net.Error
	if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &FetchError{Kind: kind, Detail: err.Error()}
}

// parseRetryAfter understands the seconds form of Retry-After. The HTTP-date
// form is rare on the upstreams we talk to and is ignored.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
