package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ConcurrencyBound(t *testing.T) {
	l := New(2, 0)

	var (
		inFlight int32
		peak     int32
		wg       sync.WaitGroup
	)

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := l.Acquire(context.Background(), "example.org")
			if err != nil {
				t.Error(err)
				return
			}
			defer release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestAcquire_MinSpacingBetweenGrants(t *testing.T) {
	const spacing = 40 * time.Millisecond
	l := New(2, spacing)

	var grants []time.Time
	for i := 0; i < 3; i++ {
		release, err := l.Acquire(context.Background(), "example.org")
		require.NoError(t, err)
		grants = append(grants, time.Now())
		release()
	}

	for i := 1; i < len(grants); i++ {
		gap := grants[i].Sub(grants[i-1])
		assert.GreaterOrEqual(t, gap, spacing-10*time.Millisecond,
			"grants %d and %d too close: %v", i-1, i, gap)
	}
}

func TestAcquire_CancelledWhileWaitingForSlot(t *testing.T) {
	l := New(1, 0)

	release, err := l.Acquire(context.Background(), "example.org")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "example.org")
	assert.Error(t, err)

	// The failed waiter must not have consumed the slot.
	release()
	release2, err := l.Acquire(context.Background(), "example.org")
	require.NoError(t, err)
	release2()
}

func TestRelease_Idempotent(t *testing.T) {
	l := New(2, 0)

	release, err := l.Acquire(context.Background(), "example.org")
	require.NoError(t, err)
	release()
	release()

	// Capacity must still be exactly 2: two more acquires succeed, a third
	// blocks until timeout.
	r1, err := l.Acquire(context.Background(), "example.org")
	require.NoError(t, err)
	defer r1()
	r2, err := l.Acquire(context.Background(), "example.org")
	require.NoError(t, err)
	defer r2()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "example.org")
	assert.Error(t, err)
}

func TestAcquire_DomainsIndependent(t *testing.T) {
	l := New(1, time.Hour)

	releaseA, err := l.Acquire(context.Background(), "a.example")
	require.NoError(t, err)
	defer releaseA()

	// A saturated, slow domain must not delay another domain.
	done := make(chan struct{})
	go func() {
		defer close(done)
		releaseB, err := l.Acquire(context.Background(), "b.example")
		if err != nil {
			t.Error(err)
			return
		}
		releaseB()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire on independent domain blocked")
	}
}

func TestPace_RespectsSpacingOnly(t *testing.T) {
	const spacing = 40 * time.Millisecond
	l := New(1, spacing)

	// Saturate the only slot; Pace must still proceed.
	release, err := l.Acquire(context.Background(), "example.org")
	require.NoError(t, err)
	defer release()

	start := time.Now()
	require.NoError(t, l.Pace(context.Background(), "example.org"))
	assert.GreaterOrEqual(t, time.Since(start), spacing-10*time.Millisecond)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "www.gkd.bayern.de", DomainOf("https://www.gkd.bayern.de/fluesse/wassertemperatur/stationen/18673955"))
	assert.Equal(t, "data.ooe.gv.at", DomainOf("https://Data.OOE.gv.at/files/hydro/HDOOE_Export_WT.zrxp"))
	assert.Equal(t, "not a url", DomainOf("not a url"))
}
