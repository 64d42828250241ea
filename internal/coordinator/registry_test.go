package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpinelakes/laketemp/internal/laketemp"
	"github.com/alpinelakes/laketemp/internal/metrics"
	"github.com/alpinelakes/laketemp/internal/ratelimit"
	"github.com/alpinelakes/laketemp/internal/store"
)

func TestNewRegistry_BuildsCoordinatorsPerSource(t *testing.T) {
	cfgs := []laketemp.LakeConfig{
		gkdLakeConfig("https://www.gkd.bayern.de/stationen/18673955"),
		datasetLakeConfig("irrsee", "Irrsee",
			laketemp.SourceSpec{Type: laketemp.SourceHydroOOE, StationID: "16579"}, 30*time.Minute),
		datasetLakeConfig("attersee", "Attersee",
			laketemp.SourceSpec{Type: laketemp.SourceHydroOOE}, 30*time.Minute),
		datasetLakeConfig("mattsee", "Mattsee",
			laketemp.SourceSpec{Type: laketemp.SourceSalzburgOGD}, 30*time.Minute),
	}

	st := store.NewMemoryStore()
	r := NewRegistry(cfgs, Options{}, ratelimit.New(2, 0), st, metrics.New(), testLogger())

	assert.Len(t, r.lakes, 1)
	require.Len(t, r.datasets, 2)
	assert.Equal(t, 2, r.datasets[laketemp.SourceHydroOOE].MemberCount())
	assert.Equal(t, 1, r.datasets[laketemp.SourceSalzburgOGD].MemberCount())
	assert.Len(t, st.List(), 4, "every configured lake is listable before the first refresh")
}

func TestNewRegistry_UnknownSourceIsListedButNotScheduled(t *testing.T) {
	cfgs := []laketemp.LakeConfig{
		datasetLakeConfig("mystery", "Mystery",
			laketemp.SourceSpec{Type: laketemp.SourceType("bogus")}, 30*time.Minute),
	}

	st := store.NewMemoryStore()
	r := NewRegistry(cfgs, Options{}, ratelimit.New(2, 0), st, metrics.New(), testLogger())

	assert.Empty(t, r.lakes)
	assert.Empty(t, r.datasets)
	assert.Len(t, st.List(), 1)
}

func TestRegistry_SweepTracksStatusTransitions(t *testing.T) {
	cfg := datasetLakeConfig("irrsee", "Irrsee",
		laketemp.SourceSpec{Type: laketemp.SourceHydroOOE, StationID: "16579"}, 30*time.Minute)
	cfg.Timeout = time.Hour

	st := store.NewMemoryStore()
	r := NewRegistry([]laketemp.LakeConfig{cfg}, Options{}, ratelimit.New(2, 0), st, metrics.New(), testLogger())

	now := time.Now()
	st.SetReading("irrsee", laketemp.TemperatureReading{
		Value:      21.5,
		ObservedAt: now.Add(-2 * time.Hour),
		Source:     laketemp.SourceHydroOOE,
	}, now)

	r.sweepStaleness()
	r.mu.Lock()
	assert.Equal(t, laketemp.StatusStale, r.lastStatus["irrsee"])
	r.mu.Unlock()

	st.SetReading("irrsee", laketemp.TemperatureReading{
		Value:      21.8,
		ObservedAt: now,
		Source:     laketemp.SourceHydroOOE,
	}, now)

	r.sweepStaleness()
	r.mu.Lock()
	assert.Equal(t, laketemp.StatusFresh, r.lastStatus["irrsee"])
	r.mu.Unlock()
}

func TestRegistry_StartRefreshesAndStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(zrxpExportSample))
	}))
	defer srv.Close()

	cfg := datasetLakeConfig("irrsee", "Irrsee",
		laketemp.SourceSpec{Type: laketemp.SourceHydroOOE, StationID: "16579"}, 30*time.Minute)

	st := store.NewMemoryStore()
	r := NewRegistry([]laketemp.LakeConfig{cfg}, Options{HydroOOEURL: srv.URL},
		ratelimit.New(2, 0), st, metrics.New(), testLogger())

	require.NoError(t, r.Start(context.Background()))
	assert.Eventually(t, func() bool {
		entry, err := st.Get("irrsee")
		return err == nil && entry.Reading != nil && entry.Reading.Value == 23.1
	}, 3*time.Second, 20*time.Millisecond)

	r.Stop()
}

func TestSweepInterval(t *testing.T) {
	assert.Equal(t, laketemp.DefaultScanInterval, sweepInterval(nil))

	cfgs := []laketemp.LakeConfig{
		{ScanInterval: 30 * time.Minute},
		{ScanInterval: 10 * time.Minute},
		{ScanInterval: 20 * time.Minute},
	}
	assert.Equal(t, 10*time.Minute, sweepInterval(cfgs))
}
