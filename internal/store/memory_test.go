package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpinelakes/laketemp/internal/laketemp"
)

func testLakeConfig(entityID string) laketemp.LakeConfig {
	return laketemp.LakeConfig{
		Name:     "Fuschlsee",
		EntityID: entityID,
		Timeout:  24 * time.Hour,
		Source:   laketemp.SourceSpec{Type: laketemp.SourceSalzburgOGD},
	}
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RegisteredLakeListableBeforeFirstRefresh(t *testing.T) {
	s := NewMemoryStore()
	s.Register(testLakeConfig("fuschlsee"))

	entry, err := s.Get("fuschlsee")
	require.NoError(t, err)
	assert.Nil(t, entry.Reading)
	assert.Equal(t, laketemp.StatusError, entry.Status(time.Now()))
}

func TestMemoryStore_SetReadingClearsError(t *testing.T) {
	s := NewMemoryStore()
	s.Register(testLakeConfig("fuschlsee"))
	now := time.Now()

	s.SetFailure("fuschlsee", errors.New("boom"), now)
	entry, err := s.Get("fuschlsee")
	require.NoError(t, err)
	assert.Equal(t, "boom", entry.LastError)

	reading := laketemp.TemperatureReading{Value: 22.4, ObservedAt: now, Source: laketemp.SourceSalzburgOGD}
	s.SetReading("fuschlsee", reading, now.Add(time.Second))

	entry, err = s.Get("fuschlsee")
	require.NoError(t, err)
	require.NotNil(t, entry.Reading)
	assert.Equal(t, 22.4, entry.Reading.Value)
	assert.Empty(t, entry.LastError)
	assert.Equal(t, laketemp.StatusFresh, entry.Status(now.Add(time.Minute)))
}

func TestMemoryStore_FailureKeepsLastReading(t *testing.T) {
	s := NewMemoryStore()
	s.Register(testLakeConfig("fuschlsee"))
	now := time.Now()

	s.SetReading("fuschlsee", laketemp.TemperatureReading{Value: 21.0, ObservedAt: now}, now)
	s.SetFailure("fuschlsee", errors.New("upstream 503"), now.Add(time.Minute))

	entry, err := s.Get("fuschlsee")
	require.NoError(t, err)
	require.NotNil(t, entry.Reading)
	assert.Equal(t, 21.0, entry.Reading.Value)
	assert.Equal(t, "upstream 503", entry.LastError)
	assert.Equal(t, laketemp.StatusFresh, entry.Status(now.Add(2*time.Minute)))
}

func TestMemoryStore_StatusGoesStaleByAgeOnly(t *testing.T) {
	s := NewMemoryStore()
	s.Register(testLakeConfig("fuschlsee"))
	observed := time.Now()

	s.SetReading("fuschlsee", laketemp.TemperatureReading{Value: 21.0, ObservedAt: observed}, observed)

	entry, err := s.Get("fuschlsee")
	require.NoError(t, err)
	assert.Equal(t, laketemp.StatusFresh, entry.Status(observed.Add(24*time.Hour)))
	assert.Equal(t, laketemp.StatusStale, entry.Status(observed.Add(24*time.Hour+time.Second)))
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	s.Register(testLakeConfig("fuschlsee"))
	now := time.Now()
	s.SetReading("fuschlsee", laketemp.TemperatureReading{Value: 21.0, ObservedAt: now}, now)

	first, err := s.Get("fuschlsee")
	require.NoError(t, err)
	first.Reading.Value = 99.9

	second, err := s.Get("fuschlsee")
	require.NoError(t, err)
	assert.Equal(t, 21.0, second.Reading.Value)
}

func TestMemoryStore_ListSortedByEntityID(t *testing.T) {
	s := NewMemoryStore()
	s.Register(testLakeConfig("mondsee"))
	s.Register(testLakeConfig("attersee"))
	s.Register(testLakeConfig("fuschlsee"))

	entries := s.List()
	require.Len(t, entries, 3)
	assert.Equal(t, "attersee", entries[0].EntityID)
	assert.Equal(t, "fuschlsee", entries[1].EntityID)
	assert.Equal(t, "mondsee", entries[2].EntityID)
}

func TestMemoryStore_SetOnUnknownLakeIsNoOp(t *testing.T) {
	s := NewMemoryStore()

	s.SetReading("ghost", laketemp.TemperatureReading{Value: 1}, time.Now())
	s.SetFailure("ghost", errors.New("x"), time.Now())

	assert.Empty(t, s.List())
}

func TestMemoryStore_DatasetStatuses(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	s.SetDatasetStatus(DatasetStatus{Source: laketemp.SourceSalzburgOGD, Stations: 9, UpdatedAt: now})
	s.SetDatasetStatus(DatasetStatus{Source: laketemp.SourceHydroOOE, Stations: 40, UpdatedAt: now})
	s.SetDatasetStatus(DatasetStatus{Source: laketemp.SourceHydroOOE, Stations: 41, UpdatedAt: now})

	statuses := s.DatasetStatuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, laketemp.SourceHydroOOE, statuses[0].Source)
	assert.Equal(t, 41, statuses[0].Stations)
	assert.Equal(t, laketemp.SourceSalzburgOGD, statuses[1].Source)
}
