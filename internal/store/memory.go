package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alpinelakes/laketemp/internal/laketemp"
)

var (
	// ErrNotFound is returned when no lake is registered under an entity id.
	ErrNotFound = errors.New("no state for lake")
)

// LakeEntry is the per-lake state exposed to readers: identity, the latest
// reading if one ever arrived, and the outcome of the most recent refresh.
type LakeEntry struct {
	Name     string
	EntityID string
	Source   laketemp.SourceType
	URL      string
	Timeout  time.Duration

	Reading     *laketemp.TemperatureReading
	LastError   string
	LastSuccess time.Time
	UpdatedAt   time.Time
}

// Status evaluates freshness at the given instant. A failed refresh never
// changes the status directly; only the age of the last reading does.
func (e LakeEntry) Status(now time.Time) laketemp.Status {
	return laketemp.EvaluateStatus(e.Reading, now, e.Timeout)
}

// DatasetStatus summarizes the most recent shared download for a dataset
// source, for operators checking whether the upstream file is moving.
type DatasetStatus struct {
	Source    laketemp.SourceType
	URL       string
	FetchedAt time.Time
	ByteSize  int
	Stations  int
	Members   int
	Interval  time.Duration
	LastError string
	UpdatedAt time.Time
}

// MemoryStore is a concurrency-safe in-memory view of all lakes and dataset
// downloads. It keeps the latest reading only; there is no history.
type MemoryStore struct {
	mu sync.RWMutex

	// key: entity id
	lakes map[string]*LakeEntry

	// key: dataset source
	datasets map[laketemp.SourceType]DatasetStatus
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lakes:    make(map[string]*LakeEntry),
		datasets: make(map[laketemp.SourceType]DatasetStatus),
	}
}

// Register seeds the entry for a configured lake so it is listable before the
// first refresh completes. Registering an existing id resets its state.
func (s *MemoryStore) Register(cfg laketemp.LakeConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lakes[cfg.EntityID] = &LakeEntry{
		Name:     cfg.Name,
		EntityID: cfg.EntityID,
		Source:   cfg.Source.Type,
		URL:      cfg.URL,
		Timeout:  cfg.Timeout,
	}
}

// SetReading records a successful refresh and clears any previous error.
func (s *MemoryStore) SetReading(entityID string, reading laketemp.TemperatureReading, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lakes[entityID]
	if !ok {
		return
	}
	r := reading
	entry.Reading = &r
	entry.LastError = ""
	entry.LastSuccess = now
	entry.UpdatedAt = now
}

// SetFailure records a failed refresh. The last reading, if any, is kept so
// that stale data stays visible alongside the error.
func (s *MemoryStore) SetFailure(entityID string, cause error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lakes[entityID]
	if !ok {
		return
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}
	entry.UpdatedAt = now
}

// Get returns a copy of the entry for one lake.
func (s *MemoryStore) Get(entityID string) (LakeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.lakes[entityID]
	if !ok {
		return LakeEntry{}, ErrNotFound
	}
	return entry.clone(), nil
}

// List returns copies of all entries ordered by entity id.
func (s *MemoryStore) List() []LakeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LakeEntry, 0, len(s.lakes))
	for _, entry := range s.lakes {
		out = append(out, entry.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// SetDatasetStatus records the outcome of a shared dataset refresh.
func (s *MemoryStore) SetDatasetStatus(status DatasetStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datasets[status.Source] = status
}

// DatasetStatuses returns all dataset summaries ordered by source name.
func (s *MemoryStore) DatasetStatuses() []DatasetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DatasetStatus, 0, len(s.datasets))
	for _, status := range s.datasets {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// clone copies the entry so callers cannot mutate stored state through the
// reading pointer.
func (e *LakeEntry) clone() LakeEntry {
	out := *e
	if e.Reading != nil {
		r := *e.Reading
		out.Reading = &r
	}
	return out
}
