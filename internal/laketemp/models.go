package laketemp

import (
	"time"
)

// SourceType identifies which upstream publisher a lake's readings come from.
type SourceType string

const (
	// SourceGKDBayern is the Bavarian GKD per-station HTML table. One fetch
	// per lake.
	SourceGKDBayern SourceType = "gkd_bayern"
	// SourceHydroOOE is the Upper Austrian hydrographic service's bulk ZRXP
	// export. One download serves every configured lake of this type.
	SourceHydroOOE SourceType = "hydro_ooe"
	// SourceSalzburgOGD is the Land Salzburg open-data lake temperature text
	// file. One download serves every configured lake of this type.
	SourceSalzburgOGD SourceType = "salzburg_ogd"
)

// IsDataset reports whether the source serves many lakes from a single shared
// download rather than one fetch per lake.
func (s SourceType) IsDataset() bool {
	return s == SourceHydroOOE || s == SourceSalzburgOGD
}

// SourceSpec selects a lake's upstream and carries the per-source hints.
// Which hint fields are meaningful depends on Type; the config loader rejects
// combinations that make no sense.
type SourceSpec struct {
	Type SourceType

	// TableSelector is a CSS selector narrowing which HTML table holds the
	// readings (gkd_bayern only). Empty means auto-detect.
	TableSelector string
	// StationID pins the station key used for matching. Non-authoritative
	// for gkd_bayern (the page covers one station anyway); for hydro_ooe it
	// selects the block from the bulk file.
	StationID string
	// LakeName overrides the lake's display name for dataset matching
	// (salzburg_ogd only).
	LakeName string
}

// LakeConfig is one validated monitoring target. Built once at startup by the
// config loader, then treated as immutable; coordinators hold references but
// never modify it.
type LakeConfig struct {
	Name         string
	EntityID     string
	URL          string
	ScanInterval time.Duration
	Timeout      time.Duration
	UserAgent    string
	Source       SourceSpec
}

// TemperatureReading is a single normalized measurement in the source's
// native unit (degrees Celsius for all current upstreams). Readings are
// created by parsers and never mutated afterwards.
type TemperatureReading struct {
	Value      float64
	ObservedAt time.Time
	// SourceStationKey matches dataset rows to lakes: the station number for
	// hydro_ooe, the normalized lake name for salzburg_ogd, the station id
	// (or page-derived key) for gkd_bayern.
	SourceStationKey string
	StationName      string
	Source           SourceType
}

// DatasetSnapshot is the parsed result of one bulk download. It exists only
// for the refresh cycle that produced it; fan-out copies values out and the
// snapshot is dropped.
type DatasetSnapshot struct {
	FetchedAt time.Time
	ByteSize  int
	// Entries is keyed by SourceStationKey.
	Entries map[string]TemperatureReading
	// Names maps a station key to the searchable names attached to it
	// (station name, water body name). Used for substring matching when a
	// lake has no configured station id.
	Names map[string][]string
}

// Status classifies how trustworthy a lake's cached reading currently is.
type Status string

const (
	// StatusFresh means the reading is younger than the lake's timeout.
	StatusFresh Status = "fresh"
	// StatusStale means a reading exists but has aged past the timeout; it
	// must not be presented as a current value.
	StatusStale Status = "stale"
	// StatusError means the lake has never produced a successful reading.
	StatusError Status = "error"
)

// Scheduling defaults, shared by the config loader and the dataset
// coordinators' no-members fallback.
const (
	DefaultScanInterval = 30 * time.Minute
	DefaultTimeout      = 24 * time.Hour
)
