package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/alpinelakes/laketemp/internal/laketemp"
	"github.com/alpinelakes/laketemp/internal/metrics"
	"github.com/alpinelakes/laketemp/internal/store"
)

// Attribution names the upstream agencies whose data this service republishes.
const Attribution = "Data courtesy of Bavarian GKD, Hydrographischer Dienst OÖ, Land Salzburg"

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, st *store.MemoryStore, m *metrics.Metrics) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	v1 := app.Group("/api/v1")

	v1.Get("/lakes", func(c *fiber.Ctx) error {
		now := time.Now()
		entries := st.List()
		out := make([]lakeSummary, 0, len(entries))
		for _, e := range entries {
			out = append(out, lakeSummary{
				EntityID: e.EntityID,
				Name:     e.Name,
				Source:   string(e.Source),
				Status:   string(e.Status(now)),
			})
		}
		return c.JSON(fiber.Map{"lakes": out})
	})

	v1.Get("/lakes/:entity_id", func(c *fiber.Ctx) error {
		entry, err := st.Get(c.Params("entity_id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "unknown lake")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load lake state")
		}
		return c.JSON(buildLakeDocument(entry, time.Now()))
	})

	v1.Get("/datasets", func(c *fiber.Ctx) error {
		statuses := st.DatasetStatuses()
		out := make([]datasetSummary, 0, len(statuses))
		for _, ds := range statuses {
			out = append(out, buildDatasetSummary(ds))
		}
		return c.JSON(fiber.Map{"datasets": out})
	})
}

// lakeSummary is one row of the lake list.
type lakeSummary struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Source   string `json:"source"`
	Status   string `json:"status"`
}

// lakeDocument is the full per-lake state. Temperature is null unless the
// reading is fresh; consumers that want the stale value anyway can read
// observed_at and judge for themselves.
type lakeDocument struct {
	EntityID    string     `json:"entity_id"`
	Name        string     `json:"name"`
	Source      string     `json:"source"`
	URL         string     `json:"url,omitempty"`
	Status      string     `json:"status"`
	Temperature *float64   `json:"temperature_c"`
	ObservedAt  *time.Time `json:"observed_at"`
	StationKey  string     `json:"station_key,omitempty"`
	StationName string     `json:"station_name,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	Attribution string     `json:"attribution"`
}

func buildLakeDocument(e store.LakeEntry, now time.Time) lakeDocument {
	status := e.Status(now)
	doc := lakeDocument{
		EntityID:    e.EntityID,
		Name:        e.Name,
		Source:      string(e.Source),
		URL:         e.URL,
		Status:      string(status),
		LastError:   e.LastError,
		Attribution: Attribution,
	}
	if e.Reading != nil {
		observed := e.Reading.ObservedAt
		doc.ObservedAt = &observed
		doc.StationKey = e.Reading.SourceStationKey
		doc.StationName = e.Reading.StationName
		if status == laketemp.StatusFresh {
			v := e.Reading.Value
			doc.Temperature = &v
		}
	}
	if !e.LastSuccess.IsZero() {
		last := e.LastSuccess
		doc.LastSuccess = &last
	}
	return doc
}

// datasetSummary is one row of the dataset list.
type datasetSummary struct {
	Source    string     `json:"source"`
	URL       string     `json:"url"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
	ByteSize  int        `json:"byte_size"`
	Stations  int        `json:"stations"`
	Members   int        `json:"members"`
	Interval  string     `json:"effective_interval"`
	LastError string     `json:"last_error,omitempty"`
}

func buildDatasetSummary(ds store.DatasetStatus) datasetSummary {
	out := datasetSummary{
		Source:    string(ds.Source),
		URL:       ds.URL,
		ByteSize:  ds.ByteSize,
		Stations:  ds.Stations,
		Members:   ds.Members,
		Interval:  ds.Interval.String(),
		LastError: ds.LastError,
	}
	if !ds.FetchedAt.IsZero() {
		fetched := ds.FetchedAt
		out.FetchedAt = &fetched
	}
	return out
}
