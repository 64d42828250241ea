package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/alpinelakes/laketemp/internal/laketemp"
)

// DefaultUserAgent is sent when a lake does not configure its own.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type lakesFile struct {
	Lakes []lakeEntry `yaml:"lakes" validate:"required,min=1,dive"`
}

type lakeEntry struct {
	Name         string      `yaml:"name" validate:"required,min=1,max=100"`
	EntityID     string      `yaml:"entity_id" validate:"required,entity_slug"`
	URL          string      `yaml:"url"`
	ScanInterval int         `yaml:"scan_interval" validate:"min=15,max=86400"`
	TimeoutHours int         `yaml:"timeout_hours" validate:"min=1,max=336"`
	UserAgent    string      `yaml:"user_agent" validate:"min=10"`
	Source       sourceEntry `yaml:"source"`
}

type sourceEntry struct {
	Type          string `yaml:"type" validate:"required,oneof=gkd_bayern hydro_ooe salzburg_ogd"`
	TableSelector string `yaml:"table_selector"`
	StationID     string `yaml:"station_id"`
	LakeName      string `yaml:"lake_name"`
}

// entitySlugRe is the entity id shape: lowercase letters, digits and
// underscores, at most 64 characters.
var entitySlugRe = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// LoadLakes reads and validates the lake list. Defaults are filled in before
// validation so the bounds also apply to them.
func LoadLakes(path string) ([]laketemp.LakeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lakes file: %w", err)
	}
	lakes, err := parseLakes(data)
	if err != nil {
		return nil, fmt.Errorf("lakes file %s: %w", path, err)
	}
	return lakes, nil
}

func parseLakes(data []byte) ([]laketemp.LakeConfig, error) {
	var file lakesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	for i := range file.Lakes {
		applyLakeDefaults(&file.Lakes[i])
	}

	v := validator.New()
	if err := v.RegisterValidation("entity_slug", func(fl validator.FieldLevel) bool {
		return entitySlugRe.MatchString(fl.Field().String())
	}); err != nil {
		return nil, err
	}
	if err := v.Struct(file); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	seen := make(map[string]bool, len(file.Lakes))
	out := make([]laketemp.LakeConfig, 0, len(file.Lakes))
	for _, e := range file.Lakes {
		if seen[e.EntityID] {
			return nil, fmt.Errorf("duplicate entity_id %q", e.EntityID)
		}
		seen[e.EntityID] = true

		if e.URL != "" && !isHTTPURL(e.URL) {
			return nil, fmt.Errorf("lake %q: url must be an http(s) address without spaces", e.EntityID)
		}
		if e.Source.Type == string(laketemp.SourceGKDBayern) && e.URL == "" {
			return nil, fmt.Errorf("lake %q: url is required for source gkd_bayern", e.EntityID)
		}

		out = append(out, laketemp.LakeConfig{
			Name:         e.Name,
			EntityID:     e.EntityID,
			URL:          e.URL,
			ScanInterval: time.Duration(e.ScanInterval) * time.Second,
			Timeout:      time.Duration(e.TimeoutHours) * time.Hour,
			UserAgent:    e.UserAgent,
			Source: laketemp.SourceSpec{
				Type:          laketemp.SourceType(e.Source.Type),
				TableSelector: e.Source.TableSelector,
				StationID:     e.Source.StationID,
				LakeName:      e.Source.LakeName,
			},
		})
	}
	return out, nil
}

func applyLakeDefaults(e *lakeEntry) {
	if e.ScanInterval == 0 {
		e.ScanInterval = int(laketemp.DefaultScanInterval / time.Second)
	}
	if e.TimeoutHours == 0 {
		e.TimeoutHours = int(laketemp.DefaultTimeout / time.Hour)
	}
	if e.UserAgent == "" {
		e.UserAgent = DefaultUserAgent
	}
	if e.Source.Type == "" {
		e.Source.Type = string(laketemp.SourceGKDBayern)
	}
}

func isHTTPURL(s string) bool {
	lowered := strings.ToLower(s)
	if !strings.HasPrefix(lowered, "http://") && !strings.HasPrefix(lowered, "https://") {
		return false
	}
	return !strings.Contains(s, " ")
}
