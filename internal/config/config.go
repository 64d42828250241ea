// Package config loads process settings from the environment and the lake
// list from a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/alpinelakes/laketemp/internal/ratelimit"
)

// Settings are the process-level knobs. Lake definitions live in the YAML
// file named by LakesFile.
type Settings struct {
	Port      string
	LogLevel  slog.Level
	LakesFile string

	// Per-domain limiter knobs shared by every coordinator.
	MaxConcurrent int
	MinSpacing    time.Duration

	// Dataset download overrides; empty selects the published locations.
	HydroOOEURL    string
	SalzburgOGDURL string
}

// Load reads settings from the environment with sensible defaults.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	s := &Settings{
		Port:           getenvDefault("PORT", "8080"),
		LakesFile:      getenvDefault("LAKES_FILE", "lakes.yaml"),
		MaxConcurrent:  getenvInt("RATE_MAX_CONCURRENT", ratelimit.DefaultMaxConcurrent),
		HydroOOEURL:    os.Getenv("HYDRO_OOE_URL"),
		SalzburgOGDURL: os.Getenv("SALZBURG_OGD_URL"),
	}

	if err := s.LogLevel.UnmarshalText([]byte(getenvDefault("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	spacing, err := time.ParseDuration(getenvDefault("RATE_MIN_SPACING", ratelimit.DefaultMinSpacing.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_MIN_SPACING: %w", err)
	}
	s.MinSpacing = spacing

	return s, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
