// Package scraper turns raw upstream payloads into normalized temperature
// readings.
//
// The three parsers are pure functions of their input bytes: no I/O, no
// shared state. Coordinators fetch, then hand the payload here, then fan the
// result out. Each upstream format lives in its own file.
package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"

	"github.com/alpinelakes/laketemp/internal/laketemp"

	_ "time/tzdata"
)

// Plausibility bounds for open-water temperatures. Values outside are parser
// noise (sensor glitches, sentinel codes) and are dropped at parse time.
const (
	MinPlausibleTempC = -5.0
	MaxPlausibleTempC = 45.0
)

// ParseError reports a structurally invalid upstream payload. Rows or blocks
// that are individually broken are skipped; ParseError means the payload as a
// whole yielded nothing usable.
type ParseError struct {
	Source laketemp.SourceType
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Source, e.Detail)
}

func parseErrorf(source laketemp.SourceType, format string, args ...interface{}) *ParseError {
	return &ParseError{Source: source, Detail: fmt.Sprintf(format, args...)}
}

// Bulk is the result of parsing one dataset download: the latest reading per
// station key, plus the searchable names attached to each key for lakes that
// match by name instead of id.
type Bulk struct {
	Entries map[string]laketemp.TemperatureReading
	Names   map[string][]string
}

var (
	berlinTZ = mustLocation("Europe/Berlin")
	viennaTZ = mustLocation("Europe/Vienna")
)

// mustLocation cannot fail at runtime: the tzdata import above embeds the
// zone database into the binary.
func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// decodeText interprets upstream bytes as UTF-8 when valid, falling back to
// Latin-1, which the Austrian portals still serve occasionally. Latin-1
// decoding accepts every byte, so this never fails.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

// normalizeSpace collapses runs of whitespace to single spaces and trims.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// stripDiacritics decomposes the string and drops combining marks, so that
// "Gewässer" compares equal to "Gewasser".
func stripDiacritics(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var numericTempChars = "0123456789.+-"

// parseTemperature reads a Celsius value that may carry a German decimal
// comma and unit decorations, for example "22,0", "21.3" or "21,3 °C".
// Values outside the plausibility bounds are rejected.
func parseTemperature(text string) (float64, error) {
	cleaned := strings.ToLower(normalizeSpace(text))
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	var b strings.Builder
	for _, r := range cleaned {
		if strings.ContainsRune(numericTempChars, r) {
			b.WriteRune(r)
		}
	}
	numeric := b.String()
	switch numeric {
	case "", "+", "-", ".":
		return 0, fmt.Errorf("no numeric value in temperature %q", text)
	}

	value, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, fmt.Errorf("bad temperature %q: %w", text, err)
	}
	if value < MinPlausibleTempC || value > MaxPlausibleTempC {
		return 0, fmt.Errorf("out-of-range temperature %v", value)
	}
	return value, nil
}

var (
	wordSeeRe  = regexp.MustCompile(`\bsee\b`)
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)
)

var lakeNameAliases = map[string]string{
	// Abersee is the local name for the St. Gilgen part of Wolfgangsee.
	"abersee":   "wolfgang",
	"zellamsee": "zeller",
	"zell":      "zeller",
	"zellsee":   "zeller",
}

var lakeNameStems = []struct {
	pattern string
	stem    string
}{
	{"obertrumersee", "obertrumer"},
	{"untertrumersee", "untertrumer"},
	{"mattsee", "matt"},
	{"grabensee", "graben"},
	{"wolfgangsee", "wolfgang"},
	{"zellersee", "zeller"},
	{"wallersee", "waller"},
	{"fuschlsee", "fuschl"},
	{"mondsee", "mond"},
	{"attersee", "atter"},
}

// NormalizeLakeName reduces a lake name to a stable matching key: lowercase,
// diacritics stripped, the standalone word "see" dropped, known aliases and
// spelling variants collapsed to one stem. "Fuschlsee", "Fuschl See" and
// "fuschl" all map to "fuschl".
func NormalizeLakeName(name string) string {
	base := strings.ToLower(strings.TrimSpace(stripDiacritics(name)))
	base = strings.ReplaceAll(base, "zeller see", "zellersee")
	base = strings.ReplaceAll(base, "obertrumer see", "obertrumersee")
	base = wordSeeRe.ReplaceAllString(base, "")
	base = nonAlnumRe.ReplaceAllString(base, "")

	if alias, ok := lakeNameAliases[base]; ok {
		base = alias
	}
	for _, s := range lakeNameStems {
		if strings.Contains(base, s.pattern) {
			return s.stem
		}
	}
	return base
}
