package scraper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alpinelakes/laketemp/internal/laketemp"
)

// DefaultHydroOOEURL is the bulk ZRXP export covering every Upper Austrian
// water temperature station. The hydro portal itself is a JavaScript SPA
// without a stable JSON API; the bulk file is the supported access path.
const DefaultHydroOOEURL = "https://data.ooe.gv.at/files/hydro/HDOOE_Export_WT.zrxp"

const zrxpLayoutMarker = "#LAYOUT(timestamp,value)"

var (
	zrxpSANRRe   = regexp.MustCompile(`#SANR(\d+)`)
	zrxpSNAMERe  = regexp.MustCompile(`\|\*\|SNAME([^|]*)\|\*\|`)
	zrxpSWATERRe = regexp.MustCompile(`\|\*\|SWATER([^|]*)\|\*\|`)
	zrxpTZRe     = regexp.MustCompile(`#TZUTC([+-])(\d+)`)
	zrxpRINVALRe = regexp.MustCompile(`RINVAL\s*([+-]?\d+(?:[.,]\d+)?)`)
	zrxpPairRe   = regexp.MustCompile(`(\d{14})\s+([+-]?\d+(?:[.,]\d+)?)`)
)

// ParseZRXP reads the Hydro OOE bulk export and returns the latest valid
// sample per station, keyed by station number (SANR). Stations whose block is
// individually broken are skipped; only a file with no usable block at all is
// a parse failure. A station absent from the file is simply absent from the
// result.
func ParseZRXP(data []byte) (*Bulk, error) {
	text := decodeText(data)

	parts := strings.Split(text, "#SANR")
	if len(parts) < 2 {
		return nil, parseErrorf(laketemp.SourceHydroOOE, "no station blocks in export")
	}

	bulk := &Bulk{
		Entries: make(map[string]laketemp.TemperatureReading),
		Names:   make(map[string][]string),
	}

	for _, part := range parts[1:] {
		block := "#SANR" + part

		sanrMatch := zrxpSANRRe.FindStringSubmatch(block)
		if sanrMatch == nil {
			continue
		}
		sanr := sanrMatch[1]

		reading, names, ok := parseZRXPBlock(block, sanr)
		if !ok {
			continue
		}

		// Duplicate SANR blocks are rare; keep the newer sample.
		if prev, exists := bulk.Entries[sanr]; exists && !reading.ObservedAt.After(prev.ObservedAt) {
			continue
		}
		bulk.Entries[sanr] = reading
		bulk.Names[sanr] = names
	}

	if len(bulk.Entries) == 0 {
		return nil, parseErrorf(laketemp.SourceHydroOOE, "no usable station blocks in export")
	}
	return bulk, nil
}

// parseZRXPBlock extracts the latest valid sample from one station block.
// Header fields of interest: SNAME (station name), SWATER (water body),
// TZUTC±n (offset for all timestamps in the block), RINVAL (sentinel marking
// invalid samples). After the layout marker, samples follow as
// "yyyymmddHHMMSS value" pairs.
func parseZRXPBlock(block, sanr string) (laketemp.TemperatureReading, []string, bool) {
	var zero laketemp.TemperatureReading

	sname := submatchTrimmed(zrxpSNAMERe, block)
	swater := submatchTrimmed(zrxpSWATERRe, block)

	loc := time.UTC
	if m := zrxpTZRe.FindStringSubmatch(block); m != nil {
		hours, err := strconv.Atoi(m[2])
		if err == nil {
			if m[1] == "-" {
				hours = -hours
			}
			loc = time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600)
		}
	}

	var rinval *float64
	if m := zrxpRINVALRe.FindStringSubmatch(block); m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil {
			rinval = &v
		}
	}

	layoutPos := strings.Index(block, zrxpLayoutMarker)
	if layoutPos == -1 {
		return zero, nil, false
	}
	dataStart := strings.Index(block[layoutPos:], "|*|")
	if dataStart == -1 {
		return zero, nil, false
	}
	series := block[layoutPos+dataStart+3:]

	var (
		latest     time.Time
		latestTemp float64
		found      bool
	)
	for _, m := range zrxpPairRe.FindAllStringSubmatch(series, -1) {
		ts, err := time.ParseInLocation("20060102150405", m[1], loc)
		if err != nil {
			continue
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", "."), 64)
		if err != nil {
			continue
		}
		if rinval != nil && math.Abs(value-*rinval) < 1e-9 {
			continue
		}
		if value < MinPlausibleTempC || value > MaxPlausibleTempC {
			continue
		}
		if !found || ts.After(latest) {
			latest = ts
			latestTemp = value
			found = true
		}
	}
	if !found {
		return zero, nil, false
	}

	var names []string
	for _, n := range []string{sname, swater} {
		if n != "" {
			names = append(names, n)
		}
	}

	return laketemp.TemperatureReading{
		Value:            latestTemp,
		ObservedAt:       latest,
		SourceStationKey: sanr,
		StationName:      sname,
		Source:           laketemp.SourceHydroOOE,
	}, names, true
}

func submatchTrimmed(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
