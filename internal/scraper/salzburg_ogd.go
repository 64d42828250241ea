package scraper

import (
	"regexp"
	"strings"
	"time"

	"github.com/alpinelakes/laketemp/internal/laketemp"
)

// DefaultSalzburgOGDURL is the Land Salzburg open-data lake hydrology file,
// updated every two to three hours.
const DefaultSalzburgOGDURL = "https://www.salzburg.gv.at/ogd/56c28e2d-8b9e-41ba-b7d6-fa4896b5b48b/Hydrografie%20Seen.txt"

// Column names and order in the OGD export are not guaranteed, so detection
// works on normalized header tokens against synonym patterns.
var (
	ogdNamePatterns = compilePatterns(
		`gewassername`, `gewasser bezeichnung`, `gewasser`, `gewsser`,
		`stationsname`, `see`, `bezeichnung`, `\bname\b`,
	)
	ogdTempPatterns = compilePatterns(
		`wassertemperatur`, `wasser.*temperatur`, `\btemperatur\b`,
		`\bwassertemp\b`, `\btemp\b`, `cunit`, `celsius`,
	)
	ogdTimestampPatterns = compilePatterns(
		`zeitstempel`, `messzeitpunkt`, `zeit punkt`, `zeitpunkt`, `timestamp`,
	)
	ogdDatePatterns  = compilePatterns(`datum`, `messdatum`, `date`)
	ogdTimePatterns  = compilePatterns(`zeit`, `uhrzeit`, `time`)
	ogdValuePatterns = compilePatterns(`messwert`, `wert`, `value`)
	ogdParamPatterns = compilePatterns(`parameter`, `param`, `messgrosse`, `messgroesse`)
	ogdSitePatterns  = compilePatterns(
		`station`, `standort`, `stelle`, `messstelle`, `messort`, `\bort\b`, `stationsname`,
	)
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		res = append(res, regexp.MustCompile(p))
	}
	return res
}

// ogdColumns holds detected column indices, -1 when a column is absent.
type ogdColumns struct {
	name      int
	temp      int
	value     int
	parameter int
	timestamp int
	date      int
	timeOfDay int
	station   int
}

// ParseSeenCSV reads the semicolon-delimited OGD lake file and returns the
// newest reading per lake, keyed by the normalized lake name.
func ParseSeenCSV(data []byte) (*Bulk, error) {
	text := strings.TrimSpace(decodeText(data))
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, parseErrorf(laketemp.SourceSalzburgOGD, "empty payload")
	}

	headerLine := strings.TrimPrefix(strings.TrimRight(lines[0], "\r"), "\ufeff")
	headers := splitOGDCells(headerLine)
	if len(headers) < 2 {
		return nil, parseErrorf(laketemp.SourceSalzburgOGD, "header has fewer than 2 columns")
	}

	cols, perr := detectOGDColumns(headers)
	if perr != nil {
		return nil, perr
	}

	bulk := &Bulk{
		Entries: make(map[string]laketemp.TemperatureReading),
		Names:   make(map[string][]string),
	}
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		reading, names, ok := parseOGDRow(splitOGDCells(line), cols)
		if !ok {
			continue
		}

		key := reading.SourceStationKey
		if prev, exists := bulk.Entries[key]; exists && !reading.ObservedAt.After(prev.ObservedAt) {
			continue
		}
		bulk.Entries[key] = reading
		bulk.Names[key] = names
	}

	if len(bulk.Entries) == 0 {
		return nil, parseErrorf(laketemp.SourceSalzburgOGD, "no measurement rows parsed from payload")
	}
	return bulk, nil
}

func splitOGDCells(line string) []string {
	cells := strings.Split(line, ";")
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

// normalizeHeaderToken lowercases, strips diacritics and collapses anything
// non-alphanumeric to single spaces, so "Wassertemperatur [°C]" becomes
// "wassertemperatur c".
func normalizeHeaderToken(token string) string {
	t := strings.ToLower(stripDiacritics(token))
	t = nonAlnumRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

func detectOGDColumns(headers []string) (ogdColumns, *ParseError) {
	tokens := make([]string, len(headers))
	for i, h := range headers {
		tokens[i] = normalizeHeaderToken(h)
	}

	cols := ogdColumns{
		name:      findFirstColumn(tokens, ogdNamePatterns),
		temp:      findFirstColumn(tokens, ogdTempPatterns),
		value:     findFirstColumn(tokens, ogdValuePatterns),
		parameter: findFirstColumn(tokens, ogdParamPatterns),
		timestamp: findFirstColumn(tokens, ogdTimestampPatterns),
		date:      findFirstColumn(tokens, ogdDatePatterns),
		timeOfDay: findFirstColumn(tokens, ogdTimePatterns),
		station:   findFirstColumn(tokens, ogdSitePatterns),
	}

	if cols.name == -1 {
		return cols, parseErrorf(laketemp.SourceSalzburgOGD, "missing required name column")
	}
	if cols.temp == -1 && (cols.value == -1 || cols.parameter == -1) {
		return cols, parseErrorf(laketemp.SourceSalzburgOGD,
			"missing temperature column or parameter/value pair")
	}
	if cols.timestamp == -1 && cols.date == -1 {
		return cols, parseErrorf(laketemp.SourceSalzburgOGD, "missing measurement time columns")
	}
	return cols, nil
}

// findFirstColumn returns the first token matching any pattern, -1 if none.
func findFirstColumn(tokens []string, patterns []*regexp.Regexp) int {
	for idx, tok := range tokens {
		for _, re := range patterns {
			if re.MatchString(tok) {
				return idx
			}
		}
	}
	return -1
}

func parseOGDRow(cells []string, cols ogdColumns) (laketemp.TemperatureReading, []string, bool) {
	var zero laketemp.TemperatureReading

	maxIdx := cols.name
	for _, idx := range []int{cols.temp, cols.value, cols.parameter, cols.timestamp, cols.date, cols.timeOfDay, cols.station} {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	if len(cells) <= maxIdx {
		return zero, nil, false
	}

	lakeName := strings.TrimSpace(cells[cols.name])
	if lakeName == "" {
		return zero, nil, false
	}

	value, haveValue := 0.0, false
	if cols.temp != -1 {
		if v, err := parseTemperature(cells[cols.temp]); err == nil {
			value, haveValue = v, true
		}
	}
	if !haveValue && cols.value != -1 && cols.parameter != -1 {
		// Alternative scheme: a parameter column names the quantity; WT is
		// the live dataset's code for Wassertemperatur.
		param := strings.ToLower(strings.TrimSpace(cells[cols.parameter]))
		if strings.Contains(param, "temperatur") || param == "wt" || strings.Contains(param, " wt") {
			if v, err := parseTemperature(cells[cols.value]); err == nil {
				value, haveValue = v, true
			}
		}
	}
	if !haveValue {
		return zero, nil, false
	}

	var ts time.Time
	var haveTS bool
	if cols.timestamp != -1 {
		ts, haveTS = parseOGDDatetimeAny(cells[cols.timestamp])
	} else {
		timeText := ""
		if cols.timeOfDay != -1 {
			timeText = cells[cols.timeOfDay]
		}
		ts, haveTS = parseOGDDatetimeFromParts(cells[cols.date], timeText)
	}
	if !haveTS {
		return zero, nil, false
	}

	names := []string{lakeName}
	if cols.station != -1 {
		if station := strings.TrimSpace(cells[cols.station]); station != "" {
			names = append(names, station)
		}
	}

	return laketemp.TemperatureReading{
		Value:            value,
		ObservedAt:       ts,
		SourceStationKey: NormalizeLakeName(lakeName),
		StationName:      lakeName,
		Source:           laketemp.SourceSalzburgOGD,
	}, names, true
}

var (
	ogdZoneAbbrevRe  = regexp.MustCompile(`\s+[A-ZÄÖÜ]{2,6}$`)
	ogdDottedDateRe  = regexp.MustCompile(`^(\d{4})\.(\d{2})\.(\d{2})`)
	ogdOffsetColonRe = regexp.MustCompile(`(T\d{2}:\d{2}(?::\d{2})?)([+-])(\d{2})(\d{2})$`)
)

var (
	ogdOffsetLayouts = []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04Z07:00",
	}
	ogdNaiveLayouts = []string{
		"2.1.2006 15:04:05",
		"2.1.2006 15:04",
		"2006-1-2 15:04:05",
		"2006-1-2 15:04",
		"2006-1-2T15:04:05",
		"2006-1-2T15:04",
	}
	ogdDateLayouts = []string{"2.1.2006", "2006-1-2", "2.1.06"}
	ogdTimeLayouts = []string{"15:04:05", "15:04"}
)

// parseOGDDatetimeAny reads a combined timestamp cell. Offset-carrying forms
// keep their zone; naive forms are Vienna wall-clock time. Trailing zone
// abbreviations like MEZ/MESZ are dropped before offset parsing.
func parseOGDDatetimeAny(text string) (time.Time, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return time.Time{}, false
	}

	cleaned := ogdZoneAbbrevRe.ReplaceAllString(t, "")
	cleaned = ogdDottedDateRe.ReplaceAllString(cleaned, "$1-$2-$3")
	cleaned = ogdOffsetColonRe.ReplaceAllString(cleaned, "${1}${2}${3}:${4}")
	if strings.HasSuffix(cleaned, "Z") {
		cleaned = strings.TrimSuffix(cleaned, "Z") + "+00:00"
	}
	for _, layout := range ogdOffsetLayouts {
		if ts, err := time.Parse(layout, cleaned); err == nil {
			return ts, true
		}
	}

	for _, layout := range ogdNaiveLayouts {
		if ts, err := time.ParseInLocation(layout, t, viennaTZ); err == nil {
			return ts, true
		}
	}

	if strings.Contains(t, " ") {
		parts := strings.Fields(t)
		if len(parts) >= 2 {
			return parseOGDDatetimeFromParts(parts[0], parts[1])
		}
	}
	return time.Time{}, false
}

// parseOGDDatetimeFromParts assembles split date and time cells. A parsable
// date with a missing or unparsable time is pinned to noon, which keeps
// day-level orderings honest without biasing early or late.
func parseOGDDatetimeFromParts(dateText, timeText string) (time.Time, bool) {
	d := strings.TrimSpace(dateText)
	tm := strings.TrimSpace(timeText)
	if d == "" {
		return time.Time{}, false
	}

	for _, df := range ogdDateLayouts {
		base, err := time.ParseInLocation(df, d, viennaTZ)
		if err != nil {
			continue
		}
		if tm != "" {
			for _, tf := range ogdTimeLayouts {
				if clock, err := time.ParseInLocation(tf, tm, viennaTZ); err == nil {
					return time.Date(base.Year(), base.Month(), base.Day(),
						clock.Hour(), clock.Minute(), clock.Second(), 0, viennaTZ), true
				}
			}
		}
		return time.Date(base.Year(), base.Month(), base.Day(), 12, 0, 0, 0, viennaTZ), true
	}
	return time.Time{}, false
}
