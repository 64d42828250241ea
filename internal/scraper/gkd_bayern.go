package scraper

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/alpinelakes/laketemp/internal/common"
	"github.com/alpinelakes/laketemp/internal/laketemp"
)

// GKDHints carries the per-lake knobs for GKD Bayern table extraction.
type GKDHints struct {
	// TableSelector is a CSS selector pinning the readings table when the
	// page carries more than one. Empty selects by header detection with a
	// first-table fallback.
	TableSelector string
	// StationKey is stamped onto the reading. The caller passes the
	// configured station id or the key derived from the page URL.
	StationKey string
}

// GKDTableURL returns the explicit "Tabelle" view for a GKD Bayern station
// page. The measurement table only renders on that view, whichever form of
// the station URL is configured.
func GKDTableURL(pageURL string) string {
	stripped := strings.TrimRight(pageURL, "/")
	if strings.HasSuffix(stripped, "tabelle") {
		return stripped
	}
	return stripped + "/tabelle"
}

var stationNumberRe = regexp.MustCompile(`\d{4,}`)

// GKDStationKeyFromURL infers a station key from a GKD Bayern page URL.
// Station pages embed the station number in a path segment, either bare
// (".../stationen/18673955") or suffixed to a place name
// (".../seethal-18673955/messwerte"). The last long digit run in the path
// wins; the last meaningful segment is the fallback. The key is
// informational for per-lake sources, so a heuristic is acceptable.
func GKDStationKeyFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := ""
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if seg == "" || seg == "tabelle" || seg == "messwerte" {
			continue
		}
		if last == "" {
			last = seg
		}
		if runs := stationNumberRe.FindAllString(seg, -1); len(runs) > 0 {
			return runs[len(runs)-1]
		}
	}
	return last
}

// ParseGKDTable extracts the most recent measurement from a GKD Bayern
// "Tabelle" page. The page covers exactly one station, so the result is a
// single reading.
func ParseGKDTable(data []byte, hints GKDHints) (laketemp.TemperatureReading, error) {
	var zero laketemp.TemperatureReading

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return zero, parseErrorf(laketemp.SourceGKDBayern, "invalid html: %v", err)
	}

	table, perr := chooseGKDTable(doc, hints.TableSelector)
	if perr != nil {
		return zero, perr
	}

	rows := table.Find("tbody tr")
	if rows.Length() == 0 {
		rows = table.Find("tr")
	}

	var (
		latest     time.Time
		latestTemp float64
		parsed     int
	)
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		dateText := normalizeSpace(cells.Eq(0).Text())
		tempText := normalizeSpace(cells.Eq(1).Text())
		if dateText == "" || tempText == "" || tempText == "-" {
			return
		}

		ts, err := parseGermanDatetime(dateText)
		if err != nil {
			return
		}
		value, err := parseTemperature(tempText)
		if err != nil {
			return
		}

		parsed++
		if ts.After(latest) {
			latest = ts
			latestTemp = value
		}
	})

	if parsed == 0 {
		return zero, parseErrorf(laketemp.SourceGKDBayern, "no measurement rows parsed from table")
	}

	return laketemp.TemperatureReading{
		Value:            latestTemp,
		ObservedAt:       latest,
		SourceStationKey: hints.StationKey,
		Source:           laketemp.SourceGKDBayern,
	}, nil
}

// chooseGKDTable picks the measurement table. An explicit selector is
// authoritative: no match is an error, not a fallback. Without one, the first
// table whose header mentions a date and a water temperature column wins,
// else the first table on the page.
func chooseGKDTable(doc *goquery.Document, selector string) (*goquery.Selection, *ParseError) {
	if selector != "" {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			return nil, parseErrorf(laketemp.SourceGKDBayern, "no table matches selector %q", selector)
		}
		return sel.First(), nil
	}

	tables := doc.Find("table")
	if tables.Length() == 0 {
		return nil, parseErrorf(laketemp.SourceGKDBayern, "no table elements found in page")
	}

	var chosen *goquery.Selection
	tables.EachWithBreak(func(_ int, t *goquery.Selection) bool {
		if headerLooksLikeMeasurement(gkdHeaderTexts(t)) {
			chosen = t
			return false
		}
		return true
	})
	if chosen == nil {
		chosen = tables.First()
	}
	return chosen, nil
}

// gkdHeaderTexts reads header cell texts from thead, falling back to the
// first row when the table has no explicit header section.
func gkdHeaderTexts(table *goquery.Selection) []string {
	var texts []string
	table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		texts = append(texts, normalizeSpace(th.Text()))
	})
	if len(texts) == 0 {
		table.Find("tr").First().Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			texts = append(texts, normalizeSpace(cell.Text()))
		})
	}
	return texts
}

func headerLooksLikeMeasurement(headers []string) bool {
	combined := strings.ToLower(strings.Join(headers, " "))
	return common.HasAny(combined, "datum", "date") && common.HasAny(combined, "wassertemperatur", "°c")
}

// parseGermanDatetime reads timestamps like "07.08.2025 16:00" as Berlin
// wall-clock time. Seconds are rare on GKD pages but accepted.
func parseGermanDatetime(text string) (time.Time, error) {
	cleaned := normalizeSpace(text)
	var lastErr error
	for _, layout := range []string{"02.01.2006 15:04:05", "02.01.2006 15:04"} {
		ts, err := time.ParseInLocation(layout, cleaned, berlinTZ)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
