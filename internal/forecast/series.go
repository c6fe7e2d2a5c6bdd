package forecast

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

// Temperature element names consumed by the series and skipped by the summary.
const (
	MinTemperatureElement = "MinT"
	MaxTemperatureElement = "MaxT"
)

// TaipeiZone is the fixed UTC+8 zone CWA timestamps are expressed in.
var TaipeiZone = time.FixedZone("Asia/Taipei", 8*60*60)

// CWA datasets use a space separator; the ISO "T" form is also accepted.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTimestamp interprets a naive wall-clock timestamp as local time in zone.
// The wall clock is kept as is; nothing is converted.
func ParseTimestamp(s string, zone *time.Location) (time.Time, error) {
	if zone == nil {
		zone = TaipeiZone
	}
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, s, zone)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ExtractSeries builds one SeriesPoint per MinT period. Period i uses the end
// time of the i-th MinT entry; MaxT is paired by index and must share that end
// time. Input order is preserved.
//
// A missing MinT or MaxT yields a MISSING_ELEMENT error. A non-integer value,
// a missing MaxT period or an end-time mismatch yields PARSE_ERROR.
func ExtractSeries(ix *Index, zone *time.Location) ([]models.SeriesPoint, error) {
	if zone == nil {
		zone = TaipeiZone
	}
	minEntries, ok := ix.Entries(MinTemperatureElement)
	if !ok {
		return nil, &Error{Code: CodeMissingElement, Element: MinTemperatureElement, Index: -1}
	}
	maxEntries, ok := ix.Entries(MaxTemperatureElement)
	if !ok {
		return nil, &Error{Code: CodeMissingElement, Element: MaxTemperatureElement, Index: -1}
	}

	points := make([]models.SeriesPoint, 0, len(minEntries))
	for i, minEntry := range minEntries {
		if i >= len(maxEntries) {
			return nil, &Error{
				Code:    CodeParse,
				Element: MaxTemperatureElement,
				Index:   i,
				Err:     fmt.Errorf("has %d periods, %s has %d", len(maxEntries), MinTemperatureElement, len(minEntries)),
			}
		}
		maxEntry := maxEntries[i]

		ts, err := ParseTimestamp(minEntry.EndTime, zone)
		if err != nil {
			return nil, &Error{Code: CodeParse, Element: MinTemperatureElement, Index: i, Err: fmt.Errorf("end time: %w", err)}
		}
		maxTS, err := ParseTimestamp(maxEntry.EndTime, zone)
		if err != nil {
			return nil, &Error{Code: CodeParse, Element: MaxTemperatureElement, Index: i, Err: fmt.Errorf("end time: %w", err)}
		}
		if !maxTS.Equal(ts) {
			return nil, &Error{
				Code:    CodeParse,
				Element: MaxTemperatureElement,
				Index:   i,
				Err:     fmt.Errorf("end time %s does not match %s end time %s", maxEntry.EndTime, MinTemperatureElement, minEntry.EndTime),
			}
		}

		low, err := temperatureValue(minEntry)
		if err != nil {
			return nil, &Error{Code: CodeParse, Element: MinTemperatureElement, Index: i, Err: err}
		}
		high, err := temperatureValue(maxEntry)
		if err != nil {
			return nil, &Error{Code: CodeParse, Element: MaxTemperatureElement, Index: i, Err: err}
		}
		points = append(points, models.SeriesPoint{Timestamp: ts, Low: low, High: high})
	}
	return points, nil
}

// temperatureValue reads an integer from either value shape.
func temperatureValue(e models.TimeEntry) (int, error) {
	var raw string
	switch e.Value.Kind {
	case models.ValueParametric:
		raw = e.Value.Parameter.ParameterName
	case models.ValueMeasured:
		raw = e.Value.Measures[0].Value
	default:
		return 0, fmt.Errorf("no value present")
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("value %q is not an integer", raw)
	}
	return n, nil
}
