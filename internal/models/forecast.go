package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ForecastDocument is one decoded dataset response: every location the provider returned.
type ForecastDocument struct {
	DatasetDescription string     `json:"datasetDescription,omitempty"`
	Locations          []Location `json:"locations"`
	FetchedAt          time.Time  `json:"fetchedAt,omitempty"`
	Stale              bool       `json:"stale,omitempty"` // served from stale cache
}

// Location is a single city record. Element names are expected to be unique.
type Location struct {
	LocationName   string           `json:"locationName"`
	WeatherElement []WeatherElement `json:"weatherElement"`
}

// WeatherElement is a named time series such as Wx, PoP, MinT, CI or MaxT.
type WeatherElement struct {
	ElementName string      `json:"elementName"`
	Time        []TimeEntry `json:"time"`
}

// ValueKind tags which payload shape a TimeEntry carries.
type ValueKind int

const (
	ValueAbsent ValueKind = iota
	ValueParametric
	ValueMeasured
)

func (k ValueKind) String() string {
	switch k {
	case ValueParametric:
		return "parametric"
	case ValueMeasured:
		return "measured"
	default:
		return "absent"
	}
}

// Parameter is the single named value used by most CWA datasets.
type Parameter struct {
	ParameterName  string `json:"parameterName"`
	ParameterValue string `json:"parameterValue,omitempty"`
	ParameterUnit  string `json:"parameterUnit,omitempty"`
}

// Measure is a value with its unit of measure.
type Measure struct {
	Value    string `json:"value"`
	Measures string `json:"measures"`
}

// Value is the payload of a TimeEntry. Exactly one of Parameter or Measures is
// meaningful, selected by Kind.
type Value struct {
	Kind      ValueKind
	Parameter Parameter
	Measures  []Measure
}

// ParametricValue returns a Value carrying p.
func ParametricValue(p Parameter) Value {
	return Value{Kind: ValueParametric, Parameter: p}
}

// MeasuredValue returns a Value carrying the given measures. With no measures the value is absent.
func MeasuredValue(measures ...Measure) Value {
	if len(measures) == 0 {
		return Value{}
	}
	return Value{Kind: ValueMeasured, Measures: measures}
}

// TimeEntry is one forecast period. Start and end are wall-clock strings without
// an offset and are kept verbatim so the record re-serializes unchanged.
//
// Keys other than startTime, endTime, parameter and elementValue are kept in
// Extra, as are a parameter or elementValue that carry no value (null, or an
// empty elementValue list). They are written back after the known keys in
// sorted order, so the prompt document reproduces every key the provider sent.
type TimeEntry struct {
	StartTime string
	EndTime   string
	Value     Value
	Extra     map[string]json.RawMessage
}

type timeEntryJSON struct {
	StartTime    string     `json:"startTime"`
	EndTime      string     `json:"endTime"`
	Parameter    *Parameter `json:"parameter,omitempty"`
	ElementValue []Measure  `json:"elementValue,omitempty"`
}

// UnmarshalJSON picks the value shape from whichever of parameter or elementValue is present.
func (t *TimeEntry) UnmarshalJSON(data []byte) error {
	var raw timeEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	t.StartTime = raw.StartTime
	t.EndTime = raw.EndTime
	delete(keys, "startTime")
	delete(keys, "endTime")
	switch {
	case raw.Parameter != nil:
		t.Value = ParametricValue(*raw.Parameter)
		delete(keys, "parameter")
	case len(raw.ElementValue) > 0:
		t.Value = MeasuredValue(raw.ElementValue...)
		delete(keys, "elementValue")
	default:
		t.Value = Value{}
	}
	t.Extra = nil
	if len(keys) > 0 {
		t.Extra = keys
	}
	return nil
}

// MarshalJSON writes the entry back in the provider's shape. HTML characters
// are left unescaped so callers control escaping.
func (t TimeEntry) MarshalJSON() ([]byte, error) {
	raw := timeEntryJSON{StartTime: t.StartTime, EndTime: t.EndTime}
	emitted := map[string]bool{"startTime": true, "endTime": true}
	switch t.Value.Kind {
	case ValueParametric:
		p := t.Value.Parameter
		raw.Parameter = &p
		emitted["parameter"] = true
	case ValueMeasured:
		raw.ElementValue = t.Value.Measures
		emitted["elementValue"] = true
	}
	out, err := encodeUnescaped(raw)
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return out, nil
	}

	names := make([]string, 0, len(t.Extra))
	for k := range t.Extra {
		if !emitted[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.Write(out[:len(out)-1])
	for _, k := range names {
		key, err := encodeUnescaped(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		if err := json.Compact(&buf, t.Extra[k]); err != nil {
			return nil, fmt.Errorf("time entry key %s: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SeriesPoint is one charting period: zoned timestamp plus low and high temperature.
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Low       int       `json:"low"`
	High      int       `json:"high"`
}

// String renders the point as a tab-separated "timestamp low high" row.
func (p SeriesPoint) String() string {
	return fmt.Sprintf("%s\t%d\t%d", p.Timestamp.Format(time.RFC3339), p.Low, p.High)
}

// SeriesLines renders one row per point, in order.
func SeriesLines(points []SeriesPoint) []string {
	out := make([]string, 0, len(points))
	for _, p := range points {
		out = append(out, p.String())
	}
	return out
}

// SummaryLine is the display value of one element's nearest period.
type SummaryLine struct {
	Label     string `json:"label"`
	Value     string `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"` // why the value is unavailable
}

// NoDataAvailable is shown for elements without a usable nearest value.
const NoDataAvailable = "no data available"

// Display renders the value with its unit, or the fallback text.
func (l SummaryLine) Display() string {
	if !l.Available {
		return NoDataAvailable
	}
	if l.Unit == "" {
		return l.Value
	}
	return l.Value + " " + l.Unit
}

func (l SummaryLine) String() string {
	return l.Label + ": " + l.Display()
}

// Summary is the ordered list of summary lines for one location.
type Summary []SummaryLine

// Lines renders one "label: value" string per element.
func (s Summary) Lines() []string {
	out := make([]string, 0, len(s))
	for _, l := range s {
		out = append(out, l.String())
	}
	return out
}

// PromptDocument is the subset of a Location embedded in the narration prompt.
// Field order is the serialized key order.
type PromptDocument struct {
	LocationName   string           `json:"locationName"`
	WeatherElement []WeatherElement `json:"weatherElement"`
}
