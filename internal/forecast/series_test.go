package forecast

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

func TestExtractSeries_SinglePeriodScenario(t *testing.T) {
	ix := IndexElements([]models.WeatherElement{
		element("MinT", param("2023-12-31T18:00:00", "2024-01-01T06:00:00", "15")),
		element("MaxT", param("2023-12-31T18:00:00", "2024-01-01T06:00:00", "22")),
	})

	got, err := ExtractSeries(ix, nil)
	if err != nil {
		t.Fatalf("ExtractSeries() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	want, _ := time.Parse(time.RFC3339, "2024-01-01T06:00:00+08:00")
	if !got[0].Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, want)
	}
	if got[0].Timestamp.Format(time.RFC3339) != "2024-01-01T06:00:00+08:00" {
		t.Errorf("Timestamp formatted = %s, want wall clock 06:00 at +08:00", got[0].Timestamp.Format(time.RFC3339))
	}
	if got[0].Low != 15 || got[0].High != 22 {
		t.Errorf("Low/High = %d/%d, want 15/22", got[0].Low, got[0].High)
	}
}

func TestExtractSeries_UsesEndTimeInOrder(t *testing.T) {
	got, err := ExtractSeries(IndexElements(taipei().WeatherElement), TaipeiZone)
	if err != nil {
		t.Fatalf("ExtractSeries() error = %v", err)
	}
	wantTimes := []string{"2024-01-01T18:00:00+08:00", "2024-01-02T06:00:00+08:00", "2024-01-02T18:00:00+08:00"}
	wantLow := []int{15, 14, 16}
	wantHigh := []int{22, 18, 23}
	if len(got) != len(wantTimes) {
		t.Fatalf("len = %d, want %d", len(got), len(wantTimes))
	}
	for i, p := range got {
		if p.Timestamp.Format(time.RFC3339) != wantTimes[i] {
			t.Errorf("[%d] Timestamp = %s, want %s", i, p.Timestamp.Format(time.RFC3339), wantTimes[i])
		}
		if p.Low != wantLow[i] || p.High != wantHigh[i] {
			t.Errorf("[%d] = %d/%d, want %d/%d", i, p.Low, p.High, wantLow[i], wantHigh[i])
		}
	}
}

func TestExtractSeries_LengthMatchesMinT(t *testing.T) {
	for n := 0; n <= 6; n++ {
		var minT, maxT []models.TimeEntry
		base := time.Date(2024, 1, 1, 6, 0, 0, 0, TaipeiZone)
		for i := 0; i < n; i++ {
			end := base.Add(time.Duration(i*12) * time.Hour).Format("2006-01-02 15:04:05")
			minT = append(minT, param("", end, strconv.Itoa(10+i)))
			maxT = append(maxT, param("", end, strconv.Itoa(20+i)))
		}
		ix := IndexElements([]models.WeatherElement{element("MinT", minT...), element("MaxT", maxT...)})
		got, err := ExtractSeries(ix, nil)
		if err != nil {
			t.Fatalf("n=%d: ExtractSeries() error = %v", n, err)
		}
		if len(got) != n {
			t.Errorf("n=%d: len = %d", n, len(got))
		}
	}
}

func TestExtractSeries_IntegerRoundTrip(t *testing.T) {
	for _, v := range []string{"-3", "0", "7", "15", "38", "104"} {
		ix := IndexElements([]models.WeatherElement{
			element("MinT", param("", "2024-01-01 06:00:00", v)),
			element("MaxT", param("", "2024-01-01 06:00:00", v)),
		})
		got, err := ExtractSeries(ix, nil)
		if err != nil {
			t.Fatalf("ExtractSeries(%s) error = %v", v, err)
		}
		if strconv.Itoa(got[0].Low) != v || strconv.Itoa(got[0].High) != v {
			t.Errorf("round trip of %s gave %d/%d", v, got[0].Low, got[0].High)
		}
	}
}

func TestExtractSeries_AcceptsMeasuredTemperatures(t *testing.T) {
	ix := IndexElements([]models.WeatherElement{
		element("MinT", measured("", "2024-01-01 06:00:00", "12", "C")),
		element("MaxT", measured("", "2024-01-01 06:00:00", "19", "C")),
	})
	got, err := ExtractSeries(ix, nil)
	if err != nil {
		t.Fatalf("ExtractSeries() error = %v", err)
	}
	if got[0].Low != 12 || got[0].High != 19 {
		t.Errorf("Low/High = %d/%d, want 12/19", got[0].Low, got[0].High)
	}
}

func TestExtractSeries_Errors(t *testing.T) {
	const end = "2024-01-01 06:00:00"
	tests := []struct {
		name        string
		elements    []models.WeatherElement
		wantCode    Code
		wantElement string
	}{
		{
			name:        "missing MinT",
			elements:    []models.WeatherElement{element("MaxT", param("", end, "22"))},
			wantCode:    CodeMissingElement,
			wantElement: "MinT",
		},
		{
			name:        "missing MaxT",
			elements:    []models.WeatherElement{element("MinT", param("", end, "15"))},
			wantCode:    CodeMissingElement,
			wantElement: "MaxT",
		},
		{
			name: "non-numeric low",
			elements: []models.WeatherElement{
				element("MinT", param("", end, "warm")),
				element("MaxT", param("", end, "22")),
			},
			wantCode:    CodeParse,
			wantElement: "MinT",
		},
		{
			name: "decimal high",
			elements: []models.WeatherElement{
				element("MinT", param("", end, "15")),
				element("MaxT", param("", end, "22.5")),
			},
			wantCode:    CodeParse,
			wantElement: "MaxT",
		},
		{
			name: "MaxT shorter than MinT",
			elements: []models.WeatherElement{
				element("MinT", param("", end, "15"), param("", "2024-01-01 18:00:00", "14")),
				element("MaxT", param("", end, "22")),
			},
			wantCode:    CodeParse,
			wantElement: "MaxT",
		},
		{
			name: "misaligned periods",
			elements: []models.WeatherElement{
				element("MinT", param("", end, "15")),
				element("MaxT", param("", "2024-01-01 18:00:00", "22")),
			},
			wantCode:    CodeParse,
			wantElement: "MaxT",
		},
		{
			name: "unparseable end time",
			elements: []models.WeatherElement{
				element("MinT", param("", "tomorrow", "15")),
				element("MaxT", param("", end, "22")),
			},
			wantCode:    CodeParse,
			wantElement: "MinT",
		},
		{
			name: "absent value",
			elements: []models.WeatherElement{
				element("MinT", models.TimeEntry{EndTime: end}),
				element("MaxT", param("", end, "22")),
			},
			wantCode:    CodeParse,
			wantElement: "MinT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSeries(IndexElements(tt.elements), nil)
			if err == nil {
				t.Fatalf("ExtractSeries() = %v, want error", got)
			}
			var fe *Error
			if !errors.As(err, &fe) {
				t.Fatalf("error type = %T, want *Error", err)
			}
			if fe.Code != tt.wantCode || fe.Element != tt.wantElement {
				t.Errorf("error = %s/%s, want %s/%s", fe.Code, fe.Element, tt.wantCode, tt.wantElement)
			}
			if got != nil {
				t.Errorf("series = %v, want nil on error", got)
			}
		})
	}
}

func TestParseTimestamp_LocalizesWithoutConverting(t *testing.T) {
	utc := time.UTC
	ts, err := ParseTimestamp("2024-01-01 06:00:00", utc)
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if ts.Hour() != 6 {
		t.Errorf("Hour = %d, want wall clock 6", ts.Hour())
	}

	tp, _ := ParseTimestamp("2024-01-01 06:00:00", nil)
	if tp.Hour() != 6 {
		t.Errorf("Hour = %d, want wall clock 6", tp.Hour())
	}
	if _, offset := tp.Zone(); offset != 8*3600 {
		t.Errorf("offset = %d, want %d", offset, 8*3600)
	}
	if diff := ts.Sub(tp); diff != 8*time.Hour {
		t.Errorf("UTC minus +08:00 localization = %v, want 8h", diff)
	}
}
