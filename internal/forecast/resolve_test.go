package forecast

import (
	"errors"
	"testing"
)

func TestResolveLocation(t *testing.T) {
	doc := threeCities()
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{name: "first entry", query: "臺北市"},
		{name: "last entry", query: "高雄市"},
		{name: "absent", query: "花蓮縣", wantErr: true},
		{name: "variant character is not matched", query: "台北市", wantErr: true},
		{name: "surrounding space is not trimmed", query: " 臺中市", wantErr: true},
		{name: "empty", query: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLocation(doc.Locations, tt.query)
			if tt.wantErr {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("ResolveLocation(%q) error = %v, want NOT_FOUND", tt.query, err)
				}
				if CodeOf(err) != CodeNotFound {
					t.Errorf("CodeOf() = %q, want %q", CodeOf(err), CodeNotFound)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveLocation(%q) error = %v", tt.query, err)
			}
			if got.LocationName != tt.query {
				t.Errorf("LocationName = %q, want %q", got.LocationName, tt.query)
			}
		})
	}
}

// TestResolveLocation_NeverReturnsOtherName checks every query against every
// location list prefix.
func TestResolveLocation_NeverReturnsOtherName(t *testing.T) {
	doc := threeCities()
	queries := append(LocationNames(doc.Locations), "臺南市", "")
	for n := 0; n <= len(doc.Locations); n++ {
		for _, q := range queries {
			got, err := ResolveLocation(doc.Locations[:n], q)
			if err == nil && got.LocationName != q {
				t.Errorf("ResolveLocation(%d locations, %q) = %q", n, q, got.LocationName)
			}
		}
	}
}

func TestResolveLocation_FirstMatchWins(t *testing.T) {
	doc := threeCities()
	dup := taipei()
	dup.WeatherElement = nil
	locs := append(doc.Locations, dup)

	got, err := ResolveLocation(locs, "臺北市")
	if err != nil {
		t.Fatalf("ResolveLocation() error = %v", err)
	}
	if len(got.WeatherElement) == 0 {
		t.Error("ResolveLocation() returned the later duplicate, want the first")
	}
}

func TestLocationNames(t *testing.T) {
	got := LocationNames(threeCities().Locations)
	want := []string{"臺北市", "臺中市", "高雄市"}
	if len(got) != len(want) {
		t.Fatalf("LocationNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("LocationNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
