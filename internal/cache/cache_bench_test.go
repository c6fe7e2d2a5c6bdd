package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

// benchDocument builds a document roughly the size of the full dataset (22 locations).
func benchDocument() models.ForecastDocument {
	doc := models.ForecastDocument{DatasetDescription: "三十六小時天氣預報", FetchedAt: time.Now()}
	for i := 0; i < 22; i++ {
		loc := models.Location{LocationName: fmt.Sprintf("loc-%02d", i)}
		for _, name := range []string{"Wx", "PoP", "MinT", "CI", "MaxT"} {
			el := models.WeatherElement{ElementName: name}
			for p := 0; p < 3; p++ {
				el.Time = append(el.Time, models.TimeEntry{
					StartTime: "2024-01-01 06:00:00",
					EndTime:   "2024-01-01 18:00:00",
					Value:     models.ParametricValue(models.Parameter{ParameterName: "20", ParameterUnit: "C"}),
				})
			}
			loc.WeatherElement = append(loc.WeatherElement, el)
		}
		doc.Locations = append(doc.Locations, loc)
	}
	return doc
}

func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c := NewInMemoryCache(time.Hour)
	ctx := context.Background()
	_ = c.Set(ctx, "F-C0032-001", benchDocument(), 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "F-C0032-001")
	}
}

func BenchmarkInMemoryCache_Get_Miss(b *testing.B) {
	c := NewInMemoryCache(time.Hour)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "nonexistent")
	}
}

func BenchmarkInMemoryCache_ConcurrentGet(b *testing.B) {
	c := NewInMemoryCache(time.Hour)
	ctx := context.Background()
	_ = c.Set(ctx, "F-C0032-001", benchDocument(), 5*time.Minute)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _, _ = c.Get(ctx, "F-C0032-001")
		}
	})
}

// BenchmarkEntry_Encode measures the JSON envelope cost paid by remote backends.
func BenchmarkEntry_Encode(b *testing.B) {
	e := newEntry(benchDocument(), time.Now(), 5*time.Minute)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = encodeEntry(e)
	}
}
