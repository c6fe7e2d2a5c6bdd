package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/cache"
	"github.com/kjstillabower/forecast-digest-service/internal/client"
	"github.com/kjstillabower/forecast-digest-service/internal/forecast"
	"github.com/kjstillabower/forecast-digest-service/internal/llm"
	"github.com/kjstillabower/forecast-digest-service/internal/models"
)

func loadDocument(t *testing.T) models.ForecastDocument {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "testdata", "F-C0032-001.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var envelope struct {
		Records struct {
			DatasetDescription string            `json:"datasetDescription"`
			Location           []models.Location `json:"location"`
		} `json:"records"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return models.ForecastDocument{
		DatasetDescription: envelope.Records.DatasetDescription,
		Locations:          envelope.Records.Location,
		FetchedAt:          time.Now(),
	}
}

type mockForecastClient struct {
	mu    sync.Mutex
	doc   models.ForecastDocument
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (m *mockForecastClient) GetForecast(ctx context.Context) (models.ForecastDocument, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc, m.err
}

func (m *mockForecastClient) ValidateAPIKey(ctx context.Context) error { return nil }

func (m *mockForecastClient) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// failingCache wraps a cache and fails selected operations.
type failingCache struct {
	cache.Cache
	getErr error
	setErr error
}

func (f *failingCache) Get(ctx context.Context, key string) (models.ForecastDocument, bool, error) {
	if f.getErr != nil {
		return models.ForecastDocument{}, false, f.getErr
	}
	return f.Cache.Get(ctx, key)
}

func (f *failingCache) Set(ctx context.Context, key string, value models.ForecastDocument, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Cache.Set(ctx, key, value, ttl)
}

type mockNarrator struct {
	prompt string
	err    error
}

func (m *mockNarrator) Name() string { return "mock" }

func (m *mockNarrator) Narrate(ctx context.Context, prompt string) (*llm.Narrative, error) {
	m.prompt = prompt
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Narrative{Provider: "mock", Text: "早安！"}, nil
}

func defaultConfig() Config {
	return Config{TTL: time.Minute, StaleTTL: time.Hour}
}

func TestForecastService_Document_CacheAside(t *testing.T) {
	c := &mockForecastClient{doc: loadDocument(t)}
	svc := NewForecastService(c, cache.NewInMemoryCache(time.Hour), nil, defaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc, err := svc.Document(ctx)
		if err != nil {
			t.Fatalf("Document() error = %v", err)
		}
		if len(doc.Locations) != 3 || doc.Stale {
			t.Errorf("Document() = %d locations, stale=%v", len(doc.Locations), doc.Stale)
		}
	}
	if got := c.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestForecastService_Document_UpstreamErrorWithoutStale(t *testing.T) {
	c := &mockForecastClient{err: client.ErrUpstreamFailure}
	svc := NewForecastService(c, cache.NewInMemoryCache(time.Hour), nil, defaultConfig())

	_, err := svc.Document(context.Background())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Document() error = %v, want ErrUpstreamUnavailable", err)
	}
	if !errors.Is(err, client.ErrUpstreamFailure) {
		t.Errorf("Document() error = %v, want wrapping ErrUpstreamFailure", err)
	}
}

func TestForecastService_Document_StaleFallback(t *testing.T) {
	tests := []struct {
		name      string
		staleTTL  time.Duration
		wantStale bool
	}{
		{"stale window enabled", time.Hour, true},
		{"stale window disabled", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockForecastClient{doc: loadDocument(t)}
			cfg := Config{TTL: time.Millisecond, StaleTTL: tt.staleTTL}
			svc := NewForecastService(c, cache.NewInMemoryCache(time.Hour), nil, cfg)
			ctx := context.Background()

			if _, err := svc.Document(ctx); err != nil {
				t.Fatalf("first Document() error = %v", err)
			}
			time.Sleep(5 * time.Millisecond)
			c.fail(client.ErrRateLimited)

			doc, err := svc.Document(ctx)
			if !tt.wantStale {
				if !errors.Is(err, ErrUpstreamUnavailable) {
					t.Fatalf("Document() error = %v, want ErrUpstreamUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Document() error = %v, want stale copy", err)
			}
			if !doc.Stale {
				t.Error("Document() Stale = false, want true")
			}
			if len(doc.Locations) != 3 {
				t.Errorf("stale document has %d locations, want 3", len(doc.Locations))
			}
		})
	}
}

func TestForecastService_Document_CacheErrorsFallThrough(t *testing.T) {
	c := &mockForecastClient{doc: loadDocument(t)}
	fc := &failingCache{Cache: cache.NewInMemoryCache(time.Hour), getErr: errors.New("connection refused"), setErr: errors.New("timeout")}
	svc := NewForecastService(c, fc, nil, defaultConfig())

	doc, err := svc.Document(context.Background())
	if err != nil {
		t.Fatalf("Document() error = %v, want upstream result", err)
	}
	if len(doc.Locations) != 3 {
		t.Errorf("Document() = %d locations, want 3", len(doc.Locations))
	}
}

func TestForecastService_Document_Coalesces(t *testing.T) {
	c := &mockForecastClient{doc: loadDocument(t), delay: 50 * time.Millisecond}
	cfg := defaultConfig()
	cfg.CoalesceEnabled = true
	cfg.CoalesceTimeout = 5 * time.Second
	svc := NewForecastService(c, cache.NewInMemoryCache(time.Hour), nil, cfg)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = svc.Document(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d error = %v", i, err)
		}
	}
	if got := c.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestForecastService_Refresh(t *testing.T) {
	c := &mockForecastClient{doc: loadDocument(t)}
	svc := NewForecastService(c, cache.NewInMemoryCache(time.Hour), nil, defaultConfig())
	ctx := context.Background()

	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, err := svc.Document(ctx); err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if got := c.calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (Document should hit the refreshed cache)", got)
	}

	c.fail(client.ErrUpstreamFailure)
	if err := svc.Refresh(ctx); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Refresh() error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestForecastService_LocationNames(t *testing.T) {
	svc := NewForecastService(&mockForecastClient{doc: loadDocument(t)}, cache.NewInMemoryCache(time.Hour), nil, defaultConfig())

	names, err := svc.LocationNames(context.Background())
	if err != nil {
		t.Fatalf("LocationNames() error = %v", err)
	}
	want := []string{"臺北市", "臺中市", "高雄市"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("LocationNames() = %v, want %v", names, want)
	}
}

func TestForecastService_Location(t *testing.T) {
	svc := NewForecastService(&mockForecastClient{doc: loadDocument(t)}, cache.NewInMemoryCache(time.Hour), nil, defaultConfig())
	ctx := context.Background()

	loc, meta, err := svc.Location(ctx, "高雄市")
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if loc.LocationName != "高雄市" || len(loc.WeatherElement) != 5 {
		t.Errorf("Location() = %s with %d elements", loc.LocationName, len(loc.WeatherElement))
	}
	if meta.FetchedAt.IsZero() {
		t.Error("Location() FetchedAt is zero")
	}

	if _, _, err := svc.Location(ctx, "花蓮縣"); !errors.Is(err, forecast.ErrNotFound) {
		t.Errorf("Location(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestForecastService_Digest(t *testing.T) {
	cfg := defaultConfig()
	cfg.Language = "English"
	svc := NewForecastService(&mockForecastClient{doc: loadDocument(t)}, cache.NewInMemoryCache(time.Hour), nil, cfg)
	ctx := context.Background()

	d, err := svc.Digest(ctx, "臺北市", forecast.DashboardOptions())
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	if len(d.Series) != 3 {
		t.Fatalf("len(Series) = %d, want 3", len(d.Series))
	}
	if d.Series[0].Low != 15 || d.Series[0].High != 22 {
		t.Errorf("Series[0] = %+v, want low 15 high 22", d.Series[0])
	}
	if d.Series[0].Timestamp.Location() != forecast.TaipeiZone {
		t.Errorf("Series[0] zone = %v, want TaipeiZone", d.Series[0].Timestamp.Location())
	}
	if len(d.Summary) != 3 || d.Summary[0].Label != "Wx" {
		t.Errorf("Summary = %+v, want Wx, PoP and CI lines", d.Summary)
	}
	if d.Prompt != "" {
		t.Error("Digest() built a prompt that was not requested")
	}

	p, err := svc.Digest(ctx, "臺北市", forecast.Options{Prompt: true})
	if err != nil {
		t.Fatalf("Digest(prompt) error = %v", err)
	}
	if !strings.Contains(p.Prompt, "Write your answer in English.") {
		t.Errorf("prompt does not use configured language:\n%s", p.Prompt)
	}

	if _, err := svc.Digest(ctx, "臺北", forecast.DashboardOptions()); !errors.Is(err, forecast.ErrNotFound) {
		t.Errorf("Digest(partial name) error = %v, want ErrNotFound", err)
	}
}

func TestForecastService_Narrate(t *testing.T) {
	doc := loadDocument(t)

	svc := NewForecastService(&mockForecastClient{doc: doc}, cache.NewInMemoryCache(time.Hour), nil, defaultConfig())
	if svc.NarratorEnabled() {
		t.Error("NarratorEnabled() = true without narrator")
	}
	if _, err := svc.Narrate(context.Background(), "臺北市", forecast.PromptOptions{}); !errors.Is(err, ErrNarratorDisabled) {
		t.Errorf("Narrate() error = %v, want ErrNarratorDisabled", err)
	}

	n := &mockNarrator{}
	svc = NewForecastService(&mockForecastClient{doc: doc}, cache.NewInMemoryCache(time.Hour), n, defaultConfig())
	got, err := svc.Narrate(context.Background(), "臺中市", forecast.PromptOptions{})
	if err != nil {
		t.Fatalf("Narrate() error = %v", err)
	}
	if got.Narrative.Text != "早安！" {
		t.Errorf("Narrative.Text = %q", got.Narrative.Text)
	}
	if !strings.Contains(n.prompt, `"locationName": "臺中市"`) {
		t.Errorf("narrator prompt missing location payload:\n%s", n.prompt)
	}

	n.err = errors.New("quota exceeded")
	if _, err := svc.Narrate(context.Background(), "臺中市", forecast.PromptOptions{}); !errors.Is(err, n.err) {
		t.Errorf("Narrate() error = %v, want wrapping narrator error", err)
	}
}

func TestForecastService_Narrate_PromptOptions(t *testing.T) {
	n := &mockNarrator{}
	cfg := defaultConfig()
	cfg.Language = "English"
	cfg.Hours = 12
	svc := NewForecastService(&mockForecastClient{doc: loadDocument(t)}, cache.NewInMemoryCache(time.Hour), n, cfg)

	if _, err := svc.Narrate(context.Background(), "臺北市", forecast.PromptOptions{}); err != nil {
		t.Fatalf("Narrate() error = %v", err)
	}
	if !strings.Contains(n.prompt, "Write your answer in English.") || !strings.Contains(n.prompt, "next 12 hours") {
		t.Errorf("prompt does not use configured defaults:\n%s", n.prompt)
	}

	if _, err := svc.Narrate(context.Background(), "臺北市", forecast.PromptOptions{Language: "Japanese", Hours: 6}); err != nil {
		t.Fatalf("Narrate() error = %v", err)
	}
	if !strings.Contains(n.prompt, "Write your answer in Japanese.") || !strings.Contains(n.prompt, "next 6 hours") {
		t.Errorf("prompt ignores requested options:\n%s", n.prompt)
	}
}
