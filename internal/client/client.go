package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-digest-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-digest-service/internal/models"
	"github.com/kjstillabower/forecast-digest-service/internal/observability"
)

// ForecastClient fetches a whole forecast dataset.
type ForecastClient interface {
	GetForecast(ctx context.Context) (models.ForecastDocument, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey        = errors.New("invalid API key")
	ErrDatasetNotFound      = errors.New("dataset not found")
	ErrUpstreamFailure      = errors.New("upstream failure")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnsuccessfulResponse = errors.New("unsuccessful response")
)

// DefaultDataset is the CWA 36-hour city forecast.
const DefaultDataset = "F-C0032-001"

// maxBodyBytes bounds the decoded response; the full dataset is roughly 100KB.
const maxBodyBytes = 8 << 20

// CWAClient talks to the Central Weather Administration open-data REST API.
type CWAClient struct {
	apiKey  string
	baseURL string
	dataset string
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time
}

// Options tune the HTTP client. Zero values are fine.
type Options struct {
	Dataset            string
	Timeout            time.Duration
	InsecureSkipVerify bool // the CWA certificate chain fails verification on some hosts
}

// NewCWAClient returns a client for baseURL (e.g. https://opendata.cwa.gov.tw/api/v1/rest/datastore).
func NewCWAClient(apiKey, baseURL string, opts Options) (*CWAClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if opts.Dataset == "" {
		opts.Dataset = DefaultDataset
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config
	}

	return &CWAClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		dataset: opts.Dataset,
		timeout: opts.Timeout,
		client:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		now:     time.Now,
	}, nil
}

// SetCircuitBreaker guards upstream calls with cb. Nil disables the guard.
func (c *CWAClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Dataset returns the dataset id this client fetches.
func (c *CWAClient) Dataset() string { return c.dataset }

type cwaResponse struct {
	Success string `json:"success"`
	Result  struct {
		ResourceID string `json:"resource_id"`
	} `json:"result"`
	Records struct {
		DatasetDescription string            `json:"datasetDescription"`
		Location           []models.Location `json:"location"`
	} `json:"records"`
}

// GetForecast fetches the configured dataset once. There is no retry; a failure
// is returned to the caller, which may fall back to a stale copy.
func (c *CWAClient) GetForecast(ctx context.Context) (models.ForecastDocument, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, nil)
	}
	var doc models.ForecastDocument
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		doc, callErr = c.callAPI(ctx, nil)
		return callErr
	})
	if err != nil {
		return models.ForecastDocument{}, err
	}
	return doc, nil
}

func (c *CWAClient) callAPI(ctx context.Context, extra url.Values) (models.ForecastDocument, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, extra)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		return models.ForecastDocument{}, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.ForecastDocument{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.ForecastDocument{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ForecastAPICallsTotal.WithLabelValues(status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return models.ForecastDocument{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.ForecastDocument{}, fmt.Errorf("read response body: %w", err)
	}

	doc, err := DecodeDocument(body)
	if err != nil {
		return models.ForecastDocument{}, err
	}
	doc.FetchedAt = c.now()
	return doc, nil
}

// DecodeDocument parses a datastore response body, such as one saved to disk.
// FetchedAt is left zero.
func DecodeDocument(body []byte) (models.ForecastDocument, error) {
	var apiResp cwaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.ForecastDocument{}, fmt.Errorf("parse response: %w", err)
	}
	if apiResp.Success != "true" {
		return models.ForecastDocument{}, fmt.Errorf("%w: success=%q", ErrUnsuccessfulResponse, apiResp.Success)
	}
	return models.ForecastDocument{
		DatasetDescription: apiResp.Records.DatasetDescription,
		Locations:          apiResp.Records.Location,
	}, nil
}

func (c *CWAClient) buildRequest(ctx context.Context, extra url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + "/" + url.PathEscape(c.dataset))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("Authorization", c.apiKey)
	params.Set("format", "JSON")
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound:
		return ErrDatasetNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// ValidateAPIKey makes a one-record request and reports whether the key is accepted.
// It bypasses the circuit breaker.
func (c *CWAClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.callAPI(ctx, url.Values{"limit": []string{"1"}})
	if err != nil && !errors.Is(err, ErrInvalidAPIKey) {
		return fmt.Errorf("validation request failed: %w", err)
	}
	return err
}
