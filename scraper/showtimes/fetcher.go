package showtimes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"showtime-analytics/config"
	"showtime-analytics/metrics"
	"showtime-analytics/models"
	"showtime-analytics/utils"
)

const (
	platform     = "AND"
	platformCode = "MOBAND2"
	deviceMake   = "Google-Pixel 6"
	breakerName  = "showtimes-api"
	maxBodyBytes = 32 << 20
)

// ErrRateLimited is matched by errors for HTTP 429 responses.
var ErrRateLimited = errors.New("showtimes: rate limited by upstream")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	City       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("showtimes: %s: unexpected status %d", e.City, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// Fetcher retrieves the showtimes payload for one city. Each request goes
// through the TTL cache, the circuit breaker and the retry policy, in that
// order, before reaching the network.
type Fetcher struct {
	cfg     *config.Config
	client  *http.Client
	logger  *utils.Logger
	retry   *utils.RetryConfig
	memo    *utils.Memoizer
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// New creates a Fetcher. cache may be a utils.MemoryCache or a shared store.
func New(cfg *config.Config, client *http.Client, cache utils.Cache, logger *utils.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Fetcher{
		cfg:    cfg,
		client: client,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			Retryable:  IsTransportError,
			Logger:     logger,
		},
		memo:    utils.NewMemoizer(cache, cfg.CacheTTL).WithLoadTimeout(fetchBudget(cfg)),
		breaker: newBreaker(logger),
	}
}

// fetchBudget is the longest a full retry sequence for one city can take:
// every attempt timing out plus the largest back-off between them.
func fetchBudget(cfg *config.Config) time.Duration {
	retries := max(cfg.MaxRetries, 0)
	budget := cfg.RequestTimeout * time.Duration(retries+1)
	for i := 0; i < retries; i++ {
		budget += cfg.RetryBaseDelay*time.Duration(1<<i) + time.Second
	}
	return budget
}

// SetRetry replaces the retry policy; tests use it to avoid real sleeps.
func (f *Fetcher) SetRetry(r *utils.RetryConfig) {
	if r.Retryable == nil {
		r.Retryable = IsTransportError
	}
	f.retry = r
}

func newBreaker(logger *utils.Logger) *gobreaker.CircuitBreaker[[]byte] {
	metrics.BreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a 429 or 404 means the API answered; only transport failures count
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransportError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[fetcher] circuit breaker %s: %s -> %s", name, from, to)
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Fetch returns the decoded showtimes payload for city. Bodies that fail to
// decode are reported but never cached.
func (f *Fetcher) Fetch(ctx context.Context, city models.City) (*models.ShowtimePayload, error) {
	var fresh *models.ShowtimePayload

	body, err := f.memo.Do(ctx, city.Key(), func(ctx context.Context) ([]byte, error) {
		return f.breaker.Execute(func() ([]byte, error) {
			var data []byte
			err := f.retry.Do(ctx, "fetch-"+city.RegionCode, func() error {
				var attemptErr error
				data, attemptErr = f.get(ctx, city)
				return attemptErr
			})
			if err != nil {
				return nil, err
			}
			fresh, err = decode(city, data)
			return data, err
		})
	})
	if err != nil {
		f.recordFailure(city, err)
		return nil, err
	}

	payload := fresh
	if payload == nil {
		if payload, err = decode(city, body); err != nil {
			f.recordFailure(city, err)
			return nil, err
		}
	}

	metrics.FetchResults.WithLabelValues(city.Name, "ok").Inc()
	f.logger.Debug("[fetcher] %s: %d show details", city.Name, len(payload.ShowDetails))
	return payload, nil
}

func decode(city models.City, body []byte) (*models.ShowtimePayload, error) {
	var payload models.ShowtimePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("showtimes: %s: decode response: %w", city.Name, err)
	}
	return &payload, nil
}

func (f *Fetcher) recordFailure(city models.City, err error) {
	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrRateLimited):
		metrics.FetchResults.WithLabelValues(city.Name, "rate_limited").Inc()
	case errors.As(err, &statusErr):
		metrics.FetchResults.WithLabelValues(city.Name, "http_error").Inc()
	default:
		metrics.FetchResults.WithLabelValues(city.Name, "failed").Inc()
	}
}

// get performs a single HTTP attempt and returns the raw body.
func (f *Fetcher) get(ctx context.Context, city models.City) ([]byte, error) {
	req, err := f.newRequest(ctx, city)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.FetchDuration.WithLabelValues(city.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{City: city.Name, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) newRequest(ctx context.Context, city models.City) (*http.Request, error) {
	bmsID := f.cfg.BmsID
	if bmsID == "" {
		bmsID = uuid.NewString()
	}

	q := url.Values{}
	q.Set("appCode", f.cfg.AppCode)
	q.Set("appVersion", f.cfg.AppVersion)
	q.Set("language", f.cfg.Language)
	q.Set("eventCode", f.cfg.EventCode)
	q.Set("regionCode", city.RegionCode)
	q.Set("subRegion", city.SubRegionCode)
	q.Set("bmsId", bmsID)
	q.Set("token", f.cfg.AuthToken)
	q.Set("lat", city.Latitude)
	q.Set("lon", city.Longitude)
	q.Set("query", "")

	endpoint := f.cfg.APIBaseURL + f.cfg.ShowtimePath + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("showtimes: build request: %w", err)
	}

	h := req.Header
	h.Set("x-region-code", city.RegionCode)
	h.Set("x-subregion-code", city.SubRegionCode)
	h.Set("x-region-slug", city.RegionSlug)
	h.Set("x-platform", platform)
	h.Set("x-platform-code", platformCode)
	h.Set("x-app-code", f.cfg.AppCode)
	h.Set("x-device-make", deviceMake)
	h.Set("x-location-selection", "manual")
	h.Set("x-location-shared", "false")
	h.Set("x-latitude", city.Latitude)
	h.Set("x-longitude", city.Longitude)
	h.Set("lang", f.cfg.Language)
	h.Set("accept", "application/json")
	h.Set("user-agent", f.cfg.UserAgent)
	return req, nil
}

// IsTransportError reports whether err is a network-layer failure worth
// retrying. HTTP status errors, decode errors and cancellation are not.
func IsTransportError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
