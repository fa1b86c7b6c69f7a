package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"showtime-analytics/metrics"
	"showtime-analytics/models"
	"showtime-analytics/scraper/showtimes"
	"showtime-analytics/utils"
)

// SourceLive labels result sets built from the ticketing API.
const SourceLive = "live"

// ErrNoCityData is returned when no city produced a summary.
var ErrNoCityData = errors.New("no data could be fetched for any city")

// LoadError describes a load where every city failed.
type LoadError struct {
	RateLimited int
	Failed      int
	Cause       error
}

func (e *LoadError) Error() string {
	if errors.Is(e.Cause, showtimes.ErrRateLimited) {
		return fmt.Sprintf("%s: rate limited by upstream for all %d cities", ErrNoCityData, e.RateLimited)
	}
	return fmt.Sprintf("%s (%d rate limited, %d failed): %v", ErrNoCityData, e.RateLimited, e.Failed, e.Cause)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrNoCityData, e.Cause}
}

// ShowtimeFetcher returns the raw showtimes payload for one city.
type ShowtimeFetcher interface {
	Fetch(ctx context.Context, city models.City) (*models.ShowtimePayload, error)
}

// Analytics fetches every configured city and reduces the results to a
// sorted ResultSet.
type Analytics struct {
	cities     []models.City
	fetcher    ShowtimeFetcher
	pool       *utils.WorkerPool
	aggregator *Aggregator
	logger     *utils.Logger
	now        func() time.Time
}

// NewAnalytics creates the orchestrator. The city slice is copied; a nil pool
// runs cities one at a time.
func NewAnalytics(cities []models.City, fetcher ShowtimeFetcher, pool *utils.WorkerPool, logger *utils.Logger) *Analytics {
	if pool == nil {
		pool = utils.NewWorkerPool(1, 0)
	}
	return &Analytics{
		cities:     append([]models.City(nil), cities...),
		fetcher:    fetcher,
		pool:       pool,
		aggregator: NewAggregator(logger),
		logger:     logger,
		now:        time.Now,
	}
}

type cityResult struct {
	summary models.CitySummary
	err     error
}

// Load fetches and aggregates all cities. Failed cities are left out of the
// rows and the total. It fails only when no city succeeded.
func (a *Analytics) Load(ctx context.Context) (*models.ResultSet, error) {
	started := a.now()
	results := make([]cityResult, len(a.cities))

	var wg sync.WaitGroup
	for i, city := range a.cities {
		a.pool.Go(&wg, func() {
			results[i] = a.loadCity(ctx, city)
		})
	}
	wg.Wait()

	rows := make([]models.CitySummary, 0, len(results))
	var rateLimited, failed int
	var lastErr error
	for i, res := range results {
		if res.err == nil {
			rows = append(rows, res.summary)
			continue
		}
		lastErr = res.err
		if errors.Is(res.err, showtimes.ErrRateLimited) {
			rateLimited++
			a.logger.Warn("[analytics] Rate limited while fetching %s, skipping", a.cities[i].Name)
		} else {
			failed++
			a.logger.Error("[analytics] Failed to fetch data for %s: %v", a.cities[i].Name, res.err)
		}
	}

	if len(rows) == 0 {
		cause := lastErr
		if failed == 0 && rateLimited > 0 {
			cause = showtimes.ErrRateLimited
		}
		if cause == nil {
			cause = errors.New("no cities configured")
		}
		return nil, &LoadError{RateLimited: rateLimited, Failed: failed, Cause: cause}
	}

	rs := BuildResultSet(rows, SourceLive, started)
	a.logger.Info("[analytics] Loaded %d/%d cities in %s (overall occupancy %s)",
		len(rows), len(a.cities), a.now().Sub(started).Round(time.Millisecond), rs.Rows[len(rs.Rows)-1].Occupancy)
	return rs, nil
}

func (a *Analytics) loadCity(ctx context.Context, city models.City) cityResult {
	if err := ctx.Err(); err != nil {
		return cityResult{err: err}
	}
	payload, err := a.fetcher.Fetch(ctx, city)
	if err != nil {
		return cityResult{err: err}
	}
	summary := a.aggregator.Aggregate(city.Name, payload)
	metrics.CityOccupancy.WithLabelValues(city.Name).Set(summary.OccupancyValue())
	return cityResult{summary: summary}
}

// BuildResultSet sorts city rows by occupancy, highest first, and appends the
// OVERALL_TOTAL row. Any total row already in rows is discarded and
// recomputed. Ties keep their input order.
func BuildResultSet(rows []models.CitySummary, source string, updatedAt time.Time) *models.ResultSet {
	cities := SortByOccupancy(rows)
	return &models.ResultSet{
		Rows:      append(cities, OverallTotal(cities)),
		Source:    source,
		UpdatedAt: updatedAt,
	}
}

// SortByOccupancy returns a copy of the city rows, total rows removed, sorted
// by occupancy in descending order. The sort is stable.
func SortByOccupancy(rows []models.CitySummary) []models.CitySummary {
	cities := make([]models.CitySummary, 0, len(rows)+1)
	for _, r := range rows {
		if !r.IsTotal() {
			cities = append(cities, r)
		}
	}
	sort.SliceStable(cities, func(i, j int) bool {
		return cities[i].OccupancyValue() > cities[j].OccupancyValue()
	})
	return cities
}
