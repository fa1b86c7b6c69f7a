package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showtime-analytics/models"
	"showtime-analytics/scraper/showtimes"
	"showtime-analytics/utils"
)

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string]*models.ShowtimePayload
	errs     map[string]error
	calls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, city models.City) (*models.ShowtimePayload, error) {
	f.mu.Lock()
	f.calls = append(f.calls, city.Name)
	f.mu.Unlock()

	if err, ok := f.errs[city.Name]; ok {
		return nil, err
	}
	return f.payloads[city.Name], nil
}

func cities(names ...string) []models.City {
	out := make([]models.City, len(names))
	for i, n := range names {
		out[i] = models.City{Name: n, RegionCode: n, SubRegionCode: n}
	}
	return out
}

func rateLimited(city string) error {
	return &showtimes.StatusError{City: city, StatusCode: http.StatusTooManyRequests}
}

func TestLoadSortsCitiesAndAppendsTotal(t *testing.T) {
	f := &fakeFetcher{payloads: map[string]*models.ShowtimePayload{
		"Chennai":   payloadOf(show(cat("100", "55", "100"))),
		"Hyderabad": payloadOf(show(cat("100", "20", "100"))),
		"Mumbai":    payloadOf(show(cat("1000", "2", "100"))),
	}}

	a := NewAnalytics(cities("Chennai", "Hyderabad", "Mumbai"), f, nil, newTestLogger())
	rs, err := a.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, rs.Rows, 4)
	assert.Equal(t, "Mumbai", rs.Rows[0].AreaName)
	assert.Equal(t, "99.80%", rs.Rows[0].Occupancy)
	assert.Equal(t, "Hyderabad", rs.Rows[1].AreaName)
	assert.Equal(t, "80.00%", rs.Rows[1].Occupancy)
	assert.Equal(t, "Chennai", rs.Rows[2].AreaName)
	assert.Equal(t, "45.00%", rs.Rows[2].Occupancy)
	assert.Equal(t, models.OverallTotalArea, rs.Rows[3].AreaName)
	assert.Equal(t, SourceLive, rs.Source)

	total, ok := rs.Total()
	require.True(t, ok)
	assert.Equal(t, 3, total.ShowCount)
	assert.Equal(t, 1200, total.TotalTicketsCount)
	assert.Equal(t, 45+80+998, total.BookedTicketsCount)
}

func TestLoadSkipsFailedCities(t *testing.T) {
	f := &fakeFetcher{
		payloads: map[string]*models.ShowtimePayload{
			"Chennai": payloadOf(show(cat("100", "50", "100"))),
		},
		errs: map[string]error{
			"Hyderabad": rateLimited("Hyderabad"),
			"Mumbai":    errors.New("connection reset"),
		},
	}

	a := NewAnalytics(cities("Hyderabad", "Chennai", "Mumbai"), f, nil, newTestLogger())
	rs, err := a.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, rs.Rows, 2)
	assert.Equal(t, "Chennai", rs.Rows[0].AreaName)
	total, _ := rs.Total()
	assert.Equal(t, 100, total.TotalTicketsCount)
	assert.Equal(t, "50.00%", total.Occupancy)
	assert.ElementsMatch(t, []string{"Hyderabad", "Chennai", "Mumbai"}, f.calls)
}

func TestLoadAllRateLimited(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{
		"A": rateLimited("A"),
		"B": rateLimited("B"),
	}}

	rs, err := NewAnalytics(cities("A", "B"), f, nil, newTestLogger()).Load(context.Background())
	assert.Nil(t, rs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCityData)
	assert.ErrorIs(t, err, showtimes.ErrRateLimited)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, 2, loadErr.RateLimited)
	assert.Zero(t, loadErr.Failed)
}

func TestLoadAllFailedKeepsCause(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	f := &fakeFetcher{errs: map[string]error{"A": rateLimited("A"), "B": boom}}

	_, err := NewAnalytics(cities("A", "B"), f, nil, newTestLogger()).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCityData)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, showtimes.ErrRateLimited)
}

func TestLoadNoCities(t *testing.T) {
	_, err := NewAnalytics(nil, &fakeFetcher{}, nil, newTestLogger()).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCityData)
}

func TestLoadConcurrentPoolKeepsConfigOrderForTies(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E", "F"}
	f := &fakeFetcher{payloads: map[string]*models.ShowtimePayload{}}
	for _, n := range names {
		f.payloads[n] = payloadOf(show(cat("10", "5", "1")))
	}

	a := NewAnalytics(cities(names...), f, utils.NewWorkerPool(4, 0), newTestLogger())
	rs, err := a.Load(context.Background())
	require.NoError(t, err)

	got := make([]string, 0, len(names))
	for _, r := range rs.Cities() {
		got = append(got, r.AreaName)
	}
	assert.Equal(t, names, got)
}

func TestLoadOverlappingCallsShareOnePool(t *testing.T) {
	names := []string{"Hyderabad", "Chennai", "Mumbai"}
	f := &fakeFetcher{payloads: map[string]*models.ShowtimePayload{
		"Hyderabad": payloadOf(show(cat("100", "20", "100"))),
		"Chennai":   payloadOf(show(cat("100", "55", "100"))),
		"Mumbai":    payloadOf(show(cat("100", "90", "100"))),
	}}
	a := NewAnalytics(cities(names...), f, utils.NewWorkerPool(4, 0), newTestLogger())

	// a scheduled refresh and several dashboard requests loading at once
	const callers, rounds = 8, 50
	var wg sync.WaitGroup
	errs := make(chan error, callers*rounds)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				rs, err := a.Load(context.Background())
				if err != nil {
					errs <- err
					continue
				}
				if len(rs.Rows) != len(names)+1 || rs.Rows[0].AreaName != "Hyderabad" {
					errs <- errors.New("unexpected rows from overlapping load")
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.calls, callers*rounds*len(names))
}

func TestBuildResultSetRecomputesTotal(t *testing.T) {
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := []models.CitySummary{
		{AreaName: models.OverallTotalArea, TotalTicketsCount: 999999},
		{AreaName: "Low", Occupancy: "10.00%", BookedTicketsCount: 1, TotalTicketsCount: 10},
		{AreaName: "High", Occupancy: "90.00%", BookedTicketsCount: 9, TotalTicketsCount: 10},
	}

	rs := BuildResultSet(rows, "csv", updated)

	require.Len(t, rs.Rows, 3)
	assert.Equal(t, []string{"High", "Low", models.OverallTotalArea},
		[]string{rs.Rows[0].AreaName, rs.Rows[1].AreaName, rs.Rows[2].AreaName})
	assert.Equal(t, 20, rs.Rows[2].TotalTicketsCount)
	assert.Equal(t, "50.00%", rs.Rows[2].Occupancy)
	assert.Equal(t, updated, rs.UpdatedAt)
	assert.Equal(t, "csv", rs.Source)
}
