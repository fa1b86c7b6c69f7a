package dashboard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showtime-analytics/models"
	"showtime-analytics/services"
	"showtime-analytics/storage"
	"showtime-analytics/utils"
)

type stubSource struct {
	rs  *models.ResultSet
	err error
}

func (s stubSource) Load(context.Context) (*models.ResultSet, error) {
	return s.rs, s.err
}

func sampleResultSet() *models.ResultSet {
	return services.BuildResultSet([]models.CitySummary{
		{AreaName: "Hyderabad", ShowCount: 12, FastFillingShows: 4, SoldOutShows: 2, Occupancy: "81.00%", BookedGross: 40500, MaxCapacityGross: 50000, BookedTicketsCount: 81, TotalTicketsCount: 100},
		{AreaName: "Chennai", ShowCount: 3, FastFillingShows: 0, SoldOutShows: 0, Occupancy: "20.00%", BookedGross: 1000, MaxCapacityGross: 5000, BookedTicketsCount: 10, TotalTicketsCount: 50},
	}, services.SourceLive, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC))
}

func newTestServer(t *testing.T, src storage.Source) *httptest.Server {
	t.Helper()
	s, err := NewServer(src, Options{EventCode: "ET00410905", Currency: "₹"}, utils.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestIndexRendersMetricsAndTable(t *testing.T) {
	srv := newTestServer(t, stubSource{rs: sampleResultSet()})

	resp, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	assert.Contains(t, body, `<p id="total-shows">15</p>`)
	assert.Contains(t, body, `<p id="fast-filling">4</p>`)
	assert.Contains(t, body, `<p id="sold-out">2</p>`)
	assert.Contains(t, body, `<p id="occupancy">60.67%</p>`)
	assert.Contains(t, body, "₹40500.00")
	assert.Contains(t, body, "2026-05-01 09:30:00")
	assert.Contains(t, body, "width: 81.00%")
	assert.Less(t, strings.Index(body, "Hyderabad"), strings.Index(body, "Chennai"))
}

func TestIndexLoadFailureIs503(t *testing.T) {
	srv := newTestServer(t, stubSource{err: errors.New("no data could be fetched for any city")})

	resp, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, "no data could be fetched for any city")
	assert.NotContains(t, body, "total-shows")
}

func TestSummaryJSON(t *testing.T) {
	srv := newTestServer(t, stubSource{rs: sampleResultSet()})

	resp, body := get(t, srv.URL+"/api/summary")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got models.ResultSet
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got.Rows, 3)
	assert.Equal(t, "Hyderabad", got.Rows[0].AreaName)
	assert.Equal(t, models.OverallTotalArea, got.Rows[2].AreaName)
	assert.Equal(t, "live", got.Source)
}

func TestSummaryJSONError(t *testing.T) {
	srv := newTestServer(t, stubSource{err: storage.ErrCSVNotFound})

	resp, body := get(t, srv.URL+"/api/summary")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, "csv file not found")
}

func TestSummaryCSVDownload(t *testing.T) {
	srv := newTestServer(t, stubSource{rs: sampleResultSet()})

	resp, body := get(t, srv.URL+"/api/summary.csv")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="movie_analytics_ET00410905.csv"`, resp.Header.Get("Content-Disposition"))

	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "AreaName,ShowCount"))
	assert.True(t, strings.HasPrefix(lines[3], "OVERALL_TOTAL,15,4,2,60.67%"))
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, stubSource{err: errors.New("down")})

	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"UP"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, stubSource{rs: sampleResultSet()})

	resp, _ := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBarWidthClamps(t *testing.T) {
	assert.Equal(t, "0.00%", barWidth(-5))
	assert.Equal(t, "42.50%", barWidth(42.5))
	assert.Equal(t, "100.00%", barWidth(250))
	assert.Equal(t, 0.0, percentOf(5, 0))
	assert.Equal(t, 50.0, percentOf(5, 10))
}
