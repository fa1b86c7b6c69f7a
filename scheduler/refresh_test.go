package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"showtime-analytics/models"
	"showtime-analytics/storage"
	"showtime-analytics/utils"
)

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) Load(context.Context) (*models.ResultSet, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &models.ResultSet{
		Rows: []models.CitySummary{
			{AreaName: "Hyderabad", Occupancy: "50.00%", BookedTicketsCount: 1, TotalTicketsCount: 2},
			{AreaName: models.OverallTotalArea, Occupancy: "50.00%", BookedTicketsCount: 1, TotalTicketsCount: 2},
		},
		Source:    "live",
		UpdatedAt: time.Now(),
	}, nil
}

type failingWriter struct{ err error }

func (w failingWriter) Write(context.Context, *models.ResultSet) error { return w.err }
func (w failingWriter) Close() error { return nil }

func TestRunExportsToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	csvWriter, err := storage.NewCSVWriter(path)
	require.NoError(t, err)

	r := NewRefresher(&countingSource{}, []storage.ResultWriter{csvWriter}, time.Second, utils.Nop())
	require.NoError(t, r.Run(context.Background()))

	rs, err := storage.NewCSVSource(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, "Hyderabad", rs.Rows[0].AreaName)
}

func TestRunLoadFailureSkipsWriters(t *testing.T) {
	boom := errors.New("upstream down")
	w := &recordingWriter{}

	r := NewRefresher(&countingSource{err: boom}, []storage.ResultWriter{w}, time.Second, utils.Nop())
	err := r.Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, w.writes.Load())
}

func TestRunJoinsWriterErrors(t *testing.T) {
	errA, errB := errors.New("disk full"), errors.New("db gone")
	ok := &recordingWriter{}

	r := NewRefresher(&countingSource{}, []storage.ResultWriter{failingWriter{errA}, ok, failingWriter{errB}}, time.Second, utils.Nop())
	err := r.Run(context.Background())

	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, int32(1), ok.writes.Load())
}

func TestStartRunsImmediately(t *testing.T) {
	src := &countingSource{}
	r := NewRefresher(src, nil, time.Second, utils.Nop())

	s, err := r.Start(context.Background(), time.Hour)
	require.NoError(t, err)
	defer s.Shutdown()

	assert.Eventually(t, func() bool { return src.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

type recordingWriter struct{ writes atomic.Int32 }

func (w *recordingWriter) Write(context.Context, *models.ResultSet) error {
	w.writes.Add(1)
	return nil
}

func (w *recordingWriter) Close() error { return nil }
