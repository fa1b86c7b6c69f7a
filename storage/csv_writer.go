package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"showtime-analytics/models"
)

// Columns is the CSV header, in order. It matches the CitySummary field names.
var Columns = []string{
	"AreaName", "ShowCount", "FastFillingShows", "SoldOutShows", "Occupancy",
	"BookedGross", "MaxCapacityGross", "BookedTicketsCount", "TotalTicketsCount",
}

// WriteResultSet writes the header and one row per summary, OVERALL_TOTAL
// included. Currency columns are raw numbers.
func WriteResultSet(w io.Writer, rs *models.ResultSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, r := range rs.Rows {
		row := []string{
			r.AreaName,
			strconv.Itoa(r.ShowCount),
			strconv.Itoa(r.FastFillingShows),
			strconv.Itoa(r.SoldOutShows),
			r.Occupancy,
			strconv.FormatFloat(r.BookedGross, 'f', 2, 64),
			strconv.FormatFloat(r.MaxCapacityGross, 'f', 2, 64),
			strconv.Itoa(r.BookedTicketsCount),
			strconv.Itoa(r.TotalTicketsCount),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// CSVWriter exports result sets to a file, replacing its previous contents.
// It is safe for concurrent use.
type CSVWriter struct {
	mu   sync.Mutex
	path string
}

// NewCSVWriter prepares the output path. Intermediate directories are
// created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}
	return &CSVWriter{path: path}, nil
}

// Path returns the file the writer exports to.
func (c *CSVWriter) Path() string {
	return c.path
}

// Write replaces the file with rs. The data is written to a temporary file
// first so readers never observe a half-written export.
func (c *CSVWriter) Write(_ context.Context, rs *models.ResultSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".export-*.csv")
	if err != nil {
		return fmt.Errorf("csv: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteResultSet(tmp, rs); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("csv: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("csv: replace %q: %w", c.path, err)
	}
	return nil
}

func (c *CSVWriter) Close() error {
	return nil
}
