package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"showtime-analytics/models"
	"showtime-analytics/services"
)

// SourceCSV labels result sets read from a CSV export.
const SourceCSV = "csv"

var (
	// ErrCSVNotFound is returned when the CSV file does not exist.
	ErrCSVNotFound = errors.New("csv file not found")
	// ErrCSVSchema is matched by *SchemaError.
	ErrCSVSchema = errors.New("csv file is missing required columns")
)

// SchemaError lists the required columns absent from a CSV header.
type SchemaError struct {
	Path    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCSVSchema, e.Path, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrCSVSchema
}

// CSVSource serves a previously exported CSV file as a ResultSet.
type CSVSource struct {
	path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Load reads the file on every call. City rows are re-sorted by occupancy and
// the file's OVERALL_TOTAL row is placed last, or recomputed when the file
// has none. UpdatedAt is the file modification time.
func (s *CSVSource) Load(_ context.Context) (*models.ResultSet, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrCSVNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("csv: stat %q: %w", s.path, err)
	}

	rows, err := ReadSummaries(f, s.path)
	if err != nil {
		return nil, err
	}
	return arrange(rows, SourceCSV, info.ModTime()), nil
}

// ReadSummaries parses CSV content in the export schema. Extra columns are
// ignored and column order does not matter.
func ReadSummaries(r io.Reader, name string) ([]models.CitySummary, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &SchemaError{Path: name, Missing: append([]string(nil), Columns...)}
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var missing []string
	for _, col := range Columns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Path: name, Missing: missing}
	}

	var out []models.CitySummary
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read line %d: %w", line, err)
		}

		p := rowParser{rec: rec, index: index}
		s := models.CitySummary{
			AreaName:           p.str("AreaName"),
			ShowCount:          p.intCol("ShowCount"),
			FastFillingShows:   p.intCol("FastFillingShows"),
			SoldOutShows:       p.intCol("SoldOutShows"),
			Occupancy:          normalizeOccupancy(p.str("Occupancy")),
			BookedGross:        p.floatCol("BookedGross"),
			MaxCapacityGross:   p.floatCol("MaxCapacityGross"),
			BookedTicketsCount: p.intCol("BookedTicketsCount"),
			TotalTicketsCount:  p.intCol("TotalTicketsCount"),
		}
		if p.err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, p.err)
		}
		out = append(out, s)
	}
	return out, nil
}

// arrange sorts city rows and keeps an existing total row, recomputing it
// only when absent.
func arrange(rows []models.CitySummary, source string, updatedAt time.Time) *models.ResultSet {
	var total *models.CitySummary
	for i := range rows {
		if rows[i].IsTotal() {
			total = &rows[i]
		}
	}
	if total == nil {
		return services.BuildResultSet(rows, source, updatedAt)
	}

	return &models.ResultSet{
		Rows:      append(services.SortByOccupancy(rows), *total),
		Source:    source,
		UpdatedAt: updatedAt,
	}
}

// normalizeOccupancy renders bare numbers as "NN.NN%". Values that already
// carry a "%" are kept as written.
func normalizeOccupancy(raw string) string {
	if strings.HasSuffix(raw, "%") {
		return raw
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

type rowParser struct {
	rec   []string
	index map[string]int
	err   error
}

func (p *rowParser) str(col string) string {
	i := p.index[col]
	if i >= len(p.rec) {
		return ""
	}
	return strings.TrimSpace(p.rec[i])
}

func (p *rowParser) intCol(col string) int {
	raw := p.str(col)
	if raw == "" || p.err != nil {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: invalid number %q", col, raw)
		return 0
	}
	return int(f)
}

func (p *rowParser) floatCol(col string) float64 {
	raw := p.str(col)
	if raw == "" || p.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: invalid number %q", col, raw)
		return 0
	}
	return f
}
