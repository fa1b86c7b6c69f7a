package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"showtime-analytics/models"
)

// SourcePostgres labels result sets read back from PostgreSQL.
const SourcePostgres = "postgres"

// PostgresWriter stores the latest result set in PostgreSQL. Each Write
// replaces the previous snapshot.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS city_summaries (
			position             INTEGER       PRIMARY KEY,
			area_name            TEXT          NOT NULL,
			show_count           INTEGER       NOT NULL DEFAULT 0,
			fast_filling_shows   INTEGER       NOT NULL DEFAULT 0,
			sold_out_shows       INTEGER       NOT NULL DEFAULT 0,
			occupancy            VARCHAR(16)   NOT NULL DEFAULT '0.00%',
			booked_gross         NUMERIC(16,2) NOT NULL DEFAULT 0,
			max_capacity_gross   NUMERIC(16,2) NOT NULL DEFAULT 0,
			booked_tickets_count INTEGER       NOT NULL DEFAULT 0,
			total_tickets_count  INTEGER       NOT NULL DEFAULT 0,
			source               VARCHAR(16)   NOT NULL DEFAULT 'live',
			updated_at           TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// Write replaces the table contents with rs in a single transaction.
func (pw *PostgresWriter) Write(ctx context.Context, rs *models.ResultSet) error {
	if rs == nil || len(rs.Rows) == 0 {
		return nil
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM city_summaries"); err != nil {
		return fmt.Errorf("postgres: clear: %w", err)
	}
	if err := insertRows(ctx, tx, rs); err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

const summaryColumns = 12

func insertRows(ctx context.Context, tx *sql.Tx, rs *models.ResultSet) error {
	valueStrings := make([]string, 0, len(rs.Rows))
	valueArgs := make([]interface{}, 0, len(rs.Rows)*summaryColumns)

	for idx, r := range rs.Rows {
		base := idx * summaryColumns
		placeholders := make([]string, summaryColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			idx, r.AreaName, r.ShowCount, r.FastFillingShows, r.SoldOutShows, r.Occupancy,
			r.BookedGross, r.MaxCapacityGross, r.BookedTicketsCount, r.TotalTicketsCount,
			rs.Source, rs.UpdatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO city_summaries (
			position, area_name, show_count, fast_filling_shows, sold_out_shows, occupancy,
			booked_gross, max_capacity_gross, booked_tickets_count, total_tickets_count,
			source, updated_at
		)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	_, err := tx.ExecContext(ctx, query, valueArgs...)
	return err
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// Load reads the stored snapshot back in its saved order.
func (pw *PostgresWriter) Load(ctx context.Context) (*models.ResultSet, error) {
	rows, err := pw.db.QueryContext(ctx, `
		SELECT area_name, show_count, fast_filling_shows, sold_out_shows, occupancy,
		       booked_gross, max_capacity_gross, booked_tickets_count, total_tickets_count,
		       updated_at
		FROM city_summaries
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	rs := &models.ResultSet{Source: SourcePostgres}
	for rows.Next() {
		var s models.CitySummary
		if err := rows.Scan(
			&s.AreaName, &s.ShowCount, &s.FastFillingShows, &s.SoldOutShows, &s.Occupancy,
			&s.BookedGross, &s.MaxCapacityGross, &s.BookedTicketsCount, &s.TotalTicketsCount,
			&rs.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		rs.Rows = append(rs.Rows, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	if len(rs.Rows) == 0 {
		return nil, fmt.Errorf("postgres: city_summaries is empty")
	}
	return arrange(rs.Rows, SourcePostgres, rs.UpdatedAt), nil
}
