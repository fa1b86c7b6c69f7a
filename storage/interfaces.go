package storage

import (
	"context"

	"showtime-analytics/models"
)

// ResultWriter is the interface any export backend must satisfy.
type ResultWriter interface {
	Write(ctx context.Context, rs *models.ResultSet) error
	Close() error
}

// Source produces a ResultSet for one dashboard refresh.
type Source interface {
	Load(ctx context.Context) (*models.ResultSet, error)
}
