package repository

import (
	"context"

	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

// UserStore persists the full user -> watchlist mapping. SaveUsers always
// receives the complete state, never a delta.
type UserStore interface {
	LoadUsers(ctx context.Context) ([]models.UserRecord, error)
	SaveUsers(ctx context.Context, records []models.UserRecord) error
	Close() error
}

// TickMirror republishes generated prices to an external system.
type TickMirror interface {
	PublishTick(ctx context.Context, update models.StockUpdate) error
}
