package ports

import (
	"context"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// PositionStore is the durable record of every position ever opened.
type PositionStore interface {
	// Create persists a new record and returns its store-assigned id.
	Create(ctx context.Context, p domain.Position) (string, error)

	// Update applies a partial update. Unknown ids fail with domain.ErrNotFound,
	// updates to closed records with domain.ErrAlreadyClosed, durability
	// failures with domain.ErrStoreWriteFailed.
	Update(ctx context.Context, id string, u domain.PositionUpdate) error

	// FindByStatus returns every record with the given status, oldest first,
	// history included.
	FindByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error)

	// Get returns a single record with its history.
	Get(ctx context.Context, id string) (domain.Position, error)

	// Close releases the underlying connection.
	Close() error
}
