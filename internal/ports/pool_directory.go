package ports

import (
	"context"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// PoolDirectory lists venue pools that trade a token.
type PoolDirectory interface {
	// FindPools returns pools where token is either side, cheapest base fee first.
	FindPools(ctx context.Context, token string) ([]domain.PoolInfo, error)
}
