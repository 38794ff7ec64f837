package ports

import (
	"context"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// OpenedPosition is what the venue reports after creating a position.
type OpenedPosition struct {
	Handle  string
	Amounts domain.TokenAmounts // amounts actually committed
	TxID    string
}

// PositionState is the venue's authoritative view of a live position.
type PositionState struct {
	Holdings domain.TokenAmounts
	Fees     domain.TokenAmounts
}

// Venue creates and mutates concentrated-liquidity positions.
// Calls are slow (network + confirmation) and fail with domain.ErrVenue or
// domain.ErrPositionNotFound. Mutating calls must not be retried blindly.
type Venue interface {
	// OpenPosition creates a position in pool sized from capital (token X base units)
	// and adds liquidity across rng.
	OpenPosition(ctx context.Context, pool string, capital domain.TokenAmounts, rng domain.BinRange) (OpenedPosition, error)

	// AddLiquidity deposits amounts into an existing position across rng.
	AddLiquidity(ctx context.Context, handle string, amounts domain.TokenAmounts, rng domain.BinRange) (string, error)

	// RemoveLiquidity withdraws bps (10000 = 100%) of the liquidity in rng.
	// With claimAndClose the venue also claims fees and releases the handle.
	RemoveLiquidity(ctx context.Context, handle string, rng domain.BinRange, bps int, claimAndClose bool) ([]string, error)

	// GetPositionState returns current in-range holdings and unclaimed fees.
	GetPositionState(ctx context.Context, handle string) (PositionState, error)

	// GetActiveBin returns the pool's current active bin id.
	GetActiveBin(ctx context.Context, pool string) (int, error)
}
