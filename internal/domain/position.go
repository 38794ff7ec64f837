package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the durable status of a liquidity position.
// The only legal transition is active → closed.
type PositionStatus string

const (
	StatusActive PositionStatus = "active"
	StatusClosed PositionStatus = "closed"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitVolumeDrop  ExitReason = "volume_drop"
	ExitMaxLifespan ExitReason = "max_lifespan"
)

// BinRange is the [Lower, Upper] bin interval where a position's liquidity is active.
// Bin ids are opaque ordered integers defined by the venue.
type BinRange struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// NewCenteredRange builds the range [active-halfWidth, active+halfWidth].
func NewCenteredRange(activeBin, halfWidth int) BinRange {
	return BinRange{Lower: activeBin - halfWidth, Upper: activeBin + halfWidth}
}

// Span returns Upper - Lower.
func (r BinRange) Span() int {
	return r.Upper - r.Lower
}

// Center returns floor((Lower + Upper) / 2), also for negative bin ids.
func (r BinRange) Center() int {
	sum := r.Lower + r.Upper
	if sum < 0 && sum%2 != 0 {
		return sum/2 - 1
	}
	return sum / 2
}

// Contains reports whether bin falls inside the range, bounds included.
func (r BinRange) Contains(bin int) bool {
	return bin >= r.Lower && bin <= r.Upper
}

// Validate rejects inverted and zero-span ranges. Both are configuration errors:
// a position with such a range must never reach monitoring.
func (r BinRange) Validate() error {
	if r.Lower > r.Upper {
		return &ConfigurationError{Field: "range", Err: fmt.Errorf("lower bin %d above upper bin %d", r.Lower, r.Upper)}
	}
	if r.Span() == 0 {
		return &ConfigurationError{Field: "range", Err: fmt.Errorf("zero-span range at bin %d", r.Lower)}
	}
	return nil
}

func (r BinRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.Lower, r.Upper)
}

// TokenAmounts holds raw amounts of the pool's two tokens (X and Y) in base units.
type TokenAmounts struct {
	X decimal.Decimal `json:"x"`
	Y decimal.Decimal `json:"y"`
}

// IsZero reports whether both amounts are zero.
func (a TokenAmounts) IsZero() bool {
	return a.X.IsZero() && a.Y.IsZero()
}

// VolumeSample is one monitoring observation of the activity signal.
type VolumeSample struct {
	Timestamp         time.Time `json:"timestamp"`
	ActivityRatio     float64   `json:"activity_ratio"`
	RatioOverBaseline float64   `json:"ratio_over_baseline"`
}

// CloseRecord is everything written once, when a position closes.
type CloseRecord struct {
	ClosedAt        time.Time    `json:"closed_at"`
	Reason          ExitReason   `json:"reason"`
	ClaimedFees     TokenAmounts `json:"claimed_fees"`
	FinalHoldings   TokenAmounts `json:"final_holdings"`
	SettlementTxIDs []string     `json:"settlement_tx_ids"`
	ExitPrice       float64      `json:"exit_price"`
}

// Position is a bounded-range liquidity position tracked from open to close.
type Position struct {
	ID string `json:"id"` // store-assigned

	TokenAddress string `json:"token_address"`
	TokenSymbol  string `json:"token_symbol"`

	PoolAddress    string `json:"pool_address"`
	PositionHandle string `json:"position_handle"` // venue-native

	Range          BinRange     `json:"range"`
	InitialAmounts TokenAmounts `json:"initial_amounts"` // immutable once opened

	EntryPrice         float64 `json:"entry_price"`
	EntryActivityRatio float64 `json:"entry_activity_ratio"` // baseline, 0 when unknown

	CurrentPrice         float64        `json:"current_price"`
	CurrentActivityRatio float64        `json:"current_activity_ratio"`
	RatioOverBaseline    float64        `json:"ratio_over_baseline"`
	History              []VolumeSample `json:"history"`
	RebalanceCount       int            `json:"rebalance_count"`

	Status      PositionStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUpdated time.Time      `json:"last_updated"`

	Close *CloseRecord `json:"close,omitempty"`
}

// IsClosed reports whether the position reached its terminal status.
func (p Position) IsClosed() bool {
	return p.Status == StatusClosed
}

// Age returns the time elapsed since the position was opened.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// PositionUpdate is a partial record. Nil fields are left untouched.
// AppendSample is appended to history, never replacing it.
type PositionUpdate struct {
	CurrentPrice         *float64
	CurrentActivityRatio *float64
	RatioOverBaseline    *float64
	AppendSample         *VolumeSample
	EntryActivityRatio   *float64
	Range                *BinRange
	RebalanceCount       *int
	LastUpdated          *time.Time
	Close                *CloseRecord
}

// TickUpdate builds the update persisted on every monitoring tick.
func TickUpdate(price float64, sample VolumeSample) PositionUpdate {
	ratio := sample.ActivityRatio
	over := sample.RatioOverBaseline
	ts := sample.Timestamp
	return PositionUpdate{
		CurrentPrice:         &price,
		CurrentActivityRatio: &ratio,
		RatioOverBaseline:    &over,
		AppendSample:         &sample,
		LastUpdated:          &ts,
	}
}

// Apply returns a copy of p with u applied. It refuses to touch a closed
// position and to close one twice, mirroring what the stores enforce.
func (p Position) Apply(u PositionUpdate) (Position, error) {
	if p.IsClosed() {
		return p, ErrAlreadyClosed
	}

	next := p
	if u.CurrentPrice != nil {
		next.CurrentPrice = *u.CurrentPrice
	}
	if u.CurrentActivityRatio != nil {
		next.CurrentActivityRatio = *u.CurrentActivityRatio
	}
	if u.RatioOverBaseline != nil {
		next.RatioOverBaseline = *u.RatioOverBaseline
	}
	if u.EntryActivityRatio != nil {
		next.EntryActivityRatio = *u.EntryActivityRatio
	}
	if u.AppendSample != nil {
		next.History = make([]VolumeSample, len(p.History), len(p.History)+1)
		copy(next.History, p.History)
		next.History = append(next.History, *u.AppendSample)
	}
	if u.Range != nil {
		next.Range = *u.Range
	}
	if u.RebalanceCount != nil {
		next.RebalanceCount = *u.RebalanceCount
	}
	if u.LastUpdated != nil {
		next.LastUpdated = *u.LastUpdated
	}
	if u.Close != nil {
		rec := *u.Close
		rec.SettlementTxIDs = append([]string(nil), u.Close.SettlementTxIDs...)
		next.Close = &rec
		next.Status = StatusClosed
		next.LastUpdated = rec.ClosedAt
	}
	return next, nil
}
