// Package paper is an in-memory ports.Venue used for dry runs. Nothing leaves
// the process: handles and transaction ids are random, fees accrue linearly
// while the active bin sits inside the position's range.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

const fullBps = 10_000

// Options configures the simulated venue.
type Options struct {
	// InitialBin is the active bin of pools never set explicitly.
	InitialBin int
	// FeeRatePerHour is the fraction of holdings earned per in-range hour.
	FeeRatePerHour float64
	Now            func() time.Time
}

type position struct {
	pool        string
	rng         domain.BinRange
	holdings    domain.TokenAmounts
	fees        domain.TokenAmounts
	lastAccrual time.Time
}

// Venue implements ports.Venue in memory. Safe for concurrent use.
type Venue struct {
	opts    Options
	feeRate decimal.Decimal

	mu        sync.Mutex
	bins      map[string]int
	positions map[string]*position
}

// New builds an empty paper venue.
func New(opts Options) *Venue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Venue{
		opts:      opts,
		feeRate:   decimal.NewFromFloat(opts.FeeRatePerHour),
		bins:      make(map[string]int),
		positions: make(map[string]*position),
	}
}

// SetActiveBin moves a pool's price. Fees accrued so far are settled first.
func (v *Venue) SetActiveBin(pool string, bin int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.opts.Now()
	for _, p := range v.positions {
		if p.pool == pool {
			v.accrue(p, now)
		}
	}
	v.bins[pool] = bin
}

// Open reports how many simulated positions are still live.
func (v *Venue) Open() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.positions)
}

func (v *Venue) OpenPosition(_ context.Context, pool string, capital domain.TokenAmounts, rng domain.BinRange) (ports.OpenedPosition, error) {
	if err := rng.Validate(); err != nil {
		return ports.OpenedPosition{}, fmt.Errorf("paper.OpenPosition: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	handle := "paper-" + uuid.NewString()
	v.positions[handle] = &position{
		pool:        pool,
		rng:         rng,
		holdings:    capital,
		fees:        domain.TokenAmounts{X: decimal.Zero, Y: decimal.Zero},
		lastAccrual: v.opts.Now(),
	}
	slog.Info("[paper] position opened", "pool", pool, "handle", handle, "range", rng.String())
	return ports.OpenedPosition{Handle: handle, Amounts: capital, TxID: txID()}, nil
}

func (v *Venue) AddLiquidity(_ context.Context, handle string, amounts domain.TokenAmounts, rng domain.BinRange) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.positions[handle]
	if !ok {
		return "", fmt.Errorf("paper.AddLiquidity %s: %w", handle, domain.ErrPositionNotFound)
	}
	v.accrue(p, v.opts.Now())
	p.holdings = domain.TokenAmounts{X: p.holdings.X.Add(amounts.X), Y: p.holdings.Y.Add(amounts.Y)}
	p.rng = rng
	return txID(), nil
}

func (v *Venue) RemoveLiquidity(_ context.Context, handle string, _ domain.BinRange, bps int, claimAndClose bool) ([]string, error) {
	if bps <= 0 || bps > fullBps {
		return nil, fmt.Errorf("paper.RemoveLiquidity: %w: bps %d out of range", domain.ErrVenue, bps)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.positions[handle]
	if !ok {
		return nil, fmt.Errorf("paper.RemoveLiquidity %s: %w", handle, domain.ErrPositionNotFound)
	}
	v.accrue(p, v.opts.Now())

	keep := decimal.NewFromInt(int64(fullBps - bps)).Div(decimal.NewFromInt(fullBps))
	p.holdings = domain.TokenAmounts{X: p.holdings.X.Mul(keep).Floor(), Y: p.holdings.Y.Mul(keep).Floor()}

	txs := []string{txID()}
	if claimAndClose {
		delete(v.positions, handle)
		txs = append(txs, txID())
		slog.Info("[paper] position closed", "handle", handle)
	}
	return txs, nil
}

func (v *Venue) GetPositionState(_ context.Context, handle string) (ports.PositionState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.positions[handle]
	if !ok {
		return ports.PositionState{}, fmt.Errorf("paper.GetPositionState %s: %w", handle, domain.ErrPositionNotFound)
	}
	v.accrue(p, v.opts.Now())
	return ports.PositionState{Holdings: p.holdings, Fees: p.fees}, nil
}

func (v *Venue) GetActiveBin(_ context.Context, pool string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bin, ok := v.bins[pool]; ok {
		return bin, nil
	}
	return v.opts.InitialBin, nil
}

// accrue adds fees for the time since the last accrual if the position is in range.
// Caller holds mu.
func (v *Venue) accrue(p *position, now time.Time) {
	elapsed := now.Sub(p.lastAccrual)
	p.lastAccrual = now
	if elapsed <= 0 || v.feeRate.IsZero() {
		return
	}
	bin, ok := v.bins[p.pool]
	if !ok {
		bin = v.opts.InitialBin
	}
	if !p.rng.Contains(bin) {
		return
	}
	factor := v.feeRate.Mul(decimal.NewFromFloat(elapsed.Hours()))
	p.fees = domain.TokenAmounts{
		X: p.fees.X.Add(p.holdings.X.Mul(factor).Floor()),
		Y: p.fees.Y.Add(p.holdings.Y.Mul(factor).Floor()),
	}
}

func txID() string {
	return "paper-tx-" + uuid.NewString()[:8]
}
