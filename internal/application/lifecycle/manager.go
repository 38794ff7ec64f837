// Package lifecycle drives liquidity positions from open to close: periodic
// monitor ticks against the entry activity baseline, optional rebalancing and
// a retried close, persisting every transition before acting on it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

const fullBps = 10_000

// Config contiene los parámetros del ciclo de vida de una posición.
type Config struct {
	VolumeThreshold       float64 // fraction of the baseline ratio
	CheckInterval         time.Duration
	MaxLifespan           time.Duration
	Capital               domain.TokenAmounts
	RangeInterval         int // half width of a new range, in bins
	RebalanceEnabled      bool
	RebalanceInterval     time.Duration
	RebalanceThresholdPct float64

	CallTimeout        time.Duration
	CloseMaxAttempts   int
	CloseBackoff       time.Duration
	StoreWriteAttempts int
	LeaseTTL           time.Duration
}

func (c *Config) applyDefaults() {
	if c.RebalanceInterval <= 0 {
		c.RebalanceInterval = 15 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Minute
	}
	if c.CloseMaxAttempts <= 0 {
		c.CloseMaxAttempts = 5
	}
	if c.CloseBackoff <= 0 {
		c.CloseBackoff = 5 * time.Second
	}
	if c.StoreWriteAttempts <= 0 {
		c.StoreWriteAttempts = 3
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 3*c.CheckInterval + c.CallTimeout
	}
}

func (c Config) validate() error {
	switch {
	case c.VolumeThreshold <= 0:
		return &domain.ConfigurationError{Field: "lifecycle.volume_threshold", Err: errors.New("must be > 0")}
	case c.CheckInterval <= 0:
		return &domain.ConfigurationError{Field: "lifecycle.check_interval", Err: errors.New("must be > 0")}
	case c.MaxLifespan <= 0:
		return &domain.ConfigurationError{Field: "lifecycle.max_lifespan", Err: errors.New("must be > 0")}
	case c.RangeInterval <= 0:
		return &domain.ConfigurationError{Field: "lifecycle.range_interval", Err: errors.New("must be > 0")}
	case c.RebalanceEnabled && c.RebalanceThresholdPct <= 0:
		return &domain.ConfigurationError{Field: "lifecycle.rebalance_threshold_pct", Err: errors.New("must be > 0")}
	}
	return nil
}

// Deps are the collaborators of the Manager. Notifier, Archiver and Locker are optional.
type Deps struct {
	Data     ports.MarketDataGateway
	Venue    ports.Venue
	Store    ports.PositionStore
	Notifier ports.Notifier
	Archiver ports.Archiver
	Locker   ports.Locker
	Clock    Clock
}

// Manager owns the lifecycle state machine. It holds no per-position state:
// every Run/Resume gets its own worker.
type Manager struct {
	cfg Config
	Deps
}

// New valida la configuración y crea el Manager.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Data == nil || deps.Venue == nil || deps.Store == nil {
		return nil, errors.New("lifecycle.New: market data, venue and store are required")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	return &Manager{cfg: cfg, Deps: deps}, nil
}

// Open creates a position for the candidate in pool and records it.
//
// Venue failures abandon the attempt with no record written. A store failure
// after the venue created the position is returned as *domain.InconsistencyError.
func (m *Manager) Open(ctx context.Context, cand domain.Candidate, pool domain.PoolInfo) (domain.Position, error) {
	if cand.ActivityRatio <= 0 {
		return domain.Position{}, fmt.Errorf("lifecycle.Open %s: %w: no entry activity ratio", cand.Address, domain.ErrDataUnavailable)
	}

	var bin int
	if err := m.call(ctx, func(ctx context.Context) (err error) {
		bin, err = m.Venue.GetActiveBin(ctx, pool.Address)
		return err
	}); err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle.Open %s: active bin: %w", cand.Address, err)
	}

	rng := domain.NewCenteredRange(bin, m.cfg.RangeInterval)
	if err := rng.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle.Open %s: %w", cand.Address, err)
	}

	var opened ports.OpenedPosition
	if err := m.call(ctx, func(ctx context.Context) (err error) {
		opened, err = m.Venue.OpenPosition(ctx, pool.Address, m.cfg.Capital, rng)
		return err
	}); err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle.Open %s: venue: %w", cand.Address, err)
	}

	amounts := opened.Amounts
	if amounts.IsZero() {
		amounts = m.cfg.Capital
	}
	now := m.Clock.Now()
	p := domain.Position{
		TokenAddress:         cand.Address,
		TokenSymbol:          cand.Symbol,
		PoolAddress:          pool.Address,
		PositionHandle:       opened.Handle,
		Range:                rng,
		InitialAmounts:       amounts,
		EntryPrice:           cand.EntryPrice,
		EntryActivityRatio:   cand.ActivityRatio,
		CurrentPrice:         cand.EntryPrice,
		CurrentActivityRatio: cand.ActivityRatio,
		RatioOverBaseline:    1,
		Status:               domain.StatusActive,
		CreatedAt:            now,
		LastUpdated:          now,
	}

	// la posición ya existe on-chain: la cancelación no debe dejarla sin registro
	wctx := context.WithoutCancel(ctx)
	var id string
	err := m.retryStore(wctx, func(ctx context.Context) (err error) {
		id, err = m.Store.Create(ctx, p)
		return err
	})
	if err != nil {
		inc := &domain.InconsistencyError{Op: "open", Handle: opened.Handle, Err: err}
		slog.Error("position opened on venue but not recorded",
			"inconsistent", true,
			"token", cand.Address,
			"pool", pool.Address,
			"handle", opened.Handle,
			"tx", opened.TxID,
			"err", err,
		)
		m.notify(wctx, domain.EventInconsistent, p, inc.Error())
		return domain.Position{}, inc
	}
	p.ID = id

	slog.Info("position opened",
		"position_id", p.ID,
		"token", p.TokenAddress,
		"symbol", p.TokenSymbol,
		"pool", p.PoolAddress,
		"range", p.Range.String(),
		"baseline", p.EntryActivityRatio,
		"tx", opened.TxID,
	)
	m.notify(ctx, domain.EventOpened, p, "")
	return p, nil
}

// Run monitors a freshly opened position until it closes. The first tick is immediate.
func (m *Manager) Run(ctx context.Context, p domain.Position) error {
	return m.owned(ctx, p, func(w *worker) error {
		return w.monitor(ctx, 0)
	})
}

// Resume re-attaches to a stored active position after a restart. Positions past
// their lifespan are closed without a tick; the others keep their tick cadence
// from LastUpdated.
func (m *Manager) Resume(ctx context.Context, p domain.Position) error {
	if p.IsClosed() {
		return nil
	}
	return m.owned(ctx, p, func(w *worker) error {
		now := m.Clock.Now()
		if m.cfg.MaxLifespan-p.Age(now) <= 0 {
			w.log.Info("resumed position exceeded max lifespan, closing", "age", p.Age(now).Round(time.Second))
			return w.settle(ctx, domain.ExitMaxLifespan)
		}

		if w.p.EntryActivityRatio <= 0 {
			closed, err := w.restoreBaseline(ctx)
			if err != nil || closed {
				return err
			}
		}

		wait := w.p.LastUpdated.Add(m.cfg.CheckInterval).Sub(m.Clock.Now())
		w.log.Info("resuming position",
			"range", w.p.Range.String(),
			"baseline", w.p.EntryActivityRatio,
			"history", len(w.p.History),
			"next_tick_in", max(wait, 0).Round(time.Second),
		)
		return w.monitor(ctx, wait)
	})
}

// Close runs a single close round. Closing an already closed position is a no-op.
// Unlike a monitoring worker, it returns *domain.CloseError once the round's
// retries run out.
func (m *Manager) Close(ctx context.Context, p domain.Position, reason domain.ExitReason) (domain.Position, error) {
	var out domain.Position
	err := m.owned(ctx, p, func(w *worker) error {
		var err error
		out, err = w.close(ctx, reason)
		return err
	})
	return out, err
}

// owned runs fn with a worker holding the position lease, when a Locker is set.
func (m *Manager) owned(ctx context.Context, p domain.Position, fn func(*worker) error) error {
	w := newWorker(m, p)
	if m.Locker != nil && !p.IsClosed() {
		lease, err := m.Locker.Acquire(ctx, "position:"+p.ID, m.cfg.LeaseTTL)
		if err != nil {
			return fmt.Errorf("lifecycle: lease for %s: %w", p.ID, err)
		}
		defer lease.Release()
		w.lease = lease
	}
	return fn(w)
}

// call bounds a collaborator call with CallTimeout. Expiry surfaces as
// context.DeadlineExceeded, which domain.IsTransient accepts.
func (m *Manager) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return fn(cctx)
}

// retryStore retries a store write that follows a venue mutation.
// ErrAlreadyClosed and ErrNotFound are final answers, not failures to retry.
func (m *Manager) retryStore(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= m.cfg.StoreWriteAttempts; attempt++ {
		if err = m.call(ctx, fn); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrAlreadyClosed) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		slog.Warn("store write failed", "attempt", attempt, "of", m.cfg.StoreWriteAttempts, "err", err)
		if attempt < m.cfg.StoreWriteAttempts {
			if serr := m.Clock.Sleep(ctx, time.Duration(attempt)*time.Second); serr != nil {
				return errors.Join(err, serr)
			}
		}
	}
	return err
}

func (m *Manager) notify(ctx context.Context, typ domain.LifecycleEventType, p domain.Position, detail string) {
	if m.Notifier == nil {
		return
	}
	ev := domain.LifecycleEvent{Type: typ, At: m.Clock.Now(), Position: p, Detail: detail}
	if err := m.call(ctx, func(ctx context.Context) error { return m.Notifier.Notify(ctx, ev) }); err != nil {
		slog.Warn("notify failed", "event", typ, "position_id", p.ID, "err", err)
	}
}

func (m *Manager) archive(ctx context.Context, p domain.Position) {
	if m.Archiver == nil {
		return
	}
	if err := m.call(ctx, func(ctx context.Context) error { return m.Archiver.Archive(ctx, p) }); err != nil {
		slog.Warn("archive failed", "position_id", p.ID, "err", err)
	}
}
