// Package driver is the outer loop: it re-attaches workers to stored active
// positions, then keeps asking for candidates and opening positions while
// there is room for more.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

// CandidateSource returns the best current opportunity, or nil if there is none.
type CandidateSource interface {
	SelectBest(ctx context.Context) (*domain.Candidate, error)
}

// Lifecycle opens positions and drives them to close.
type Lifecycle interface {
	Open(ctx context.Context, cand domain.Candidate, pool domain.PoolInfo) (domain.Position, error)
	Run(ctx context.Context, p domain.Position) error
	Resume(ctx context.Context, p domain.Position) error
}

// Config contiene la configuración del driver.
type Config struct {
	MaxPositions int           // workers concurrentes (1 = un ciclo a la vez)
	IdleInterval time.Duration // espera cuando no hay candidato o pool
	Once         bool          // resume + un solo ciclo y salir
	BinStep      int           // bin step preferido, 0 = el pool más barato
}

// Driver coordina selección, apertura y los workers de cada posición.
type Driver struct {
	cfg       Config
	selector  CandidateSource
	pools     ports.PoolDirectory
	store     ports.PositionStore
	lifecycle Lifecycle

	sleep func(ctx context.Context, d time.Duration) error

	wg       sync.WaitGroup
	mu       sync.Mutex
	running  map[string]string // position id -> token address
	stuck    map[string]string // close failed, still active on the venue
	halt     error             // first inconsistency, stops new opens
	finished chan struct{}
}

// New crea un Driver con todas las dependencias inyectadas.
func New(cfg Config, selector CandidateSource, pools ports.PoolDirectory, store ports.PositionStore, lc Lifecycle) *Driver {
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = 1
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = time.Minute
	}
	return &Driver{
		cfg:       cfg,
		selector:  selector,
		pools:     pools,
		store:     store,
		lifecycle: lc,
		sleep:     sleepCtx,
		running:   make(map[string]string),
		stuck:     make(map[string]string),
		finished:  make(chan struct{}, 1),
	}
}

// Run resumes every active position and then opens new ones until ctx is
// cancelled, an inconsistency halts it or, in once mode, a single cycle ends.
// It waits for all workers before returning. The returned error is non-nil when
// the store could not be read at startup or an inconsistency was raised.
func (d *Driver) Run(ctx context.Context) error {
	active, err := d.store.FindByStatus(ctx, domain.StatusActive)
	if err != nil {
		return fmt.Errorf("driver.Run: load active positions: %w", err)
	}
	slog.Info("driver starting",
		"resumed", len(active),
		"max_positions", d.cfg.MaxPositions,
		"once", d.cfg.Once,
	)
	for _, p := range active {
		d.start(ctx, p, d.lifecycle.Resume)
	}

	d.openLoop(ctx)
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halt != nil {
		return fmt.Errorf("driver.Run: halted: %w", d.halt)
	}
	slog.Info("driver stopped")
	return nil
}

func (d *Driver) openLoop(ctx context.Context) {
	for ctx.Err() == nil {
		running, halted := d.state()
		if halted {
			return
		}
		if running >= d.cfg.MaxPositions {
			select {
			case <-ctx.Done():
			case <-d.finished:
			}
			continue
		}

		started, err := d.openNext(ctx)
		if err != nil {
			d.fail(err)
			return
		}
		if d.cfg.Once {
			return
		}
		if !started {
			if err := d.sleep(ctx, d.cfg.IdleInterval); err != nil {
				return
			}
		}
	}
}

// openNext selects a candidate, picks its cheapest pool and opens a position.
// Only an inconsistency is returned as an error; everything else is logged
// and reported as "nothing started".
func (d *Driver) openNext(ctx context.Context) (bool, error) {
	cand, err := d.selector.SelectBest(ctx)
	if err != nil {
		slog.Warn("candidate selection failed", "err", err)
		return false, nil
	}
	if cand == nil {
		slog.Info("no candidate available", "retry_in", d.cfg.IdleInterval)
		return false, nil
	}
	if d.tracking(cand.Address) {
		slog.Info("candidate already has an active position", "token", cand.Address, "symbol", cand.Symbol)
		return false, nil
	}

	pools, err := d.pools.FindPools(ctx, cand.Address)
	if err != nil {
		slog.Warn("pool lookup failed", "token", cand.Address, "err", err)
		return false, nil
	}
	if len(pools) == 0 {
		slog.Info("no pool for candidate", "token", cand.Address, "symbol", cand.Symbol)
		return false, nil
	}
	pool := pickPool(pools, d.cfg.BinStep)

	slog.Info("opening position",
		"token", cand.Address,
		"symbol", cand.Symbol,
		"score", cand.Score,
		"activity_ratio", cand.ActivityRatio,
		"pool", pool.Address,
		"base_fee_pct", pool.BaseFeePercent,
	)
	p, err := d.lifecycle.Open(ctx, *cand, pool)
	if err != nil {
		if domain.IsInconsistency(err) {
			return false, err
		}
		slog.Warn("open failed, position abandoned", "token", cand.Address, "pool", pool.Address, "err", err)
		return false, nil
	}

	d.start(ctx, p, d.lifecycle.Run)
	return true, nil
}

func (d *Driver) start(ctx context.Context, p domain.Position, run func(context.Context, domain.Position) error) {
	d.mu.Lock()
	d.running[p.ID] = p.TokenAddress
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.finish(p, run(ctx, p))
	}()
}

// finish frees the worker slot. A worker inconsistency is recorded under the
// same lock, so the open loop never sees the free slot without the halt.
// A position whose close was given up keeps its slot and its token until restart.
func (d *Driver) finish(p domain.Position, err error) {
	inconsistent := domain.IsInconsistency(err)
	var cerr *domain.CloseError
	canceled := errors.Is(err, context.Canceled)
	closeFailed := errors.As(err, &cerr) && !canceled
	switch {
	case err == nil:
		slog.Info("position worker finished", "position_id", p.ID)
	case canceled:
		slog.Info("position worker stopped, position left active", "position_id", p.ID)
	case closeFailed:
		slog.Error("close given up, position still active on venue; slot kept until restart",
			"position_id", p.ID, "token", p.TokenAddress, "err", err)
	case inconsistent:
		slog.Error("inconsistency detected, no new positions will be opened",
			"inconsistent", true, "position_id", p.ID, "err", err)
	default:
		slog.Error("position worker failed", "position_id", p.ID, "token", p.TokenAddress, "err", err)
	}

	d.mu.Lock()
	delete(d.running, p.ID)
	if closeFailed {
		d.stuck[p.ID] = p.TokenAddress
	}
	if inconsistent && d.halt == nil {
		d.halt = err
	}
	d.mu.Unlock()

	select {
	case d.finished <- struct{}{}:
	default:
	}
}

func (d *Driver) fail(err error) {
	slog.Error("inconsistency detected, no new positions will be opened", "inconsistent", true, "err", err)
	d.mu.Lock()
	if d.halt == nil {
		d.halt = err
	}
	d.mu.Unlock()
}

func (d *Driver) state() (running int, halted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running) + len(d.stuck), d.halt != nil
}

func (d *Driver) tracking(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.running {
		if t == token {
			return true
		}
	}
	for _, t := range d.stuck {
		if t == token {
			return true
		}
	}
	return false
}

// pickPool returns the cheapest pool with the preferred bin step, or the
// cheapest overall. pools is sorted by fee.
func pickPool(pools []domain.PoolInfo, binStep int) domain.PoolInfo {
	if binStep > 0 {
		for _, p := range pools {
			if p.BinStep == binStep {
				return p
			}
		}
	}
	return pools[0]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
