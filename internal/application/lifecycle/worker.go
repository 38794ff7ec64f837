package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

// worker drives one position. It owns its working copy of the record; nothing
// else mutates it while the worker runs.
type worker struct {
	m     *Manager
	p     domain.Position
	lease ports.Lease
	log   *slog.Logger

	lastRebalanceCheck time.Time
}

func newWorker(m *Manager, p domain.Position) *worker {
	return &worker{
		m:                  m,
		p:                  p,
		log:                slog.With("position_id", p.ID, "token", p.TokenSymbol),
		lastRebalanceCheck: m.Clock.Now(),
	}
}

type observation struct {
	price float64
	ratio float64
}

// monitor runs ticks until the position closes, the lease is lost or ctx is done.
// Cancellation leaves the position active in the store.
func (w *worker) monitor(ctx context.Context, firstWait time.Duration) error {
	wait := firstWait
	for {
		if wait > 0 {
			if err := w.m.Clock.Sleep(ctx, min(wait, w.remaining())); err != nil {
				w.log.Info("monitoring stopped", "reason", err)
				return err
			}
		}
		wait = w.m.cfg.CheckInterval

		if err := w.refreshLease(ctx); err != nil {
			return err
		}

		// la edad se mira antes de pedir datos: un proveedor caído no retrasa el cierre
		if w.remaining() <= 0 {
			return w.settle(ctx, domain.ExitMaxLifespan)
		}

		if err := w.tick(ctx); err != nil {
			switch {
			case errors.Is(err, domain.ErrAlreadyClosed):
				w.log.Warn("position closed elsewhere, stopping", "err", err)
				return nil
			case errors.Is(err, domain.ErrNotFound):
				return fmt.Errorf("lifecycle: position %s vanished from store: %w", w.p.ID, err)
			}
			w.log.Warn("tick failed, retrying next interval", "err", err)
			continue
		}

		if domain.VolumeCollapsed(w.p.RatioOverBaseline, w.m.cfg.VolumeThreshold) {
			return w.settle(ctx, domain.ExitVolumeDrop)
		}

		if w.m.cfg.RebalanceEnabled && w.m.Clock.Now().Sub(w.lastRebalanceCheck) >= w.m.cfg.RebalanceInterval {
			w.lastRebalanceCheck = w.m.Clock.Now()
			if err := w.rebalance(ctx); err != nil {
				if domain.IsInconsistency(err) {
					return err
				}
				w.log.Warn("rebalance failed, keeping current range", "range", w.p.Range.String(), "err", err)
			}
		}
	}
}

func (w *worker) remaining() time.Duration {
	return w.m.cfg.MaxLifespan - w.p.Age(w.m.Clock.Now())
}

func (w *worker) refreshLease(ctx context.Context) error {
	if w.lease == nil {
		return nil
	}
	err := w.lease.Refresh(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrLockHeld):
		w.log.Error("position lease lost, stopping", "err", err)
		return fmt.Errorf("lifecycle: %s: %w", w.p.ID, err)
	default:
		w.log.Warn("lease refresh failed", "err", err)
		return nil
	}
}

// observe fetches market and trade data concurrently and computes the activity ratio.
func (w *worker) observe(ctx context.Context) (observation, error) {
	var (
		md domain.MarketData
		td domain.TradeData
	)
	err := w.m.call(ctx, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			md, err = w.m.Data.GetMarketData(gctx, w.p.TokenAddress)
			return err
		})
		g.Go(func() (err error) {
			td, err = w.m.Data.GetTradeData(gctx, w.p.TokenAddress)
			return err
		})
		return g.Wait()
	})
	if err != nil {
		return observation{}, err
	}
	ratio, err := domain.ActivityRatio(td.Volume1hUSD, md.MarketCap)
	if err != nil {
		return observation{}, err
	}
	return observation{price: md.Price, ratio: ratio}, nil
}

// tick persists one observation and only then applies it to the working copy.
func (w *worker) tick(ctx context.Context) error {
	obs, err := w.observe(ctx)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	over, err := domain.RatioOverBaseline(obs.ratio, w.p.EntryActivityRatio)
	if err != nil {
		return err
	}

	u := domain.TickUpdate(obs.price, domain.VolumeSample{
		Timestamp:         w.m.Clock.Now(),
		ActivityRatio:     obs.ratio,
		RatioOverBaseline: over,
	})
	if err := w.m.call(ctx, func(ctx context.Context) error { return w.m.Store.Update(ctx, w.p.ID, u) }); err != nil {
		return fmt.Errorf("persist tick: %w", err)
	}
	next, err := w.p.Apply(u)
	if err != nil {
		return err
	}
	w.p = next

	w.log.Info("tick",
		"ratio", obs.ratio,
		"baseline", w.p.EntryActivityRatio,
		"over_baseline", over,
		"price", obs.price,
		"age", w.p.Age(w.m.Clock.Now()).Round(time.Second),
	)
	return nil
}

// restoreBaseline recomputes a missing entry ratio from current data before
// monitoring starts, retrying every interval. It closes the position instead
// if the lifespan runs out first.
func (w *worker) restoreBaseline(ctx context.Context) (closed bool, err error) {
	for {
		if w.remaining() <= 0 {
			return true, w.settle(ctx, domain.ExitMaxLifespan)
		}
		if err := w.refreshLease(ctx); err != nil {
			return false, err
		}

		err := w.recomputeBaseline(ctx)
		if err == nil {
			return false, nil
		}
		if errors.Is(err, domain.ErrAlreadyClosed) {
			return true, nil
		}
		w.log.Warn("baseline restore failed, retrying next interval", "err", err)
		if err := w.m.Clock.Sleep(ctx, min(w.m.cfg.CheckInterval, w.remaining())); err != nil {
			return false, err
		}
	}
}

func (w *worker) recomputeBaseline(ctx context.Context) error {
	obs, err := w.observe(ctx)
	if err != nil {
		return err
	}
	if obs.ratio <= 0 {
		return fmt.Errorf("%w: zero activity ratio", domain.ErrDataUnavailable)
	}
	u := domain.PositionUpdate{EntryActivityRatio: &obs.ratio}
	if err := w.m.call(ctx, func(ctx context.Context) error { return w.m.Store.Update(ctx, w.p.ID, u) }); err != nil {
		return fmt.Errorf("persist baseline: %w", err)
	}
	next, err := w.p.Apply(u)
	if err != nil {
		return err
	}
	w.p = next
	w.log.Info("entry baseline restored", "baseline", obs.ratio)
	return nil
}

// rebalance recenters the range on the active bin when it drifted past the
// threshold, re-depositing the nominal initial amounts.
func (w *worker) rebalance(ctx context.Context) error {
	var bin int
	if err := w.m.call(ctx, func(ctx context.Context) (err error) {
		bin, err = w.m.Venue.GetActiveBin(ctx, w.p.PoolAddress)
		return err
	}); err != nil {
		return fmt.Errorf("active bin: %w", err)
	}

	should, err := domain.ShouldRebalance(w.p.Range, bin, w.m.cfg.RebalanceThresholdPct)
	if err != nil {
		return err
	}
	if !should {
		w.log.Debug("range within threshold", "range", w.p.Range.String(), "active_bin", bin)
		return nil
	}

	newRange := domain.NewCenteredRange(bin, w.m.cfg.RangeInterval)
	if err := newRange.Validate(); err != nil {
		return err
	}

	var removeTxs []string
	if err := w.m.call(ctx, func(ctx context.Context) (err error) {
		removeTxs, err = w.m.Venue.RemoveLiquidity(ctx, w.p.PositionHandle, w.p.Range, fullBps, false)
		return err
	}); err != nil {
		return fmt.Errorf("remove liquidity: %w", err)
	}

	// la liquidez ya salió: una cancelación a partir de aquí no debe dejarla fuera
	wctx := context.WithoutCancel(ctx)
	var addTx string
	if err := w.m.call(wctx, func(ctx context.Context) (err error) {
		addTx, err = w.m.Venue.AddLiquidity(ctx, w.p.PositionHandle, w.p.InitialAmounts, newRange)
		return err
	}); err != nil {
		w.restoreRange(wctx)
		return fmt.Errorf("add liquidity: %w", err)
	}

	count := w.p.RebalanceCount + 1
	u := domain.PositionUpdate{Range: &newRange, RebalanceCount: &count}
	if err := w.m.retryStore(wctx, func(ctx context.Context) error { return w.m.Store.Update(ctx, w.p.ID, u) }); err != nil {
		inc := &domain.InconsistencyError{Op: "rebalance", PositionID: w.p.ID, Handle: w.p.PositionHandle, Err: err}
		w.log.Error("rebalanced on venue but not recorded",
			"inconsistent", true,
			"old_range", w.p.Range.String(),
			"new_range", newRange.String(),
			"err", err,
		)
		w.m.notify(wctx, domain.EventInconsistent, w.p, inc.Error())
		return inc
	}

	old := w.p.Range
	next, err := w.p.Apply(u)
	if err != nil {
		return err
	}
	w.p = next

	w.log.Info("position rebalanced",
		"old_range", old.String(),
		"new_range", newRange.String(),
		"active_bin", bin,
		"rebalances", count,
		"remove_txs", len(removeTxs),
		"add_tx", addTx,
	)
	w.m.notify(wctx, domain.EventRebalanced, w.p, fmt.Sprintf("%s -> %s", old, newRange))
	return nil
}

// restoreRange re-deposits into the stored range after a failed re-add, so the
// record stays true to the venue.
func (w *worker) restoreRange(ctx context.Context) {
	err := w.m.call(ctx, func(ctx context.Context) error {
		_, err := w.m.Venue.AddLiquidity(ctx, w.p.PositionHandle, w.p.InitialAmounts, w.p.Range)
		return err
	})
	if err != nil {
		w.log.Error("liquidity withdrawn and not re-deposited", "range", w.p.Range.String(), "err", err)
	}
}

// settle runs close rounds until the position is closed. While the venue keeps
// failing, a new round starts every check interval and the position stays
// active. A stale handle or ctx ends it; the notifier hears about it once.
func (w *worker) settle(ctx context.Context, reason domain.ExitReason) error {
	notified := false
	for {
		_, err := w.close(ctx, reason)
		var cerr *domain.CloseError
		if !errors.As(err, &cerr) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if !notified {
			w.m.notify(ctx, domain.EventCloseFailed, w.p, cerr.Error())
			notified = true
		}
		if errors.Is(err, domain.ErrPositionNotFound) {
			return err
		}

		w.log.Warn("close failed, retrying next interval", "reason", reason, "err", err)
		if err := w.m.Clock.Sleep(ctx, w.m.cfg.CheckInterval); err != nil {
			return err
		}
		if err := w.refreshLease(ctx); err != nil {
			return err
		}
	}
}

// close settles the position on the venue and records the close.
//
// Venue steps are retried with exponential backoff. If the handle disappears
// after a removal was attempted, the removal landed and the close proceeds.
// Exhausted retries return *domain.CloseError with the record still active;
// settle decides whether to run another round.
func (w *worker) close(ctx context.Context, reason domain.ExitReason) (domain.Position, error) {
	if w.p.IsClosed() {
		w.log.Debug("close on closed position ignored")
		return w.p, nil
	}
	w.log.Info("closing position", "reason", reason, "ratio_over_baseline", w.p.RatioOverBaseline)

	var (
		state     ports.PositionState
		txs       []string
		attempted bool
		settled   bool
		lastErr   error
		attempts  int
	)
	backoff := w.m.cfg.CloseBackoff
	for attempts = 1; attempts <= w.m.cfg.CloseMaxAttempts; attempts++ {
		if attempts > 1 {
			if err := w.m.Clock.Sleep(ctx, backoff); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
			backoff *= 2
			if err := w.refreshLease(ctx); err != nil {
				return w.p, err
			}
		}

		var st ports.PositionState
		err := w.m.call(ctx, func(ctx context.Context) (err error) {
			st, err = w.m.Venue.GetPositionState(ctx, w.p.PositionHandle)
			return err
		})
		if errors.Is(err, domain.ErrPositionNotFound) && attempted {
			w.log.Warn("position gone after removal attempt, treating as settled", "attempt", attempts)
			settled = true
			break
		}
		if errors.Is(err, domain.ErrPositionNotFound) {
			lastErr = err
			break
		}
		if err != nil {
			lastErr = err
			w.log.Warn("close: state fetch failed", "attempt", attempts, "err", err)
			continue
		}

		state = st
		attempted = true
		err = w.m.call(ctx, func(ctx context.Context) (err error) {
			txs, err = w.m.Venue.RemoveLiquidity(ctx, w.p.PositionHandle, w.p.Range, fullBps, true)
			return err
		})
		if err != nil {
			lastErr = err
			w.log.Warn("close: remove liquidity failed", "attempt", attempts, "err", err)
			continue
		}
		settled = true
		break
	}
	if !settled {
		cerr := &domain.CloseError{PositionID: w.p.ID, Attempts: min(attempts, w.m.cfg.CloseMaxAttempts), Err: lastErr}
		w.log.Error("close abandoned, position stays active", "err", cerr)
		return w.p, cerr
	}

	rec := domain.CloseRecord{
		ClosedAt:        w.m.Clock.Now(),
		Reason:          reason,
		ClaimedFees:     state.Fees,
		FinalHoldings:   state.Holdings,
		SettlementTxIDs: txs,
		ExitPrice:       w.p.CurrentPrice,
	}
	u := domain.PositionUpdate{Close: &rec}

	wctx := context.WithoutCancel(ctx)
	err := w.m.retryStore(wctx, func(ctx context.Context) error { return w.m.Store.Update(ctx, w.p.ID, u) })
	if errors.Is(err, domain.ErrAlreadyClosed) {
		w.log.Warn("store already holds a close record", "position_id", w.p.ID)
		err = nil
	}
	if err != nil {
		inc := &domain.InconsistencyError{Op: "close", PositionID: w.p.ID, Handle: w.p.PositionHandle, Err: err}
		w.log.Error("position closed on venue but not recorded",
			"inconsistent", true,
			"reason", reason,
			"txs", txs,
			"err", err,
		)
		w.m.notify(wctx, domain.EventInconsistent, w.p, inc.Error())
		return w.p, inc
	}

	closed, err := w.p.Apply(u)
	if err != nil {
		return w.p, err
	}
	w.p = closed

	w.log.Info("position closed",
		"reason", reason,
		"age", closed.Age(rec.ClosedAt).Round(time.Second),
		"fees_x", rec.ClaimedFees.X.String(),
		"fees_y", rec.ClaimedFees.Y.String(),
		"rebalances", closed.RebalanceCount,
		"txs", len(txs),
	)
	w.m.notify(wctx, domain.EventClosed, closed, string(reason))
	w.m.archive(wctx, closed)
	return closed, nil
}
