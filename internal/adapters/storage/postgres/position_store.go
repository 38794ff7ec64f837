package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alejandrodnm/lpbot/internal/adapters/storage"
	"github.com/alejandrodnm/lpbot/internal/domain"
)

var dialect = storage.Dialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Time:        func(t time.Time) any { return t.UTC() },
	Strings: func(s []string) (any, error) {
		if s == nil {
			s = []string{}
		}
		return s, nil
	},
}

const positionSelectCols = `id, token_address, token_symbol, pool_address, position_handle,
	range_lower, range_upper, initial_x, initial_y,
	entry_price, entry_activity_ratio, current_price, current_activity_ratio, ratio_over_baseline,
	rebalance_count, status, created_at, last_updated,
	closed_at, close_reason, exit_price, fees_x, fees_y, final_x, final_y, settlement_tx_ids`

// PositionStore implements ports.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Create inserts a new position and its initial samples in one transaction.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.StatusActive
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const query = `
			INSERT INTO positions (id, token_address, token_symbol, pool_address, position_handle,
				range_lower, range_upper, initial_x, initial_y,
				entry_price, entry_activity_ratio, current_price, current_activity_ratio, ratio_over_baseline,
				rebalance_count, status, created_at, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
		if _, err := tx.Exec(ctx, query,
			p.ID, p.TokenAddress, p.TokenSymbol, p.PoolAddress, p.PositionHandle,
			p.Range.Lower, p.Range.Upper, p.InitialAmounts.X.String(), p.InitialAmounts.Y.String(),
			p.EntryPrice, p.EntryActivityRatio, p.CurrentPrice, p.CurrentActivityRatio, p.RatioOverBaseline,
			p.RebalanceCount, string(p.Status), p.CreatedAt.UTC(), p.LastUpdated.UTC(),
		); err != nil {
			return err
		}
		for _, sample := range p.History {
			if err := insertSample(ctx, tx, p.ID, sample); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("postgres: create position: %w: %w", domain.ErrStoreWriteFailed, err)
	}
	return p.ID, nil
}

// Update applies a partial update to an active position. The row is locked
// for the duration of the transaction.
func (s *PositionStore) Update(ctx context.Context, id string, u domain.PositionUpdate) error {
	assignments, err := storage.Assignments(dialect, u)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", id, err)
	}

	var guard error
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			guard = domain.ErrNotFound
			return guard
		}
		if err != nil {
			return err
		}
		if domain.PositionStatus(status) != domain.StatusActive {
			guard = domain.ErrAlreadyClosed
			return guard
		}

		if len(assignments) > 0 {
			set, args := storage.SetClause(dialect, assignments, 2)
			args = append([]any{id}, args...)
			if _, err := tx.Exec(ctx, `UPDATE positions SET `+set+` WHERE id = $1 AND status = 'active'`, args...); err != nil {
				return err
			}
		}
		if u.AppendSample != nil {
			return insertSample(ctx, tx, id, *u.AppendSample)
		}
		return nil
	})
	if guard != nil {
		return fmt.Errorf("postgres: update position %s: %w", id, guard)
	}
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w: %w", id, domain.ErrStoreWriteFailed, err)
	}
	return nil
}

// FindByStatus returns positions with the given status, oldest first.
func (s *PositionStore) FindByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE status = $1 ORDER BY created_at ASC, id ASC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: find positions by status: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find positions by status: %w", err)
	}

	for i := range positions {
		if positions[i].History, err = s.history(ctx, positions[i].ID); err != nil {
			return nil, err
		}
	}
	return positions, nil
}

// Get retrieves a single position with its history.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	if p.History, err = s.history(ctx, id); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

// Close shuts down the pool.
func (s *PositionStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                            domain.Position
		initX, initY, status         string
		closedAt                     *time.Time
		reason                       *string
		exitPrice                    *float64
		feesX, feesY, finalX, finalY *string
		txs                          []string
	)
	if err := row.Scan(
		&p.ID, &p.TokenAddress, &p.TokenSymbol, &p.PoolAddress, &p.PositionHandle,
		&p.Range.Lower, &p.Range.Upper, &initX, &initY,
		&p.EntryPrice, &p.EntryActivityRatio, &p.CurrentPrice, &p.CurrentActivityRatio, &p.RatioOverBaseline,
		&p.RebalanceCount, &status, &p.CreatedAt, &p.LastUpdated,
		&closedAt, &reason, &exitPrice, &feesX, &feesY, &finalX, &finalY, &txs,
	); err != nil {
		return domain.Position{}, err
	}

	var err error
	p.Status = domain.PositionStatus(status)
	if p.InitialAmounts.X, err = storage.ParseAmount(initX); err != nil {
		return domain.Position{}, err
	}
	if p.InitialAmounts.Y, err = storage.ParseAmount(initY); err != nil {
		return domain.Position{}, err
	}
	if p.Status != domain.StatusClosed || closedAt == nil {
		return p, nil
	}

	rec := &domain.CloseRecord{ClosedAt: *closedAt, SettlementTxIDs: txs}
	if reason != nil {
		rec.Reason = domain.ExitReason(*reason)
	}
	if exitPrice != nil {
		rec.ExitPrice = *exitPrice
	}
	if rec.ClaimedFees.X, err = storage.ParseAmount(deref(feesX)); err != nil {
		return domain.Position{}, err
	}
	if rec.ClaimedFees.Y, err = storage.ParseAmount(deref(feesY)); err != nil {
		return domain.Position{}, err
	}
	if rec.FinalHoldings.X, err = storage.ParseAmount(deref(finalX)); err != nil {
		return domain.Position{}, err
	}
	if rec.FinalHoldings.Y, err = storage.ParseAmount(deref(finalY)); err != nil {
		return domain.Position{}, err
	}
	p.Close = rec
	return p, nil
}

func (s *PositionStore) history(ctx context.Context, id string) ([]domain.VolumeSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sampled_at, activity_ratio, ratio_over_baseline
		FROM position_samples WHERE position_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: query samples %s: %w", id, err)
	}
	defer rows.Close()

	var out []domain.VolumeSample
	for rows.Next() {
		var v domain.VolumeSample
		if err := rows.Scan(&v.Timestamp, &v.ActivityRatio, &v.RatioOverBaseline); err != nil {
			return nil, fmt.Errorf("postgres: scan sample %s: %w", id, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func insertSample(ctx context.Context, tx pgx.Tx, id string, v domain.VolumeSample) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO position_samples (position_id, sampled_at, activity_ratio, ratio_over_baseline)
		VALUES ($1, $2, $3, $4)`, id, v.Timestamp.UTC(), v.ActivityRatio, v.RatioOverBaseline)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
