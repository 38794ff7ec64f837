package storage

// sqlite.go — PositionStore sobre SQLite (pure Go, sin CGo).
//
// Estrategia:
//   - `positions`: una fila por posición, mutada con UPDATEs parciales.
//   - `position_samples`: histórico append-only de observaciones del monitor.
//   - Toda mutación comprueba status='active' dentro de la misma transacción:
//     una posición cerrada no vuelve a active y no se cierra dos veces.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id                     TEXT PRIMARY KEY,
    token_address          TEXT    NOT NULL,
    token_symbol           TEXT    NOT NULL DEFAULT '',
    pool_address           TEXT    NOT NULL,
    position_handle        TEXT    NOT NULL,
    range_lower            INTEGER NOT NULL,
    range_upper            INTEGER NOT NULL,
    initial_x              TEXT    NOT NULL DEFAULT '0',
    initial_y              TEXT    NOT NULL DEFAULT '0',
    entry_price            REAL    NOT NULL DEFAULT 0,
    entry_activity_ratio   REAL    NOT NULL DEFAULT 0,
    current_price          REAL    NOT NULL DEFAULT 0,
    current_activity_ratio REAL    NOT NULL DEFAULT 0,
    ratio_over_baseline    REAL    NOT NULL DEFAULT 0,
    rebalance_count        INTEGER NOT NULL DEFAULT 0,
    status                 TEXT    NOT NULL CHECK (status IN ('active','closed')),
    created_at             TEXT    NOT NULL,
    last_updated           TEXT    NOT NULL,
    closed_at              TEXT,
    close_reason           TEXT,
    exit_price             REAL,
    fees_x                 TEXT,
    fees_y                 TEXT,
    final_x                TEXT,
    final_y                TEXT,
    settlement_tx_ids      TEXT
);

-- Histórico de observaciones, nunca se reescribe
CREATE TABLE IF NOT EXISTS position_samples (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id         TEXT NOT NULL REFERENCES positions(id),
    sampled_at          TEXT NOT NULL,
    activity_ratio      REAL NOT NULL,
    ratio_over_baseline REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status, created_at);
CREATE INDEX IF NOT EXISTS idx_samples_position ON position_samples(position_id, id);
`

const positionCols = `id, token_address, token_symbol, pool_address, position_handle,
	range_lower, range_upper, initial_x, initial_y,
	entry_price, entry_activity_ratio, current_price, current_activity_ratio, ratio_over_baseline,
	rebalance_count, status, created_at, last_updated,
	closed_at, close_reason, exit_price, fees_x, fees_y, final_x, final_y, settlement_tx_ids`

var sqliteDialect = Dialect{
	Placeholder: func(int) string { return "?" },
	Time:        func(t time.Time) any { return formatTime(t) },
	Strings: func(s []string) (any, error) {
		if s == nil {
			s = []string{}
		}
		b, err := json.Marshal(s)
		return string(b), err
	},
}

// SQLiteStore implementa ports.PositionStore usando SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create persiste una posición nueva y devuelve su id.
func (s *SQLiteStore) Create(ctx context.Context, p domain.Position) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.StatusActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("storage.Create: begin tx: %w: %w", domain.ErrStoreWriteFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO positions (id, token_address, token_symbol, pool_address, position_handle,
			range_lower, range_upper, initial_x, initial_y,
			entry_price, entry_activity_ratio, current_price, current_activity_ratio, ratio_over_baseline,
			rebalance_count, status, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TokenAddress, p.TokenSymbol, p.PoolAddress, p.PositionHandle,
		p.Range.Lower, p.Range.Upper, amount(p.InitialAmounts.X), amount(p.InitialAmounts.Y),
		p.EntryPrice, p.EntryActivityRatio, p.CurrentPrice, p.CurrentActivityRatio, p.RatioOverBaseline,
		p.RebalanceCount, string(p.Status), formatTime(p.CreatedAt), formatTime(p.LastUpdated),
	); err != nil {
		return "", fmt.Errorf("storage.Create: insert: %w: %w", domain.ErrStoreWriteFailed, err)
	}

	for _, sample := range p.History {
		if err := insertSample(ctx, tx, p.ID, sample); err != nil {
			return "", fmt.Errorf("storage.Create: %w: %w", domain.ErrStoreWriteFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("storage.Create: commit: %w: %w", domain.ErrStoreWriteFailed, err)
	}
	return p.ID, nil
}

// Update aplica una actualización parcial a una posición activa.
func (s *SQLiteStore) Update(ctx context.Context, id string, u domain.PositionUpdate) error {
	assignments, err := Assignments(sqliteDialect, u)
	if err != nil {
		return fmt.Errorf("storage.Update %s: %w", id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Update %s: begin tx: %w: %w", id, domain.ErrStoreWriteFailed, err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM positions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("storage.Update %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage.Update %s: read status: %w: %w", id, domain.ErrStoreWriteFailed, err)
	}
	if domain.PositionStatus(status) != domain.StatusActive {
		return fmt.Errorf("storage.Update %s: %w", id, domain.ErrAlreadyClosed)
	}

	if len(assignments) > 0 {
		set, args := SetClause(sqliteDialect, assignments, 1)
		args = append(args, id)
		if _, err := tx.ExecContext(ctx,
			`UPDATE positions SET `+set+` WHERE id = ? AND status = 'active'`, args...,
		); err != nil {
			return fmt.Errorf("storage.Update %s: %w: %w", id, domain.ErrStoreWriteFailed, err)
		}
	}

	if u.AppendSample != nil {
		if err := insertSample(ctx, tx, id, *u.AppendSample); err != nil {
			return fmt.Errorf("storage.Update %s: %w: %w", id, domain.ErrStoreWriteFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Update %s: commit: %w: %w", id, domain.ErrStoreWriteFailed, err)
	}
	return nil
}

// FindByStatus devuelve las posiciones con el status dado, más antiguas primero.
func (s *SQLiteStore) FindByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionCols+` FROM positions WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.FindByStatus: query: %w", err)
	}

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage.FindByStatus: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("storage.FindByStatus: %w", err)
	}
	rows.Close() // libera la única conexión antes de leer los samples

	for i := range positions {
		history, err := s.history(ctx, positions[i].ID)
		if err != nil {
			return nil, fmt.Errorf("storage.FindByStatus: %w", err)
		}
		positions[i].History = history
	}
	return positions, nil
}

// Get devuelve una posición con su histórico.
func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionCols+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("storage.Get %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("storage.Get %s: %w", id, err)
	}
	if p.History, err = s.history(ctx, id); err != nil {
		return domain.Position{}, fmt.Errorf("storage.Get %s: %w", id, err)
	}
	return p, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		p                                 domain.Position
		initX, initY, status              string
		createdAt, lastUpdated            string
		closedAt, reason                  sql.NullString
		feesX, feesY, finalX, finalY, txs sql.NullString
		exitPrice                         sql.NullFloat64
	)
	if err := row.Scan(
		&p.ID, &p.TokenAddress, &p.TokenSymbol, &p.PoolAddress, &p.PositionHandle,
		&p.Range.Lower, &p.Range.Upper, &initX, &initY,
		&p.EntryPrice, &p.EntryActivityRatio, &p.CurrentPrice, &p.CurrentActivityRatio, &p.RatioOverBaseline,
		&p.RebalanceCount, &status, &createdAt, &lastUpdated,
		&closedAt, &reason, &exitPrice, &feesX, &feesY, &finalX, &finalY, &txs,
	); err != nil {
		return domain.Position{}, err
	}

	var err error
	p.Status = domain.PositionStatus(status)
	if p.InitialAmounts.X, err = ParseAmount(initX); err != nil {
		return domain.Position{}, fmt.Errorf("initial_x: %w", err)
	}
	if p.InitialAmounts.Y, err = ParseAmount(initY); err != nil {
		return domain.Position{}, fmt.Errorf("initial_y: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Position{}, fmt.Errorf("created_at: %w", err)
	}
	if p.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return domain.Position{}, fmt.Errorf("last_updated: %w", err)
	}

	if p.Status != domain.StatusClosed || !closedAt.Valid {
		return p, nil
	}

	rec := &domain.CloseRecord{Reason: domain.ExitReason(reason.String), ExitPrice: exitPrice.Float64}
	if rec.ClosedAt, err = parseTime(closedAt.String); err != nil {
		return domain.Position{}, fmt.Errorf("closed_at: %w", err)
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src sql.NullString
	}{
		{&rec.ClaimedFees.X, feesX}, {&rec.ClaimedFees.Y, feesY},
		{&rec.FinalHoldings.X, finalX}, {&rec.FinalHoldings.Y, finalY},
	} {
		if *f.dst, err = ParseAmount(f.src.String); err != nil {
			return domain.Position{}, fmt.Errorf("close amounts: %w", err)
		}
	}
	if txs.Valid && txs.String != "" {
		if err := json.Unmarshal([]byte(txs.String), &rec.SettlementTxIDs); err != nil {
			return domain.Position{}, fmt.Errorf("settlement_tx_ids: %w", err)
		}
	}
	p.Close = rec
	return p, nil
}

func (s *SQLiteStore) history(ctx context.Context, id string) ([]domain.VolumeSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sampled_at, activity_ratio, ratio_over_baseline
		FROM position_samples WHERE position_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []domain.VolumeSample
	for rows.Next() {
		var v domain.VolumeSample
		var ts string
		if err := rows.Scan(&ts, &v.ActivityRatio, &v.RatioOverBaseline); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if v.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("sampled_at: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func insertSample(ctx context.Context, tx *sql.Tx, id string, v domain.VolumeSample) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO position_samples (position_id, sampled_at, activity_ratio, ratio_over_baseline)
		VALUES (?, ?, ?, ?)`, id, formatTime(v.Timestamp), v.ActivityRatio, v.RatioOverBaseline)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Ancho fijo en UTC para que ORDER BY sobre texto respete el orden temporal.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
