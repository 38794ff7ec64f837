package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// Estos tests necesitan una base real:
//
//	LPBOT_TEST_POSTGRES_DSN=postgres://lp:lp@localhost:5432/lp_test?sslmode=disable go test ./internal/adapters/storage/postgres/
func newTestStore(t *testing.T) *PositionStore {
	t.Helper()
	dsn := os.Getenv("LPBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LPBOT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, RunMigrations(ctx, pool))
	s := NewPositionStore(pool)
	t.Cleanup(func() { s.Close() })
	return s
}

var pgT0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

// testPosition usa un token único para que las filas de ejecuciones previas no interfieran.
func testPosition() domain.Position {
	token := "TOK-" + uuid.NewString()
	return domain.Position{
		TokenAddress:       token,
		TokenSymbol:        "TOK",
		PoolAddress:        "POOL-" + token,
		PositionHandle:     "H-" + token,
		Range:              domain.BinRange{Lower: 90, Upper: 110},
		InitialAmounts:     domain.TokenAmounts{X: decimal.NewFromInt(10_000_000), Y: decimal.RequireFromString("2500.5")},
		EntryPrice:         1.25,
		EntryActivityRatio: 0.2,
		Status:             domain.StatusActive,
		CreatedAt:          pgT0,
		LastUpdated:        pgT0,
	}
}

func TestPositionStore_CreateTickAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, testPosition())
	require.NoError(t, err)

	sample := domain.VolumeSample{Timestamp: pgT0.Add(5 * time.Minute), ActivityRatio: 0.1, RatioOverBaseline: 0.5}
	require.NoError(t, s.Update(ctx, id, domain.TickUpdate(1.5, sample)))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.True(t, got.InitialAmounts.Y.Equal(decimal.RequireFromString("2500.5")))
	assert.InDelta(t, 1.5, got.CurrentPrice, 1e-9)
	require.Len(t, got.History, 1)
	assert.InDelta(t, 0.5, got.History[0].RatioOverBaseline, 1e-9)
	assert.True(t, got.History[0].Timestamp.Equal(sample.Timestamp))
	assert.Nil(t, got.Close)
}

func TestPositionStore_CloseIsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, testPosition())
	require.NoError(t, err)

	closedAt := pgT0.Add(time.Hour)
	rec := &domain.CloseRecord{
		ClosedAt:        closedAt,
		Reason:          domain.ExitMaxLifespan,
		ClaimedFees:     domain.TokenAmounts{X: decimal.NewFromInt(1234), Y: decimal.NewFromInt(5)},
		FinalHoldings:   domain.TokenAmounts{X: decimal.NewFromInt(9_900_000), Y: decimal.Zero},
		SettlementTxIDs: []string{"sig-a", "sig-b"},
		ExitPrice:       1.1,
	}
	require.NoError(t, s.Update(ctx, id, domain.PositionUpdate{Close: rec}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, got.Status)
	require.NotNil(t, got.Close)
	assert.Equal(t, []string{"sig-a", "sig-b"}, got.Close.SettlementTxIDs)
	assert.Equal(t, domain.ExitMaxLifespan, got.Close.Reason)
	assert.True(t, got.Close.ClaimedFees.X.Equal(decimal.NewFromInt(1234)))
	assert.True(t, got.Close.ClosedAt.Equal(closedAt))

	err = s.Update(ctx, id, domain.PositionUpdate{Close: &domain.CloseRecord{ClosedAt: closedAt, SettlementTxIDs: []string{"sig-c"}}})
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
	err = s.Update(ctx, id, domain.TickUpdate(2, domain.VolumeSample{Timestamp: closedAt}))
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)

	after, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"sig-a", "sig-b"}, after.Close.SettlementTxIDs)
	assert.Empty(t, after.History)
}

func TestPositionStore_EmptyTxIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, testPosition())
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, id, domain.PositionUpdate{Close: &domain.CloseRecord{ClosedAt: pgT0, Reason: domain.ExitVolumeDrop}}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Close)
	assert.Empty(t, got.Close.SettlementTxIDs)
}

func TestPositionStore_UnknownID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := s.Get(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	price := 1.0
	err = s.Update(ctx, missing, domain.PositionUpdate{CurrentPrice: &price})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStore_FindByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	activeID, err := s.Create(ctx, testPosition())
	require.NoError(t, err)
	closedID, err := s.Create(ctx, testPosition())
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, closedID, domain.PositionUpdate{Close: &domain.CloseRecord{ClosedAt: pgT0, Reason: domain.ExitVolumeDrop}}))

	active, err := s.FindByStatus(ctx, domain.StatusActive)
	require.NoError(t, err)
	ids := make(map[string]bool, len(active))
	for _, p := range active {
		assert.Equal(t, domain.StatusActive, p.Status)
		ids[p.ID] = true
	}
	assert.True(t, ids[activeID])
	assert.False(t, ids[closedID])
}
