package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// --- mocks ---

type mockSelector struct {
	mu    sync.Mutex
	cands []*domain.Candidate // one per call, the last one repeats
	err   error
	calls int
}

func (s *mockSelector) SelectBest(context.Context) (*domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.cands) == 0 {
		return nil, nil
	}
	c := s.cands[0]
	if len(s.cands) > 1 {
		s.cands = s.cands[1:]
	}
	return c, nil
}

type mockPools struct {
	pools map[string][]domain.PoolInfo
	err   error
}

func (p *mockPools) FindPools(_ context.Context, token string) ([]domain.PoolInfo, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.pools[token], nil
}

type mockStore struct {
	positions []domain.Position
	err       error
}

func (s *mockStore) Create(context.Context, domain.Position) (string, error) { return "", nil }
func (s *mockStore) Update(context.Context, string, domain.PositionUpdate) error {
	return nil
}
func (s *mockStore) Get(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}
func (s *mockStore) Close() error { return nil }

func (s *mockStore) FindByStatus(_ context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

type openCall struct {
	token string
	pool  string
}

type mockLifecycle struct {
	mu       sync.Mutex
	openErrs []error
	runErr   error
	block    bool // Run and Resume wait for ctx
	opens    []openCall
	runs     []string
	resumed  []string
}

func (l *mockLifecycle) Open(_ context.Context, c domain.Candidate, pool domain.PoolInfo) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens = append(l.opens, openCall{token: c.Address, pool: pool.Address})
	if len(l.openErrs) > 0 {
		err := l.openErrs[0]
		l.openErrs = l.openErrs[1:]
		if err != nil {
			return domain.Position{}, err
		}
	}
	return domain.Position{
		ID:           fmt.Sprintf("new-%d", len(l.opens)),
		TokenAddress: c.Address,
		PoolAddress:  pool.Address,
		Status:       domain.StatusActive,
	}, nil
}

func (l *mockLifecycle) Run(ctx context.Context, p domain.Position) error {
	l.mu.Lock()
	l.runs = append(l.runs, p.ID)
	l.mu.Unlock()
	return l.wait(ctx, l.runErr)
}

func (l *mockLifecycle) Resume(ctx context.Context, p domain.Position) error {
	l.mu.Lock()
	l.resumed = append(l.resumed, p.ID)
	l.mu.Unlock()
	return l.wait(ctx, nil)
}

func (l *mockLifecycle) wait(ctx context.Context, err error) error {
	if l.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (l *mockLifecycle) snapshot() (opens []openCall, runs, resumed []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]openCall(nil), l.opens...), append([]string(nil), l.runs...), append([]string(nil), l.resumed...)
}

// stopAfter replaces the idle sleep with one that cancels the run after n idles.
func stopAfter(d *Driver, cancel context.CancelFunc, n int) *int {
	idles := 0
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		idles++
		if idles >= n {
			cancel()
			return context.Canceled
		}
		return nil
	}
	return &idles
}

func cand(addr string) *domain.Candidate {
	return &domain.Candidate{Address: addr, Symbol: "S" + addr, ActivityRatio: 0.2, Score: 0.2}
}

func poolsFor(token string, addrs ...string) *mockPools {
	p := &mockPools{pools: map[string][]domain.PoolInfo{}}
	for _, a := range addrs {
		p.pools[token] = append(p.pools[token], domain.PoolInfo{Address: a})
	}
	return p
}

// --- tests ---

func TestRun_ResumesOnlyActivePositions(t *testing.T) {
	store := &mockStore{positions: []domain.Position{
		{ID: "a", TokenAddress: "T1", Status: domain.StatusActive},
		{ID: "b", TokenAddress: "T2", Status: domain.StatusClosed},
		{ID: "c", TokenAddress: "T3", Status: domain.StatusActive},
	}}
	lc := &mockLifecycle{}
	sel := &mockSelector{}
	d := New(Config{Once: true}, sel, poolsFor("X"), store, lc)

	require.NoError(t, d.Run(context.Background()))

	_, _, resumed := lc.snapshot()
	sort.Strings(resumed)
	assert.Equal(t, []string{"a", "c"}, resumed)
	// resumed workers occupy the single slot until they end; then one selection runs
	assert.Equal(t, 1, sel.calls)
}

func TestRun_StoreFailureAtStartup(t *testing.T) {
	store := &mockStore{err: fmt.Errorf("sqlite: %w", domain.ErrStoreWriteFailed)}
	sel := &mockSelector{}
	d := New(Config{}, sel, poolsFor("X"), store, &mockLifecycle{})

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreWriteFailed)
	assert.Zero(t, sel.calls)
}

func TestRun_OpensInCheapestPool(t *testing.T) {
	lc := &mockLifecycle{}
	sel := &mockSelector{cands: []*domain.Candidate{cand("T1")}}
	d := New(Config{Once: true}, sel, poolsFor("T1", "cheap", "pricey"), &mockStore{}, lc)

	require.NoError(t, d.Run(context.Background()))

	opens, runs, _ := lc.snapshot()
	assert.Equal(t, []openCall{{token: "T1", pool: "cheap"}}, opens)
	assert.Equal(t, []string{"new-1"}, runs)
}

func TestRun_NoCandidateIdles(t *testing.T) {
	lc := &mockLifecycle{}
	sel := &mockSelector{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := New(Config{}, sel, poolsFor("X"), &mockStore{}, lc)
	idles := stopAfter(d, cancel, 3)

	require.NoError(t, d.Run(ctx))

	assert.Equal(t, 3, *idles)
	assert.Equal(t, 3, sel.calls)
	opens, _, _ := lc.snapshot()
	assert.Empty(t, opens)
}

func TestRun_SelectionErrorIsNotFatal(t *testing.T) {
	sel := &mockSelector{err: fmt.Errorf("birdeye: %w", domain.ErrDataUnavailable)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := New(Config{}, sel, poolsFor("X"), &mockStore{}, &mockLifecycle{})
	stopAfter(d, cancel, 2)

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 2, sel.calls)
}

func TestRun_NoPoolSkipsCandidate(t *testing.T) {
	lc := &mockLifecycle{}
	sel := &mockSelector{cands: []*domain.Candidate{cand("T1")}}
	d := New(Config{Once: true}, sel, poolsFor("other", "p"), &mockStore{}, lc)

	require.NoError(t, d.Run(context.Background()))

	opens, _, _ := lc.snapshot()
	assert.Empty(t, opens)
}

func TestRun_OpenFailureRetriesNextCycle(t *testing.T) {
	lc := &mockLifecycle{openErrs: []error{fmt.Errorf("gateway: %w", domain.ErrVenue)}, block: true}
	sel := &mockSelector{cands: []*domain.Candidate{cand("T1")}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := New(Config{MaxPositions: 2}, sel, poolsFor("T1", "p1"), &mockStore{}, lc)
	// idle after the failed open, then idle again because T1 is now tracked
	stopAfter(d, cancel, 2)

	require.NoError(t, d.Run(ctx))

	opens, runs, _ := lc.snapshot()
	assert.Len(t, opens, 2)
	assert.Equal(t, []string{"new-2"}, runs)
}

func TestRun_InconsistencyOnOpenHalts(t *testing.T) {
	inc := &domain.InconsistencyError{Op: "open", Handle: "h", Err: domain.ErrStoreWriteFailed}
	lc := &mockLifecycle{openErrs: []error{inc}}
	sel := &mockSelector{cands: []*domain.Candidate{cand("T1")}}
	d := New(Config{}, sel, poolsFor("T1", "p1"), &mockStore{}, lc)

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsInconsistency(err))
	assert.Equal(t, 1, sel.calls)
}

func TestRun_WorkerInconsistencyHaltsNewOpens(t *testing.T) {
	inc := &domain.InconsistencyError{Op: "close", PositionID: "new-1", Err: domain.ErrStoreWriteFailed}
	lc := &mockLifecycle{runErr: inc}
	sel := &mockSelector{cands: []*domain.Candidate{cand("T1")}}
	d := New(Config{}, sel, poolsFor("T1", "p1"), &mockStore{}, lc)

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreWriteFailed))

	opens, _, _ := lc.snapshot()
	assert.Len(t, opens, 1)
}

func TestRun_FailedCloseKeepsSlotAndToken(t *testing.T) {
	cerr := &domain.CloseError{PositionID: "new-1", Attempts: 1, Err: fmt.Errorf("mock: %w", domain.ErrPositionNotFound)}
	lc := &mockLifecycle{runErr: cerr}
	sel := &mockSelector{cands: []*domain.Candidate{cand("T1"), cand("T1"), cand("T2")}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pools := poolsFor("T1", "p1")
	pools.pools["T2"] = []domain.PoolInfo{{Address: "p2"}}
	d := New(Config{MaxPositions: 2}, sel, pools, &mockStore{}, lc)
	d.sleep = func(context.Context, time.Duration) error { return nil }

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		running, _ := d.state()
		_, runs, _ := lc.snapshot()
		return len(runs) == 2 && running == 2
	}, time.Second, 5*time.Millisecond)
	// both slots stay taken, so nothing else is selected
	calls := func() int {
		sel.mu.Lock()
		defer sel.mu.Unlock()
		return sel.calls
	}
	before := calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, calls())
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
	opens, _, _ := lc.snapshot()
	assert.Equal(t, []openCall{{token: "T1", pool: "p1"}, {token: "T2", pool: "p2"}}, opens)
	assert.True(t, d.tracking("T1"))
}

func TestRun_SkipsTokenAlreadyTracked(t *testing.T) {
	store := &mockStore{positions: []domain.Position{{ID: "a", TokenAddress: "T1", Status: domain.StatusActive}}}
	lc := &mockLifecycle{block: true}
	sel := &mockSelector{cands: []*domain.Candidate{cand("T1")}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := New(Config{MaxPositions: 2}, sel, poolsFor("T1", "p1"), store, lc)
	stopAfter(d, cancel, 2)

	require.NoError(t, d.Run(ctx))

	opens, _, resumed := lc.snapshot()
	assert.Empty(t, opens)
	assert.Equal(t, []string{"a"}, resumed)
}

func TestRun_CancelStopsWorkersCleanly(t *testing.T) {
	lc := &mockLifecycle{block: true}
	sel := &mockSelector{cands: []*domain.Candidate{cand("T1")}}
	ctx, cancel := context.WithCancel(context.Background())
	d := New(Config{}, sel, poolsFor("T1", "p1"), &mockStore{}, lc)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, runs, _ := lc.snapshot()
		return len(runs) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
}

func TestPickPool(t *testing.T) {
	pools := []domain.PoolInfo{
		{Address: "cheap", BinStep: 100},
		{Address: "mid", BinStep: 10},
		{Address: "pricey", BinStep: 10},
	}
	assert.Equal(t, "cheap", pickPool(pools, 0).Address)
	assert.Equal(t, "mid", pickPool(pools, 10).Address)
	assert.Equal(t, "cheap", pickPool(pools, 25).Address, "no match falls back to cheapest")
}
