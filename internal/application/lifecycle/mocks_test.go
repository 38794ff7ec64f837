package lifecycle_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/lpbot/internal/application/lifecycle"
	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// --- clock ---

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	slept   []time.Duration
	onSleep func(d time.Duration)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if c.onSleep != nil {
		c.onSleep(d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.slept = append(c.slept, d)
	return nil
}

// --- market data ---

// fakeData reports a fixed market cap of 1M so volume/1e6 is the activity ratio.
type fakeData struct {
	mu         sync.Mutex
	volumes    []float64 // one per trade fetch, the last one repeats
	err        error
	tradeCalls int
}

func (d *fakeData) GetMarketData(_ context.Context, addr string) (domain.MarketData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return domain.MarketData{}, d.err
	}
	return domain.MarketData{Address: addr, Price: 1.5, MarketCap: 1_000_000}, nil
}

func (d *fakeData) GetTradeData(_ context.Context, addr string) (domain.TradeData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tradeCalls++
	if d.err != nil {
		return domain.TradeData{}, d.err
	}
	v := d.volumes[0]
	if len(d.volumes) > 1 {
		d.volumes = d.volumes[1:]
	}
	return domain.TradeData{Address: addr, Volume1hUSD: v}, nil
}

func (d *fakeData) GetTrendingTokens(context.Context, int) ([]domain.TrendingToken, error) {
	return nil, nil
}

// --- venue ---

type removeCall struct {
	rng   domain.BinRange
	bps   int
	claim bool
}

type addCall struct {
	amounts domain.TokenAmounts
	rng     domain.BinRange
}

type fakeVenue struct {
	mu         sync.Mutex
	bin        int
	binCalls   int
	openErr    error
	stateErrs  []error
	removeErrs []error
	addErrs    []error
	stateCalls int
	opens      int
	removes    []removeCall
	adds       []addCall

	afterRemove func(claim bool) // runs once the removal has landed
}

func (v *fakeVenue) setBin(bin int) {
	v.mu.Lock()
	v.bin = bin
	v.mu.Unlock()
}

func (v *fakeVenue) OpenPosition(_ context.Context, _ string, _ domain.TokenAmounts, _ domain.BinRange) (ports.OpenedPosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.openErr != nil {
		return ports.OpenedPosition{}, v.openErr
	}
	v.opens++
	return ports.OpenedPosition{Handle: fmt.Sprintf("h-%d", v.opens), TxID: "open-tx"}, nil
}

func (v *fakeVenue) AddLiquidity(ctx context.Context, _ string, amounts domain.TokenAmounts, rng domain.BinRange) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v.adds = append(v.adds, addCall{amounts: amounts, rng: rng})
	if err := pop(&v.addErrs); err != nil {
		return "", err
	}
	return fmt.Sprintf("add-%d", len(v.adds)), nil
}

func (v *fakeVenue) RemoveLiquidity(_ context.Context, _ string, rng domain.BinRange, bps int, claim bool) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removes = append(v.removes, removeCall{rng: rng, bps: bps, claim: claim})
	if err := pop(&v.removeErrs); err != nil {
		return nil, err
	}
	if v.afterRemove != nil {
		v.afterRemove(claim)
	}
	return []string{fmt.Sprintf("rm-%d", len(v.removes))}, nil
}

func (v *fakeVenue) GetPositionState(context.Context, string) (ports.PositionState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stateCalls++
	if err := pop(&v.stateErrs); err != nil {
		return ports.PositionState{}, err
	}
	return ports.PositionState{
		Holdings: domain.TokenAmounts{X: decimal.NewFromInt(900_000), Y: decimal.NewFromInt(10)},
		Fees:     domain.TokenAmounts{X: decimal.NewFromInt(1_234), Y: decimal.NewFromInt(5)},
	}, nil
}

func (v *fakeVenue) GetActiveBin(context.Context, string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.binCalls++
	return v.bin, nil
}

// --- store ---

type memStore struct {
	mu         sync.Mutex
	rows       map[string]domain.Position
	seq        int
	createErr  error
	updateErrs []error
	failWhen   func(domain.PositionUpdate) bool
	updates    int
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]domain.Position{}}
}

func (s *memStore) Create(_ context.Context, p domain.Position) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.seq++
	p.ID = fmt.Sprintf("pos-%d", s.seq)
	s.rows[p.ID] = p
	return p.ID, nil
}

func (s *memStore) Update(_ context.Context, id string, u domain.PositionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if err := pop(&s.updateErrs); err != nil {
		return err
	}
	if s.failWhen != nil && s.failWhen(u) {
		return fmt.Errorf("mem: %w", domain.ErrStoreWriteFailed)
	}
	p, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("mem: %w", domain.ErrNotFound)
	}
	next, err := p.Apply(u)
	if err != nil {
		return err
	}
	s.rows[id] = next
	return nil
}

func (s *memStore) FindByStatus(_ context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) Get(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) get(t *testing.T, id string) domain.Position {
	t.Helper()
	p, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

// --- notifier, archiver, locker ---

type spyNotifier struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (n *spyNotifier) Notify(_ context.Context, ev domain.LifecycleEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *spyNotifier) types() []domain.LifecycleEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.LifecycleEventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type spyArchiver struct {
	mu  sync.Mutex
	ids []string
}

func (a *spyArchiver) Archive(_ context.Context, p domain.Position) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, p.ID)
	return nil
}

type fakeLease struct {
	mu        sync.Mutex
	refreshes int
	released  bool
}

func (l *fakeLease) Refresh(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	return nil
}

func (l *fakeLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
}

type fakeLocker struct {
	err   error
	lease *fakeLease
	keys  []string
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (ports.Lease, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	return l.lease, nil
}

// --- harness ---

type harness struct {
	clock    *fakeClock
	data     *fakeData
	venue    *fakeVenue
	store    *memStore
	notifier *spyNotifier
	archiver *spyArchiver
	locker   *fakeLocker
	m        *lifecycle.Manager
}

func baseConfig() lifecycle.Config {
	return lifecycle.Config{
		VolumeThreshold:       0.15,
		CheckInterval:         5 * time.Minute,
		MaxLifespan:           time.Hour,
		Capital:               domain.TokenAmounts{X: decimal.NewFromInt(1_000_000)},
		RangeInterval:         10,
		RebalanceInterval:     15 * time.Minute,
		RebalanceThresholdPct: 20,
		CallTimeout:           time.Minute,
		CloseMaxAttempts:      3,
		CloseBackoff:          5 * time.Second,
		StoreWriteAttempts:    2,
	}
}

func newHarness(t *testing.T, mutate func(*lifecycle.Config)) *harness {
	t.Helper()
	cfg := baseConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		clock:    &fakeClock{now: t0},
		data:     &fakeData{volumes: []float64{200_000}},
		venue:    &fakeVenue{bin: 100},
		store:    newMemStore(),
		notifier: &spyNotifier{},
		archiver: &spyArchiver{},
		locker:   &fakeLocker{lease: &fakeLease{}},
	}
	m, err := lifecycle.New(cfg, lifecycle.Deps{
		Data:     h.data,
		Venue:    h.venue,
		Store:    h.store,
		Notifier: h.notifier,
		Archiver: h.archiver,
		Locker:   h.locker,
		Clock:    h.clock,
	})
	require.NoError(t, err)
	h.m = m
	return h
}

func candidate() domain.Candidate {
	return domain.Candidate{Address: "TokA", Symbol: "TOKA", ActivityRatio: 0.2, EntryPrice: 1.5, SelectedAt: t0}
}

func pool() domain.PoolInfo {
	return domain.PoolInfo{Address: "PoolA", MintX: "TokA", MintY: "SOL", BinStep: 25}
}

// open runs Open against the harness and requires it to succeed.
func (h *harness) open(t *testing.T) domain.Position {
	t.Helper()
	p, err := h.m.Open(context.Background(), candidate(), pool())
	require.NoError(t, err)
	return p
}

// seed stores an active position directly, as a previous process would have left it.
func (h *harness) seed(t *testing.T, mutate func(*domain.Position)) domain.Position {
	t.Helper()
	p := domain.Position{
		TokenAddress:       "TokA",
		TokenSymbol:        "TOKA",
		PoolAddress:        "PoolA",
		PositionHandle:     "h-seeded",
		Range:              domain.BinRange{Lower: 90, Upper: 110},
		InitialAmounts:     domain.TokenAmounts{X: decimal.NewFromInt(1_000_000)},
		EntryPrice:         1.5,
		EntryActivityRatio: 0.2,
		RatioOverBaseline:  1,
		Status:             domain.StatusActive,
		CreatedAt:          t0,
		LastUpdated:        t0,
	}
	if mutate != nil {
		mutate(&p)
	}
	id, err := h.store.Create(context.Background(), p)
	require.NoError(t, err)
	p.ID = id
	return p
}
