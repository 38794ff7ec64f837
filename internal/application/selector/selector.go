// Package selector ranks trending tokens by a composite activity score and
// picks the single best candidate for a new position.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

const defaultTrendingLimit = 5

// Config contiene la configuración del selector.
type Config struct {
	TrendingLimit int
	Workers       int // goroutines de análisis (0 = uno por token)
	Weights       domain.ScoreWeights
}

// Selector implementa la selección de candidatos.
type Selector struct {
	cfg  Config
	data ports.MarketDataGateway
	now  func() time.Time
}

// New crea un Selector.
func New(cfg Config, data ports.MarketDataGateway) *Selector {
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = defaultTrendingLimit
	}
	if cfg.Weights == (domain.ScoreWeights{}) {
		cfg.Weights = domain.DefaultScoreWeights()
	}
	return &Selector{cfg: cfg, data: data, now: time.Now}
}

// SelectBest devuelve el mejor candidato, o nil si no hay ninguno utilizable.
// Solo falla si no se pudo obtener la lista de trending.
func (s *Selector) SelectBest(ctx context.Context) (*domain.Candidate, error) {
	ranked, err := s.Rank(ctx)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	best := ranked[0]
	slog.Info("candidate selected",
		"token", best.Address,
		"symbol", best.Symbol,
		"score", best.Score,
		"activity_ratio", best.ActivityRatio,
		"volume_to_liquidity", best.VolumeToLiquidity,
		"analyzed", len(ranked),
	)
	c := domain.CandidateFrom(best, s.now())
	return &c, nil
}

// Rank analiza los tokens trending y los devuelve ordenados por score.
// Los tokens cuyo fetch falla quedan fuera del ranking.
func (s *Selector) Rank(ctx context.Context) ([]domain.TokenAnalysis, error) {
	trending, err := s.data.GetTrendingTokens(ctx, s.cfg.TrendingLimit)
	if err != nil {
		return nil, fmt.Errorf("selector.Rank: %w", err)
	}
	if len(trending) == 0 {
		slog.Info("no trending tokens")
		return nil, nil
	}

	analyses := s.analyzeConcurrent(ctx, trending)
	sort.SliceStable(analyses, func(i, j int) bool {
		if analyses[i].Score != analyses[j].Score {
			return analyses[i].Score > analyses[j].Score
		}
		return analyses[i].Rank < analyses[j].Rank
	})
	return analyses, nil
}

// Analyze obtiene market y trade data de un token en paralelo y calcula su score.
func (s *Selector) Analyze(ctx context.Context, tok domain.TrendingToken) (domain.TokenAnalysis, error) {
	var (
		md domain.MarketData
		td domain.TradeData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		md, err = s.data.GetMarketData(gctx, tok.Address)
		return err
	})
	g.Go(func() error {
		var err error
		td, err = s.data.GetTradeData(gctx, tok.Address)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.TokenAnalysis{}, err
	}

	ratio, err := domain.ActivityRatio(td.Volume1hUSD, md.MarketCap)
	if err != nil {
		return domain.TokenAnalysis{}, fmt.Errorf("token %s: %w", tok.Address, err)
	}

	symbol := tok.Symbol
	if symbol == "" {
		symbol = md.Symbol
	}
	a := domain.TokenAnalysis{
		Address:           tok.Address,
		Symbol:            symbol,
		Name:              tok.Name,
		Rank:              tok.Rank,
		Price:             md.Price,
		MarketCap:         md.MarketCap,
		Volume1hUSD:       td.Volume1hUSD,
		ActivityRatio:     ratio,
		VolumeToLiquidity: domain.VolumeToLiquidity(td.Volume1hUSD, md.Liquidity),
		PriceChange1hPct:  td.PriceChange1hPct,
	}
	a.Score = domain.CompositeScore(s.cfg.Weights, a)
	return a, nil
}
