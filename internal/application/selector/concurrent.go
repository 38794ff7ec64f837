package selector

// concurrent.go — worker pool para analizar los tokens trending en paralelo.
// Cada token hace dos llamadas (market + trade); el rate limiter del cliente
// HTTP acota la presión sobre el provider.

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// analyzeConcurrent analiza todos los tokens con un worker pool.
// Los tokens que fallan se descartan con un log, nunca abortan la selección.
func (s *Selector) analyzeConcurrent(ctx context.Context, tokens []domain.TrendingToken) []domain.TokenAnalysis {
	workers := s.cfg.Workers
	if workers <= 0 || workers > len(tokens) {
		workers = len(tokens)
	}

	workCh := make(chan domain.TrendingToken, len(tokens))
	resultCh := make(chan domain.TokenAnalysis, len(tokens))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tok := range workCh {
				a, err := s.Analyze(ctx, tok)
				if err != nil {
					slog.Warn("candidate excluded", "token", tok.Address, "symbol", tok.Symbol, "err", err)
					continue
				}
				resultCh <- a
			}
		}()
	}

	for _, tok := range tokens {
		workCh <- tok
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	out := make([]domain.TokenAnalysis, 0, len(tokens))
	for a := range resultCh {
		out = append(out, a)
	}

	slog.Debug("candidate analysis complete",
		"tokens", len(tokens),
		"analyzed", len(out),
		"workers", workers,
	)
	return out
}
