// Package meteora implements ports.PoolDirectory over the Meteora DLMM pair listing.
package meteora

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/lpbot/internal/adapters/httpclient"
	"github.com/alejandrodnm/lpbot/internal/domain"
)

const (
	DefaultBaseURL  = "https://dlmm-api.meteora.ag"
	pairsPath       = "/pair/all"
	defaultCacheTTL = 5 * time.Minute
)

// Directory lists DLMM pools for a token. The full listing is large, so it is
// cached for CacheTTL between lookups.
type Directory struct {
	http     *httpclient.Client
	base     string
	cacheTTL time.Duration
	now      func() time.Time

	mu        sync.Mutex
	pairs     []dlmmPair
	fetchedAt time.Time
}

// NewDirectory crea el directorio. ttl <= 0 usa el default.
func NewDirectory(baseURL string, ttl time.Duration) *Directory {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Directory{
		http:     httpclient.New(httpclient.Options{Timeout: 30 * time.Second, RatePerSec: 1, Burst: 2}),
		base:     baseURL,
		cacheTTL: ttl,
		now:      time.Now,
	}
}

// FindPools devuelve los pools donde token es mint_x o mint_y, con menor fee primero.
func (d *Directory) FindPools(ctx context.Context, token string) ([]domain.PoolInfo, error) {
	pairs, err := d.listing(ctx)
	if err != nil {
		return nil, fmt.Errorf("meteora.FindPools: %w: %w", domain.ErrDataUnavailable, err)
	}

	var pools []domain.PoolInfo
	for _, p := range pairs {
		if p.Hide || p.IsBlacklisted {
			continue
		}
		if p.MintX != token && p.MintY != token {
			continue
		}
		fee, err := strconv.ParseFloat(p.BaseFeePercentage, 64)
		if err != nil {
			slog.Debug("skipping pool with unparseable fee", "pool", p.Address, "fee", p.BaseFeePercentage)
			continue
		}
		pools = append(pools, domain.PoolInfo{
			Address:        p.Address,
			Name:           p.Name,
			MintX:          p.MintX,
			MintY:          p.MintY,
			BinStep:        p.BinStep,
			BaseFeePercent: fee,
		})
	}

	sort.SliceStable(pools, func(i, j int) bool {
		return pools[i].BaseFeePercent < pools[j].BaseFeePercent
	})
	return pools, nil
}

func (d *Directory) listing(ctx context.Context) ([]dlmmPair, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pairs != nil && d.now().Sub(d.fetchedAt) < d.cacheTTL {
		return d.pairs, nil
	}

	var pairs []dlmmPair
	if err := d.http.GetJSON(ctx, d.base+pairsPath, &pairs); err != nil {
		return nil, err
	}
	d.pairs = pairs
	d.fetchedAt = d.now()
	slog.Debug("meteora pair listing refreshed", "pairs", len(pairs))
	return pairs, nil
}
