package dexscreener

import (
	"errors"
	"strings"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

var errNoPair = errors.New("no pair for token on chain")

// mapBoosts convierte los boosts en trending tokens, sin duplicados y en orden.
func mapBoosts(raw []tokenBoost, chain string, limit int) []domain.TrendingToken {
	seen := make(map[string]bool, len(raw))
	out := make([]domain.TrendingToken, 0, limit)
	for _, b := range raw {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !strings.EqualFold(b.ChainID, chain) || b.TokenAddress == "" || seen[b.TokenAddress] {
			continue
		}
		seen[b.TokenAddress] = true
		out = append(out, domain.TrendingToken{
			Address: b.TokenAddress,
			Rank:    len(out) + 1,
		})
	}
	return out
}

// bestPair elige el par con más liquidez donde el token es base en la chain dada.
func bestPair(pairs []pair, chain, address string) (pair, error) {
	var best pair
	found := false
	for _, p := range pairs {
		if !strings.EqualFold(p.ChainID, chain) || p.BaseToken.Address != address {
			continue
		}
		if !found || p.liquidityUSD() > best.liquidityUSD() {
			best = p
			found = true
		}
	}
	if !found {
		return pair{}, errNoPair
	}
	return best, nil
}

func mapMarketData(address string, p pair) (domain.MarketData, error) {
	price, err := p.PriceUSD.Float64()
	if err != nil {
		return domain.MarketData{}, err
	}
	mcap := p.MarketCap
	if mcap <= 0 {
		mcap = p.FDV
	}
	return domain.MarketData{
		Address:   address,
		Symbol:    p.BaseToken.Symbol,
		Price:     price,
		Liquidity: p.liquidityUSD(),
		MarketCap: mcap,
	}, nil
}

func mapTradeData(address string, p pair) (domain.TradeData, error) {
	price, err := p.PriceUSD.Float64()
	if err != nil {
		return domain.TradeData{}, err
	}
	return domain.TradeData{
		Address:          address,
		Price:            price,
		Volume1hUSD:      p.Volume.H1,
		PriceChange1hPct: p.PriceChange.H1,
	}, nil
}
