package birdeye

import (
	"errors"
	"fmt"
	"math"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

var errMissingField = errors.New("missing field")

// required devuelve el valor de un campo numérico obligatorio.
func required(name string, v *float64) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s", errMissingField, name)
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, fmt.Errorf("non-finite %s", name)
	}
	return *v, nil
}

func optional(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func mapTrending(raw []trendingToken, limit int) []domain.TrendingToken {
	out := make([]domain.TrendingToken, 0, len(raw))
	for i, t := range raw {
		if limit > 0 && len(out) >= limit {
			break
		}
		if t.Address == "" {
			continue
		}
		rank := t.Rank
		if rank == 0 {
			rank = i + 1
		}
		out = append(out, domain.TrendingToken{
			Address: t.Address,
			Symbol:  t.Symbol,
			Name:    t.Name,
			Rank:    rank,
		})
	}
	return out
}

// mapMarketData exige price y marketcap: sin marketcap no hay activity ratio.
func mapMarketData(address string, r marketData) (domain.MarketData, error) {
	price, err := required("price", r.Price)
	if err != nil {
		return domain.MarketData{}, err
	}
	mcap, err := required("marketcap", r.MarketCap)
	if err != nil {
		return domain.MarketData{}, err
	}
	if r.Address != "" {
		address = r.Address
	}
	return domain.MarketData{
		Address:   address,
		Price:     price,
		Liquidity: optional(r.Liquidity),
		MarketCap: mcap,
		Supply:    optional(r.Supply),
	}, nil
}

func mapTradeData(address string, r tradeData) (domain.TradeData, error) {
	vol, err := required("volume_1h_usd", r.Volume1hUSD)
	if err != nil {
		return domain.TradeData{}, err
	}
	if r.Address != "" {
		address = r.Address
	}
	return domain.TradeData{
		Address:           address,
		Price:             optional(r.Price),
		Volume1hUSD:       vol,
		PriceChange1hPct:  optional(r.PriceChange1hPercent),
		LastTradeUnixTime: r.LastTradeUnixTime,
	}, nil
}
