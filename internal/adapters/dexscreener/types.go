package dexscreener

import "encoding/json"

// DTOs raw de la API de DexScreener.

// tokenBoost es un elemento de GET /token-boosts/top/v1.
type tokenBoost struct {
	URL          string  `json:"url"`
	ChainID      string  `json:"chainId"`
	TokenAddress string  `json:"tokenAddress"`
	Amount       float64 `json:"amount"`
	TotalAmount  float64 `json:"totalAmount"`
	Description  string  `json:"description"`
}

// tokenPairsResponse es la respuesta de GET /latest/dex/tokens/{address}.
type tokenPairsResponse struct {
	SchemaVersion string `json:"schemaVersion"`
	Pairs         []pair `json:"pairs"`
}

type pairToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type pair struct {
	ChainID     string      `json:"chainId"`
	DexID       string      `json:"dexId"`
	PairAddress string      `json:"pairAddress"`
	BaseToken   pairToken   `json:"baseToken"`
	QuoteToken  pairToken   `json:"quoteToken"`
	PriceUSD    json.Number `json:"priceUsd"` // viene como string
	Volume      struct {
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H1  float64 `json:"h1"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	FDV           float64 `json:"fdv"`
	MarketCap     float64 `json:"marketCap"`
	PairCreatedAt int64   `json:"pairCreatedAt"`
}

func (p pair) liquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}
