package domain

import "time"

// TrendingToken is one entry of a provider's trending list, in provider rank order.
type TrendingToken struct {
	Address string
	Symbol  string
	Name    string
	Rank    int
}

// MarketData is a point-in-time market snapshot for a token.
type MarketData struct {
	Address   string
	Symbol    string // optional, some providers omit it
	Price     float64
	Liquidity float64
	MarketCap float64 // size reference for the activity ratio
	Supply    float64
}

// TradeData carries recent trading figures for a token.
type TradeData struct {
	Address           string
	Price             float64
	Volume1hUSD       float64
	PriceChange1hPct  float64
	LastTradeUnixTime int64
}

// TokenAnalysis is the per-token result computed by the candidate selector.
type TokenAnalysis struct {
	Address           string
	Symbol            string
	Name              string
	Rank              int
	Price             float64
	MarketCap         float64
	Volume1hUSD       float64
	ActivityRatio     float64 // volume / market cap
	VolumeToLiquidity float64 // diagnostic only, not ranked on
	PriceChange1hPct  float64
	Score             float64
}

// Candidate is the opportunity handed to the driver. Not persisted.
type Candidate struct {
	Address       string
	Symbol        string
	Name          string
	Score         float64
	ActivityRatio float64 // becomes the position's entry baseline
	EntryPrice    float64
	SelectedAt    time.Time
}

// CandidateFrom promotes an analysis to a candidate.
func CandidateFrom(a TokenAnalysis, at time.Time) Candidate {
	return Candidate{
		Address:       a.Address,
		Symbol:        a.Symbol,
		Name:          a.Name,
		Score:         a.Score,
		ActivityRatio: a.ActivityRatio,
		EntryPrice:    a.Price,
		SelectedAt:    at,
	}
}

// PoolInfo describes a venue pool that can host a position for a token.
type PoolInfo struct {
	Address        string
	Name           string
	MintX          string
	MintY          string
	BinStep        int
	BaseFeePercent float64
}
