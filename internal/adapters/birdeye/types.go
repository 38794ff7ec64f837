package birdeye

// DTOs raw de la API de Birdeye. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// envelope es el wrapper común {success, data} de todas las respuestas.
type envelope[T any] struct {
	Success bool `json:"success"`
	Data    *T   `json:"data"`
}

// trendingData es el payload de GET /defi/token_trending.
type trendingData struct {
	UpdateUnixTime int64           `json:"updateUnixTime"`
	Tokens         []trendingToken `json:"tokens"`
}

type trendingToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
	Rank     int    `json:"rank"`
}

// marketData es el payload de GET /defi/v3/token/market-data.
type marketData struct {
	Address              string   `json:"address"`
	Price                *float64 `json:"price"`
	Liquidity            *float64 `json:"liquidity"`
	Supply               *float64 `json:"supply"`
	MarketCap            *float64 `json:"marketcap"`
	CirculatingSupply    *float64 `json:"circulating_supply"`
	CirculatingMarketCap *float64 `json:"circulating_marketcap"`
}

// tradeData es el payload de GET /defi/v3/token/trade-data/single.
type tradeData struct {
	Address              string   `json:"address"`
	Price                *float64 `json:"price"`
	Volume1h             *float64 `json:"volume_1h"`
	Volume1hUSD          *float64 `json:"volume_1h_usd"`
	PriceChange1hPercent *float64 `json:"price_change_1h_percent"`
	LastTradeUnixTime    int64    `json:"last_trade_unix_time"`
}
