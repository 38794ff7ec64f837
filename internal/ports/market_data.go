package ports

import (
	"context"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// MarketDataGateway fetches token figures from an HTTP data provider.
// Every method fails with an error matching domain.ErrDataUnavailable when the
// provider fails or answers with a malformed payload.
type MarketDataGateway interface {
	// GetMarketData returns price, liquidity and market cap for a token.
	GetMarketData(ctx context.Context, address string) (domain.MarketData, error)

	// GetTradeData returns recent volume and price change for a token.
	GetTradeData(ctx context.Context, address string) (domain.TradeData, error)

	// GetTrendingTokens returns up to limit trending tokens, best rank first.
	GetTrendingTokens(ctx context.Context, limit int) ([]domain.TrendingToken, error)
}
