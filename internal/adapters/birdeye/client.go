// Package birdeye implements ports.MarketDataGateway on top of the Birdeye public API.
package birdeye

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/alejandrodnm/lpbot/internal/adapters/httpclient"
	"github.com/alejandrodnm/lpbot/internal/domain"
)

const (
	DefaultBaseURL = "https://public-api.birdeye.so"
	DefaultChain   = "solana"

	trendingPath = "/defi/token_trending"
	marketPath   = "/defi/v3/token/market-data"
	tradePath    = "/defi/v3/token/trade-data/single"

	// Birdeye free tier: ~1 req/s sostenido con ráfagas cortas.
	defaultRatePerSec = 5
	defaultBurst      = 5
)

// Options configura el cliente.
type Options struct {
	BaseURL    string
	APIKey     string
	Chain      string
	RatePerSec float64
}

// Client implements ports.MarketDataGateway.
type Client struct {
	http *httpclient.Client
	base string
}

// NewClient crea un cliente Birdeye.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Chain == "" {
		opts.Chain = DefaultChain
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = defaultRatePerSec
	}
	headers := map[string]string{"x-chain": opts.Chain}
	if opts.APIKey != "" {
		headers["X-API-KEY"] = opts.APIKey
	}
	return &Client{
		http: httpclient.New(httpclient.Options{
			RatePerSec: opts.RatePerSec,
			Burst:      defaultBurst,
			Headers:    headers,
		}),
		base: opts.BaseURL,
	}
}

// GetTrendingTokens devuelve los tokens trending ordenados por rank ascendente.
func (c *Client) GetTrendingTokens(ctx context.Context, limit int) ([]domain.TrendingToken, error) {
	u := fmt.Sprintf("%s%s?sort_by=rank&sort_type=asc&offset=0&limit=%d", c.base, trendingPath, limit)

	var resp envelope[trendingData]
	if err := c.http.GetJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("birdeye.GetTrendingTokens: %w: %w", domain.ErrDataUnavailable, err)
	}
	if !resp.Success || resp.Data == nil {
		return nil, fmt.Errorf("birdeye.GetTrendingTokens: %w: unsuccessful response", domain.ErrDataUnavailable)
	}

	tokens := mapTrending(resp.Data.Tokens, limit)
	slog.Debug("birdeye trending fetched", "requested", limit, "got", len(tokens))
	return tokens, nil
}

// GetMarketData devuelve precio, liquidez y market cap del token.
func (c *Client) GetMarketData(ctx context.Context, address string) (domain.MarketData, error) {
	u := fmt.Sprintf("%s%s?address=%s", c.base, marketPath, url.QueryEscape(address))

	var resp envelope[marketData]
	if err := c.http.GetJSON(ctx, u, &resp); err != nil {
		return domain.MarketData{}, fmt.Errorf("birdeye.GetMarketData %s: %w: %w", address, domain.ErrDataUnavailable, err)
	}
	if !resp.Success || resp.Data == nil {
		return domain.MarketData{}, fmt.Errorf("birdeye.GetMarketData %s: %w: unsuccessful response", address, domain.ErrDataUnavailable)
	}
	md, err := mapMarketData(address, *resp.Data)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("birdeye.GetMarketData %s: %w: %w", address, domain.ErrDataUnavailable, err)
	}
	return md, nil
}

// GetTradeData devuelve el volumen de la última hora y el cambio de precio.
func (c *Client) GetTradeData(ctx context.Context, address string) (domain.TradeData, error) {
	u := fmt.Sprintf("%s%s?address=%s", c.base, tradePath, url.QueryEscape(address))

	var resp envelope[tradeData]
	if err := c.http.GetJSON(ctx, u, &resp); err != nil {
		return domain.TradeData{}, fmt.Errorf("birdeye.GetTradeData %s: %w: %w", address, domain.ErrDataUnavailable, err)
	}
	if !resp.Success || resp.Data == nil {
		return domain.TradeData{}, fmt.Errorf("birdeye.GetTradeData %s: %w: unsuccessful response", address, domain.ErrDataUnavailable)
	}
	td, err := mapTradeData(address, *resp.Data)
	if err != nil {
		return domain.TradeData{}, fmt.Errorf("birdeye.GetTradeData %s: %w: %w", address, domain.ErrDataUnavailable, err)
	}
	return td, nil
}
