// Package dexscreener is an alternative ports.MarketDataGateway backed by the
// keyless DexScreener API. Trending comes from the top token boosts list and
// market/trade figures from the token's deepest pair on the configured chain.
package dexscreener

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alejandrodnm/lpbot/internal/adapters/httpclient"
	"github.com/alejandrodnm/lpbot/internal/domain"
)

const (
	DefaultBaseURL = "https://api.dexscreener.com"
	DefaultChain   = "solana"

	boostsPath = "/token-boosts/top/v1"
	tokensPath = "/latest/dex/tokens/"

	// 60 req/min en boosts, 300 req/min en pairs.
	defaultRatePerSec = 1
	defaultBurst      = 5
)

// Options configura el cliente.
type Options struct {
	BaseURL    string
	Chain      string
	RatePerSec float64
}

// Client implements ports.MarketDataGateway.
type Client struct {
	http  *httpclient.Client
	base  string
	chain string
}

// NewClient crea un cliente DexScreener.
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
	return &Client{
		http:  httpclient.New(httpclient.Options{RatePerSec: opts.RatePerSec, Burst: defaultBurst}),
		base:  opts.BaseURL,
		chain: opts.Chain,
	}
}

// GetTrendingTokens devuelve los tokens más boosteados de la chain.
func (c *Client) GetTrendingTokens(ctx context.Context, limit int) ([]domain.TrendingToken, error) {
	var raw []tokenBoost
	if err := c.http.GetJSON(ctx, c.base+boostsPath, &raw); err != nil {
		return nil, fmt.Errorf("dexscreener.GetTrendingTokens: %w: %w", domain.ErrDataUnavailable, err)
	}
	return mapBoosts(raw, c.chain, limit), nil
}

// GetMarketData devuelve precio, liquidez y market cap del par más profundo.
func (c *Client) GetMarketData(ctx context.Context, address string) (domain.MarketData, error) {
	p, err := c.pair(ctx, address)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("dexscreener.GetMarketData %s: %w: %w", address, domain.ErrDataUnavailable, err)
	}
	md, err := mapMarketData(address, p)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("dexscreener.GetMarketData %s: %w: %w", address, domain.ErrDataUnavailable, err)
	}
	return md, nil
}

// GetTradeData devuelve volumen 1h y cambio de precio 1h del par más profundo.
func (c *Client) GetTradeData(ctx context.Context, address string) (domain.TradeData, error) {
	p, err := c.pair(ctx, address)
	if err != nil {
		return domain.TradeData{}, fmt.Errorf("dexscreener.GetTradeData %s: %w: %w", address, domain.ErrDataUnavailable, err)
	}
	td, err := mapTradeData(address, p)
	if err != nil {
		return domain.TradeData{}, fmt.Errorf("dexscreener.GetTradeData %s: %w: %w", address, domain.ErrDataUnavailable, err)
	}
	return td, nil
}

func (c *Client) pair(ctx context.Context, address string) (pair, error) {
	var resp tokenPairsResponse
	if err := c.http.GetJSON(ctx, c.base+tokensPath+url.PathEscape(address), &resp); err != nil {
		return pair{}, err
	}
	return bestPair(resp.Pairs, c.chain, address)
}
