// Package gateway implements ports.Venue against an HTTP signing sidecar that
// owns the wallet and builds, signs and confirms the pool transactions.
// Reads are retried; writes are sent once.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/alejandrodnm/lpbot/internal/adapters/httpclient"
	"github.com/alejandrodnm/lpbot/internal/domain"
	"github.com/alejandrodnm/lpbot/internal/ports"
)

// spotBalanced is the only liquidity shape the bot deploys.
const spotBalanced = "spot_balanced"

// Options configures the gateway client.
type Options struct {
	BaseURL   string
	AuthToken string
	// Timeout bounds one request including on-chain confirmation.
	Timeout time.Duration
}

// Venue implements ports.Venue.
type Venue struct {
	http *httpclient.Client
	base string
}

// New builds a gateway Venue.
func New(opts Options) (*Venue, error) {
	if opts.BaseURL == "" {
		return nil, &domain.ConfigurationError{Field: "venue.gateway_url", Err: errors.New("required")}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	headers := map[string]string{}
	if opts.AuthToken != "" {
		headers["Authorization"] = "Bearer " + opts.AuthToken
	}
	return &Venue{
		http: httpclient.New(httpclient.Options{Timeout: opts.Timeout, RatePerSec: 5, Burst: 2, Headers: headers}),
		base: opts.BaseURL,
	}, nil
}

func (v *Venue) OpenPosition(ctx context.Context, pool string, capital domain.TokenAmounts, rng domain.BinRange) (ports.OpenedPosition, error) {
	req := openRequest{
		Pool:     pool,
		Amounts:  toWire(capital),
		Range:    binRange{MinBinID: rng.Lower, MaxBinID: rng.Upper},
		Strategy: spotBalanced,
	}
	var resp openResponse
	if err := v.http.PostJSON(ctx, v.base+"/positions", req, &resp, false); err != nil {
		return ports.OpenedPosition{}, mapErr("gateway.OpenPosition", err)
	}
	if resp.Handle == "" {
		return ports.OpenedPosition{}, fmt.Errorf("gateway.OpenPosition: %w: empty position handle", domain.ErrVenue)
	}
	slog.Info("venue position opened", "pool", pool, "handle", resp.Handle, "tx", resp.TxID)
	return ports.OpenedPosition{Handle: resp.Handle, Amounts: fromWire(resp.Amounts), TxID: resp.TxID}, nil
}

func (v *Venue) AddLiquidity(ctx context.Context, handle string, amts domain.TokenAmounts, rng domain.BinRange) (string, error) {
	req := addRequest{
		Amounts:  toWire(amts),
		Range:    binRange{MinBinID: rng.Lower, MaxBinID: rng.Upper},
		Strategy: spotBalanced,
	}
	var resp txResponse
	if err := v.http.PostJSON(ctx, v.positionURL(handle)+"/add-liquidity", req, &resp, false); err != nil {
		return "", mapErr("gateway.AddLiquidity", err)
	}
	return resp.TxID, nil
}

func (v *Venue) RemoveLiquidity(ctx context.Context, handle string, rng domain.BinRange, bps int, claimAndClose bool) ([]string, error) {
	req := removeRequest{
		Range:         binRange{MinBinID: rng.Lower, MaxBinID: rng.Upper},
		Bps:           bps,
		ClaimAndClose: claimAndClose,
	}
	var resp removeResponse
	if err := v.http.PostJSON(ctx, v.positionURL(handle)+"/remove-liquidity", req, &resp, false); err != nil {
		return nil, mapErr("gateway.RemoveLiquidity", err)
	}
	return resp.TxIDs, nil
}

func (v *Venue) GetPositionState(ctx context.Context, handle string) (ports.PositionState, error) {
	var resp positionResponse
	if err := v.http.GetJSON(ctx, v.positionURL(handle), &resp); err != nil {
		return ports.PositionState{}, mapErr("gateway.GetPositionState", err)
	}
	return ports.PositionState{Holdings: fromWire(resp.Holdings), Fees: fromWire(resp.Fees)}, nil
}

func (v *Venue) GetActiveBin(ctx context.Context, pool string) (int, error) {
	var resp activeBinResponse
	if err := v.http.GetJSON(ctx, v.base+"/pools/"+url.PathEscape(pool)+"/active-bin", &resp); err != nil {
		return 0, mapErr("gateway.GetActiveBin", err)
	}
	return resp.BinID, nil
}

func (v *Venue) positionURL(handle string) string {
	return v.base + "/positions/" + url.PathEscape(handle)
}

// mapErr folds transport failures into the venue taxonomy: 404 means the venue
// does not know the handle, anything else is a venue error.
func mapErr(op string, err error) error {
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrPositionNotFound, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrVenue, err)
}

func toWire(a domain.TokenAmounts) amounts {
	return amounts{X: a.X, Y: a.Y}
}

func fromWire(a amounts) domain.TokenAmounts {
	return domain.TokenAmounts{X: a.X, Y: a.Y}
}
