// internal/price/pumpfun.go
package price

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PumpFunBaseURL        = "https://frontend-api.pump.fun"
	pumpFunDefaultTimeout = 10 * time.Second
	SourcePumpFun         = "pumpfun"
)

var (
	lamportsPerSOL   = decimal.NewFromInt(1_000_000_000)
	tokenBaseUnits   = decimal.NewFromInt(1_000_000)
	pumpFunReferrers = map[string]string{
		"Origin":  "https://pump.fun",
		"Referer": "https://pump.fun/",
	}
)

// pumpFunCoin is the subset of the coin endpoint used for pricing.
type pumpFunCoin struct {
	Mint                 string   `json:"mint"`
	Name                 string   `json:"name"`
	Symbol               string   `json:"symbol"`
	VirtualSolReserves   *float64 `json:"virtual_sol_reserves"`
	VirtualTokenReserves *float64 `json:"virtual_token_reserves"`
	UsdMarketCap         *float64 `json:"usd_market_cap"`
	Complete             bool     `json:"complete"`
}

// PumpFunOracle derives the price from the bonding curve's virtual reserves.
type PumpFunOracle struct {
	api *apiClient
}

// NewPumpFunOracle creates an oracle for the pump.fun coin API.
func NewPumpFunOracle(cfg ClientConfig) *PumpFunOracle {
	if cfg.Headers == nil {
		cfg.Headers = pumpFunReferrers
	}
	return &PumpFunOracle{api: newAPIClient(cfg, PumpFunBaseURL, pumpFunDefaultTimeout)}
}

// FetchPrice implements Oracle.
func (o *PumpFunOracle) FetchPrice(ctx context.Context, tokenID string) (Reading, error) {
	endpoint := fmt.Sprintf("%s/coins/%s", o.api.baseURL, url.PathEscape(tokenID))

	var coin pumpFunCoin
	if err := o.api.getJSON(ctx, endpoint, &coin); err != nil {
		if errors.Is(err, errNotFound) {
			return Reading{}, fmt.Errorf("%w: coin %s not indexed", ErrPriceUnavailable, tokenID)
		}
		return Reading{}, fmt.Errorf("pump.fun request failed: %w", err)
	}

	if coin.VirtualSolReserves == nil || coin.VirtualTokenReserves == nil ||
		*coin.VirtualSolReserves <= 0 || *coin.VirtualTokenReserves <= 0 {
		return Reading{}, fmt.Errorf("%w: no reserves for %s", ErrPriceUnavailable, tokenID)
	}

	sol := decimal.NewFromFloat(*coin.VirtualSolReserves).Div(lamportsPerSOL)
	tokens := decimal.NewFromFloat(*coin.VirtualTokenReserves).Div(tokenBaseUnits)

	reading := Reading{
		Price:     sol.Div(tokens),
		Complete:  coin.Complete,
		Source:    SourcePumpFun,
		FetchedAt: time.Now(),
	}
	if coin.UsdMarketCap != nil && *coin.UsdMarketCap > 0 {
		reading.MarketCapUSD = decimal.NewNullDecimal(decimal.NewFromFloat(*coin.UsdMarketCap))
	}
	return reading, nil
}
