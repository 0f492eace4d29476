// internal/price/dexscreener.go
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
	DexScreenerBaseURL        = "https://api.dexscreener.com"
	dexScreenerDefaultTimeout = 8 * time.Second
	SourceDexScreener         = "dexscreener"
)

// DexScreenerResponse is the token lookup response.
type DexScreenerResponse struct {
	SchemaVersion string     `json:"schemaVersion"`
	Pairs         []PairInfo `json:"pairs"`
}

// PairInfo holds the pair fields used for pricing.
type PairInfo struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceNative string  `json:"priceNative"`
	PriceUsd    string  `json:"priceUsd"`
	MarketCap   float64 `json:"marketCap"`
	Fdv         float64 `json:"fdv"`
}

// DexScreenerOracle prices graduated tokens from the first listed pair.
type DexScreenerOracle struct {
	api *apiClient
}

// NewDexScreenerOracle creates a DexScreener-backed oracle.
func NewDexScreenerOracle(cfg ClientConfig) *DexScreenerOracle {
	return &DexScreenerOracle{api: newAPIClient(cfg, DexScreenerBaseURL, dexScreenerDefaultTimeout)}
}

// FetchPrice implements Oracle.
func (o *DexScreenerOracle) FetchPrice(ctx context.Context, tokenID string) (Reading, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", o.api.baseURL, url.PathEscape(tokenID))

	var resp DexScreenerResponse
	if err := o.api.getJSON(ctx, endpoint, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return Reading{}, fmt.Errorf("%w: no pairs for %s", ErrPriceUnavailable, tokenID)
		}
		return Reading{}, fmt.Errorf("dexscreener request failed: %w", err)
	}

	if len(resp.Pairs) == 0 {
		return Reading{}, fmt.Errorf("%w: no pairs for %s", ErrPriceUnavailable, tokenID)
	}

	pair := resp.Pairs[0]
	price, err := decimal.NewFromString(pair.PriceNative)
	if err != nil || !price.IsPositive() {
		return Reading{}, fmt.Errorf("%w: bad native price %q for %s", ErrPriceUnavailable, pair.PriceNative, tokenID)
	}

	reading := Reading{
		Price:     price,
		Complete:  true,
		Source:    SourceDexScreener,
		FetchedAt: time.Now(),
	}
	if pair.MarketCap > 0 {
		reading.MarketCapUSD = decimal.NewNullDecimal(decimal.NewFromFloat(pair.MarketCap))
	} else if pair.Fdv > 0 {
		reading.MarketCapUSD = decimal.NewNullDecimal(decimal.NewFromFloat(pair.Fdv))
	}
	return reading, nil
}
