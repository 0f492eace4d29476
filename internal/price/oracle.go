// internal/price/oracle.go
package price

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrPriceUnavailable means the source has no usable data for the token yet.
// It is not a transport failure.
var ErrPriceUnavailable = errors.New("price unavailable")

// Reading is a normalized price observation in SOL per token.
type Reading struct {
	Price decimal.Decimal
	// MarketCapUSD is invalid when the source did not report one.
	MarketCapUSD decimal.NullDecimal
	// Complete is set when the bonding curve has graduated.
	Complete  bool
	Source    string
	FetchedAt time.Time
}

// Oracle fetches the current price of a token.
type Oracle interface {
	FetchPrice(ctx context.Context, tokenID string) (Reading, error)
}

// Chain asks each oracle in turn and returns the first usable reading.
type Chain struct {
	oracles []namedOracle
	logger  *zap.Logger
}

type namedOracle struct {
	name   string
	oracle Oracle
}

// NewChain builds a fallback chain. Order matters: earlier oracles win.
func NewChain(logger *zap.Logger) *Chain {
	return &Chain{logger: logger.Named("price_chain")}
}

// Add appends an oracle to the chain.
func (c *Chain) Add(name string, o Oracle) *Chain {
	c.oracles = append(c.oracles, namedOracle{name: name, oracle: o})
	return c
}

// FetchPrice implements Oracle. When every source fails the error wraps
// ErrPriceUnavailable together with each source's failure.
func (c *Chain) FetchPrice(ctx context.Context, tokenID string) (Reading, error) {
	var errs []error
	for _, o := range c.oracles {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		reading, err := o.oracle.FetchPrice(ctx, tokenID)
		if err == nil {
			return reading, nil
		}
		c.logger.Debug("Price source failed",
			zap.String("source", o.name),
			zap.String("token", tokenID),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", o.name, err))
	}
	return Reading{}, fmt.Errorf("%w for %s: %w", ErrPriceUnavailable, tokenID, errors.Join(errs...))
}

// MarketCap returns the reported USD market cap, if any.
func (r Reading) MarketCap() (decimal.Decimal, bool) {
	if !r.MarketCapUSD.Valid {
		return decimal.Zero, false
	}
	return r.MarketCapUSD.Decimal, true
}
