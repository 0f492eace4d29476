// internal/discovery/types.go
package discovery

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlatformPumpFun  = "pumpfun"
	PlatformLetsBonk = "letsbonk"
)

// TokenEvent is a newly created token as announced by the feed.
type TokenEvent struct {
	TokenID string
	Name    string
	Symbol  string
	URI     string
	// Platform is PlatformPumpFun or PlatformLetsBonk.
	Platform           string
	Creator            string
	Signature          string
	MarketCapSol       decimal.NullDecimal
	MarketCapUSD       decimal.NullDecimal
	VSolInBondingCurve decimal.NullDecimal
	ReceivedAt         time.Time
}

// DisplayName is the name to show for the token, falling back to the symbol
// and then the mint.
func (e TokenEvent) DisplayName() string {
	switch {
	case e.Name != "":
		return e.Name
	case e.Symbol != "":
		return e.Symbol
	default:
		return e.TokenID
	}
}

// newTokenMessage is the wire format of a subscribeNewToken message.
type newTokenMessage struct {
	Signature          string   `json:"signature"`
	Mint               string   `json:"mint"`
	TraderPublicKey    string   `json:"traderPublicKey"`
	TxType             string   `json:"txType"`
	Name               string   `json:"name"`
	Symbol             string   `json:"symbol"`
	URI                string   `json:"uri"`
	Pool               string   `json:"pool"`
	MarketCapSol       *float64 `json:"marketCapSol"`
	UsdMarketCap       *float64 `json:"usdMarketCap"`
	VSolInBondingCurve *float64 `json:"vSolInBondingCurve"`
}

func (m newTokenMessage) toEvent(now time.Time) TokenEvent {
	platform := PlatformPumpFun
	if m.Pool == "bonk" {
		platform = PlatformLetsBonk
	}
	return TokenEvent{
		TokenID:            m.Mint,
		Name:               m.Name,
		Symbol:             m.Symbol,
		URI:                m.URI,
		Platform:           platform,
		Creator:            m.TraderPublicKey,
		Signature:          m.Signature,
		MarketCapSol:       nullDecimal(m.MarketCapSol),
		MarketCapUSD:       nullDecimal(m.UsdMarketCap),
		VSolInBondingCurve: nullDecimal(m.VSolInBondingCurve),
		ReceivedAt:         now,
	}
}

func nullDecimal(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v))
}
