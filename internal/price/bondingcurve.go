// internal/price/bondingcurve.go
package price

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc"
)

const SourceBondingCurve = "bonding_curve"

// PumpFunProgramID owns every pump.fun bonding curve account.
var PumpFunProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

// bondingCurveDiscriminator prefixes the Anchor BondingCurve account.
var bondingCurveDiscriminator = []byte{0x17, 0xb7, 0xf8, 0x37, 0x60, 0xd8, 0xac, 0x60}

// BondingCurveState mirrors the on-chain account after its discriminator.
type BondingCurveState struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// AccountReader loads raw account data.
type AccountReader interface {
	GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error)
}

// BondingCurveOracle reads the virtual reserves straight from the chain, so
// it keeps working for tokens the indexers have not picked up yet.
type BondingCurveOracle struct {
	reader    AccountReader
	programID solana.PublicKey
	solUSD    decimal.Decimal
}

// NewBondingCurveOracle creates an on-chain oracle. A positive solUSD lets the
// reading carry a USD market cap.
func NewBondingCurveOracle(reader AccountReader, solUSD decimal.Decimal) *BondingCurveOracle {
	return &BondingCurveOracle{reader: reader, programID: PumpFunProgramID, solUSD: solUSD}
}

// BondingCurveAddress derives the curve PDA for a mint.
func BondingCurveAddress(mint, programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("bonding-curve"), mint.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive bonding curve: %w", err)
	}
	return addr, nil
}

// DecodeBondingCurve parses the account data of a bonding curve.
func DecodeBondingCurve(data []byte) (BondingCurveState, error) {
	var state BondingCurveState
	if len(data) < len(bondingCurveDiscriminator) || !bytes.Equal(data[:8], bondingCurveDiscriminator) {
		return state, errors.New("not a bonding curve account")
	}
	if err := bin.NewBorshDecoder(data[8:]).Decode(&state); err != nil {
		return state, fmt.Errorf("decode bonding curve: %w", err)
	}
	return state, nil
}

// FetchPrice implements Oracle.
func (o *BondingCurveOracle) FetchPrice(ctx context.Context, tokenID string) (Reading, error) {
	mint, err := solana.PublicKeyFromBase58(tokenID)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid mint %q: %w", tokenID, err)
	}
	curve, err := BondingCurveAddress(mint, o.programID)
	if err != nil {
		return Reading{}, err
	}

	data, err := o.reader.GetAccountData(ctx, curve)
	if err != nil {
		if errors.Is(err, solbc.ErrAccountNotFound) {
			return Reading{}, fmt.Errorf("%w: no bonding curve for %s", ErrPriceUnavailable, tokenID)
		}
		return Reading{}, fmt.Errorf("read bonding curve: %w", err)
	}

	state, err := DecodeBondingCurve(data)
	if err != nil {
		return Reading{}, err
	}
	if state.VirtualSolReserves == 0 || state.VirtualTokenReserves == 0 {
		return Reading{}, fmt.Errorf("%w: empty reserves for %s", ErrPriceUnavailable, tokenID)
	}

	sol := decimal.NewFromInt(int64(state.VirtualSolReserves)).Div(lamportsPerSOL)
	tokens := decimal.NewFromInt(int64(state.VirtualTokenReserves)).Div(tokenBaseUnits)
	price := sol.Div(tokens)

	reading := Reading{
		Price:     price,
		Complete:  state.Complete,
		Source:    SourceBondingCurve,
		FetchedAt: time.Now(),
	}
	if o.solUSD.IsPositive() && state.TokenTotalSupply > 0 {
		supply := decimal.NewFromInt(int64(state.TokenTotalSupply)).Div(tokenBaseUnits)
		reading.MarketCapUSD = decimal.NewNullDecimal(price.Mul(supply).Mul(o.solUSD))
	}
	return reading, nil
}
