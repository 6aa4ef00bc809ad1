// Package model defines the core domain types shared across the engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one of the two token sides of a pool.
type Side string

const (
	SideBull Side = "BULL"
	SideBear Side = "BEAR"
)

// FeeDenominator is the fixed denominator for the per-side fee numerators
// (vault_fee, vault_creator_fee, treasury_fee).
const FeeDenominator = 100

// TokenSide is one side of a pool as read from the chain. Reserve and
// Supply are raw subunit integers; unit price is derived, never stored.
type TokenSide struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Reserve      uint64 `json:"reserve"` // backing asset, subunits
	Supply       uint64 `json:"supply"`  // total supply, subunits
	VaultFee     uint64 `json:"vault_fee"`
	CreatorFee   uint64 `json:"vault_creator_fee"`
	TreasuryFee  uint64 `json:"treasury_fee"`
	VaultCreator string `json:"vault_creator"`
}

// SwapFeeRate returns the side's combined fee as a fraction in [0, 1]:
// (vault + creator + treasury) / FeeDenominator.
func (t TokenSide) SwapFeeRate() decimal.Decimal {
	total := t.VaultFee + t.CreatorFee + t.TreasuryFee
	return decimal.NewFromUint64(total).Div(decimal.NewFromInt(FeeDenominator))
}

// Pool is a paired bull/bear market against one external price reference.
// It is an immutable read snapshot per fetch; the chain owns the truth.
type Pool struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Bull           TokenSide       `json:"bull"`
	Bear           TokenSide       `json:"bear"`
	BullPercentage decimal.Decimal `json:"bull_percentage"`
	BearPercentage decimal.Decimal `json:"bear_percentage"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// Asset names one leg of the three-way swap universe.
type Asset string

const (
	AssetSui  Asset = "sui"
	AssetBull Asset = "bull"
	AssetBear Asset = "bear"
)

// SwapQuote is an ephemeral per-request quote. Never persisted.
// ExchangeRate is the pre-fee ratio; FeeAmount is denominated in the
// output asset. PriceImpact is always zero (declared non-goal).
type SwapQuote struct {
	From           Asset           `json:"from"`
	To             Asset           `json:"to"`
	Amount         decimal.Decimal `json:"amount"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	ExpectedOutput decimal.Decimal `json:"expected_output"`
	PriceImpact    decimal.Decimal `json:"price_impact"`
}

// TradeKind distinguishes the two confirmed trade directions.
type TradeKind string

const (
	TradePurchase TradeKind = "PURCHASE"
	TradeRedeem   TradeKind = "REDEEM"
)

// TradeReceipt is an immutable record of a confirmed trade.
type TradeReceipt struct {
	ID        string          `json:"id" db:"id"`
	Address   string          `json:"address" db:"address"`
	PoolID    string          `json:"pool_id" db:"pool_id"`
	Kind      TradeKind       `json:"kind" db:"kind"`
	Side      Side            `json:"side" db:"side"`
	Subunits  uint64          `json:"subunits" db:"subunits"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // whole units requested
	Digest    string          `json:"digest" db:"digest"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// FromSubunits converts a raw integer amount into whole units by dividing
// by denom. This conversion is a first-class step: skipping it inflates
// every downstream price by the denominator.
func FromSubunits(raw uint64, denom uint64) decimal.Decimal {
	if denom == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(raw).Div(decimal.NewFromUint64(denom))
}

// ToSubunits converts a whole-unit amount to a floored subunit integer.
// The bool reports whether the floored result is representable: at least
// one subunit and within uint64. Callers must treat false as a refusal,
// not a zero trade — a sub-subunit amount would silently trade nothing,
// and an amount past the uint64 range would wrap to a tiny fraction of
// what was asked.
func ToSubunits(amount decimal.Decimal, denom uint64) (uint64, bool) {
	raw := amount.Mul(decimal.NewFromUint64(denom)).Floor()
	if raw.LessThan(decimal.NewFromInt(1)) {
		return 0, false
	}
	big := raw.BigInt()
	if !big.IsUint64() {
		return 0, false
	}
	return big.Uint64(), true
}
