// Package swap computes exchange quotes over the three-asset universe
// {sui, bull, bear} of a two-sided vault.
//
// Quotes are pure functions of the request and the two token unit prices:
// no liquidity model, no price impact (the quote always reports zero
// impact). The fee is taken from the raw output, so ExpectedOutput is
// rawOutput * (1 - feeRate) and FeeAmount is denominated in the output
// asset. ExchangeRate is the pre-fee ratio; anything back-computed from the
// fee-adjusted output is a display concern, not this package's.
package swap

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Rajshah1302/fate-engine/internal/model"
)

var (
	// ErrSameAsset is returned when the source and destination legs match.
	ErrSameAsset = errors.New("swap: from and to must differ")

	// ErrUnknownAsset is returned for an asset outside {sui, bull, bear}.
	ErrUnknownAsset = errors.New("swap: unknown asset")

	// ErrUnpricedLeg is returned when the token leg being traded has a
	// non-positive unit price, which would make the quote divide by zero.
	ErrUnpricedLeg = errors.New("swap: token leg has no positive price")
)

var one = decimal.NewFromInt(1)

// Request is the input to a quote: a strictly positive whole-unit amount,
// the two legs, the current bull/bear unit prices, and the combined fee
// rate as a fraction in [0, 1].
type Request struct {
	Amount    decimal.Decimal
	From      Asset
	To        Asset
	BullPrice decimal.Decimal
	BearPrice decimal.Decimal
	FeeRate   decimal.Decimal
}

// Asset aliases the model type so callers can stay in one package.
type Asset = model.Asset

// Quote computes the exchange rate, fee, and expected output for a request.
//
// amount <= 0 is not an error: it yields the zero-quote
// {exchangeRate: 0, feeAmount: 0, expectedOutput: 0}, a degenerate but
// defined result that lets callers render an empty form without
// special-casing.
func Quote(req Request) (model.SwapQuote, error) {
	q := model.SwapQuote{
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		FeeRate:        req.FeeRate,
		ExchangeRate:   decimal.Zero,
		FeeAmount:      decimal.Zero,
		ExpectedOutput: decimal.Zero,
		PriceImpact:    decimal.Zero,
	}

	if err := validateLegs(req.From, req.To); err != nil {
		return model.SwapQuote{}, err
	}

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return q, nil
	}

	var rawOutput, rate decimal.Decimal
	switch {
	case req.From == model.AssetSui:
		// sui → token: output = amount / price(to).
		price := priceOf(req.To, req.BullPrice, req.BearPrice)
		if price.LessThanOrEqual(decimal.Zero) {
			return model.SwapQuote{}, fmt.Errorf("%w: %s", ErrUnpricedLeg, req.To)
		}
		rawOutput = req.Amount.Div(price)
		rate = one.Div(price)

	case req.To == model.AssetSui:
		// token → sui: output = amount * price(from).
		price := priceOf(req.From, req.BullPrice, req.BearPrice)
		rawOutput = req.Amount.Mul(price)
		rate = price

	default:
		// token → token (bull ↔ bear).
		fromPrice := priceOf(req.From, req.BullPrice, req.BearPrice)
		toPrice := priceOf(req.To, req.BullPrice, req.BearPrice)
		if toPrice.LessThanOrEqual(decimal.Zero) {
			return model.SwapQuote{}, fmt.Errorf("%w: %s", ErrUnpricedLeg, req.To)
		}
		rawOutput = req.Amount.Mul(fromPrice).Div(toPrice)
		rate = fromPrice.Div(toPrice)
	}

	q.ExchangeRate = rate
	q.FeeAmount = rawOutput.Mul(req.FeeRate)
	q.ExpectedOutput = rawOutput.Mul(one.Sub(req.FeeRate))
	return q, nil
}

func validateLegs(from, to Asset) error {
	for _, a := range [2]Asset{from, to} {
		switch a {
		case model.AssetSui, model.AssetBull, model.AssetBear:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownAsset, a)
		}
	}
	if from == to {
		return ErrSameAsset
	}
	return nil
}

func priceOf(a Asset, bullPrice, bearPrice decimal.Decimal) decimal.Decimal {
	if a == model.AssetBull {
		return bullPrice
	}
	return bearPrice
}
