package chain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Rajshah1302/fate-engine/internal/model"
	"github.com/Rajshah1302/fate-engine/internal/valuation"
)

// ParsedToken is the decoded form of one token side's on-chain object.
// Numeric object fields arrive as JSON strings and are parsed here, once,
// so downstream code never duck-types its way through raw field maps.
type ParsedToken struct {
	ID             string
	Name           string
	Symbol         string
	Supply         uint64
	AssetBalance   uint64
	VaultFee       uint64
	CreatorFee     uint64
	TreasuryFee    uint64
	VaultCreator   string
	PredictionPool string
	OtherToken     string
}

// rawTokenFields mirrors the wire shape of the token object's content
// fields. Integers are strings on the wire (u64 does not fit JSON number).
type rawTokenFields struct {
	ID             json.RawMessage `json:"id"`
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Supply         string          `json:"supply"`
	AssetBalance   string          `json:"asset_balance"`
	VaultFee       string          `json:"vault_fee"`
	CreatorFee     string          `json:"vault_creator_fee"`
	TreasuryFee    string          `json:"treasury_fee"`
	VaultCreator   string          `json:"vault_creator"`
	PredictionPool string          `json:"prediction_pool"`
	OtherToken     string          `json:"other_token"`
}

// DecodeTokenFields turns raw object-field JSON into a ParsedToken or a
// wrapped ErrMalformedResponse. It never guesses: a missing or non-numeric
// supply/reserve is a decode failure, not a zero. Callers on the listing
// path may choose to tolerate the error; the trade verifier must not.
func DecodeTokenFields(objectID string, fields json.RawMessage) (ParsedToken, error) {
	if len(fields) == 0 {
		return ParsedToken{}, fmt.Errorf("%w: token %s has no content fields", ErrMalformedResponse, objectID)
	}

	var raw rawTokenFields
	if err := json.Unmarshal(fields, &raw); err != nil {
		return ParsedToken{}, fmt.Errorf("%w: token %s: %v", ErrMalformedResponse, objectID, err)
	}

	tok := ParsedToken{
		ID:             objectID,
		Name:           raw.Name,
		Symbol:         raw.Symbol,
		VaultCreator:   raw.VaultCreator,
		PredictionPool: raw.PredictionPool,
		OtherToken:     raw.OtherToken,
	}

	var err error
	if tok.Supply, err = parseU64Field("supply", raw.Supply); err != nil {
		return ParsedToken{}, fmt.Errorf("%w: token %s: %v", ErrMalformedResponse, objectID, err)
	}
	if tok.AssetBalance, err = parseU64Field("asset_balance", raw.AssetBalance); err != nil {
		return ParsedToken{}, fmt.Errorf("%w: token %s: %v", ErrMalformedResponse, objectID, err)
	}
	if tok.VaultFee, err = parseU64Field("vault_fee", raw.VaultFee); err != nil {
		return ParsedToken{}, fmt.Errorf("%w: token %s: %v", ErrMalformedResponse, objectID, err)
	}
	if tok.CreatorFee, err = parseU64Field("vault_creator_fee", raw.CreatorFee); err != nil {
		return ParsedToken{}, fmt.Errorf("%w: token %s: %v", ErrMalformedResponse, objectID, err)
	}
	if tok.TreasuryFee, err = parseU64Field("treasury_fee", raw.TreasuryFee); err != nil {
		return ParsedToken{}, fmt.Errorf("%w: token %s: %v", ErrMalformedResponse, objectID, err)
	}
	return tok, nil
}

func parseU64Field(name, value string) (uint64, error) {
	if value == "" {
		return 0, fmt.Errorf("missing field %s", name)
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %v", name, err)
	}
	return v, nil
}

// Side converts a parsed token into the domain TokenSide shape.
func (t ParsedToken) Side() model.TokenSide {
	return model.TokenSide{
		ID:           t.ID,
		Name:         t.Name,
		Symbol:       t.Symbol,
		Reserve:      t.AssetBalance,
		Supply:       t.Supply,
		VaultFee:     t.VaultFee,
		CreatorFee:   t.CreatorFee,
		TreasuryFee:  t.TreasuryFee,
		VaultCreator: t.VaultCreator,
	}
}

// AssemblePool builds a Pool snapshot from its two decoded sides,
// deriving the bull/bear value split from current unit prices.
func AssemblePool(poolID string, bull, bear ParsedToken, mistDenom uint64, now time.Time) model.Pool {
	bullSide := bull.Side()
	bearSide := bear.Side()

	bullPrice := valuation.UnitPrice(
		model.FromSubunits(bullSide.Reserve, mistDenom),
		model.FromSubunits(bullSide.Supply, mistDenom),
	)
	bearPrice := valuation.UnitPrice(
		model.FromSubunits(bearSide.Reserve, mistDenom),
		model.FromSubunits(bearSide.Supply, mistDenom),
	)

	bullValue := valuation.PositionValue(bullPrice, model.FromSubunits(bullSide.Supply, mistDenom))
	bearValue := valuation.PositionValue(bearPrice, model.FromSubunits(bearSide.Supply, mistDenom))
	bullPct, bearPct := valuation.SplitPercentages(bullValue, bearValue)

	name := fmt.Sprintf("%s/%s Pool", bullSide.Symbol, bearSide.Symbol)

	return model.Pool{
		ID:             poolID,
		Name:           name,
		Bull:           bullSide,
		Bear:           bearSide,
		BullPercentage: bullPct,
		BearPercentage: bearPct,
		FetchedAt:      now.UTC(),
	}
}
