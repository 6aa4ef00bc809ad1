// Package portfolio folds per-pool position metrics into a cross-pool
// snapshot of a user's exposure.
//
// The fold is commutative and idempotent: re-aggregating the same pool
// records in any order yields the same snapshot. Pools whose metrics have
// not loaded yet must simply be left out of the input — excluding them is
// the caller's way of saying "still loading", and is not the same as
// passing them with zero values.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/Rajshah1302/fate-engine/internal/model"
	"github.com/Rajshah1302/fate-engine/internal/valuation"
)

var hundred = decimal.NewFromInt(100)

// PoolRecord is one pool's combined bull+bear valuation for one holder.
type PoolRecord struct {
	PoolID         string             `json:"pool_id"`
	Name           string             `json:"name"`
	BullBalance    decimal.Decimal    `json:"bull_balance"`
	BearBalance    decimal.Decimal    `json:"bear_balance"`
	Bull           valuation.Metrics  `json:"bull"`
	Bear           valuation.Metrics  `json:"bear"`
	BullAvgPrice   decimal.Decimal    `json:"bull_avg_price"`
	BearAvgPrice   decimal.Decimal    `json:"bear_avg_price"`
	TotalValue     decimal.Decimal    `json:"total_value"`
	TotalCostBasis decimal.Decimal    `json:"total_cost_basis"`
	BullPnL        decimal.Decimal    `json:"bull_pnl"`
	BearPnL        decimal.Decimal    `json:"bear_pnl"`
	TotalPnL       decimal.Decimal    `json:"total_pnl"`
	HasPositions   bool               `json:"has_positions"`
}

// Snapshot is the ephemeral portfolio-level aggregate. It is recomputed in
// full on every underlying change; there is no incremental update path.
type Snapshot struct {
	TotalValue     decimal.Decimal `json:"total_value"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`
	ActivePools    []PoolRecord    `json:"active_pools"`
}

// BuildPoolRecord combines the bull and bear side valuations of one pool
// into a pool-level record. Reserve/supply inside the pool are raw
// subunits; mistDenom converts them to whole units before pricing.
func BuildPoolRecord(pool model.Pool, bullBalance, bearBalance, bullAvg, bearAvg decimal.Decimal, mistDenom uint64) PoolRecord {
	bullReserve := model.FromSubunits(pool.Bull.Reserve, mistDenom)
	bullSupply := model.FromSubunits(pool.Bull.Supply, mistDenom)
	bearReserve := model.FromSubunits(pool.Bear.Reserve, mistDenom)
	bearSupply := model.FromSubunits(pool.Bear.Supply, mistDenom)

	bull := valuation.TokenMetrics(bullReserve, bullSupply, bullBalance, bullAvg)
	bear := valuation.TokenMetrics(bearReserve, bearSupply, bearBalance, bearAvg)

	return PoolRecord{
		PoolID:         pool.ID,
		Name:           pool.Name,
		BullBalance:    bullBalance,
		BearBalance:    bearBalance,
		Bull:           bull,
		Bear:           bear,
		BullAvgPrice:   bullAvg,
		BearAvgPrice:   bearAvg,
		TotalValue:     bull.CurrentValue.Add(bear.CurrentValue),
		TotalCostBasis: bull.CostBasis.Add(bear.CostBasis),
		BullPnL:        bull.PnL,
		BearPnL:        bear.PnL,
		TotalPnL:       bull.PnL.Add(bear.PnL),
		HasPositions:   bullBalance.IsPositive() || bearBalance.IsPositive(),
	}
}

// Aggregate folds pool records into a portfolio snapshot, keeping only
// pools with an open position. Zero qualifying pools yields an all-zero
// snapshot; no division happens when the cost basis is not positive.
func Aggregate(pools []PoolRecord) Snapshot {
	snap := Snapshot{
		TotalValue:     decimal.Zero,
		TotalCostBasis: decimal.Zero,
		TotalPnL:       decimal.Zero,
		TotalReturnPct: decimal.Zero,
		ActivePools:    []PoolRecord{},
	}

	for _, p := range pools {
		if !p.HasPositions {
			continue
		}
		snap.ActivePools = append(snap.ActivePools, p)
		snap.TotalValue = snap.TotalValue.Add(p.TotalValue)
		snap.TotalCostBasis = snap.TotalCostBasis.Add(p.TotalCostBasis)
		snap.TotalPnL = snap.TotalPnL.Add(p.TotalPnL)
	}

	if snap.TotalCostBasis.IsPositive() {
		snap.TotalReturnPct = snap.TotalPnL.Div(snap.TotalCostBasis).Mul(hundred)
	}
	return snap
}
