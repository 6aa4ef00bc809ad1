package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Rajshah1302/fate-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func record(id string, value, basis, pnl float64, open bool) PoolRecord {
	return PoolRecord{
		PoolID:         id,
		TotalValue:     d(value),
		TotalCostBasis: d(basis),
		TotalPnL:       d(pnl),
		HasPositions:   open,
	}
}

func TestAggregate_Empty(t *testing.T) {
	snap := Aggregate(nil)
	if !snap.TotalValue.IsZero() || !snap.TotalCostBasis.IsZero() ||
		!snap.TotalPnL.IsZero() || !snap.TotalReturnPct.IsZero() {
		t.Errorf("expected all-zero snapshot for no pools, got %+v", snap)
	}
	if len(snap.ActivePools) != 0 {
		t.Errorf("expected no active pools, got %d", len(snap.ActivePools))
	}
}

func TestAggregate_FiltersFlatPools(t *testing.T) {
	// pool1 open: value 100, basis 80. pool2 flat: excluded entirely.
	snap := Aggregate([]PoolRecord{
		record("pool1", 100, 80, 20, true),
		record("pool2", 50, 50, 0, false),
	})

	if len(snap.ActivePools) != 1 || snap.ActivePools[0].PoolID != "pool1" {
		t.Fatalf("expected only pool1 active, got %+v", snap.ActivePools)
	}
	if !snap.TotalValue.Equal(d(100)) {
		t.Errorf("totalValue = %s, want 100", snap.TotalValue)
	}
	if !snap.TotalReturnPct.Equal(d(25)) {
		t.Errorf("totalReturnPct = %s, want 25", snap.TotalReturnPct)
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	a := record("a", 10, 5, 5, true)
	b := record("b", 30, 40, -10, true)
	c := record("c", 7, 7, 0, true)

	fwd := Aggregate([]PoolRecord{a, b, c})
	rev := Aggregate([]PoolRecord{c, b, a})

	if !fwd.TotalValue.Equal(rev.TotalValue) ||
		!fwd.TotalPnL.Equal(rev.TotalPnL) ||
		!fwd.TotalReturnPct.Equal(rev.TotalReturnPct) {
		t.Errorf("aggregation is order-dependent: fwd=%+v rev=%+v", fwd, rev)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	pools := []PoolRecord{record("a", 10, 5, 5, true), record("b", 4, 4, 0, true)}
	first := Aggregate(pools)
	second := Aggregate(pools)
	if !first.TotalValue.Equal(second.TotalValue) || !first.TotalPnL.Equal(second.TotalPnL) {
		t.Errorf("re-aggregation diverged: %+v vs %+v", first, second)
	}
}

func TestAggregate_ZeroCostBasisNoDivision(t *testing.T) {
	snap := Aggregate([]PoolRecord{record("a", 10, 0, 10, true)})
	if !snap.TotalReturnPct.IsZero() {
		t.Errorf("expected zero return with zero basis, got %s", snap.TotalReturnPct)
	}
}

func TestBuildPoolRecord_ConvertsSubunits(t *testing.T) {
	const mist = 1_000_000_000

	pool := model.Pool{
		ID:   "pool-1",
		Name: "BTC Fate Pool",
		Bull: model.TokenSide{Reserve: 1 * mist, Supply: mist / 2}, // price 2.0
		Bear: model.TokenSide{Reserve: 0, Supply: 0},               // empty side, par
	}

	rec := BuildPoolRecord(pool, d(10), decimal.Zero, d(1.5), decimal.Zero, mist)

	if !rec.Bull.Price.Equal(d(2)) {
		t.Errorf("bull price = %s, want 2", rec.Bull.Price)
	}
	if !rec.Bear.Price.Equal(d(1)) {
		t.Errorf("bear price = %s, want 1 (empty side is par)", rec.Bear.Price)
	}
	if !rec.TotalValue.Equal(d(20)) {
		t.Errorf("totalValue = %s, want 20", rec.TotalValue)
	}
	if !rec.TotalPnL.Equal(d(5)) {
		t.Errorf("totalPnL = %s, want 5", rec.TotalPnL)
	}
	if !rec.HasPositions {
		t.Error("expected HasPositions with bull balance > 0")
	}
}

func TestBuildPoolRecord_FlatPool(t *testing.T) {
	pool := model.Pool{ID: "p", Bull: model.TokenSide{Reserve: 5, Supply: 5}}
	rec := BuildPoolRecord(pool, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, 1_000_000_000)
	if rec.HasPositions {
		t.Error("expected flat pool to report no positions")
	}
}
