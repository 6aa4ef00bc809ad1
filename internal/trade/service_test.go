package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Rajshah1302/fate-engine/internal/chain"
	"github.com/Rajshah1302/fate-engine/internal/chain/stub"
	"github.com/Rajshah1302/fate-engine/internal/model"
	"github.com/Rajshah1302/fate-engine/internal/portfolio"
	"github.com/Rajshah1302/fate-engine/internal/store"
	"github.com/Rajshah1302/fate-engine/internal/trade"
	"github.com/Rajshah1302/fate-engine/internal/verify"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testConfig() chain.Config {
	cfg := chain.DefaultConfig()
	cfg.PackageID = "0xpkg"
	cfg.RegistryID = "0xreg"
	cfg.OracleHolderID = "0xoracle"
	return cfg
}

// newTestEnv creates a test Service with in-memory store, a scripted
// chain client, and a chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *stub.Client, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	client := &stub.Client{
		Tokens:   make(map[string]chain.ParsedToken),
		Balances: make(map[string]uint64),
		Pools:    make(map[string][]string),
		Prices:   make(map[string]stub.AvgPrices),
		Coins:    make(map[string][]chain.Coin),
	}
	cfg := testConfig()
	verifier, err := verify.New(client, cfg)
	if err != nil {
		t.Fatalf("verify.New: %v", err)
	}
	svc := trade.NewService(ms, client, verifier, cfg, nil)

	r := chi.NewRouter()
	r.Get("/api/v1/pools", svc.ListPools)
	r.Post("/api/v1/pools", svc.RegisterPool)
	r.Get("/api/v1/pools/{poolID}", svc.GetPool)
	r.Post("/api/v1/pools/{poolID}/refresh", svc.RefreshPool)
	r.Get("/api/v1/pools/{poolID}/trades", svc.GetPoolTrades)
	r.Post("/api/v1/quote", svc.GetQuote)
	r.Post("/api/v1/trade", svc.ExecuteTrade)
	r.Get("/api/v1/trades/{address}", svc.GetTrades)
	r.Get("/api/v1/portfolio/{address}", svc.GetPortfolio)

	return ms, client, r
}

// seedPool stores a snapshot directly: bull priced at 1.3, bear at 0.7,
// both sides with a combined 10% fee schedule.
func seedPool(t *testing.T, ms *store.MemoryStore, poolID string) *model.Pool {
	t.Helper()
	pool := &model.Pool{
		ID:   poolID,
		Name: "UP/DOWN Pool",
		Bull: model.TokenSide{
			ID: "0xbull", Symbol: "UP",
			Reserve: 1_300_000_000, Supply: 1_000_000_000, // price 1.3
			VaultFee: 5, CreatorFee: 3, TreasuryFee: 2,
		},
		Bear: model.TokenSide{
			ID: "0xbear", Symbol: "DOWN",
			Reserve: 700_000_000, Supply: 1_000_000_000, // price 0.7
			VaultFee: 5, CreatorFee: 3, TreasuryFee: 2,
		},
		BullPercentage: d(65),
		BearPercentage: d(35),
		FetchedAt:      time.Now().UTC(),
	}
	if err := ms.UpsertPoolSnapshot(context.Background(), pool); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
	return pool
}

// fund scripts an address with 10 bull tokens, matching token fixtures,
// and 2 SUI of coins.
func fund(client *stub.Client, address string) {
	client.Tokens["0xbull"] = chain.ParsedToken{
		ID: "0xbull", Symbol: "UP", Supply: 1_000_000_000, AssetBalance: 1_300_000_000,
	}
	client.Tokens["0xbear"] = chain.ParsedToken{
		ID: "0xbear", Symbol: "DOWN", Supply: 1_000_000_000, AssetBalance: 700_000_000,
	}
	client.Balances[stub.Key("0xbull", address)] = 1_000_000 // 10 tokens
	client.Coins[address] = []chain.Coin{{ObjectID: "0xcoin", Balance: 2_000_000_000}}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Pool registration and reads ---

func TestRegisterPool(t *testing.T) {
	_, client, router := newTestEnv(t)
	fund(client, "0xalice")

	w := doJSON(t, router, "POST", "/api/v1/pools", trade.RegisterPoolRequest{
		PoolID:      "0xpool",
		BullTokenID: "0xbull",
		BearTokenID: "0xbear",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var pool model.Pool
	json.Unmarshal(w.Body.Bytes(), &pool)

	if pool.ID != "0xpool" {
		t.Errorf("pool id = %q", pool.ID)
	}
	if pool.Name != "UP/DOWN Pool" {
		t.Errorf("pool name = %q", pool.Name)
	}
	// Bull is worth 1.3 of the total 2.0 → 65%.
	if !pool.BullPercentage.Equal(d(65)) {
		t.Errorf("bull percentage = %s, want 65", pool.BullPercentage)
	}

	// The snapshot must now be readable.
	w = doJSON(t, router, "GET", "/api/v1/pools/0xpool", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get after register: %d", w.Code)
	}
}

func TestRegisterPoolMissingFields(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/pools", trade.RegisterPoolRequest{
		PoolID: "0xpool",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRegisterPoolChainFailure(t *testing.T) {
	_, _, router := newTestEnv(t)
	// No token fixtures: the stub answers with a malformed-response error.

	w := doJSON(t, router, "POST", "/api/v1/pools", trade.RegisterPoolRequest{
		PoolID:      "0xpool",
		BullTokenID: "0xbull",
		BearTokenID: "0xbear",
	})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetPoolNotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/pools/0xnope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListPoolsEmpty(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/pools", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("expected empty array, got %q", body)
	}
}

func TestRefreshPool(t *testing.T) {
	ms, client, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")
	fund(client, "0xalice")

	// The chain has moved: bull reserve doubled.
	tok := client.Tokens["0xbull"]
	tok.AssetBalance = 2_600_000_000
	client.Tokens["0xbull"] = tok

	w := doJSON(t, router, "POST", "/api/v1/pools/0xpool/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var pool model.Pool
	json.Unmarshal(w.Body.Bytes(), &pool)
	if pool.Bull.Reserve != 2_600_000_000 {
		t.Errorf("bull reserve = %d after refresh", pool.Bull.Reserve)
	}

	stored, err := ms.GetPoolSnapshot(context.Background(), "0xpool")
	if err != nil {
		t.Fatalf("snapshot gone after refresh: %v", err)
	}
	if stored.Bull.Reserve != 2_600_000_000 {
		t.Errorf("stored reserve = %d", stored.Bull.Reserve)
	}
}

// --- Quotes ---

func TestGetQuoteSuiToBull(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")

	w := doJSON(t, router, "POST", "/api/v1/quote", trade.QuoteRequest{
		PoolID: "0xpool",
		From:   model.AssetSui,
		To:     model.AssetBull,
		Amount: d(100),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var quote model.SwapQuote
	json.Unmarshal(w.Body.Bytes(), &quote)

	// 100 SUI at price 1.3 → raw 76.923, 10% fee → 69.231 out.
	tolerance := d(0.001)
	if quote.ExpectedOutput.Sub(d(69.231)).Abs().GreaterThan(tolerance) {
		t.Errorf("expected output ≈ 69.231, got %s", quote.ExpectedOutput)
	}
	if quote.FeeAmount.Sub(d(7.692)).Abs().GreaterThan(tolerance) {
		t.Errorf("fee ≈ 7.692, got %s", quote.FeeAmount)
	}
	if !quote.PriceImpact.IsZero() {
		t.Errorf("price impact = %s, want 0", quote.PriceImpact)
	}
}

func TestGetQuoteZeroAmount(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")

	w := doJSON(t, router, "POST", "/api/v1/quote", trade.QuoteRequest{
		PoolID: "0xpool",
		From:   model.AssetSui,
		To:     model.AssetBear,
		Amount: decimal.Zero,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var quote model.SwapQuote
	json.Unmarshal(w.Body.Bytes(), &quote)
	if !quote.ExpectedOutput.IsZero() || !quote.FeeAmount.IsZero() || !quote.ExchangeRate.IsZero() {
		t.Errorf("zero amount should yield the zero quote, got %+v", quote)
	}
}

func TestGetQuoteSameAsset(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")

	w := doJSON(t, router, "POST", "/api/v1/quote", trade.QuoteRequest{
		PoolID: "0xpool",
		From:   model.AssetBull,
		To:     model.AssetBull,
		Amount: d(10),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetQuoteUnknownPool(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/quote", trade.QuoteRequest{
		PoolID: "0xnope",
		From:   model.AssetSui,
		To:     model.AssetBull,
		Amount: d(10),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Trade execution ---

func TestExecuteTradeRedeem(t *testing.T) {
	ms, client, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")
	fund(client, "0xalice")
	client.SubmitRes = chain.SubmitResult{Digest: "0xdigest"}

	w := doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		Address: "0xalice",
		PoolID:  "0xpool",
		Kind:    model.TradeRedeem,
		Side:    model.SideBull,
		Amount:  d(5),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.TradeID == "" {
		t.Error("expected non-empty trade_id")
	}
	if resp.Digest != "0xdigest" {
		t.Errorf("digest = %q", resp.Digest)
	}
	if resp.State != "confirmed" {
		t.Errorf("state = %q", resp.State)
	}
	if resp.Subunits != 500_000 {
		t.Errorf("subunits = %d, want 500000", resp.Subunits)
	}

	// Receipt recorded.
	receipts, err := ms.GetTradeReceiptsByAddress(context.Background(), "0xalice")
	if err != nil {
		t.Fatalf("failed to get receipts: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(receipts))
	}
	r := receipts[0]
	if r.Kind != model.TradeRedeem || r.Side != model.SideBull {
		t.Errorf("receipt = %+v", r)
	}
	if r.Digest != "0xdigest" {
		t.Errorf("receipt digest = %q", r.Digest)
	}
	if r.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestExecuteTradePurchase(t *testing.T) {
	ms, client, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")
	fund(client, "0xalice")

	w := doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		Address: "0xalice",
		PoolID:  "0xpool",
		Kind:    model.TradePurchase,
		Side:    model.SideBear,
		Amount:  d(1.5),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp trade.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Subunits != 1_500_000_000 {
		t.Errorf("mist = %d", resp.Subunits)
	}
	if client.SubmitCount() != 1 {
		t.Errorf("submit count = %d", client.SubmitCount())
	}
}

func TestExecuteTradeInvalidSide(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")

	w := doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		Address: "0xalice",
		PoolID:  "0xpool",
		Kind:    model.TradeRedeem,
		Side:    "MAYBE",
		Amount:  d(5),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid side, got %d", w.Code)
	}
}

func TestExecuteTradePoolNotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		Address: "0xalice",
		PoolID:  "0xnope",
		Kind:    model.TradeRedeem,
		Side:    model.SideBull,
		Amount:  d(5),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestExecuteTradeInsufficientBalance(t *testing.T) {
	ms, client, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")
	fund(client, "0xalice")
	client.Balances[stub.Key("0xbull", "0xalice")] = 100_000 // only 1 token

	w := doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		Address: "0xalice",
		PoolID:  "0xpool",
		Kind:    model.TradeRedeem,
		Side:    model.SideBull,
		Amount:  d(5),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if client.SubmitCount() != 0 {
		t.Errorf("guard failure still submitted %d calls", client.SubmitCount())
	}

	// No receipt for a rejected trade.
	receipts, _ := ms.GetTradeReceiptsByAddress(context.Background(), "0xalice")
	if len(receipts) != 0 {
		t.Errorf("expected 0 receipts, got %d", len(receipts))
	}
}

func TestExecuteTradeRemoteRejected(t *testing.T) {
	ms, client, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")
	fund(client, "0xalice")
	client.SubmitErr = &chain.RemoteError{Code: chain.AbortBalanceViolation, Message: "MoveAbort"}

	w := doJSON(t, router, "POST", "/api/v1/trade", trade.TradeRequest{
		Address: "0xalice",
		PoolID:  "0xpool",
		Kind:    model.TradeRedeem,
		Side:    model.SideBull,
		Amount:  d(5),
	})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Trade history ---

func TestGetTradesEmpty(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/trades/0xnobody", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("expected empty array, got %q", body)
	}
}

func TestGetPoolTrades(t *testing.T) {
	ms, _, router := newTestEnv(t)
	ms.InsertTradeReceipt(context.Background(), &model.TradeReceipt{
		ID: "r1", Address: "0xalice", PoolID: "0xpool",
		Kind: model.TradeRedeem, Side: model.SideBull, Amount: d(5), Digest: "0xaaa",
	})
	ms.InsertTradeReceipt(context.Background(), &model.TradeReceipt{
		ID: "r2", Address: "0xbob", PoolID: "0xother",
		Kind: model.TradePurchase, Side: model.SideBear, Amount: d(1), Digest: "0xbbb",
	})

	w := doJSON(t, router, "GET", "/api/v1/pools/0xpool/trades", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var receipts []model.TradeReceipt
	json.Unmarshal(w.Body.Bytes(), &receipts)
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt for the pool, got %d", len(receipts))
	}
	if receipts[0].ID != "r1" || receipts[0].PoolID != "0xpool" {
		t.Errorf("receipt = %+v", receipts[0])
	}
}

func TestGetPoolTradesEmpty(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/pools/0xquiet/trades", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("expected empty array, got %q", body)
	}
}

// --- Portfolio ---

func TestGetPortfolioWithPositions(t *testing.T) {
	ms, client, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")
	fund(client, "0xalice")
	client.Pools["0xalice"] = []string{"0xpool"}
	// Entered at 1.0 SUI per token.
	client.Prices[stub.Key("0xpool", "0xalice")] = stub.AvgPrices{Bull: 1_000_000_000}

	w := doJSON(t, router, "GET", "/api/v1/portfolio/0xalice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var snap portfolio.Snapshot
	json.Unmarshal(w.Body.Bytes(), &snap)

	if len(snap.ActivePools) != 1 {
		t.Fatalf("expected 1 active pool, got %d", len(snap.ActivePools))
	}
	// 10 tokens at price 1.3 = 13 value against a 10 cost basis.
	tolerance := d(0.0000001)
	if snap.TotalValue.Sub(d(13)).Abs().GreaterThan(tolerance) {
		t.Errorf("total value = %s, want 13", snap.TotalValue)
	}
	if snap.TotalPnL.Sub(d(3)).Abs().GreaterThan(tolerance) {
		t.Errorf("total pnl = %s, want 3", snap.TotalPnL)
	}
	if snap.TotalReturnPct.Sub(d(30)).Abs().GreaterThan(tolerance) {
		t.Errorf("return pct = %s, want 30", snap.TotalReturnPct)
	}
}

func TestGetPortfolioEmpty(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/portfolio/0xnobody", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var snap portfolio.Snapshot
	json.Unmarshal(w.Body.Bytes(), &snap)
	if len(snap.ActivePools) != 0 {
		t.Errorf("expected 0 active pools, got %d", len(snap.ActivePools))
	}
	if !snap.TotalValue.IsZero() {
		t.Errorf("total value = %s", snap.TotalValue)
	}
}

func TestGetPortfolioSkipsUnknownPools(t *testing.T) {
	ms, client, router := newTestEnv(t)
	seedPool(t, ms, "0xpool")
	fund(client, "0xalice")
	// The registry names a pool this service has no snapshot for; the
	// portfolio must still fold what it can.
	client.Pools["0xalice"] = []string{"0xpool", "0xunknown"}
	client.Prices[stub.Key("0xpool", "0xalice")] = stub.AvgPrices{Bull: 1_000_000_000}

	w := doJSON(t, router, "GET", "/api/v1/portfolio/0xalice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var snap portfolio.Snapshot
	json.Unmarshal(w.Body.Bytes(), &snap)
	if len(snap.ActivePools) != 1 {
		t.Errorf("expected 1 active pool, got %d", len(snap.ActivePools))
	}
}
