// Package trade provides the HTTP handlers and business logic for
// registering pools, quoting swaps, verifying trades, and querying
// positions/portfolios.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Rajshah1302/fate-engine/internal/chain"
	"github.com/Rajshah1302/fate-engine/internal/metrics"
	"github.com/Rajshah1302/fate-engine/internal/model"
	"github.com/Rajshah1302/fate-engine/internal/portfolio"
	"github.com/Rajshah1302/fate-engine/internal/store"
	"github.com/Rajshah1302/fate-engine/internal/swap"
	"github.com/Rajshah1302/fate-engine/internal/valuation"
	"github.com/Rajshah1302/fate-engine/internal/verify"
)

// Service handles pool and trade operations. The chain is the source of
// truth for pool state; the store keeps the latest fetched snapshot so
// reads do not burn an RPC round trip per request.
type Service struct {
	store    store.Store
	client   chain.Client
	verifier *verify.Verifier
	cfg      chain.Config
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, client chain.Client, verifier *verify.Verifier, cfg chain.Config, hub *WSHub) *Service {
	return &Service{
		store:    st,
		client:   client,
		verifier: verifier,
		cfg:      cfg,
		wsHub:    hub,
	}
}

// --- Request/Response types ---

// RegisterPoolRequest is the JSON body for pool registration. The token
// object IDs come from the deployment; the service fetches and decodes
// both sides before the pool becomes quotable.
type RegisterPoolRequest struct {
	PoolID      string `json:"pool_id"`
	BullTokenID string `json:"bull_token_id"`
	BearTokenID string `json:"bear_token_id"`
}

// QuoteRequest is the JSON body for POST /quote.
type QuoteRequest struct {
	PoolID string          `json:"pool_id"`
	From   model.Asset     `json:"from"`
	To     model.Asset     `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	Address string          `json:"address"`
	PoolID  string          `json:"pool_id"`
	Kind    model.TradeKind `json:"kind"` // PURCHASE or REDEEM
	Side    model.Side      `json:"side"` // BULL or BEAR
	Amount  decimal.Decimal `json:"amount"`
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	TradeID  string          `json:"trade_id"`
	Address  string          `json:"address"`
	PoolID   string          `json:"pool_id"`
	Kind     model.TradeKind `json:"kind"`
	Side     model.Side      `json:"side"`
	Amount   decimal.Decimal `json:"amount"`
	Subunits uint64          `json:"subunits"`
	Digest   string          `json:"digest"`
	State    string          `json:"state"`
}

// --- HTTP Handlers ---

// RegisterPool handles POST /api/v1/pools
// Fetches both token sides from the chain, decodes them, and stores the
// assembled snapshot.
func (s *Service) RegisterPool(w http.ResponseWriter, r *http.Request) {
	var req RegisterPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PoolID == "" || req.BullTokenID == "" || req.BearTokenID == "" {
		writeError(w, "pool_id, bull_token_id and bear_token_id are required", http.StatusBadRequest)
		return
	}

	pool, err := s.fetchPool(r, req.PoolID, req.BullTokenID, req.BearTokenID)
	if err != nil {
		writeChainError(w, err)
		return
	}

	if err := s.store.UpsertPoolSnapshot(r.Context(), pool); err != nil {
		writeError(w, "failed to store pool snapshot", http.StatusInternalServerError)
		return
	}
	s.trackActivePools(r)

	slog.Info("pool registered",
		"pool", pool.ID,
		"name", pool.Name,
		"bull_pct", pool.BullPercentage.String(),
	)

	s.broadcastPool(pool)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pool)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	pool, err := s.store.GetPoolSnapshot(r.Context(), poolID)
	if err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pool)
}

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPoolSnapshots(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}
	if pools == nil {
		pools = []model.Pool{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pools)
}

// RefreshPool handles POST /api/v1/pools/{poolID}/refresh
// Re-fetches both token sides using the object IDs recorded in the stored
// snapshot and replaces it.
func (s *Service) RefreshPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	prev, err := s.store.GetPoolSnapshot(r.Context(), poolID)
	if err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}

	pool, err := s.fetchPool(r, poolID, prev.Bull.ID, prev.Bear.ID)
	if err != nil {
		writeChainError(w, err)
		return
	}

	if err := s.store.UpsertPoolSnapshot(r.Context(), pool); err != nil {
		writeError(w, "failed to store pool snapshot", http.StatusInternalServerError)
		return
	}

	s.broadcastPool(pool)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pool)
}

// GetQuote handles POST /api/v1/quote
// Prices both sides from the stored snapshot and computes the swap quote.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pool, err := s.store.GetPoolSnapshot(r.Context(), req.PoolID)
	if err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}

	bullPrice, bearPrice := poolPrices(pool, s.cfg.MistPerSui)

	quote, err := swap.Quote(swap.Request{
		Amount:    req.Amount,
		From:      req.From,
		To:        req.To,
		BullPrice: bullPrice,
		BearPrice: bearPrice,
		FeeRate:   feeRateFor(pool, req.From, req.To),
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	metrics.QuotesTotal.WithLabelValues(string(req.From), string(req.To)).Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quote)
}

// ExecuteTrade handles POST /api/v1/trade
// Runs the verification pipeline and, on confirmation, records the receipt
// and broadcasts the trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.Side != model.SideBull && req.Side != model.SideBear {
		writeError(w, "side must be BULL or BEAR", http.StatusBadRequest)
		return
	}
	if req.Kind != model.TradePurchase && req.Kind != model.TradeRedeem {
		writeError(w, "kind must be PURCHASE or REDEEM", http.StatusBadRequest)
		return
	}
	if req.PoolID == "" {
		writeError(w, "pool_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	pool, err := s.store.GetPoolSnapshot(ctx, req.PoolID)
	if err != nil {
		writeError(w, "pool not found: "+req.PoolID, http.StatusNotFound)
		return
	}

	var res verify.Result
	switch req.Kind {
	case model.TradeRedeem:
		tokenID := pool.Bull.ID
		if req.Side == model.SideBear {
			tokenID = pool.Bear.ID
		}
		res, err = s.verifier.Redeem(ctx, verify.RedeemRequest{
			Address: req.Address,
			PoolID:  req.PoolID,
			TokenID: tokenID,
			Side:    req.Side,
			Amount:  req.Amount,
		})
	case model.TradePurchase:
		res, err = s.verifier.Purchase(ctx, verify.PurchaseRequest{
			Address: req.Address,
			PoolID:  req.PoolID,
			Side:    req.Side,
			Amount:  req.Amount,
		})
	}
	if err != nil {
		writeVerifyError(w, err)
		return
	}

	// Record the immutable receipt.
	receipt := &model.TradeReceipt{
		ID:        uuid.New().String(),
		Address:   req.Address,
		PoolID:    req.PoolID,
		Kind:      req.Kind,
		Side:      req.Side,
		Subunits:  res.Subunits,
		Amount:    req.Amount,
		Digest:    res.Digest,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.InsertTradeReceipt(ctx, receipt); err != nil {
		// The trade is already on chain; losing the receipt must not turn
		// a confirmed trade into an error response.
		slog.Error("failed to record trade receipt", "err", err, "digest", res.Digest)
	}

	slog.Info("trade executed",
		"trade_id", receipt.ID,
		"address", req.Address,
		"pool", req.PoolID,
		"kind", req.Kind,
		"side", req.Side,
		"amount", req.Amount.String(),
		"digest", res.Digest,
	)

	// Broadcast via WebSocket.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:   "trade_confirmed",
			PoolID: req.PoolID,
			Kind:   string(req.Kind),
			Side:   string(req.Side),
			Amount: req.Amount.String(),
			Digest: res.Digest,
		})
	}

	resp := TradeResponse{
		TradeID:  receipt.ID,
		Address:  req.Address,
		PoolID:   req.PoolID,
		Kind:     req.Kind,
		Side:     req.Side,
		Amount:   req.Amount,
		Subunits: res.Subunits,
		Digest:   res.Digest,
		State:    res.State.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetTrades handles GET /api/v1/trades/{address}
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	receipts, err := s.store.GetTradeReceiptsByAddress(r.Context(), address)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []model.TradeReceipt{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipts)
}

// GetPoolTrades handles GET /api/v1/pools/{poolID}/trades
func (s *Service) GetPoolTrades(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	receipts, err := s.store.GetTradeReceiptsByPool(r.Context(), poolID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []model.TradeReceipt{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipts)
}

// GetPortfolio handles GET /api/v1/portfolio/{address}
// Resolves the address's pools from the registry, loads balances and entry
// prices per pool concurrently, and folds them into a snapshot.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	ctx := r.Context()

	poolIDs, err := s.client.GetUserPools(ctx, address)
	if err != nil {
		writeChainError(w, err)
		return
	}

	var (
		mu      sync.Mutex
		records []portfolio.PoolRecord
		wg      sync.WaitGroup
	)

	for _, poolID := range poolIDs {
		wg.Add(1)
		go func(poolID string) {
			defer wg.Done()

			rec, err := s.loadPoolRecord(r, address, poolID)
			if err != nil {
				// A pool that fails to load is left out of the fold
				// rather than zero-filled.
				slog.Warn("skipping pool in portfolio", "pool", poolID, "err", err)
				return
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
		}(poolID)
	}
	wg.Wait()

	snap := portfolio.Aggregate(records)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// --- Internals ---

// fetchPool reads both token sides from the chain and assembles a snapshot.
func (s *Service) fetchPool(r *http.Request, poolID, bullTokenID, bearTokenID string) (*model.Pool, error) {
	ctx := r.Context()

	bull, err := s.client.GetTokenObject(ctx, bullTokenID)
	if err != nil {
		return nil, err
	}
	bear, err := s.client.GetTokenObject(ctx, bearTokenID)
	if err != nil {
		return nil, err
	}

	pool := chain.AssemblePool(poolID, bull, bear, s.cfg.MistPerSui, time.Now().UTC())
	return &pool, nil
}

// loadPoolRecord fetches one pool's balances and entry prices for an
// address and values them against the stored snapshot.
func (s *Service) loadPoolRecord(r *http.Request, address, poolID string) (portfolio.PoolRecord, error) {
	ctx := r.Context()

	pool, err := s.store.GetPoolSnapshot(ctx, poolID)
	if err != nil {
		return portfolio.PoolRecord{}, err
	}

	bullRaw, err := s.client.GetTokenBalance(ctx, pool.Bull.ID, address)
	if err != nil {
		return portfolio.PoolRecord{}, err
	}
	bearRaw, err := s.client.GetTokenBalance(ctx, pool.Bear.ID, address)
	if err != nil {
		return portfolio.PoolRecord{}, err
	}
	bullAvgRaw, bearAvgRaw, err := s.client.GetAvgPrices(ctx, poolID, address)
	if err != nil {
		return portfolio.PoolRecord{}, err
	}

	// Balances are in token subunits, entry prices in mist.
	bullBalance := model.FromSubunits(bullRaw, s.cfg.TokenDenominator)
	bearBalance := model.FromSubunits(bearRaw, s.cfg.TokenDenominator)
	bullAvg := model.FromSubunits(bullAvgRaw, s.cfg.MistPerSui)
	bearAvg := model.FromSubunits(bearAvgRaw, s.cfg.MistPerSui)

	return portfolio.BuildPoolRecord(*pool, bullBalance, bearBalance, bullAvg, bearAvg, s.cfg.MistPerSui), nil
}

func (s *Service) trackActivePools(r *http.Request) {
	if pools, err := s.store.ListPoolSnapshots(r.Context()); err == nil {
		metrics.ActivePools.Set(float64(len(pools)))
	}
}

func (s *Service) broadcastPool(pool *model.Pool) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:           "pool_updated",
		PoolID:         pool.ID,
		BullPercentage: pool.BullPercentage.String(),
		BearPercentage: pool.BearPercentage.String(),
	})
}

// poolPrices derives both unit prices from a snapshot's raw reserves.
func poolPrices(pool *model.Pool, mistDenom uint64) (bull, bear decimal.Decimal) {
	bull = valuation.UnitPrice(
		model.FromSubunits(pool.Bull.Reserve, mistDenom),
		model.FromSubunits(pool.Bull.Supply, mistDenom),
	)
	bear = valuation.UnitPrice(
		model.FromSubunits(pool.Bear.Reserve, mistDenom),
		model.FromSubunits(pool.Bear.Supply, mistDenom),
	)
	return bull, bear
}

// feeRateFor picks the fee schedule of the token leg being traded. For a
// bull↔bear swap the destination side's schedule applies.
func feeRateFor(pool *model.Pool, from, to model.Asset) decimal.Decimal {
	leg := to
	if leg == model.AssetSui {
		leg = from
	}
	if leg == model.AssetBear {
		return pool.Bear.SwapFeeRate()
	}
	return pool.Bull.SwapFeeRate()
}

// writeVerifyError maps the verification taxonomy onto HTTP statuses.
func writeVerifyError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, verify.ErrInvalidAmount),
		errors.Is(err, verify.ErrWalletNotConnected),
		errors.Is(err, verify.ErrAmountTooSmall):
		status = http.StatusBadRequest
	case errors.Is(err, verify.ErrInsufficientBalance),
		errors.Is(err, verify.ErrSupplyExceeded),
		errors.Is(err, verify.ErrInsufficientGas):
		status = http.StatusConflict
	case errors.Is(err, verify.ErrRemoteTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, verify.ErrRemoteRejected),
		errors.Is(err, chain.ErrMalformedResponse):
		status = http.StatusBadGateway
	}
	writeError(w, err.Error(), status)
}

// writeChainError reports a raw chain-boundary failure. Anything the
// upstream ledger hands back broken or not at all is a bad gateway.
func writeChainError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), http.StatusBadGateway)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
