// Package verify implements the pre-trade guard pipeline that gates every
// mutating call to the vault contract.
//
// On-chain calls are costly and irreversible, so every precondition that
// can be checked client-side is checked before a transaction is built:
// amount validity, wallet presence, fixed-point conversion, on-chain
// balance, total supply, and the gas buffer — in that order, each guard
// short-circuiting to a terminal, user-facing failure. No guard is
// retried; a failed attempt needs the user to act, not the engine to loop.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajshah1302/fate-engine/internal/chain"
	"github.com/Rajshah1302/fate-engine/internal/metrics"
	"github.com/Rajshah1302/fate-engine/internal/model"
)

// Guard failure taxonomy. Every failure wraps exactly one of these, so
// callers classify with errors.Is and render the wrapped detail verbatim.
var (
	// ErrInvalidAmount — non-positive trade amount.
	ErrInvalidAmount = errors.New("verify: amount must be greater than 0")

	// ErrWalletNotConnected — no active account address at guard time.
	ErrWalletNotConnected = errors.New("verify: wallet not connected")

	// ErrAmountTooSmall — fixed-point conversion floored the requested
	// amount below one subunit; submitting would silently trade nothing.
	ErrAmountTooSmall = errors.New("verify: amount too small, floors to zero subunits")

	// ErrInsufficientBalance — requested subunits exceed the queried
	// on-chain balance.
	ErrInsufficientBalance = errors.New("verify: insufficient token balance")

	// ErrSupplyExceeded — requested subunits exceed total supply. Should
	// be unreachable when the balance check holds; kept as an independent
	// defense against a stale balance read.
	ErrSupplyExceeded = errors.New("verify: amount exceeds total supply")

	// ErrInsufficientGas — fee-asset balance below the reserved buffer.
	ErrInsufficientGas = errors.New("verify: insufficient gas balance")

	// ErrRemoteRejected — the ledger rejected the submitted call.
	ErrRemoteRejected = errors.New("verify: transaction rejected by chain")

	// ErrRemoteTimeout — a remote call exceeded its bound; fail closed.
	ErrRemoteTimeout = errors.New("verify: remote call timed out")
)

// State names a station of the guard pipeline. A Result reports the last
// state the attempt reached.
type State int

const (
	StateIdle State = iota
	StateAmountValidated
	StateWalletConnected
	StateUnitsConverted
	StateBalanceChecked
	StateSupplyChecked
	StateGasChecked
	StateSubmitted
	StateConfirmed
	StateRejected
)

var stateNames = [...]string{
	"idle", "amount_validated", "wallet_connected", "units_converted",
	"balance_checked", "supply_checked", "gas_checked", "submitted",
	"confirmed", "rejected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// RedeemRequest asks to sell tokens back to the vault.
type RedeemRequest struct {
	Address string
	PoolID  string
	TokenID string // the side's token object, for the balance/supply reads
	Side    model.Side
	Amount  decimal.Decimal // whole units
}

// PurchaseRequest asks to buy tokens from the vault with SUI.
type PurchaseRequest struct {
	Address string
	PoolID  string
	Side    model.Side
	Amount  decimal.Decimal // whole SUI
}

// Result is the outcome of one verified attempt. On failure, State is the
// last station reached before the violated guard.
type Result struct {
	State    State
	Subunits uint64
	Digest   string
}

// ConfirmedTrade is the signal emitted after a successful submit. The
// presentation layer decides what to do with it (cache invalidation,
// broadcast); the verifier only reports the fact.
type ConfirmedTrade struct {
	Address  string
	PoolID   string
	Side     model.Side
	Amount   decimal.Decimal
	Subunits uint64
	Digest   string
}

// Verifier runs the guard pipeline against one deployment. Construct with
// New; the chain client and config are injected, never global.
type Verifier struct {
	client      chain.Client
	cfg         chain.Config
	onConfirmed func(ConfirmedTrade)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithConfirmedHook registers a callback invoked synchronously after a
// submit is confirmed. Pass nil to disable (the default).
func WithConfirmedHook(fn func(ConfirmedTrade)) Option {
	return func(v *Verifier) {
		v.onConfirmed = fn
	}
}

// New creates a Verifier. The config must name the deployment addresses.
func New(client chain.Client, cfg chain.Config, opts ...Option) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Verifier{client: client, cfg: cfg}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Redeem runs the full sell-side guard chain and, if every guard passes,
// submits prediction_pool::redeem_token.
//
// The pipeline is strictly sequential: each guard needs data produced by
// the one before it. The passed context is checked between stations so a
// caller tearing down mid-pipeline abandons the attempt instead of
// submitting into the void.
func (v *Verifier) Redeem(ctx context.Context, req RedeemRequest) (Result, error) {
	res := Result{State: StateIdle}

	// 1. Amount validity.
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return v.fail(res, fmt.Errorf("%w: got %s", ErrInvalidAmount, req.Amount))
	}
	res.State = StateAmountValidated

	// 2. Wallet connectivity.
	if req.Address == "" {
		return v.fail(res, ErrWalletNotConnected)
	}
	res.State = StateWalletConnected

	// 3. Fixed-point conversion. The redeem path uses the token
	// denominator, not the mist one.
	subunits, err := toSubunits(req.Amount, v.cfg.TokenDenominator)
	if err != nil {
		return v.fail(res, err)
	}
	res.State = StateUnitsConverted
	res.Subunits = subunits

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// 4. On-chain balance.
	balance, err := v.tokenBalance(ctx, req.TokenID, req.Address)
	if err != nil {
		return v.fail(res, err)
	}
	if balance < subunits {
		return v.fail(res, fmt.Errorf("%w: have %d subunits, need %d",
			ErrInsufficientBalance, balance, subunits))
	}
	res.State = StateBalanceChecked

	// 5. Total supply. Fails loud on a malformed object: selling against
	// a token we cannot decode is not a risk worth taking.
	token, err := v.tokenObject(ctx, req.TokenID)
	if err != nil {
		return v.fail(res, err)
	}
	if subunits > token.Supply {
		return v.fail(res, fmt.Errorf("%w: supply %d subunits, requested %d",
			ErrSupplyExceeded, token.Supply, subunits))
	}
	res.State = StateSupplyChecked

	// 6. Gas buffer.
	if err := v.checkGas(ctx, req.Address, 0); err != nil {
		return v.fail(res, err)
	}
	res.State = StateGasChecked

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// 7. Submit.
	call := chain.MoveCall{
		Module:   "prediction_pool",
		Function: "redeem_token",
		Arguments: []any{
			req.PoolID,
			v.cfg.RegistryID,
			req.Side == model.SideBull,
			strconv.FormatUint(subunits, 10),
			v.cfg.OracleHolderID,
		},
		GasBudget: v.cfg.GasBudget,
	}
	return v.submit(ctx, res, call, ConfirmedTrade{
		Address:  req.Address,
		PoolID:   req.PoolID,
		Side:     req.Side,
		Amount:   req.Amount,
		Subunits: subunits,
	})
}

// Purchase runs the buy-side guards (amount, wallet, conversion at the
// mist denominator, SUI balance including the gas buffer) and submits
// prediction_pool::purchase_token.
func (v *Verifier) Purchase(ctx context.Context, req PurchaseRequest) (Result, error) {
	res := Result{State: StateIdle}

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return v.fail(res, fmt.Errorf("%w: got %s", ErrInvalidAmount, req.Amount))
	}
	res.State = StateAmountValidated

	if req.Address == "" {
		return v.fail(res, ErrWalletNotConnected)
	}
	res.State = StateWalletConnected

	mist, err := toSubunits(req.Amount, v.cfg.MistPerSui)
	if err != nil {
		return v.fail(res, err)
	}
	res.State = StateUnitsConverted
	res.Subunits = mist

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// The payment and the gas buffer come out of the same coins.
	if err := v.checkGas(ctx, req.Address, mist); err != nil {
		return v.fail(res, err)
	}
	res.State = StateGasChecked

	if err := ctx.Err(); err != nil {
		return res, err
	}

	call := chain.MoveCall{
		Module:   "prediction_pool",
		Function: "purchase_token",
		Arguments: []any{
			req.PoolID,
			v.cfg.RegistryID,
			req.Side == model.SideBull,
			v.cfg.OracleHolderID,
			strconv.FormatUint(mist, 10),
		},
		GasBudget: v.cfg.GasBudget,
	}
	return v.submit(ctx, res, call, ConfirmedTrade{
		Address:  req.Address,
		PoolID:   req.PoolID,
		Side:     req.Side,
		Amount:   req.Amount,
		Subunits: mist,
	})
}

var one = decimal.NewFromInt(1)

// toSubunits applies the fixed-point conversion and classifies a refusal:
// below one subunit is dust, past the uint64 range is an invalid amount.
// A whole unit always converts, so a refused amount >= 1 can only mean
// overflow.
func toSubunits(amount decimal.Decimal, denom uint64) (uint64, error) {
	subunits, ok := model.ToSubunits(amount, denom)
	if ok {
		return subunits, nil
	}
	if amount.GreaterThanOrEqual(one) {
		return 0, fmt.Errorf("%w: %s exceeds the representable range at denominator %d",
			ErrInvalidAmount, amount, denom)
	}
	return 0, fmt.Errorf("%w: %s units at denominator %d",
		ErrAmountTooSmall, amount, denom)
}

// --- Remote call helpers ---

func (v *Verifier) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, v.cfg.CallTimeout)
}

func (v *Verifier) tokenBalance(ctx context.Context, tokenID, address string) (uint64, error) {
	cctx, cancel := v.bounded(ctx)
	defer cancel()

	start := time.Now()
	balance, err := v.client.GetTokenBalance(cctx, tokenID, address)
	metrics.RemoteCallDuration.WithLabelValues("get_balance").Observe(time.Since(start).Seconds())
	return balance, classifyTimeout(ctx, err)
}

func (v *Verifier) tokenObject(ctx context.Context, tokenID string) (chain.ParsedToken, error) {
	cctx, cancel := v.bounded(ctx)
	defer cancel()

	start := time.Now()
	token, err := v.client.GetTokenObject(cctx, tokenID)
	metrics.RemoteCallDuration.WithLabelValues("get_token").Observe(time.Since(start).Seconds())
	return token, classifyTimeout(ctx, err)
}

// checkGas sums the fee-asset coins and requires payment + GasBuffer.
func (v *Verifier) checkGas(ctx context.Context, address string, payment uint64) error {
	cctx, cancel := v.bounded(ctx)
	defer cancel()

	start := time.Now()
	coins, err := v.client.GetSuiCoins(cctx, address)
	metrics.RemoteCallDuration.WithLabelValues("get_coins").Observe(time.Since(start).Seconds())
	if err := classifyTimeout(ctx, err); err != nil {
		return err
	}
	if len(coins) == 0 {
		return fmt.Errorf("%w: no fee-asset coins", ErrInsufficientGas)
	}

	need := payment + v.cfg.GasBuffer
	if need < payment { // overflow
		return fmt.Errorf("%w: requested amount out of range", ErrInsufficientGas)
	}
	total := chain.SumBalances(coins)
	if total < need {
		return fmt.Errorf("%w: have %d mist, need %d (including %d buffer)",
			ErrInsufficientGas, total, need, v.cfg.GasBuffer)
	}
	return nil
}

func (v *Verifier) submit(ctx context.Context, res Result, call chain.MoveCall, trade ConfirmedTrade) (Result, error) {
	cctx, cancel := v.bounded(ctx)
	defer cancel()

	res.State = StateSubmitted
	start := time.Now()
	receipt, err := v.client.Submit(cctx, call)
	metrics.RemoteCallDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	if err != nil {
		res.State = StateRejected
		return v.fail(res, classifyRemote(ctx, err))
	}

	res.State = StateConfirmed
	res.Digest = receipt.Digest
	trade.Digest = receipt.Digest

	metrics.TradesConfirmed.WithLabelValues(string(trade.Side)).Inc()
	slog.Info("trade confirmed",
		"pool", trade.PoolID,
		"side", trade.Side,
		"subunits", trade.Subunits,
		"digest", trade.Digest,
	)

	if v.onConfirmed != nil {
		v.onConfirmed(trade)
	}
	return res, nil
}

// fail records the failure reason and surfaces the error verbatim.
func (v *Verifier) fail(res Result, err error) (Result, error) {
	metrics.VerifyFailures.WithLabelValues(failureReason(err)).Inc()
	return res, err
}

// classifyTimeout converts a deadline hit on a bounded call into the
// terminal RemoteTimeout failure, unless the parent context itself was
// cancelled (caller teardown is not a guard failure).
func classifyTimeout(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrRemoteTimeout, err)
	}
	return err
}

// classifyRemote maps a submit error onto the taxonomy: known on-chain
// abort codes become a RemoteRejected with a readable cause, timeouts fail
// closed, anything else surfaces wrapped.
func classifyRemote(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrRemoteTimeout, err)
	}

	var remote *chain.RemoteError
	if errors.As(err, &remote) {
		return fmt.Errorf("%w: %s (abort code %d)", ErrRemoteRejected, chain.AbortCause(remote.Code), remote.Code)
	}
	return fmt.Errorf("%w: %v", ErrRemoteRejected, err)
}

// failureReason labels an error for metrics without leaking figures.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrWalletNotConnected):
		return "wallet_not_connected"
	case errors.Is(err, ErrAmountTooSmall):
		return "amount_too_small"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrSupplyExceeded):
		return "supply_exceeded"
	case errors.Is(err, ErrInsufficientGas):
		return "insufficient_gas"
	case errors.Is(err, ErrRemoteTimeout):
		return "remote_timeout"
	case errors.Is(err, ErrRemoteRejected):
		return "remote_rejected"
	case errors.Is(err, chain.ErrMalformedResponse):
		return "malformed_response"
	default:
		return "other"
	}
}
