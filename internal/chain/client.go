// Package chain owns the boundary to the external ledger: the read queries
// (token objects, balances, registry, gas coins) and the single mutating
// submit call that the rest of the engine consumes as opaque collaborators.
//
// Reads are idempotent and safe to retry; Submit is not and is never
// auto-retried. Wallet signing stays outside this package — the RPC client
// is handed a SignerFunc and never touches key material.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedResponse is returned when a query result does not have
	// the shape the decoder expects. Tolerating it (default-zero) is a
	// per-call-site decision; the verifier never does.
	ErrMalformedResponse = errors.New("chain: malformed remote response")
)

// RemoteError is a rejection raised by the ledger itself for a submitted
// call. Code is the on-chain abort code when one could be extracted,
// otherwise -1.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code >= 0 {
		return fmt.Sprintf("chain: remote rejected (abort code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("chain: remote rejected: %s", e.Message)
}

// Known on-chain abort codes of the vault contract.
const (
	AbortSupplyViolation  = 1
	AbortZeroAmount       = 2
	AbortBalanceViolation = 5
)

// AbortCause maps a recognized abort code to a human-readable cause.
// Unrecognized codes get a generic message rather than a guess.
func AbortCause(code int) string {
	switch code {
	case AbortSupplyViolation:
		return "insufficient token supply: selling more tokens than exist"
	case AbortZeroAmount:
		return "zero amount: the amount must be greater than 0"
	case AbortBalanceViolation:
		return "insufficient balance: not enough tokens to sell"
	default:
		return "unrecognized contract error"
	}
}

// Config carries every address and unit constant the engine needs to talk
// to one deployment. It is built by the caller and passed down explicitly;
// nothing in this module reads process-wide state.
type Config struct {
	PackageID      string
	RegistryID     string
	OracleHolderID string

	// MistPerSui converts SUI amounts and token reserve/supply figures
	// between subunits and whole units.
	MistPerSui uint64

	// TokenDenominator converts token trade amounts between whole units
	// and subunits on the balance/redeem path. The deployed contract uses
	// a different base here than for reserves; the two are deliberately
	// separate knobs.
	TokenDenominator uint64

	// GasBuffer is the minimum fee-asset balance (subunits) that must
	// remain available before a mutating call is submitted.
	GasBuffer uint64

	// GasBudget is attached to every mutating call.
	GasBudget uint64

	// CallTimeout bounds each individual remote call.
	CallTimeout time.Duration
}

// DefaultConfig returns a Config with the unit constants and safety
// margins of the public deployment. Addresses must still be filled in.
func DefaultConfig() Config {
	return Config{
		MistPerSui:       1_000_000_000,
		TokenDenominator: 100_000,
		GasBuffer:        100_000_000, // 0.1 SUI
		GasBudget:        11_000_000,
		CallTimeout:      15 * time.Second,
	}
}

// Validate reports the first missing required field.
func (c Config) Validate() error {
	switch {
	case c.PackageID == "":
		return errors.New("chain: config missing package ID")
	case c.RegistryID == "":
		return errors.New("chain: config missing registry ID")
	case c.MistPerSui == 0:
		return errors.New("chain: config missing mist denominator")
	case c.TokenDenominator == 0:
		return errors.New("chain: config missing token denominator")
	}
	return nil
}

// Coin is one fee-asset coin object owned by an address.
type Coin struct {
	ObjectID string
	Balance  uint64
}

// MoveCall describes one mutating entry-point invocation. Arguments are
// already in wire form (object IDs as strings, integers as decimal
// strings, booleans as booleans).
type MoveCall struct {
	Module    string
	Function  string
	Arguments []any
	GasBudget uint64
}

// SubmitResult is the receipt of an accepted mutating call.
type SubmitResult struct {
	Digest string
}

// Client is the set of remote operations the engine consumes. The HTTP
// JSON-RPC implementation lives in this package; tests use the scripted
// stub subpackage.
type Client interface {
	// GetTokenBalance dev-inspects token::get_balance for one holder.
	// The result is in token subunits.
	GetTokenBalance(ctx context.Context, tokenID, address string) (uint64, error)

	// GetTokenObject fetches and decodes one token side's object.
	GetTokenObject(ctx context.Context, tokenID string) (ParsedToken, error)

	// GetUserPools dev-inspects registry::get_user_pools and returns the
	// ordered pool IDs the address has ever entered.
	GetUserPools(ctx context.Context, address string) ([]string, error)

	// GetAvgPrices dev-inspects prediction_pool::get_avg_prices and
	// returns the holder's mist-scaled average entry prices.
	GetAvgPrices(ctx context.Context, poolID, address string) (bull, bear uint64, err error)

	// GetSuiCoins lists the address's fee-asset coins.
	GetSuiCoins(ctx context.Context, address string) ([]Coin, error)

	// Submit signs (via the configured SignerFunc) and executes a
	// mutating call. It must not be retried without re-confirmation.
	Submit(ctx context.Context, call MoveCall) (SubmitResult, error)
}

// SumBalances adds up coin balances, saturating rather than wrapping.
func SumBalances(coins []Coin) uint64 {
	var total uint64
	for _, c := range coins {
		if total+c.Balance < total {
			return ^uint64(0)
		}
		total += c.Balance
	}
	return total
}
