// Package stub provides a scripted chain.Client for tests: every query is
// answered from in-memory fixtures, and submits are recorded instead of
// executed.
package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/Rajshah1302/fate-engine/internal/chain"
)

// AvgPrices is a fixture pair of mist-scaled entry prices.
type AvgPrices struct {
	Bull uint64
	Bear uint64
}

// Client is a scripted chain.Client. Zero value is usable; populate the
// fixture maps before handing it to code under test.
type Client struct {
	mu sync.Mutex

	Tokens    map[string]chain.ParsedToken // tokenID → object
	Balances  map[string]uint64            // tokenID|address → subunits
	Pools     map[string][]string          // address → pool IDs
	Prices    map[string]AvgPrices         // poolID|address → entry prices
	Coins     map[string][]chain.Coin      // address → fee-asset coins
	SubmitRes chain.SubmitResult
	SubmitErr error

	// Submitted records every Submit call, in order.
	Submitted []chain.MoveCall

	// Err, when set, is returned by every read query. Per-method errors
	// can be scripted with the *Err fields.
	Err        error
	BalanceErr error
	TokenErr   error
	CoinsErr   error
}

var _ chain.Client = (*Client)(nil)

// Key builds the composite fixture key used by Balances and Prices.
func Key(id, address string) string {
	return id + "|" + address
}

func (c *Client) GetTokenBalance(_ context.Context, tokenID, address string) (uint64, error) {
	if c.Err != nil {
		return 0, c.Err
	}
	if c.BalanceErr != nil {
		return 0, c.BalanceErr
	}
	return c.Balances[Key(tokenID, address)], nil
}

func (c *Client) GetTokenObject(_ context.Context, tokenID string) (chain.ParsedToken, error) {
	if c.Err != nil {
		return chain.ParsedToken{}, c.Err
	}
	if c.TokenErr != nil {
		return chain.ParsedToken{}, c.TokenErr
	}
	tok, ok := c.Tokens[tokenID]
	if !ok {
		return chain.ParsedToken{}, fmt.Errorf("%w: no such token %s", chain.ErrMalformedResponse, tokenID)
	}
	return tok, nil
}

func (c *Client) GetUserPools(_ context.Context, address string) ([]string, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Pools[address], nil
}

func (c *Client) GetAvgPrices(_ context.Context, poolID, address string) (uint64, uint64, error) {
	if c.Err != nil {
		return 0, 0, c.Err
	}
	p := c.Prices[Key(poolID, address)]
	return p.Bull, p.Bear, nil
}

func (c *Client) GetSuiCoins(_ context.Context, address string) ([]chain.Coin, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	if c.CoinsErr != nil {
		return nil, c.CoinsErr
	}
	return c.Coins[address], nil
}

func (c *Client) Submit(_ context.Context, call chain.MoveCall) (chain.SubmitResult, error) {
	c.mu.Lock()
	c.Submitted = append(c.Submitted, call)
	c.mu.Unlock()

	if c.SubmitErr != nil {
		return chain.SubmitResult{}, c.SubmitErr
	}
	if c.SubmitRes.Digest == "" {
		return chain.SubmitResult{Digest: "stub-digest"}, nil
	}
	return c.SubmitRes, nil
}

// SubmitCount returns how many mutating calls were issued.
func (c *Client) SubmitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Submitted)
}
