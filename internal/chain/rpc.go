package chain

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"
)

// Default RPC client configuration.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	suiCoinType = "0x2::sui::SUI"
)

// SignerFunc turns server-built transaction bytes (base64) into serialized
// signatures. The wallet integration behind it is outside this module.
type SignerFunc func(ctx context.Context, txBytesB64 string) ([]string, error)

// RPCClient implements Client over the ledger's HTTP JSON-RPC 2.0 API.
// Read calls are retried with exponential backoff; Submit is attempted
// exactly once.
type RPCClient struct {
	endpoint    string
	cfg         Config
	signer      SignerFunc
	sender      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

var _ Client = (*RPCClient)(nil)

// RPCOption configures RPCClient.
type RPCOption func(*RPCClient)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) RPCOption {
	return func(c *RPCClient) {
		c.client = client
	}
}

// WithMaxRetries sets maximum retry attempts for read calls.
func WithMaxRetries(n int) RPCOption {
	return func(c *RPCClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) RPCOption {
	return func(c *RPCClient) {
		c.retryDelay = d
	}
}

// WithSigner sets the external signing callback used by Submit. A client
// without a signer can serve every read but refuses to submit.
func WithSigner(sender string, signer SignerFunc) RPCOption {
	return func(c *RPCClient) {
		c.sender = sender
		c.signer = signer
	}
}

// NewRPCClient creates a Client speaking JSON-RPC 2.0 to one fullnode.
func NewRPCClient(endpoint string, cfg Config, opts ...RPCOption) *RPCClient {
	c := &RPCClient{
		endpoint:    endpoint,
		cfg:         cfg,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call. Reads pass retry=true; Submit must not.
func (c *RPCClient) call(ctx context.Context, method string, params []any, result any, retry bool) error {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	retries := c.maxRetries
	if !retry {
		retries = 0
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC-level errors are definitive, not transient.
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// --- Read queries ---

// getObjectResult is the subset of sui_getObject we consume.
type getObjectResult struct {
	Data *struct {
		ObjectID string `json:"objectId"`
		Content  *struct {
			DataType string          `json:"dataType"`
			Fields   json.RawMessage `json:"fields"`
		} `json:"content"`
	} `json:"data"`
	Error json.RawMessage `json:"error"`
}

// GetTokenObject fetches one token object and runs the explicit decode
// step. Shape surprises come back as ErrMalformedResponse, never a guess.
func (c *RPCClient) GetTokenObject(ctx context.Context, tokenID string) (ParsedToken, error) {
	params := []any{tokenID, map[string]any{"showContent": true}}

	var result getObjectResult
	if err := c.call(ctx, "sui_getObject", params, &result, true); err != nil {
		return ParsedToken{}, fmt.Errorf("get token object %s: %w", tokenID, err)
	}
	if result.Data == nil || result.Data.Content == nil {
		return ParsedToken{}, fmt.Errorf("%w: token object %s has no content", ErrMalformedResponse, tokenID)
	}
	return DecodeTokenFields(result.Data.ObjectID, result.Data.Content.Fields)
}

// coinPage is the paginated shape of suix_getCoins.
type coinPage struct {
	Data []struct {
		CoinObjectID string `json:"coinObjectId"`
		Balance      string `json:"balance"`
	} `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

// GetSuiCoins lists all SUI coins owned by an address, following cursors.
func (c *RPCClient) GetSuiCoins(ctx context.Context, address string) ([]Coin, error) {
	var coins []Coin
	var cursor *string

	for {
		params := []any{address, suiCoinType, cursor, nil}
		var page coinPage
		if err := c.call(ctx, "suix_getCoins", params, &page, true); err != nil {
			return nil, fmt.Errorf("get coins for %s: %w", address, err)
		}
		for _, raw := range page.Data {
			bal, err := strconv.ParseUint(raw.Balance, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: coin %s balance %q", ErrMalformedResponse, raw.CoinObjectID, raw.Balance)
			}
			coins = append(coins, Coin{ObjectID: raw.CoinObjectID, Balance: bal})
		}
		if !page.HasNextPage || page.NextCursor == nil {
			return coins, nil
		}
		cursor = page.NextCursor
	}
}

// --- Dev-inspect view calls ---

// txBytesResult is the server-side transaction builder's response.
type txBytesResult struct {
	TxBytes string `json:"txBytes"`
}

// devInspectResult is the subset of sui_devInspectTransactionBlock we use:
// the first return value of the first command, as raw BCS bytes.
type devInspectResult struct {
	Error   string `json:"error"`
	Results []struct {
		ReturnValues [][]json.RawMessage `json:"returnValues"`
	} `json:"results"`
}

// inspect builds a view move call server-side and dev-inspects it,
// returning the raw BCS bytes of each return value.
func (c *RPCClient) inspect(ctx context.Context, sender, module, function string, args []any) ([][]byte, error) {
	buildParams := []any{
		sender, c.cfg.PackageID, module, function,
		[]any{}, args, nil, strconv.FormatUint(c.cfg.GasBudget, 10),
	}
	var built txBytesResult
	if err := c.call(ctx, "unsafe_moveCall", buildParams, &built, true); err != nil {
		return nil, fmt.Errorf("build %s::%s: %w", module, function, err)
	}

	var result devInspectResult
	if err := c.call(ctx, "sui_devInspectTransactionBlock", []any{sender, built.TxBytes, nil, nil}, &result, true); err != nil {
		return nil, fmt.Errorf("inspect %s::%s: %w", module, function, err)
	}
	if result.Error != "" {
		return nil, &RemoteError{Code: extractAbortCode(result.Error), Message: result.Error}
	}
	if len(result.Results) == 0 || len(result.Results[0].ReturnValues) == 0 {
		return nil, fmt.Errorf("%w: %s::%s returned no values", ErrMalformedResponse, module, function)
	}

	values := make([][]byte, 0, len(result.Results[0].ReturnValues))
	for _, rv := range result.Results[0].ReturnValues {
		// Each return value is a [bytes, typeTag] pair.
		if len(rv) == 0 {
			return nil, fmt.Errorf("%w: %s::%s empty return value", ErrMalformedResponse, module, function)
		}
		var raw []byte
		if err := json.Unmarshal(rv[0], &raw); err != nil {
			return nil, fmt.Errorf("%w: %s::%s return bytes: %v", ErrMalformedResponse, module, function, err)
		}
		values = append(values, raw)
	}
	return values, nil
}

// GetTokenBalance dev-inspects token::get_balance; the result is a BCS u64
// in token subunits.
func (c *RPCClient) GetTokenBalance(ctx context.Context, tokenID, address string) (uint64, error) {
	values, err := c.inspect(ctx, address, "token", "get_balance", []any{tokenID, address})
	if err != nil {
		return 0, err
	}
	return decodeU64(values[0])
}

// GetUserPools dev-inspects registry::get_user_pools and decodes the
// returned vector<address>.
func (c *RPCClient) GetUserPools(ctx context.Context, address string) ([]string, error) {
	values, err := c.inspect(ctx, address, "registry", "get_user_pools", []any{c.cfg.RegistryID, address})
	if err != nil {
		return nil, err
	}
	return decodeAddressVector(values[0])
}

// GetAvgPrices dev-inspects prediction_pool::get_avg_prices; both returns
// are mist-scaled u64 entry prices (bull, then bear).
func (c *RPCClient) GetAvgPrices(ctx context.Context, poolID, address string) (uint64, uint64, error) {
	values, err := c.inspect(ctx, address, "prediction_pool", "get_avg_prices", []any{poolID, address})
	if err != nil {
		return 0, 0, err
	}
	if len(values) < 2 {
		return 0, 0, fmt.Errorf("%w: get_avg_prices returned %d values", ErrMalformedResponse, len(values))
	}
	bull, err := decodeU64(values[0])
	if err != nil {
		return 0, 0, err
	}
	bear, err := decodeU64(values[1])
	if err != nil {
		return 0, 0, err
	}
	return bull, bear, nil
}

// --- Submit ---

// executeResult is the subset of sui_executeTransactionBlock we consume.
type executeResult struct {
	Digest  string `json:"digest"`
	Effects *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
}

// Submit builds, signs, and executes a mutating call. One attempt only: a
// failed submit needs the user to re-confirm, not a silent retry.
func (c *RPCClient) Submit(ctx context.Context, call MoveCall) (SubmitResult, error) {
	if c.signer == nil {
		return SubmitResult{}, fmt.Errorf("chain: no signer configured")
	}

	gasBudget := call.GasBudget
	if gasBudget == 0 {
		gasBudget = c.cfg.GasBudget
	}
	buildParams := []any{
		c.sender, c.cfg.PackageID, call.Module, call.Function,
		[]any{}, call.Arguments, nil, strconv.FormatUint(gasBudget, 10),
	}
	var built txBytesResult
	if err := c.call(ctx, "unsafe_moveCall", buildParams, &built, true); err != nil {
		return SubmitResult{}, fmt.Errorf("build %s::%s: %w", call.Module, call.Function, err)
	}

	sigs, err := c.signer(ctx, built.TxBytes)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("sign %s::%s: %w", call.Module, call.Function, err)
	}

	execParams := []any{
		built.TxBytes, sigs,
		map[string]any{"showEffects": true},
		"WaitForLocalExecution",
	}
	var result executeResult
	if err := c.call(ctx, "sui_executeTransactionBlock", execParams, &result, false); err != nil {
		return SubmitResult{}, &RemoteError{Code: extractAbortCode(err.Error()), Message: err.Error()}
	}

	if result.Effects != nil && result.Effects.Status.Status != "success" {
		msg := result.Effects.Status.Error
		slog.Warn("transaction rejected on chain", "digest", result.Digest, "err", msg)
		return SubmitResult{}, &RemoteError{Code: extractAbortCode(msg), Message: msg}
	}
	return SubmitResult{Digest: result.Digest}, nil
}

// moveAbortRegex pulls the abort code out of a MoveAbort error string.
var moveAbortRegex = regexp.MustCompile(`MoveAbort.*?(\d+)`)

// extractAbortCode returns the on-chain abort code embedded in a remote
// error message, or -1 when none is present.
func extractAbortCode(message string) int {
	m := moveAbortRegex.FindStringSubmatch(message)
	if m == nil {
		return -1
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return code
}

// --- BCS decoding ---

// decodeU64 reads a little-endian BCS u64.
func decodeU64(raw []byte) (uint64, error) {
	if len(raw) < 8 {
		return 0, fmt.Errorf("%w: u64 needs 8 bytes, got %d", ErrMalformedResponse, len(raw))
	}
	return binary.LittleEndian.Uint64(raw[:8]), nil
}

// decodeAddressVector reads a BCS vector<address>: ULEB128 length followed
// by 32-byte addresses, rendered as 0x-prefixed hex.
func decodeAddressVector(raw []byte) ([]string, error) {
	n, offset, err := decodeULEB128(raw)
	if err != nil {
		return nil, err
	}

	// The length prefix is attacker-controlled; cap it against the bytes
	// actually present before sizing anything from it.
	const addrLen = 32
	if n > uint64(len(raw)-offset)/addrLen {
		return nil, fmt.Errorf("%w: address vector truncated", ErrMalformedResponse)
	}

	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		start := offset + int(i)*addrLen
		out = append(out, "0x"+hex.EncodeToString(raw[start:start+addrLen]))
	}
	return out, nil
}

// decodeULEB128 reads a BCS ULEB128 length prefix.
func decodeULEB128(raw []byte) (uint64, int, error) {
	var value uint64
	var shift uint
	for i, b := range raw {
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
		if shift > 63 {
			break
		}
	}
	return 0, 0, fmt.Errorf("%w: bad ULEB128 length prefix", ErrMalformedResponse)
}
