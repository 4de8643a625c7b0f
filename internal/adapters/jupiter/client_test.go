package jupiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-trading/meridian/internal/fetch"
	"github.com/meridian-trading/meridian/internal/trader"
)

const quoteBody = `{
	"inputMint": "So11111111111111111111111111111111111111112",
	"outputMint": "TokenA111",
	"inAmount": "1000000000",
	"outAmount": "250000",
	"otherAmountThreshold": "248000",
	"priceImpactPct": "0.1",
	"slippageBps": 250
}`

func newTestClient(t *testing.T, quote, swap, rpc http.HandlerFunc) *Client {
	t.Helper()
	quoteSrv := httptest.NewServer(quote)
	swapSrv := httptest.NewServer(swap)
	rpcSrv := httptest.NewServer(rpc)
	t.Cleanup(quoteSrv.Close)
	t.Cleanup(swapSrv.Close)
	t.Cleanup(rpcSrv.Close)

	return New(Config{
		QuoteURL:     quoteSrv.URL,
		SwapURL:      swapSrv.URL,
		RPCEndpoint:  rpcSrv.URL,
		WalletPubkey: "Wallet111",
	})
}

func TestSwapHappyPath(t *testing.T) {
	var swapBody swapRequest
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "1000000000", r.URL.Query().Get("amount"))
			assert.Equal(t, "250", r.URL.Query().Get("slippageBps"))
			w.Write([]byte(quoteBody))
		},
		func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&swapBody))
			w.Write([]byte(`{"swapTransaction": "dHgtYnl0ZXM=", "lastValidBlockHeight": 1234}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			var rpcReq struct {
				Method string `json:"method"`
				Params []any  `json:"params"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rpcReq))
			assert.Equal(t, "sendTransaction", rpcReq.Method)
			assert.Equal(t, "dHgtYnl0ZXM=", rpcReq.Params[0])
			w.Write([]byte(`{"jsonrpc": "2.0", "id": 1, "result": "5realSig"}`))
		},
	)

	result, err := c.Swap(context.Background(), trader.SwapRequest{
		InputMint:      trader.SOLMint,
		OutputMint:     "TokenA111",
		AmountLamports: 1_000_000_000,
		SlippageBps:    250,
	})
	require.NoError(t, err)

	assert.Equal(t, "5realSig", result.Signature)
	assert.Equal(t, int64(1_000_000_000), result.InLamports)
	assert.Equal(t, int64(250_000), result.OutLamports)

	assert.Equal(t, "Wallet111", swapBody.UserPublicKey)
	assert.True(t, swapBody.WrapAndUnwrapSOL)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.QuoteCount)
	assert.Equal(t, int64(1), stats.SwapCount)
}

func TestGetQuoteRetriesRateLimit(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(quoteBody))
		},
		func(w http.ResponseWriter, r *http.Request) {},
		func(w http.ResponseWriter, r *http.Request) {},
	)

	quote, err := c.GetQuote(context.Background(), trader.SwapRequest{
		InputMint:      trader.SOLMint,
		OutputMint:     "TokenA111",
		AmountLamports: 1_000_000_000,
		SlippageBps:    250,
	})
	require.NoError(t, err)
	assert.Equal(t, "250000", quote.OutAmount)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGetQuoteBadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int64
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		},
		func(w http.ResponseWriter, r *http.Request) {},
		func(w http.ResponseWriter, r *http.Request) {},
	)

	_, err := c.GetQuote(context.Background(), trader.SwapRequest{
		InputMint:      trader.SOLMint,
		OutputMint:     "BadMint",
		AmountLamports: 1,
	})
	require.Error(t, err)
	assert.True(t, fetch.IsPermanent(err))
	assert.Equal(t, int64(1), calls.Load(), "permanent errors must not retry")
}

func TestSwapRPCErrorSurfaces(t *testing.T) {
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(quoteBody)) },
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"swapTransaction": "dHg=", "lastValidBlockHeight": 1}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"jsonrpc": "2.0", "id": 1, "error": {"code": -32002, "message": "Blockhash not found"}}`))
		},
	)

	_, err := c.Swap(context.Background(), trader.SwapRequest{
		InputMint:      trader.SOLMint,
		OutputMint:     "TokenA111",
		AmountLamports: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Blockhash not found")
}

func TestCircuitBreakerOpensAfterConsecutiveErrors(t *testing.T) {
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		func(w http.ResponseWriter, r *http.Request) {},
		func(w http.ResponseWriter, r *http.Request) {},
	)

	req := trader.SwapRequest{InputMint: trader.SOLMint, OutputMint: "TokenA111", AmountLamports: 1}
	for i := 0; i < 2; i++ {
		_, err := c.Swap(context.Background(), req)
		require.Error(t, err)
	}

	assert.True(t, c.Stats().CircuitOpen)

	_, err := c.Swap(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.True(t, fetch.IsTransient(err))
}
