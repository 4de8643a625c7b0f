package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridian-trading/meridian/internal/fetch"
	"github.com/meridian-trading/meridian/internal/trader"
)

// ---------------------------------------------------------------------------
// Jupiter V6 swap client: quote, build and submit
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

const (
	defaultQuoteURL = "https://quote-api.jup.ag/v6/quote"
	defaultSwapURL  = "https://quote-api.jup.ag/v6/swap"

	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond
)

// Config configures the Jupiter client.
type Config struct {
	QuoteURL     string
	SwapURL      string
	RPCEndpoint  string // Solana JSON-RPC endpoint for transaction submit
	WalletPubkey string
	PriorityFee  uint64 // compute unit price in micro-lamports
	Timeout      time.Duration
}

// DefaultConfig returns production endpoints.
func DefaultConfig() Config {
	return Config{
		QuoteURL:    defaultQuoteURL,
		SwapURL:     defaultSwapURL,
		RPCEndpoint: "https://api.mainnet-beta.solana.com",
		Timeout:     10 * time.Second,
	}
}

// Client talks to the Jupiter aggregator and submits the resulting
// transaction through a Solana RPC endpoint. It satisfies
// trader.SwapProvider for live execution.
type Client struct {
	config     Config
	httpClient *http.Client

	quoteCount atomic.Int64
	swapCount  atomic.Int64
	errorCount atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool
}

var _ trader.SwapProvider = (*Client)(nil)

// New creates a Jupiter client.
func New(config Config) *Client {
	if config.QuoteURL == "" {
		config.QuoteURL = defaultQuoteURL
	}
	if config.SwapURL == "" {
		config.SwapURL = defaultSwapURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// QuoteResponse is the response from the Jupiter /quote endpoint.
type QuoteResponse struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	SlippageBps          int    `json:"slippageBps"`
}

// Swap quotes the route, builds the swap transaction and submits it.
func (c *Client) Swap(ctx context.Context, req trader.SwapRequest) (trader.SwapResult, error) {
	if c.circuitOpen.Load() {
		return trader.SwapResult{}, fetch.Transient(fmt.Errorf("jupiter: circuit breaker open"))
	}

	quote, err := c.GetQuote(ctx, req)
	if err != nil {
		return trader.SwapResult{}, err
	}

	inAmount, err := strconv.ParseInt(quote.InAmount, 10, 64)
	if err != nil {
		return trader.SwapResult{}, fetch.Permanent(fmt.Errorf("jupiter: parse inAmount %q: %w", quote.InAmount, err))
	}
	outAmount, err := strconv.ParseInt(quote.OutAmount, 10, 64)
	if err != nil {
		return trader.SwapResult{}, fetch.Permanent(fmt.Errorf("jupiter: parse outAmount %q: %w", quote.OutAmount, err))
	}

	swapTx, err := c.buildSwapTx(ctx, quote)
	if err != nil {
		return trader.SwapResult{}, err
	}

	sig, err := c.sendTransaction(ctx, swapTx.SwapTransaction)
	if err != nil {
		return trader.SwapResult{}, err
	}

	c.swapCount.Add(1)
	c.resetErrors()

	log.Info().
		Str("in_mint", shortMint(quote.InputMint)).
		Str("out_mint", shortMint(quote.OutputMint)).
		Str("in_amount", quote.InAmount).
		Str("out_amount", quote.OutAmount).
		Str("price_impact", quote.PriceImpactPct).
		Str("signature", sig).
		Msg("jupiter: swap submitted")

	return trader.SwapResult{
		Signature:   sig,
		InLamports:  inAmount,
		OutLamports: outAmount,
	}, nil
}

// GetQuote fetches the best swap route from Jupiter.
func (c *Client) GetQuote(ctx context.Context, req trader.SwapRequest) (*QuoteResponse, error) {
	queryURL, err := url.Parse(c.config.QuoteURL)
	if err != nil {
		return nil, fetch.Permanent(fmt.Errorf("jupiter: parse quote URL: %w", err))
	}
	q := queryURL.Query()
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatInt(req.AmountLamports, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	q.Set("onlyDirectRoutes", "false")
	queryURL.RawQuery = q.Encode()

	var quote QuoteResponse
	if err := c.doWithRetry(ctx, http.MethodGet, queryURL.String(), nil, &quote); err != nil {
		return nil, fmt.Errorf("jupiter: quote: %w", err)
	}
	if quote.InAmount == "" || quote.OutAmount == "" {
		return nil, fetch.Permanent(fmt.Errorf("jupiter: empty quote for %s", req.OutputMint))
	}

	c.quoteCount.Add(1)
	return &quote, nil
}

type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSOL              bool            `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             bool            `json:"useSharedAccounts"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	DynamicComputeUnitLimit       bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"` // base64 encoded
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

func (c *Client) buildSwapTx(ctx context.Context, quote *QuoteResponse) (*swapResponse, error) {
	quoteJSON, err := json.Marshal(quote)
	if err != nil {
		return nil, fetch.Permanent(fmt.Errorf("jupiter: marshal quote: %w", err))
	}

	body, err := json.Marshal(swapRequest{
		QuoteResponse:                 quoteJSON,
		UserPublicKey:                 c.config.WalletPubkey,
		WrapAndUnwrapSOL:              true,
		UseSharedAccounts:             true,
		ComputeUnitPriceMicroLamports: c.config.PriorityFee,
		DynamicComputeUnitLimit:       true,
	})
	if err != nil {
		return nil, fetch.Permanent(fmt.Errorf("jupiter: marshal swap request: %w", err))
	}

	var resp swapResponse
	if err := c.doWithRetry(ctx, http.MethodPost, c.config.SwapURL, body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: swap build: %w", err)
	}
	if resp.SwapTransaction == "" {
		return nil, fetch.Permanent(fmt.Errorf("jupiter: empty swap transaction"))
	}
	return &resp, nil
}

// sendTransaction submits the base64 transaction via Solana JSON-RPC.
func (c *Client) sendTransaction(ctx context.Context, txBase64 string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "sendTransaction",
		"params": []any{txBase64, map[string]any{
			"encoding":      "base64",
			"skipPreflight": true,
		}},
	})
	if err != nil {
		return "", fetch.Permanent(fmt.Errorf("rpc: marshal request: %w", err))
	}

	var resp struct {
		Result string `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := c.doWithRetry(ctx, http.MethodPost, c.config.RPCEndpoint, payload, &resp); err != nil {
		return "", fmt.Errorf("rpc: send transaction: %w", err)
	}
	if resp.Error != nil {
		return "", fetch.Permanent(fmt.Errorf("rpc: send transaction: %d %s", resp.Error.Code, resp.Error.Message))
	}
	if resp.Result == "" {
		return "", fetch.Permanent(fmt.Errorf("rpc: empty signature"))
	}
	return resp.Result, nil
}

// doWithRetry runs one HTTP exchange with bounded retries on transient
// failures. Permanent failures surface immediately.
func (c *Client) doWithRetry(ctx context.Context, method, rawURL string, body []byte, out any) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return fetch.Transient(ctx.Err())
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return fetch.Permanent(fmt.Errorf("create request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http error: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			c.errorCount.Add(1)
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			c.errorCount.Add(1)
			return fetch.Permanent(fmt.Errorf("http %d: %s", resp.StatusCode, respBody))
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fetch.Permanent(fmt.Errorf("parse response: %w", err))
		}

		c.resetErrors()
		return nil
	}

	return fetch.Transient(fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr))
}

// recordError increments consecutive errors and opens the circuit breaker.
func (c *Client) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= 5 {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("jupiter: circuit breaker open")
			go func() {
				time.Sleep(30 * time.Second)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("jupiter: circuit breaker reset")
			}()
		}
	}
}

func (c *Client) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// Stats reports client counters.
type Stats struct {
	QuoteCount  int64 `json:"quote_count"`
	SwapCount   int64 `json:"swap_count"`
	ErrorCount  int64 `json:"error_count"`
	CircuitOpen bool  `json:"circuit_open"`
}

func (c *Client) Stats() Stats {
	return Stats{
		QuoteCount:  c.quoteCount.Load(),
		SwapCount:   c.swapCount.Load(),
		ErrorCount:  c.errorCount.Load(),
		CircuitOpen: c.circuitOpen.Load(),
	}
}

func shortMint(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
