package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config tunes the rate-limited HTTP fetcher.
type Config struct {
	MinRequestGap time.Duration // minimum spacing between requests to one host
	Timeout       time.Duration // per-call HTTP timeout
	MaxAttempts   int           // total attempts including the first
	BackoffBase   time.Duration // first retry delay, doubles per attempt
	BackoffMax    time.Duration // backoff ceiling
}

// DefaultConfig returns fetcher defaults suitable for public market APIs.
func DefaultConfig() Config {
	return Config{
		MinRequestGap: 500 * time.Millisecond,
		Timeout:       30 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		BackoffMax:    15 * time.Minute,
	}
}

// Fetcher is a rate-limited JSON HTTP client shared by all upstream
// market-data calls. It spaces requests per host (with jitter) and retries
// transient failures with exponential backoff before surfacing a
// classified error.
//
// Safe for concurrent use.
type Fetcher struct {
	config Config
	client *http.Client

	mu       sync.Mutex
	lastCall map[string]time.Time // host -> time of last request

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Fetcher with the given config.
func New(config Config) *Fetcher {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Fetcher{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		lastCall: make(map[string]time.Time),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetJSON fetches url and decodes the response body into out.
// Returns a *Error classifying the failure as transient or permanent.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Permanent(fmt.Errorf("parse url: %w", err))
	}
	host := u.Host

	var lastErr error

	for attempt := 1; attempt <= f.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := f.backoff(attempt - 1)
			log.Debug().
				Str("host", host).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("fetch: retrying after backoff")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Transient(ctx.Err())
			}
		}

		if err := f.waitTurn(ctx, host); err != nil {
			return Transient(err)
		}

		body, ferr := f.doRequest(ctx, rawURL)
		if ferr != nil {
			if IsPermanent(ferr) {
				return ferr
			}
			lastErr = ferr
			continue
		}

		if err := json.Unmarshal(body, out); err != nil {
			return Permanent(fmt.Errorf("decode response from %s: %w", host, err))
		}
		return nil
	}

	return Transient(fmt.Errorf("fetch %s failed after %d attempts: %w",
		host, f.config.MaxAttempts, lastErr))
}

// doRequest performs a single HTTP GET and classifies any failure.
func (f *Fetcher) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("http get: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, Transient(fmt.Errorf("rate limited (429)"))
	case resp.StatusCode >= 500:
		return nil, Transient(fmt.Errorf("http %d", resp.StatusCode))
	default:
		return nil, Permanent(fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200)))
	}
}

// waitTurn blocks until this host's minimum request spacing has elapsed,
// then reserves the slot. Spacing gets a small random jitter so concurrent
// pollers do not synchronize against the provider's limiter.
func (f *Fetcher) waitTurn(ctx context.Context, host string) error {
	if f.config.MinRequestGap <= 0 {
		return nil
	}

	for {
		f.mu.Lock()
		now := time.Now()
		gap := f.config.MinRequestGap + f.jitter(f.config.MinRequestGap/4)
		next := f.lastCall[host].Add(gap)
		if !now.Before(next) {
			f.lastCall[host] = now
			f.mu.Unlock()
			return nil
		}
		wait := next.Sub(now)
		f.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backoff computes the delay before retry number n (1-based), doubling per
// attempt with a ±20% jitter and an absolute ceiling.
func (f *Fetcher) backoff(n int) time.Duration {
	d := f.config.BackoffBase << uint(n-1)
	if d > f.config.BackoffMax || d <= 0 {
		d = f.config.BackoffMax
	}
	spread := time.Duration(float64(d) * 0.2)
	return d - spread + f.jitter(2*spread)
}

func (f *Fetcher) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	return time.Duration(f.rng.Int63n(int64(max)))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
