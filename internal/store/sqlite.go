package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/market"
	"github.com/meridian-trading/meridian/internal/trader"
)

// ErrNotFound means no row matched the lookup.
var ErrNotFound = errors.New("not found")

// TokenRow is a persisted discovery result.
type TokenRow struct {
	Snapshot    market.TokenSnapshot
	SafetyScore float64
	UpdatedAt   time.Time
}

// SQLiteStore persists discovered tokens and settled trades.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed and
// applies the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			contract_address TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			name TEXT,
			price_usd TEXT NOT NULL,
			volume_24h REAL NOT NULL,
			liquidity_usd REAL NOT NULL,
			market_cap REAL NOT NULL,
			fdv REAL NOT NULL DEFAULT 0,
			holders INTEGER NOT NULL,
			price_change_1h REAL NOT NULL DEFAULT 0,
			price_change_6h REAL NOT NULL DEFAULT 0,
			price_change_24h REAL NOT NULL DEFAULT 0,
			trending_score REAL NOT NULL DEFAULT 0,
			safety_score REAL NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_safety ON tokens(safety_score);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			intent_id TEXT NOT NULL,
			contract_address TEXT NOT NULL,
			action TEXT NOT NULL,
			amount_sol TEXT NOT NULL,
			token_amount TEXT NOT NULL,
			price_usd TEXT NOT NULL,
			tx_signature TEXT NOT NULL,
			simulated BOOLEAN NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_address ON trades(contract_address);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_intent ON trades(intent_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StoreToken upserts a screened candidate. Satisfies the discovery
// loop's sink interface.
func (s *SQLiteStore) StoreToken(ctx context.Context, snap market.TokenSnapshot, safetyScore float64) error {
	query := `INSERT INTO tokens (contract_address, ticker, name, price_usd, volume_24h, liquidity_usd, market_cap, fdv, holders, price_change_1h, price_change_6h, price_change_24h, trending_score, safety_score, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(contract_address) DO UPDATE SET
			  ticker=excluded.ticker,
			  name=excluded.name,
			  price_usd=excluded.price_usd,
			  volume_24h=excluded.volume_24h,
			  liquidity_usd=excluded.liquidity_usd,
			  market_cap=excluded.market_cap,
			  fdv=excluded.fdv,
			  holders=excluded.holders,
			  price_change_1h=excluded.price_change_1h,
			  price_change_6h=excluded.price_change_6h,
			  price_change_24h=excluded.price_change_24h,
			  trending_score=excluded.trending_score,
			  safety_score=excluded.safety_score,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		snap.Address, snap.Ticker, snap.Name, snap.PriceUSD.String(),
		snap.Volume24h, snap.LiquidityUSD, snap.MarketCap, snap.FDV, snap.Holders,
		snap.PriceChange1H, snap.PriceChange6H, snap.PriceChange24H,
		snap.TrendingScore, safetyScore, time.Now().UTC())
	return err
}

// GetToken returns the last stored snapshot for the address.
func (s *SQLiteStore) GetToken(ctx context.Context, address string) (*TokenRow, error) {
	query := `SELECT contract_address, ticker, name, price_usd, volume_24h, liquidity_usd, market_cap, fdv, holders, price_change_1h, price_change_6h, price_change_24h, trending_score, safety_score, updated_at FROM tokens WHERE contract_address = ?`
	row := s.db.QueryRowContext(ctx, query, address)

	var t TokenRow
	var priceUSD string
	err := row.Scan(&t.Snapshot.Address, &t.Snapshot.Ticker, &t.Snapshot.Name, &priceUSD,
		&t.Snapshot.Volume24h, &t.Snapshot.LiquidityUSD, &t.Snapshot.MarketCap, &t.Snapshot.FDV,
		&t.Snapshot.Holders, &t.Snapshot.PriceChange1H, &t.Snapshot.PriceChange6H,
		&t.Snapshot.PriceChange24H, &t.Snapshot.TrendingScore, &t.SafetyScore, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if t.Snapshot.PriceUSD, err = decimal.NewFromString(priceUSD); err != nil {
		return nil, fmt.Errorf("token %s: bad stored price %q: %w", address, priceUSD, err)
	}
	t.Snapshot.FetchedAt = t.UpdatedAt
	return &t, nil
}

// TopTokens returns the highest scored tokens, best first.
func (s *SQLiteStore) TopTokens(ctx context.Context, limit int) ([]*TokenRow, error) {
	query := `SELECT contract_address, ticker, name, price_usd, volume_24h, liquidity_usd, market_cap, fdv, holders, price_change_1h, price_change_6h, price_change_24h, trending_score, safety_score, updated_at FROM tokens ORDER BY safety_score DESC, updated_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TokenRow
	for rows.Next() {
		var t TokenRow
		var priceUSD string
		if err := rows.Scan(&t.Snapshot.Address, &t.Snapshot.Ticker, &t.Snapshot.Name, &priceUSD,
			&t.Snapshot.Volume24h, &t.Snapshot.LiquidityUSD, &t.Snapshot.MarketCap, &t.Snapshot.FDV,
			&t.Snapshot.Holders, &t.Snapshot.PriceChange1H, &t.Snapshot.PriceChange6H,
			&t.Snapshot.PriceChange24H, &t.Snapshot.TrendingScore, &t.SafetyScore, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if t.Snapshot.PriceUSD, err = decimal.NewFromString(priceUSD); err != nil {
			return nil, fmt.Errorf("bad stored price %q: %w", priceUSD, err)
		}
		t.Snapshot.FetchedAt = t.UpdatedAt
		out = append(out, &t)
	}
	return out, rows.Err()
}

// RecordTrade appends one settled trade. Intent IDs are unique; a
// replayed settlement is a hard error.
func (s *SQLiteStore) RecordTrade(ctx context.Context, rec trader.TradeRecord) error {
	query := `INSERT INTO trades (id, intent_id, contract_address, action, amount_sol, token_amount, price_usd, tx_signature, simulated, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.IntentID, rec.Address, string(rec.Action),
		rec.AmountSOL.String(), rec.TokenAmount.String(), rec.PriceUSD.String(),
		rec.TxSignature, rec.Simulated, rec.Timestamp.UTC())
	return err
}

// TradeHistory returns the most recent trades, newest first. An empty
// address returns trades across all tokens.
func (s *SQLiteStore) TradeHistory(ctx context.Context, address string, limit int) ([]trader.TradeRecord, error) {
	query := `SELECT id, intent_id, contract_address, action, amount_sol, token_amount, price_usd, tx_signature, simulated, created_at FROM trades`
	args := []any{}
	if address != "" {
		query += ` WHERE contract_address = ?`
		args = append(args, address)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trader.TradeRecord
	for rows.Next() {
		var rec trader.TradeRecord
		var action, amountSOL, tokenAmount, priceUSD string
		if err := rows.Scan(&rec.ID, &rec.IntentID, &rec.Address, &action,
			&amountSOL, &tokenAmount, &priceUSD, &rec.TxSignature, &rec.Simulated, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Action = trader.Action(action)
		if rec.AmountSOL, err = decimal.NewFromString(amountSOL); err != nil {
			return nil, err
		}
		if rec.TokenAmount, err = decimal.NewFromString(tokenAmount); err != nil {
			return nil, err
		}
		if rec.PriceUSD, err = decimal.NewFromString(priceUSD); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetActiveOrders returns buy trades that have no later matching sell,
// i.e. holdings the process should re-supervise after a restart.
func (s *SQLiteStore) GetActiveOrders(ctx context.Context) ([]trader.TradeRecord, error) {
	query := `SELECT id, intent_id, contract_address, action, amount_sol, token_amount, price_usd, tx_signature, simulated, created_at
			  FROM trades b
			  WHERE action = 'BUY'
			  AND NOT EXISTS (
				  SELECT 1 FROM trades s
				  WHERE s.contract_address = b.contract_address
				  AND s.action = 'SELL'
				  AND s.created_at >= b.created_at
			  )
			  ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trader.TradeRecord
	for rows.Next() {
		var rec trader.TradeRecord
		var action, amountSOL, tokenAmount, priceUSD string
		if err := rows.Scan(&rec.ID, &rec.IntentID, &rec.Address, &action,
			&amountSOL, &tokenAmount, &priceUSD, &rec.TxSignature, &rec.Simulated, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Action = trader.Action(action)
		if rec.AmountSOL, err = decimal.NewFromString(amountSOL); err != nil {
			return nil, err
		}
		if rec.TokenAmount, err = decimal.NewFromString(tokenAmount); err != nil {
			return nil, err
		}
		if rec.PriceUSD, err = decimal.NewFromString(priceUSD); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
