package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Meridian.
type Config struct {
	General GeneralConfig `yaml:"general"`
	Market  MarketConfig  `yaml:"market"`
	Trading TradingConfig `yaml:"trading"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type MarketConfig struct {
	DexScreenerURL    string `yaml:"dexscreener_url"`
	JupiterPriceURL   string `yaml:"jupiter_price_url"`
	CoinGeckoURL      string `yaml:"coingecko_url"`
	CoinbaseURL       string `yaml:"coinbase_url"`
	MinRequestGapMs   int    `yaml:"min_request_gap_ms"`   // per-host spacing
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	TokenCacheTTLSec  int    `yaml:"token_cache_ttl_sec"`
	SOLCacheTTLSec    int    `yaml:"sol_cache_ttl_sec"`
}

type TradingConfig struct {
	ControlFile          string `yaml:"control_file"`
	DiscoveryIntervalSec int    `yaml:"discovery_interval_sec"`
	MonitorIntervalSec   int    `yaml:"monitor_interval_sec"`
	DispatchIntervalSec  int    `yaml:"dispatch_interval_sec"`
	MaxPositions         int    `yaml:"max_positions"`
	InitialSimBalanceSOL float64 `yaml:"initial_sim_balance_sol"`
}

type WalletConfig struct {
	PrivateKey   string `yaml:"private_key"`
	WalletPubkey string `yaml:"wallet_pubkey"`
	SlippageBps  int    `yaml:"slippage_bps"`
	PriorityFee  uint64 `yaml:"priority_fee"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "meridian-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Market.DexScreenerURL == "" {
		cfg.Market.DexScreenerURL = "https://api.dexscreener.com"
	}
	if cfg.Market.JupiterPriceURL == "" {
		cfg.Market.JupiterPriceURL = "https://price.jup.ag/v4/price"
	}
	if cfg.Market.CoinGeckoURL == "" {
		cfg.Market.CoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price"
	}
	if cfg.Market.CoinbaseURL == "" {
		cfg.Market.CoinbaseURL = "https://api.coinbase.com/v2/prices/SOL-USD/spot"
	}
	if cfg.Market.MinRequestGapMs == 0 {
		cfg.Market.MinRequestGapMs = 500
	}
	if cfg.Market.RequestTimeoutSec == 0 {
		cfg.Market.RequestTimeoutSec = 30
	}
	if cfg.Market.TokenCacheTTLSec == 0 {
		cfg.Market.TokenCacheTTLSec = 300
	}
	if cfg.Market.SOLCacheTTLSec == 0 {
		cfg.Market.SOLCacheTTLSec = 60
	}
	if cfg.Trading.ControlFile == "" {
		cfg.Trading.ControlFile = "bot_control.json"
	}
	if cfg.Trading.DiscoveryIntervalSec == 0 {
		cfg.Trading.DiscoveryIntervalSec = 300
	}
	if cfg.Trading.MonitorIntervalSec == 0 {
		cfg.Trading.MonitorIntervalSec = 60
	}
	if cfg.Trading.DispatchIntervalSec == 0 {
		cfg.Trading.DispatchIntervalSec = 60
	}
	if cfg.Trading.MaxPositions == 0 {
		cfg.Trading.MaxPositions = 10
	}
	if cfg.Trading.InitialSimBalanceSOL == 0 {
		cfg.Trading.InitialSimBalanceSOL = 5.0
	}
	if cfg.Wallet.SlippageBps == 0 {
		cfg.Wallet.SlippageBps = 250
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/meridian.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	if c.Trading.DiscoveryIntervalSec < 10 {
		return fmt.Errorf("discovery_interval_sec too low: %d", c.Trading.DiscoveryIntervalSec)
	}
	if c.Trading.MonitorIntervalSec < 1 {
		return fmt.Errorf("monitor_interval_sec too low: %d", c.Trading.MonitorIntervalSec)
	}
	if c.Wallet.SlippageBps < 0 || c.Wallet.SlippageBps > 5000 {
		return fmt.Errorf("slippage_bps out of range: %d", c.Wallet.SlippageBps)
	}
	if c.Trading.InitialSimBalanceSOL < 0 {
		return fmt.Errorf("initial_sim_balance_sol negative")
	}
	return nil
}
