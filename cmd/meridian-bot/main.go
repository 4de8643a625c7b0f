package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/meridian-trading/meridian/internal/adapters/jupiter"
	"github.com/meridian-trading/meridian/internal/bot"
	"github.com/meridian-trading/meridian/internal/config"
	"github.com/meridian-trading/meridian/internal/fetch"
	"github.com/meridian-trading/meridian/internal/market"
	"github.com/meridian-trading/meridian/internal/positions"
	"github.com/meridian-trading/meridian/internal/scanner"
	"github.com/meridian-trading/meridian/internal/store"
	"github.com/meridian-trading/meridian/internal/trader"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("MERIDIAN Memecoin Trading Bot - Starting")
	log.Info().Msg("DISCOVER -> SCORE -> SCREEN -> TRADE -> SUPERVISE")
	log.Info().Msg("=============================================")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	// 4. Control file: the first read decides the execution mode.
	control := config.NewControlLoader(cfg.Trading.ControlFile)
	ctrl := control.Reload()

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("running", ctrl.Running).
		Bool("simulation_mode", ctrl.SimulationMode).
		Float64("take_profit_x", ctrl.TakeProfitTarget).
		Float64("stop_loss_pct", ctrl.StopLossPct).
		Float64("max_investment", ctrl.MaxInvestmentPerToken).
		Float64("min_safety", ctrl.MinSafetyScore).
		Int("max_positions", cfg.Trading.MaxPositions).
		Msg("Configuration loaded")

	// 5. Market data: rate-limited fetcher, DexScreener, SOL price.
	fetchCfg := fetch.DefaultConfig()
	fetchCfg.MinRequestGap = time.Duration(cfg.Market.MinRequestGapMs) * time.Millisecond
	fetchCfg.Timeout = time.Duration(cfg.Market.RequestTimeoutSec) * time.Second
	fetcher := fetch.New(fetchCfg)

	dexCfg := market.DefaultDexScreenerConfig()
	dexCfg.BaseURL = cfg.Market.DexScreenerURL
	dexCfg.TokenCacheTTL = time.Duration(cfg.Market.TokenCacheTTLSec) * time.Second
	provider := market.NewDexScreener(dexCfg, fetcher)

	solCfg := market.DefaultSOLPriceConfig()
	solCfg.CoinGeckoURL = cfg.Market.CoinGeckoURL
	solCfg.JupiterURL = cfg.Market.JupiterPriceURL
	solCfg.CoinbaseURL = cfg.Market.CoinbaseURL
	solCfg.CacheTTL = time.Duration(cfg.Market.SOLCacheTTLSec) * time.Second
	solPrice := market.NewSOLPrice(solCfg, fetcher)

	// 6. Storage.
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("Failed to open database")
	}
	defer db.Close()
	log.Info().Str("path", cfg.Storage.Path).Msg("SQLite store opened")

	// 7. Execution: simulated by default, live only when the control
	// file says so AND wallet credentials exist.
	wallet := trader.NewWallet(decimal.NewFromFloat(cfg.Trading.InitialSimBalanceSOL))

	var executor trader.Executor
	var jupClient *jupiter.Client
	if ctrl.SimulationMode {
		executor = trader.NewSimulated(trader.DefaultSimulatedConfig(), wallet, solPrice)
		log.Info().
			Float64("sim_balance_sol", cfg.Trading.InitialSimBalanceSOL).
			Msg("Execution: SIMULATED - no real funds at risk")
	} else {
		if cfg.Wallet.WalletPubkey == "" || cfg.Wallet.PrivateKey == "" {
			log.Fatal().Msg("simulation_mode=false requires wallet_pubkey and private_key in config")
		}
		jupCfg := jupiter.DefaultConfig()
		jupCfg.WalletPubkey = cfg.Wallet.WalletPubkey
		jupCfg.PriorityFee = cfg.Wallet.PriorityFee
		jupClient = jupiter.New(jupCfg)
		executor = trader.NewReal(trader.RealConfig{SlippageBps: cfg.Wallet.SlippageBps}, jupClient, wallet)
		log.Warn().
			Str("wallet", cfg.Wallet.WalletPubkey).
			Int("slippage_bps", cfg.Wallet.SlippageBps).
			Msg("Execution: LIVE - real funds at risk")
	}

	// 8. Discovery, positions, engine.
	scanCfg := scanner.DefaultConfig()
	scanCfg.Interval = time.Duration(cfg.Trading.DiscoveryIntervalSec) * time.Second
	tokenScanner := scanner.New(scanCfg, provider, control, db)

	manager := positions.NewManager(provider, executor, db)

	engine := bot.New(bot.Config{
		InstanceID:       cfg.General.InstanceID,
		SimulationMode:   ctrl.SimulationMode,
		MonitorInterval:  time.Duration(cfg.Trading.MonitorIntervalSec) * time.Second,
		DispatchInterval: time.Duration(cfg.Trading.DispatchIntervalSec) * time.Second,
		MaxPositions:     cfg.Trading.MaxPositions,
	}, control, tokenScanner, manager, executor, wallet, solPrice, db)

	// 9. Setup context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 10. Start services.
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Engine error")
			cancel()
		}
	}()

	// HTTP health/snapshot/control endpoint.
	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()

		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"status":          "ok",
				"running":         control.Current().Running,
				"simulation_mode": ctrl.SimulationMode,
			})
		})

		mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(engine.State(r.Context()))
		})

		mux.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"active": manager.Active(),
				"closed": manager.Closed(50),
			})
		})

		mux.HandleFunc("/control/pause", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			if err := writeControlRunning(cfg.Trading.ControlFile, control, false); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			log.Warn().Msg("[CONTROL] Trading PAUSED - no new entries")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"paused"}`)
		})

		mux.HandleFunc("/control/resume", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			if err := writeControlRunning(cfg.Trading.ControlFile, control, true); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			log.Info().Msg("[CONTROL] Trading RESUMED")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"running"}`)
		})

		addr := ":" + strconv.Itoa(cfg.Server.Port)
		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		log.Info().Str("addr", addr).Msg("HTTP server started (health + snapshot + control)")

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()

		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("HTTP server error")
		}
	}()

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scanStats := tokenScanner.Stats()
				posStats := manager.Stats()
				logEvt := log.Info().
					Int64("cycles_run", scanStats.CyclesRun).
					Int64("cycles_skipped", scanStats.CyclesSkipped).
					Int64("tokens_seen", scanStats.TokensSeen).
					Int64("candidates", scanStats.CandidatesFound).
					Int64("positions_opened", posStats.Opened).
					Int("positions_active", posStats.Active).
					Int64("closed_tp", posStats.ClosedTP).
					Int64("closed_sl", posStats.ClosedSL).
					Str("balance_sol", wallet.Balance().String())
				if jupClient != nil {
					jupStats := jupClient.Stats()
					logEvt = logEvt.Int64("swaps", jupStats.SwapCount).
						Bool("circuit_open", jupStats.CircuitOpen)
				}
				logEvt.Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("MERIDIAN - Running")

	// 11. Block until shutdown.
	<-ctx.Done()
	log.Info().Msg("Shutting down...")
	wg.Wait()

	// Final stats.
	posStats := manager.Stats()
	log.Info().
		Int64("positions_opened", posStats.Opened).
		Int("positions_active", posStats.Active).
		Int64("closed_tp", posStats.ClosedTP).
		Int64("closed_sl", posStats.ClosedSL).
		Int64("exit_failures", posStats.ExitFailures).
		Str("final_balance_sol", wallet.Balance().String()).
		Msg("MERIDIAN - Final Statistics")

	log.Info().Msg("MERIDIAN - Shutdown complete")
}

// writeControlRunning rewrites the control file with the running flag
// flipped and reloads it so the change takes effect immediately.
func writeControlRunning(path string, loader *config.ControlLoader, running bool) error {
	ctrl := loader.Current()
	ctrl.Running = running

	data, err := json.MarshalIndent(ctrl, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	loader.Reload()
	return nil
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "meridian-bot").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "meridian-bot").
			Str("instance", general.InstanceID).Logger()
	}
}
