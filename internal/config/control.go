package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Control is the hot-reloadable trading control file. It is read at the
// start of every discovery cycle so an operator can adjust thresholds or
// halt trading without restarting the process. Unknown keys in the file
// are ignored; missing keys take defaults.
type Control struct {
	Running          bool `json:"running"`
	SimulationMode   bool `json:"simulation_mode"`
	FilterFakeTokens bool `json:"filter_fake_tokens"`

	TakeProfitTarget      float64 `json:"take_profit_target"`       // exit multiple, e.g. 1.5
	StopLossPct           float64 `json:"stop_loss_percentage"`     // loss fraction, e.g. 0.25
	MaxInvestmentPerToken float64 `json:"max_investment_per_token"` // SOL
	MinInvestmentPerToken float64 `json:"min_investment_per_token"` // SOL
	SlippageTolerance     float64 `json:"slippage_tolerance"`

	MinSafetyScore   float64 `json:"min_safety_score"`
	MinVolume        float64 `json:"min_volume"`
	MinLiquidity     float64 `json:"min_liquidity"`
	MinMarketCap     float64 `json:"min_market_cap"`
	MinHolders       int     `json:"min_holders"`
	MinPriceChange1H float64 `json:"min_price_change_1h"`
	MinPriceChange6H float64 `json:"min_price_change_6h"`
	MinPriceChange24H float64 `json:"min_price_change_24h"`
}

// DefaultControl returns the fail-safe control values used when no control
// file has ever been read: trading halted, simulation only.
func DefaultControl() Control {
	return Control{
		Running:               false,
		SimulationMode:        true,
		FilterFakeTokens:      true,
		TakeProfitTarget:      1.5,
		StopLossPct:           0.25,
		MaxInvestmentPerToken: 1.0,
		MinInvestmentPerToken: 0.1,
		SlippageTolerance:     0.025,
		MinSafetyScore:        60,
		MinVolume:             50000,
		MinLiquidity:          250000,
		MinMarketCap:          100000,
		MinHolders:            100,
		MinPriceChange1H:      5,
		MinPriceChange6H:      10,
		MinPriceChange24H:     20,
	}
}

// ControlLoader reads the control file and remembers the last successfully
// parsed values. A transiently missing or malformed file never changes
// behaviour mid-run: the loader falls back to the last-known-good control.
type ControlLoader struct {
	path string

	mu       sync.Mutex
	lastGood Control
	everRead bool
}

// NewControlLoader creates a loader for the given control file path.
func NewControlLoader(path string) *ControlLoader {
	return &ControlLoader{
		path:     path,
		lastGood: DefaultControl(),
	}
}

// Reload reads the control file and returns the effective control values.
// On any read or parse failure it returns the last-known-good values (or
// the fail-safe defaults if the file was never readable).
func (l *ControlLoader) Reload() Control {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if l.everRead {
			log.Warn().Err(err).Str("path", l.path).
				Msg("control file unreadable, keeping last-known-good")
		} else {
			log.Warn().Err(err).Str("path", l.path).
				Msg("control file missing, trading halted (fail safe)")
		}
		return l.lastGood
	}

	// Start from defaults so keys absent from the file stay sane.
	ctrl := DefaultControl()
	if err := json.Unmarshal(data, &ctrl); err != nil {
		log.Warn().Err(err).Str("path", l.path).
			Msg("control file malformed, keeping last-known-good")
		return l.lastGood
	}

	if err := ctrl.validate(); err != nil {
		log.Warn().Err(err).Str("path", l.path).
			Msg("control file invalid, keeping last-known-good")
		return l.lastGood
	}

	l.lastGood = ctrl
	l.everRead = true
	return ctrl
}

// Current returns the last effective control values without touching disk.
func (l *ControlLoader) Current() Control {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastGood
}

func (c Control) validate() error {
	if c.TakeProfitTarget <= 1.0 {
		return fmt.Errorf("take_profit_target must exceed 1.0, got %v", c.TakeProfitTarget)
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_percentage must be in (0,1), got %v", c.StopLossPct)
	}
	if c.MaxInvestmentPerToken <= 0 {
		return fmt.Errorf("max_investment_per_token must be positive, got %v", c.MaxInvestmentPerToken)
	}
	if c.MinInvestmentPerToken < 0 || c.MinInvestmentPerToken > c.MaxInvestmentPerToken {
		return fmt.Errorf("min_investment_per_token out of range: %v", c.MinInvestmentPerToken)
	}
	if c.MinSafetyScore < 0 || c.MinSafetyScore > 100 {
		return fmt.Errorf("min_safety_score out of range: %v", c.MinSafetyScore)
	}
	return nil
}
