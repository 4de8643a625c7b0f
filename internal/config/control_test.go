package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeControl(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "bot_control.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestControlMissingFileFailSafe(t *testing.T) {
	loader := NewControlLoader(filepath.Join(t.TempDir(), "nope.json"))

	ctrl := loader.Reload()
	assert.False(t, ctrl.Running)
	assert.True(t, ctrl.SimulationMode)
	assert.Equal(t, 1.5, ctrl.TakeProfitTarget)
	assert.Equal(t, 0.25, ctrl.StopLossPct)
}

func TestControlReload(t *testing.T) {
	dir := t.TempDir()
	path := writeControl(t, dir, `{
		"running": true,
		"simulation_mode": true,
		"filter_fake_tokens": true,
		"take_profit_target": 2.0,
		"stop_loss_percentage": 0.1,
		"max_investment_per_token": 0.5,
		"min_safety_score": 70,
		"min_holders": 200
	}`)

	loader := NewControlLoader(path)
	ctrl := loader.Reload()

	assert.True(t, ctrl.Running)
	assert.Equal(t, 2.0, ctrl.TakeProfitTarget)
	assert.Equal(t, 0.1, ctrl.StopLossPct)
	assert.Equal(t, 0.5, ctrl.MaxInvestmentPerToken)
	assert.Equal(t, 70.0, ctrl.MinSafetyScore)
	assert.Equal(t, 200, ctrl.MinHolders)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 50000.0, ctrl.MinVolume)
	assert.Equal(t, 250000.0, ctrl.MinLiquidity)
}

func TestControlUnknownKeysIgnored(t *testing.T) {
	dir := t.TempDir()
	path := writeControl(t, dir, `{"running": true, "some_future_knob": 42}`)

	loader := NewControlLoader(path)
	ctrl := loader.Reload()
	assert.True(t, ctrl.Running)
}

func TestControlMalformedKeepsLastGood(t *testing.T) {
	dir := t.TempDir()
	path := writeControl(t, dir, `{"running": true, "take_profit_target": 3.0}`)

	loader := NewControlLoader(path)
	first := loader.Reload()
	require.True(t, first.Running)
	require.Equal(t, 3.0, first.TakeProfitTarget)

	// Corrupt the file; the previous values must survive.
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	second := loader.Reload()
	assert.True(t, second.Running)
	assert.Equal(t, 3.0, second.TakeProfitTarget)

	// Delete the file; still last-known-good.
	require.NoError(t, os.Remove(path))
	third := loader.Reload()
	assert.True(t, third.Running)
}

func TestControlInvalidValuesRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeControl(t, dir, `{"running": true, "stop_loss_percentage": 1.5}`)

	loader := NewControlLoader(path)
	ctrl := loader.Reload()

	// Out-of-range stop loss is rejected; fail-safe defaults apply.
	assert.False(t, ctrl.Running)
	assert.Equal(t, 0.25, ctrl.StopLossPct)
}
