package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFake(t *testing.T) {
	f := NewTokenFilter()

	tests := []struct {
		address string
		fake    bool
	}{
		{"7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", false},
		{"", true},
		{"AbCpumpXyZ111111111111111111111111111111111", true},
		{"MOONrocket9999999999999999999999999999999999", true}, // case-insensitive
		{"ElonCoin111111111111111111111111111111111111", true},
		{"realSHIBclone1111111111111111111111111111111", true},
		{"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", false},
	}

	for _, tt := range tests {
		fake, reason := f.IsFake(tt.address)
		assert.Equal(t, tt.fake, fake, "address=%q reason=%q", tt.address, reason)
	}
}

func TestIsSimPlaceholder(t *testing.T) {
	f := NewTokenFilter()

	assert.True(t, f.IsSimPlaceholder("SIM_abcdef"))
	assert.True(t, f.IsSimPlaceholder("TEST_token"))
	assert.False(t, f.IsSimPlaceholder("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"))
	assert.False(t, f.IsSimPlaceholder("sim_lowercase")) // prefixes are exact
}
