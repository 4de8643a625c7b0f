package scanner

import (
	"strings"
)

// defaultDenyTerms flags addresses that embed hype or impersonation
// strings. Real mints are base58 noise; a readable vanity substring is a
// strong scam signal.
var defaultDenyTerms = []string{
	"pump", "moon", "scam", "fake", "elon", "musk", "inu", "shib", "doge",
}

// defaultSimPrefixes marks placeholder addresses that only exist inside
// simulated runs and must never reach screening.
var defaultSimPrefixes = []string{"SIM_", "TEST_"}

// TokenFilter rejects fake-looking and simulation-only contract addresses.
type TokenFilter struct {
	denyTerms   []string
	simPrefixes []string
}

// NewTokenFilter creates a filter with the default deny list.
func NewTokenFilter() *TokenFilter {
	return &TokenFilter{
		denyTerms:   defaultDenyTerms,
		simPrefixes: defaultSimPrefixes,
	}
}

// IsFake reports whether the address matches the deny list. Empty or
// unparseable addresses count as fake.
func (f *TokenFilter) IsFake(address string) (bool, string) {
	if address == "" {
		return true, "empty_address"
	}
	lower := strings.ToLower(address)
	for _, term := range f.denyTerms {
		if strings.Contains(lower, term) {
			return true, "deny_term:" + term
		}
	}
	return false, ""
}

// IsSimPlaceholder reports whether the address is a simulation artifact.
func (f *TokenFilter) IsSimPlaceholder(address string) bool {
	for _, prefix := range f.simPrefixes {
		if strings.HasPrefix(address, prefix) {
			return true
		}
	}
	return false
}
