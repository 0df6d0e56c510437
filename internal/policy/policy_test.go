package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strp(s string) *string { return &s }

func TestEvaluateAllowsUnknownDomainWhenWhitelistDisabled(t *testing.T) {
	snap := Snapshot{
		BannedDomains:     map[string]struct{}{},
		BannedSoftware:    map[string]struct{}{},
		WhitelistedDomain: map[string]struct{}{},
	}
	assert.Equal(t, Allow, Evaluate(snap, "example.com", nil))
}

func TestEvaluateDeniesBannedDomain(t *testing.T) {
	snap := Snapshot{
		BannedDomains:     map[string]struct{}{"bad.example": {}},
		BannedSoftware:    map[string]struct{}{},
		WhitelistedDomain: map[string]struct{}{},
	}
	assert.Equal(t, DenyBannedDomain, Evaluate(snap, "bad.example", nil))
}

func TestEvaluateDeniesBannedSoftwareWhenKnown(t *testing.T) {
	snap := Snapshot{
		BannedDomains:     map[string]struct{}{},
		BannedSoftware:    map[string]struct{}{"gab": {}},
		WhitelistedDomain: map[string]struct{}{},
	}
	assert.Equal(t, DenyBannedSoftware, Evaluate(snap, "example.com", strp("gab")))
}

func TestEvaluateIgnoresSoftwareBansWhenSoftwareUnknown(t *testing.T) {
	snap := Snapshot{
		BannedDomains:     map[string]struct{}{},
		BannedSoftware:    map[string]struct{}{"gab": {}},
		WhitelistedDomain: map[string]struct{}{},
	}
	assert.Equal(t, Allow, Evaluate(snap, "example.com", nil))
}

func TestEvaluateDeniesNotWhitelistedWhenGateEnabled(t *testing.T) {
	snap := Snapshot{
		BannedDomains:     map[string]struct{}{},
		BannedSoftware:    map[string]struct{}{},
		WhitelistedDomain: map[string]struct{}{"good.example": {}},
		WhitelistEnabled:  true,
	}
	assert.Equal(t, DenyNotWhitelisted, Evaluate(snap, "other.example", nil))
	assert.Equal(t, Allow, Evaluate(snap, "good.example", nil))
}

// Testable Property 8: ban wins over whitelist even when the domain
// is also whitelisted.
func TestEvaluateBanWinsOverWhitelist(t *testing.T) {
	snap := Snapshot{
		BannedDomains:     map[string]struct{}{"flip.example": {}},
		BannedSoftware:    map[string]struct{}{},
		WhitelistedDomain: map[string]struct{}{"flip.example": {}},
		WhitelistEnabled:  true,
	}
	assert.Equal(t, DenyBannedDomain, Evaluate(snap, "flip.example", nil))
}

func TestEvaluateIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	snap := Snapshot{
		BannedDomains:     map[string]struct{}{"bad.example": {}},
		BannedSoftware:    map[string]struct{}{"gab": {}},
		WhitelistedDomain: map[string]struct{}{"good.example": {}},
		WhitelistEnabled:  true,
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, DenyNotWhitelisted, Evaluate(snap, "random.example", nil))
	}
}

func TestExpandRelaysTokenReturnsKnownNames(t *testing.T) {
	names := ExpandRelaysToken()
	assert.Contains(t, names, "activityrelay")
	assert.Contains(t, names, "aoderelay")
}
