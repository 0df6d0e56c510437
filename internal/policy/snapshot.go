package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/activityrelay/activityrelay/internal/store"
)

// BuildSnapshot reads every ban/whitelist row and the
// whitelist-enabled flag out of s, for use by a single Evaluate call.
// Callers that evaluate many domains in one pass (e.g. fan-out
// recomputing recipients) should build one Snapshot and reuse it
// rather than calling this per domain.
func BuildSnapshot(ctx context.Context, s store.Store) (Snapshot, error) {
	snap := Snapshot{
		BannedDomains:     map[string]struct{}{},
		BannedSoftware:    map[string]struct{}{},
		WhitelistedDomain: map[string]struct{}{},
	}

	domainBans, err := s.ListDomainBans(ctx)
	if err != nil {
		return snap, fmt.Errorf("policy: load domain bans: %w", err)
	}
	for _, b := range domainBans {
		snap.BannedDomains[b.Domain] = struct{}{}
	}

	softwareBans, err := s.ListSoftwareBans(ctx)
	if err != nil {
		return snap, fmt.Errorf("policy: load software bans: %w", err)
	}
	for _, b := range softwareBans {
		snap.BannedSoftware[b.Name] = struct{}{}
	}

	whitelist, err := s.ListWhitelist(ctx)
	if err != nil {
		return snap, fmt.Errorf("policy: load whitelist: %w", err)
	}
	for _, w := range whitelist {
		snap.WhitelistedDomain[w.Domain] = struct{}{}
	}

	enabled, err := s.GetConfig(ctx, store.ConfigKeyWhitelistEnabled)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return snap, fmt.Errorf("policy: load whitelist-enabled: %w", err)
	}
	snap.WhitelistEnabled = enabled != nil && enabled.Value == "true"

	return snap, nil
}

// ExpandRelaysToken returns the concrete software names the admin-
// facing "RELAYS" magic token expands to (§3 SoftwareBan / §9), so
// internal/api can insert one software_bans row per name instead of
// Evaluate special-casing the token at read time.
func ExpandRelaysToken() []string {
	out := make([]string, len(store.RelayNames))
	copy(out, store.RelayNames)
	return out
}
