package cache

import "time"

// TTLFor exposes the per-namespace retention window documented in
// §4.B, for callers outside this package that need to report it
// without reaching into its internals.
func TTLFor(ns Namespace) time.Duration { return ttlFor(ns) }
