package engine

import (
	"time"

	"smellsync/pkg/cache"
	"smellsync/pkg/fetch"
)

// Tuning collects the runtime knobs of the sync core. The zero value of any
// field means "use the default". Tuning can be re-applied to a live client
// via ApplyTuning, which is how config hot reload reaches the engine.
type Tuning struct {
	// DebounceWindow is the quiescence period for search-text fetches.
	DebounceWindow time.Duration
	// FreshFor is how long successful data is served without refetching.
	FreshFor time.Duration
	// Retention is the unused-entry grace period before garbage collection.
	Retention time.Duration
	// GCInterval is the background sweep cadence.
	GCInterval time.Duration
	// RetryAttempts bounds retries for idempotent list reads.
	RetryAttempts int
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
	// PrefetchNeighbors enables speculative warming of adjacent pages.
	PrefetchNeighbors bool
}

// DefaultTuning returns the stock knob values.
func DefaultTuning() Tuning {
	return Tuning{
		DebounceWindow:    fetch.DefaultDebounceWindow,
		FreshFor:          cache.DefaultFreshFor,
		Retention:         cache.DefaultRetention,
		GCInterval:        cache.DefaultGCInterval,
		RetryAttempts:     fetch.DefaultRetryAttempts,
		RetryBaseDelay:    fetch.DefaultRetryBaseDelay,
		PrefetchNeighbors: true,
	}
}
