// Package fetch coordinates list reads against the cache store. It
// deduplicates concurrent requests for the same key, debounces rapidly
// changing search input, retries transient failures with bounded exponential
// backoff, and speculatively warms the pages adjacent to the one on screen.
package fetch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"smellsync/pkg/cache"
	"smellsync/pkg/query"
	"smellsync/pkg/types"
)

// Fetcher is the external read collaborator. FetchList must be idempotent
// and side-effect-free; the coordinator may invoke it more than once for the
// same parameters when retrying.
type Fetcher interface {
	FetchList(ctx context.Context, filter query.FilterState) (types.ListResult, error)
}

// Options tune debounce, retry, and prefetch behavior.
type Options struct {
	// DebounceWindow is the quiescence period before a search-text fetch
	// dispatches. Discrete filter changes bypass it.
	DebounceWindow time.Duration
	// RetryAttempts is the total number of tries for an idempotent read.
	RetryAttempts int
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
	Logger         *zap.Logger
}

// Default tuning values.
const (
	DefaultDebounceWindow = 250 * time.Millisecond
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 200 * time.Millisecond
)

// Coordinator schedules list reads and applies their outcomes to the store.
type Coordinator struct {
	store   *cache.Store
	fetcher Fetcher
	log     *zap.Logger

	// group shares the network call among the request that started it and
	// any requests that attached to it while it was in flight.
	group singleflight.Group
	deb   *Debouncer

	mu     sync.Mutex
	opts   Options
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator bound to store and fetcher.
// Zero-value options are replaced by defaults.
func NewCoordinator(store *cache.Store, fetcher Fetcher, opts Options) *Coordinator {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:   store,
		fetcher: fetcher,
		log:     opts.Logger,
		deb:     NewDebouncer(opts.DebounceWindow),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetTuning updates debounce and retry knobs at runtime.
func (c *Coordinator) SetTuning(debounceWindow time.Duration, retryAttempts int, retryBaseDelay time.Duration) {
	c.mu.Lock()
	if debounceWindow > 0 {
		c.opts.DebounceWindow = debounceWindow
		c.deb.SetDuration(debounceWindow)
	}
	if retryAttempts > 0 {
		c.opts.RetryAttempts = retryAttempts
	}
	if retryBaseDelay > 0 {
		c.opts.RetryBaseDelay = retryBaseDelay
	}
	c.mu.Unlock()
}

// EnsureFresh makes the entry for fs current. Fresh entries are a no-op and
// in-flight fetches are attached to rather than duplicated. With debounce
// set, dispatch waits out the quiescence window and only the last requested
// state fetches; an immediate call cancels any pending debounced dispatch,
// since its filter state already carries the latest search text.
func (c *Coordinator) EnsureFresh(fs query.FilterState, debounce bool) {
	if debounce {
		c.deb.Debounce(func() { c.start(fs, false) })
		return
	}
	c.deb.Cancel()
	c.start(fs, false)
}

// Revalidate refetches an invalidated key using the filter state recorded on
// its entry. Unknown keys are ignored.
func (c *Coordinator) Revalidate(key query.Key) {
	fs, ok := c.store.FilterFor(key)
	if !ok {
		return
	}
	c.start(fs, false)
}

// Prefetch warms the cache for fs without any loading transition visible to
// current consumers. A prefetched entry that is later subscribed to is
// served straight from cache while still fresh.
func (c *Coordinator) Prefetch(fs query.FilterState) {
	c.start(fs, true)
}

// PrefetchNeighbors speculatively warms the pages adjacent to fs. The
// previous page is skipped on page one, and the next page is skipped when
// the cached total proves it would be past the end.
func (c *Coordinator) PrefetchNeighbors(fs query.FilterState) {
	prev, next := query.Neighbors(fs)
	if next != nil && fs.PageSize > 0 {
		if snap := c.store.Get(query.Encode(fs)); snap.Data != nil {
			lastPage := (snap.Data.Total + fs.PageSize - 1) / fs.PageSize
			if next.Page > lastPage {
				next = nil
			}
		}
	}

	targets := make([]query.FilterState, 0, 2)
	if prev != nil {
		targets = append(targets, *prev)
	}
	if next != nil {
		targets = append(targets, *next)
	}
	if len(targets) == 0 {
		return
	}

	c.goTracked(func() {
		g := new(errgroup.Group)
		g.SetLimit(2)
		for _, target := range targets {
			target := target
			g.Go(func() error {
				c.run(query.Encode(target), target, true)
				return nil
			})
		}
		_ = g.Wait()
	})
}

// Close cancels outstanding work and waits for background fetches to settle.
// Results arriving after cancellation are discarded by the store's sequence
// check or dropped as context errors.
func (c *Coordinator) Close() {
	c.deb.Cancel()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// goTracked runs fn on a waitgroup-tracked goroutine. After Close has begun
// it does nothing, so a debounce timer firing during shutdown cannot race
// the final Wait.
func (c *Coordinator) goTracked(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// start begins a fetch or prefetch for fs in the background.
func (c *Coordinator) start(fs query.FilterState, prefetch bool) {
	key := query.Encode(fs)
	c.goTracked(func() { c.run(key, fs, prefetch) })
}

// run asks the store what the request needs. The owner of a network call
// executes it through the singleflight group; a request arriving while one
// is in flight joins the same group key and blocks until the owner's result
// lands, so overlapping requests for a key produce exactly one call.
func (c *Coordinator) run(key query.Key, fs query.FilterState, prefetch bool) {
	if prefetch {
		seq, ok := c.store.BeginPrefetch(key, fs)
		if !ok {
			return
		}
		_, _, _ = c.group.Do(string(key), func() (interface{}, error) {
			return c.execute(key, fs, seq)
		})
		return
	}

	seq, res := c.store.BeginFetch(key, fs)
	switch res {
	case cache.BeginSkipped:
		return
	case cache.BeginAttached:
		c.log.Debug("attaching to in-flight request", zap.String("key", string(key)))
		_, _, _ = c.group.Do(string(key), func() (interface{}, error) {
			// Only reachable if the owner finished before we joined; the
			// zero sequence makes the duplicate completion a no-op.
			return c.execute(key, fs, seq)
		})
		return
	}

	_, _, _ = c.group.Do(string(key), func() (interface{}, error) {
		return c.execute(key, fs, seq)
	})
}

// execute performs the network call and applies its outcome to the store.
// The completion runs inside the singleflight flight, before the group
// forgets the key: any request that observed the fetch as in-flight is
// therefore guaranteed to join this flight rather than start a new one.
func (c *Coordinator) execute(key query.Key, fs query.FilterState, seq uint64) (types.ListResult, error) {
	result, err := c.fetchWithRetry(c.ctx, key, fs)
	c.store.Complete(key, seq, result, err)
	return result, err
}

// fetchWithRetry executes the read, retrying transient network failures with
// exponential backoff. Validation and other non-transient errors return
// immediately. Mutations never pass through here; only idempotent reads are
// retried.
func (c *Coordinator) fetchWithRetry(ctx context.Context, key query.Key, fs query.FilterState) (types.ListResult, error) {
	c.mu.Lock()
	attempts := c.opts.RetryAttempts
	baseDelay := c.opts.RetryBaseDelay
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			c.log.Debug("retrying fetch",
				zap.String("key", string(key)), zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return types.ListResult{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.fetcher.FetchList(ctx, fs)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !types.IsNetwork(err) {
			return types.ListResult{}, err
		}
	}
	return types.ListResult{}, lastErr
}
