// Package engine wires the query codec, cache store, fetch coordinator, and
// optimistic mutation engine into a single client. The client is constructed
// explicitly and passed by reference; there is no package-level singleton,
// so an application gets single-instance semantics by injecting one client
// at its root.
package engine

import (
	"sync"

	"go.uber.org/zap"

	"smellsync/internal/logging"
	"smellsync/pkg/cache"
	"smellsync/pkg/fetch"
	"smellsync/pkg/mutate"
	"smellsync/pkg/query"
	"smellsync/pkg/types"
)

// Option customizes a Client.
type Option func(*settings)

type settings struct {
	tuning Tuning
	logger *zap.Logger
}

// WithTuning overrides the default knob values.
func WithTuning(t Tuning) Option {
	return func(s *settings) { s.tuning = t }
}

// WithLogger attaches a logger; components log under named sub-loggers.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// Client is the UI-facing surface of the sync core.
type Client struct {
	store *cache.Store
	coord *fetch.Coordinator
	muts  *mutate.Engine
	log   *zap.Logger

	mu       sync.Mutex
	tuning   Tuning
	lastSeen *query.FilterState
}

// New constructs a client over the external collaborators. The fetcher
// executes idempotent list reads, the mutator executes toggle writes, and
// the session gates mutations on authentication.
func New(fetcher fetch.Fetcher, mutator mutate.Mutator, session mutate.Session, opts ...Option) *Client {
	s := settings{tuning: DefaultTuning(), logger: logging.Nop()}
	for _, opt := range opts {
		opt(&s)
	}
	t := s.tuning

	store := cache.NewStore(cache.Options{
		FreshFor:   t.FreshFor,
		Retention:  t.Retention,
		GCInterval: t.GCInterval,
		Logger:     s.logger.Named(logging.ComponentCache),
	})
	coord := fetch.NewCoordinator(store, fetcher, fetch.Options{
		DebounceWindow: t.DebounceWindow,
		RetryAttempts:  t.RetryAttempts,
		RetryBaseDelay: t.RetryBaseDelay,
		Logger:         s.logger.Named(logging.ComponentFetch),
	})
	muts := mutate.NewEngine(store, mutator, session, mutate.Options{
		Logger: s.logger.Named(logging.ComponentMutate),
	})
	muts.SetRevalidate(coord.Revalidate)
	store.StartGC()

	return &Client{
		store:  store,
		coord:  coord,
		muts:   muts,
		log:    s.logger.Named(logging.ComponentEngine),
		tuning: t,
	}
}

// ListQuery materializes fs into a subscribable handle and schedules
// whatever fetching the cache state calls for. A change that only touched
// the search text is debounced, since it comes from continuous typing;
// category, difficulty, sort, and page changes are discrete actions and
// fetch immediately. Adjacent pages are prefetched when enabled.
func (c *Client) ListQuery(fs query.FilterState) (*QueryHandle, error) {
	if err := query.Validate(fs); err != nil {
		return nil, err
	}

	debounce := c.searchOnlyChange(fs)
	c.coord.EnsureFresh(fs, debounce)

	c.mu.Lock()
	prefetch := c.tuning.PrefetchNeighbors
	c.mu.Unlock()
	if prefetch && !debounce {
		c.coord.PrefetchNeighbors(fs)
	}

	return &QueryHandle{client: c, key: query.Encode(fs), filter: fs}, nil
}

// searchOnlyChange records fs as the latest query and reports whether it
// differs from the previous one in search text alone.
func (c *Client) searchOnlyChange(fs query.FilterState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.lastSeen
	snapshot := fs
	c.lastSeen = &snapshot
	if prev == nil || prev.Search == fs.Search {
		return false
	}
	rest := *prev
	rest.Search = fs.Search
	rest.Page = fs.Page // typing usually resets pagination alongside
	return query.Encode(rest) == query.Encode(fs)
}

// Dispatch runs an optimistic toggle mutation. See mutate.Engine.Dispatch
// for the precondition and ordering contract.
func (c *Client) Dispatch(kind types.Kind, entityID string, action types.Action) error {
	return c.muts.Dispatch(kind, entityID, action)
}

// IsPending reports whether entityID has an unsettled mutation of kind, for
// per-item loading indicators.
func (c *Client) IsPending(kind types.Kind, entityID string) bool {
	return c.muts.IsPending(kind, entityID)
}

// OnMutationSettled registers a listener for mutation outcomes, typically to
// surface rollback errors as a user-visible notification.
func (c *Client) OnMutationSettled(l mutate.Listener) {
	c.muts.AddListener(l)
}

// Invalidate marks every entry matching pred stale and revalidates the ones
// with active subscribers.
func (c *Client) Invalidate(pred func(query.Key) bool) {
	c.store.InvalidateMatching(pred)
	for _, key := range c.store.SubscribedKeys() {
		if pred(key) {
			c.coord.Revalidate(key)
		}
	}
}

// ApplyTuning pushes updated knob values into the live components. Used by
// config hot reload.
func (c *Client) ApplyTuning(t Tuning) {
	c.mu.Lock()
	c.tuning = t
	c.mu.Unlock()

	c.store.SetTuning(t.FreshFor, t.Retention)
	c.coord.SetTuning(t.DebounceWindow, t.RetryAttempts, t.RetryBaseDelay)
	c.log.Info("tuning applied",
		zap.Duration("debounce_window", t.DebounceWindow),
		zap.Duration("fresh_for", t.FreshFor),
		zap.Int("retry_attempts", t.RetryAttempts))
}

// Stats returns cache statistics.
func (c *Client) Stats() cache.Stats {
	return c.store.StatsSnapshot()
}

// Close stops background work: the garbage collector, pending debounced
// dispatches, and in-flight fetches and settles.
func (c *Client) Close() {
	c.coord.Close()
	c.muts.Close()
	c.store.Stop()
}

// QueryHandle is a bound view over one canonical query key.
type QueryHandle struct {
	client *Client
	key    query.Key
	filter query.FilterState
}

// Key returns the canonical cache key of the handle.
func (h *QueryHandle) Key() query.Key { return h.key }

// Snapshot returns the current cache state for the handle's key.
func (h *QueryHandle) Snapshot() cache.Snapshot {
	return h.client.store.Get(h.key)
}

// Subscribe registers fn for every state transition of the handle's entry
// and delivers the current snapshot immediately, so a consumer attaching to
// a prefetched entry renders it without waiting for a network round trip.
// The returned function unsubscribes.
func (h *QueryHandle) Subscribe(fn func(cache.Snapshot)) (unsubscribe func()) {
	unsub := h.client.store.Subscribe(h.key, fn)
	fn(h.client.store.Get(h.key))
	return unsub
}
