// Package cache implements the keyed list cache at the heart of the sync
// core: subscribe/notify semantics, stale-while-revalidate invalidation,
// last-fetch-wins sequence numbering, and grace-period garbage collection.
//
// The Store is the single shared mutable resource of the sync layer. All
// access goes through its methods; callers never hold or mutate entries
// directly. Subscriber callbacks run synchronously in the goroutine that
// caused the transition, outside the store lock.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"smellsync/pkg/query"
	"smellsync/pkg/types"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Snapshot is the immutable view of an entry delivered to subscribers. Data
// stays populated while a refetch is in flight so consumers keep rendering
// the last-known-good page instead of flashing an empty list.
type Snapshot struct {
	Key       query.Key
	Status    Status
	Data      *types.ListResult
	Err       error
	FetchedAt time.Time
	Stale     bool
}

// IsLoading reports a fetch in flight with no previous data to show.
func (s Snapshot) IsLoading() bool {
	return s.Status == StatusLoading && s.Data == nil
}

// IsBackgroundRefreshing reports a fetch in flight behind last-known-good
// data. This is the stale-while-revalidate sub-state the UI renders as a
// non-blocking "refreshing" indicator.
func (s Snapshot) IsBackgroundRefreshing() bool {
	return s.Status == StatusLoading && s.Data != nil
}

type entry struct {
	key       query.Key
	filter    query.FilterState
	hasFilter bool

	status    Status
	data      *types.ListResult
	err       error
	fetchedAt time.Time
	stale     bool

	// seq is the sequence number of the most recently issued fetch for this
	// key. A completion whose sequence does not match is obsolete and is
	// discarded, which is what makes overlapping responses safe.
	seq      uint64
	inflight bool

	subscribers map[int]func(Snapshot)
	lastAccess  time.Time
}

func (e *entry) snapshot() Snapshot {
	var data *types.ListResult
	if e.data != nil {
		d := e.data.Clone()
		data = &d
	}
	return Snapshot{
		Key:       e.key,
		Status:    e.status,
		Data:      data,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
		Stale:     e.stale,
	}
}

// Options tune freshness, retention, and sweep cadence.
type Options struct {
	// FreshFor is the window during which successful data is served without
	// triggering a refetch.
	FreshFor time.Duration
	// Retention is the grace period an entry with no subscribers survives
	// after its last access.
	Retention time.Duration
	// GCInterval is the sweep cadence of the background collector.
	GCInterval time.Duration
	Logger     *zap.Logger
}

// Default tuning values.
const (
	DefaultFreshFor   = 30 * time.Second
	DefaultRetention  = 20 * time.Minute
	DefaultGCInterval = 5 * time.Minute
)

// Store owns every cache entry and mediates all access to them.
type Store struct {
	mu      sync.RWMutex
	entries map[query.Key]*entry
	nextSub int
	opts    Options
	log     *zap.Logger

	hits   uint64
	misses uint64

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewStore creates a store with zero-value options replaced by defaults.
func NewStore(opts Options) *Store {
	if opts.FreshFor <= 0 {
		opts.FreshFor = DefaultFreshFor
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = DefaultGCInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		entries: make(map[query.Key]*entry),
		opts:    opts,
		log:     opts.Logger,
	}
}

// SetTuning updates freshness and retention windows at runtime. Existing
// entries are judged against the new windows on their next access.
func (s *Store) SetTuning(freshFor, retention time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if freshFor > 0 {
		s.opts.FreshFor = freshFor
	}
	if retention > 0 {
		s.opts.Retention = retention
	}
}

// ensure returns the entry for key, creating an idle placeholder on first
// access. Callers must hold the write lock.
func (s *Store) ensure(key query.Key) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{
			key:         key,
			status:      StatusIdle,
			subscribers: make(map[int]func(Snapshot)),
		}
		s.entries[key] = e
	}
	e.lastAccess = time.Now()
	return e
}

// Get returns the current snapshot for key, creating an idle placeholder if
// the key has never been seen. It never blocks on network activity.
func (s *Store) Get(key query.Key) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		if e.status == StatusSuccess {
			s.hits++
		}
		e.lastAccess = time.Now()
		return e.snapshot()
	}
	s.misses++
	return s.ensure(key).snapshot()
}

// Subscribe registers fn for every state transition of key's entry and
// returns the matching unsubscribe function. The entry is created as an idle
// placeholder if absent. The store holds a reference count per key through
// the subscriber map; the collector never removes a subscribed entry.
func (s *Store) Subscribe(key query.Key, fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	e := s.ensure(key)
	id := s.nextSub
	s.nextSub++
	e.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e, ok := s.entries[key]; ok {
			delete(e.subscribers, id)
			e.lastAccess = time.Now()
		}
	}
}

// SubscriberCount returns the number of active subscribers for key.
func (s *Store) SubscriberCount(key query.Key) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[key]; ok {
		return len(e.subscribers)
	}
	return 0
}

// fresh reports whether the entry can be served without a refetch. Callers
// must hold the lock.
func (s *Store) fresh(e *entry) bool {
	return e.status == StatusSuccess && !e.stale && time.Since(e.fetchedAt) < s.opts.FreshFor
}

// BeginResult is BeginFetch's decision for a request.
type BeginResult int

const (
	// BeginSkipped means the entry is fresh; there is nothing to fetch.
	BeginSkipped BeginResult = iota
	// BeginStarted means the caller owns the network call for the allocated
	// sequence.
	BeginStarted
	// BeginAttached means a request is already in flight; the caller should
	// share its result instead of issuing another call.
	BeginAttached
)

// BeginFetch transitions key's entry to loading and allocates a fetch
// sequence number. Previous data is retained so subscribers keep rendering
// it during the refetch. When a request is already in flight the caller is
// told to attach to it, and an invisible prefetch is upgraded to a visible
// loading state.
func (s *Store) BeginFetch(key query.Key, fs query.FilterState) (seq uint64, res BeginResult) {
	s.mu.Lock()
	e := s.ensure(key)
	e.filter = fs
	e.hasFilter = true

	if s.fresh(e) {
		s.mu.Unlock()
		return 0, BeginSkipped
	}
	if e.inflight {
		if e.status != StatusLoading {
			e.status = StatusLoading
			subs, snap := s.collectLocked(e)
			s.mu.Unlock()
			notify(subs, snap)
			return 0, BeginAttached
		}
		s.mu.Unlock()
		return 0, BeginAttached
	}

	e.seq++
	e.inflight = true
	e.status = StatusLoading
	seq = e.seq
	subs, snap := s.collectLocked(e)
	s.mu.Unlock()

	s.log.Debug("fetch started", zap.String("key", string(key)), zap.Uint64("seq", seq))
	notify(subs, snap)
	return seq, BeginStarted
}

// BeginPrefetch allocates a fetch sequence without any visible state
// transition, so current consumers of other keys never observe a loading
// flicker from speculative work. ok is false when the entry is fresh or a
// request is already in flight.
func (s *Store) BeginPrefetch(key query.Key, fs query.FilterState) (seq uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.ensure(key)
	e.filter = fs
	e.hasFilter = true

	if s.fresh(e) || e.inflight {
		return 0, false
	}
	e.seq++
	e.inflight = true
	s.log.Debug("prefetch started", zap.String("key", string(key)), zap.Uint64("seq", e.seq))
	return e.seq, true
}

// Complete applies the outcome of a fetch. A completion whose sequence no
// longer matches the latest issued sequence for the key is discarded, which
// prevents an obsolete response from overwriting newer data. On failure the
// previous data is left intact so a failed background refresh never clears a
// good page.
func (s *Store) Complete(key query.Key, seq uint64, result types.ListResult, fetchErr error) {
	s.mu.Lock()
	e, okEntry := s.entries[key]
	if !okEntry {
		s.mu.Unlock()
		return
	}
	if seq != e.seq {
		s.mu.Unlock()
		s.log.Debug("obsolete fetch discarded",
			zap.String("key", string(key)), zap.Uint64("seq", seq), zap.Uint64("latest", e.seq))
		return
	}
	e.inflight = false
	if fetchErr != nil {
		e.status = StatusError
		e.err = fetchErr
	} else {
		data := result.Clone()
		e.status = StatusSuccess
		e.data = &data
		e.err = nil
		e.fetchedAt = time.Now()
		e.stale = false
	}
	subs, snap := s.collectLocked(e)
	s.mu.Unlock()

	if fetchErr != nil {
		s.log.Warn("fetch failed", zap.String("key", string(key)), zap.Error(fetchErr))
	} else {
		s.log.Debug("fetch completed",
			zap.String("key", string(key)), zap.Uint64("seq", seq), zap.Int("items", len(result.Items)))
	}
	notify(subs, snap)
}

// Invalidate marks key's entry stale without removing its data. The entry
// keeps serving the last-known-good page while the next access triggers a
// background refetch.
func (s *Store) Invalidate(key query.Key) {
	s.invalidateWhere(func(k query.Key) bool { return k == key })
}

// InvalidateMatching marks every entry whose key satisfies pred as stale.
func (s *Store) InvalidateMatching(pred func(query.Key) bool) {
	s.invalidateWhere(pred)
}

func (s *Store) invalidateWhere(pred func(query.Key) bool) {
	type pending struct {
		subs []func(Snapshot)
		snap Snapshot
	}
	var notifies []pending

	s.mu.Lock()
	for k, e := range s.entries {
		if !pred(k) || e.status != StatusSuccess || e.stale {
			continue
		}
		e.stale = true
		subs, snap := s.collectLocked(e)
		notifies = append(notifies, pending{subs, snap})
	}
	s.mu.Unlock()

	for _, n := range notifies {
		notify(n.subs, n.snap)
	}
}

// FilterFor returns the filter state last fetched for key, used to
// revalidate an invalidated entry without re-deriving its parameters.
func (s *Store) FilterFor(key query.Key) (query.FilterState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[key]; ok && e.hasFilter {
		return e.filter, true
	}
	return query.FilterState{}, false
}

// SubscribedKeys returns the keys that currently have at least one
// subscriber.
func (s *Store) SubscribedKeys() []query.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []query.Key
	for k, e := range s.entries {
		if len(e.subscribers) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// collectLocked copies the subscriber list and builds the snapshot while the
// lock is held. Callbacks themselves run after the lock is released, in the
// calling goroutine, so a subscriber can re-enter the store.
func (s *Store) collectLocked(e *entry) ([]func(Snapshot), Snapshot) {
	if len(e.subscribers) == 0 {
		return nil, e.snapshot()
	}
	subs := make([]func(Snapshot), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	return subs, e.snapshot()
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// Stats is a point-in-time summary of store contents, for logs and the demo.
type Stats struct {
	Entries     int
	Subscribers int
	Hits        uint64
	Misses      uint64
}

// StatsSnapshot returns current store statistics.
func (s *Store) StatsSnapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Entries: len(s.entries), Hits: s.hits, Misses: s.misses}
	for _, e := range s.entries {
		st.Subscribers += len(e.subscribers)
	}
	return st
}
