// Package mutate implements the optimistic toggle engine: mutations apply to
// the cache synchronously, settle against the server in the background, and
// roll back from a snapshot when the server says no.
//
// The primary correctness property is duplicate suppression. An entity can
// have at most one unsettled mutation per kind; a second dispatch for the
// same entity and kind is rejected outright, which closes the lost-update
// race a double-clicked toggle would otherwise open.
package mutate

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smellsync/pkg/cache"
	"smellsync/pkg/query"
	"smellsync/pkg/types"
)

// Mutator is the external write collaborator. Calls are never retried; a
// transport failure rolls the optimistic change back instead.
type Mutator interface {
	Mutate(ctx context.Context, kind types.Kind, entityID string, action types.Action) (types.MutationResult, error)
}

// Session reports whether an authenticated user is present. Dispatch fails
// fast with an AuthRequiredError before touching any cache state when it is
// not.
type Session interface {
	Authenticated() bool
}

// Outcome is delivered to settle listeners after a mutation finishes, on
// success or failure.
type Outcome struct {
	// ID correlates the outcome with log lines for this dispatch.
	ID         string
	Kind       types.Kind
	EntityID   string
	Action     types.Action
	Err        error
	RolledBack bool
}

// Listener receives mutation outcomes. Listeners run after the pending flag
// has been cleared, so IsPending already reports false inside the callback.
type Listener func(Outcome)

// Options configure the engine.
type Options struct {
	Logger *zap.Logger
}

// Engine executes toggle mutations optimistically against a cache store.
type Engine struct {
	store   *cache.Store
	mutator Mutator
	session Session
	log     *zap.Logger

	mu         sync.Mutex
	pending    map[types.Kind]map[string]struct{}
	listeners  []Listener
	revalidate func(query.Key)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a mutation engine bound to store, mutator, and session.
func NewEngine(store *cache.Store, mutator Mutator, session Session, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:   store,
		mutator: mutator,
		session: session,
		log:     opts.Logger,
		pending: make(map[types.Kind]map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetRevalidate installs the hook invoked for each affected key after a
// successful settle, so invalidated lists refetch server-computed counters
// in the background instead of waiting for their next access.
func (e *Engine) SetRevalidate(fn func(query.Key)) {
	e.mu.Lock()
	e.revalidate = fn
	e.mu.Unlock()
}

// AddListener registers a settle listener.
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// IsPending reports whether entityID has an unsettled mutation of kind.
func (e *Engine) IsPending(kind types.Kind, entityID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[kind][entityID]
	return ok
}

// Dispatch applies the toggle optimistically and settles it against the
// server in the background. The returned error covers precondition failures
// only (bad input, missing session, duplicate dispatch); network outcomes
// reach settle listeners instead.
//
// Ordering on the synchronous path: pending flag first, snapshot second,
// optimistic apply third. The pending flag is cleared last during settle, so
// no observer can read "not pending" while a rollback is still in progress.
func (e *Engine) Dispatch(kind types.Kind, entityID string, action types.Action) error {
	if !kind.Valid() {
		return &types.ValidationError{Field: "kind", Reason: "unknown mutation kind " + string(kind)}
	}
	if !action.Valid() {
		return &types.ValidationError{Field: "action", Reason: "unknown action " + string(action)}
	}
	if entityID == "" {
		return &types.ValidationError{Field: "entityId", Reason: "must not be empty"}
	}
	if e.session == nil || !e.session.Authenticated() {
		return &types.AuthRequiredError{Kind: kind}
	}

	e.mu.Lock()
	set := e.pending[kind]
	if set == nil {
		set = make(map[string]struct{})
		e.pending[kind] = set
	}
	if _, dup := set[entityID]; dup {
		e.mu.Unlock()
		return types.ErrMutationPending
	}
	set[entityID] = struct{}{}
	e.mu.Unlock()

	opID := uuid.NewString()
	snapshot := e.store.EntriesContaining(entityID)
	e.store.ApplyPatch(entityID, optimisticPatch(kind, action))

	e.log.Debug("mutation dispatched",
		zap.String("op", opID),
		zap.String("kind", string(kind)),
		zap.String("entity", entityID),
		zap.String("action", string(action)),
		zap.Int("affected_keys", len(snapshot)))

	e.wg.Add(1)
	go e.settle(opID, kind, entityID, action, snapshot)
	return nil
}

// Close waits for in-flight settles to finish.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) settle(opID string, kind types.Kind, entityID string, action types.Action, snapshot map[query.Key]cache.RestorePoint) {
	defer e.wg.Done()

	result, err := e.mutator.Mutate(e.ctx, kind, entityID, action)
	if err == nil && !result.Success {
		err = &types.ConflictError{Kind: kind, EntityID: entityID, Reason: "server refused the change"}
	}

	rolledBack := false
	if err != nil {
		// Restore every touched entry to its exact pre-mutation state.
		// Entries a refetch has rewritten since the snapshot keep the newer
		// server response.
		e.store.Restore(snapshot)
		rolledBack = true
		e.log.Warn("mutation rolled back",
			zap.String("op", opID),
			zap.String("kind", string(kind)),
			zap.String("entity", entityID),
			zap.Error(err))
	} else {
		// The optimistic counters are approximations. Invalidate and
		// revalidate so lists converge on server-computed values without a
		// visible loading gap.
		for key := range snapshot {
			e.store.Invalidate(key)
		}
		e.mu.Lock()
		reval := e.revalidate
		e.mu.Unlock()
		if reval != nil {
			for key := range snapshot {
				reval(key)
			}
		}
		e.log.Debug("mutation settled", zap.String("op", opID), zap.String("entity", entityID))
	}

	// Clear the pending flag only after rollback or invalidation has fully
	// applied.
	e.mu.Lock()
	delete(e.pending[kind], entityID)
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	outcome := Outcome{
		ID:         opID,
		Kind:       kind,
		EntityID:   entityID,
		Action:     action,
		Err:        err,
		RolledBack: rolledBack,
	}
	for _, l := range listeners {
		l(outcome)
	}
}

// optimisticPatch returns the in-place entity change for a kind and action.
// Patches are idempotent so an entity already in the desired state is left
// untouched, counters included.
func optimisticPatch(kind types.Kind, action types.Action) func(*types.Smell) {
	add := action == types.ActionAdd
	switch kind {
	case types.KindFavorite:
		return func(s *types.Smell) {
			if s.Favorited == add {
				return
			}
			s.Favorited = add
			if add {
				s.FavoriteCount++
			} else if s.FavoriteCount > 0 {
				s.FavoriteCount--
			}
		}
	case types.KindProgress:
		return func(s *types.Smell) {
			s.Completed = add
		}
	}
	return func(*types.Smell) {}
}
