package cache

// Mutation support. The optimistic engine snapshots every entry that holds a
// representation of an entity, patches them in place, and restores the
// snapshot byte for byte if the server rejects the change.

import (
	"time"

	"smellsync/pkg/query"
	"smellsync/pkg/types"
)

// RestorePoint captures one entry's data for rollback, together with the
// fetch sequence and completion time it was taken at. Restore uses both to
// detect entries a newer fetch has since rewritten.
type RestorePoint struct {
	data      types.ListResult
	seq       uint64
	fetchedAt time.Time
}

// EntriesContaining returns a restore point for every successful entry whose
// page includes the entity. The deep copies form the rollback snapshot for an
// optimistic mutation; restoring them reproduces the pre-mutation state
// exactly.
func (s *Store) EntriesContaining(entityID string) map[query.Key]RestorePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[query.Key]RestorePoint)
	for k, e := range s.entries {
		if e.data == nil {
			continue
		}
		for i := range e.data.Items {
			if e.data.Items[i].ID == entityID {
				out[k] = RestorePoint{data: e.data.Clone(), seq: e.seq, fetchedAt: e.fetchedAt}
				break
			}
		}
	}
	return out
}

// ApplyPatch runs fn against every cached copy of the entity and notifies
// subscribers of each touched key. The patch runs synchronously so the UI
// reflects the optimistic state with zero latency.
func (s *Store) ApplyPatch(entityID string, fn func(*types.Smell)) {
	type pending struct {
		subs []func(Snapshot)
		snap Snapshot
	}
	var notifies []pending

	s.mu.Lock()
	for _, e := range s.entries {
		if e.data == nil {
			continue
		}
		touched := false
		for i := range e.data.Items {
			if e.data.Items[i].ID == entityID {
				fn(&e.data.Items[i])
				touched = true
			}
		}
		if touched {
			subs, snap := s.collectLocked(e)
			notifies = append(notifies, pending{subs, snap})
		}
	}
	s.mu.Unlock()

	for _, n := range notifies {
		notify(n.subs, n.snap)
	}
}

// Restore overwrites entry data with the snapshot copies and notifies
// subscribers. An entry is skipped when it no longer exists or when its fetch
// sequence or completion time has moved past the restore point's: a fetch
// that completed after the snapshot carries server truth and supersedes it,
// the same last-write-wins rule Complete applies to obsolete responses.
func (s *Store) Restore(snapshot map[query.Key]RestorePoint) {
	type pending struct {
		subs []func(Snapshot)
		snap Snapshot
	}
	var notifies []pending

	s.mu.Lock()
	for k, p := range snapshot {
		e, ok := s.entries[k]
		if !ok || e.data == nil {
			continue
		}
		if e.seq != p.seq || !e.fetchedAt.Equal(p.fetchedAt) {
			continue
		}
		restored := p.data.Clone()
		e.data = &restored
		subs, snap := s.collectLocked(e)
		notifies = append(notifies, pending{subs, snap})
	}
	s.mu.Unlock()

	for _, n := range notifies {
		notify(n.subs, n.snap)
	}
}
