// Package types provides shared type definitions used across smellsync packages.
// This package exists to break import cycles between cache, fetch, and mutate.
// Types in this package should be foundational data structures with no complex dependencies.
package types

// Smell is a single catalog entry as it appears in browse and favorites lists.
// Counters are best-effort client-side approximations between mutations; a
// background refetch reconciles them with server-computed values.
type Smell struct {
	ID            string `yaml:"id" json:"id"`
	Title         string `yaml:"title" json:"title"`
	Category      string `yaml:"category" json:"category"`
	Difficulty    string `yaml:"difficulty" json:"difficulty"`
	FavoriteCount int    `yaml:"favorite_count" json:"favoriteCount"`
	Favorited     bool   `yaml:"favorited" json:"favorited"`
	Completed     bool   `yaml:"completed" json:"completed"`
}

// ListResult is one page of catalog entries plus the unpaginated total.
type ListResult struct {
	Items []Smell `json:"items"`
	Total int     `json:"total"`
}

// Clone returns a deep copy of the result. Smell contains no reference types,
// so copying the backing slice is sufficient for exact restoration.
func (r ListResult) Clone() ListResult {
	out := ListResult{Total: r.Total}
	if r.Items != nil {
		out.Items = make([]Smell, len(r.Items))
		copy(out.Items, r.Items)
	}
	return out
}

// Kind identifies a toggle-style mutation family. At most one mutation per
// entity and kind may be in flight at a time.
type Kind string

const (
	// KindFavorite toggles an entry on the user's favorites list.
	KindFavorite Kind = "favorite"
	// KindProgress toggles an entry's completed-study marker.
	KindProgress Kind = "progress"
)

// Valid reports whether k is a known mutation kind.
func (k Kind) Valid() bool {
	return k == KindFavorite || k == KindProgress
}

// Action is the direction of a toggle mutation.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionAdd || a == ActionRemove
}

// MutationResult is the server's verdict on a mutation call. Success=false
// means the server rejected the action even though the transport succeeded.
type MutationResult struct {
	Success         bool           `json:"success"`
	UpdatedCounters map[string]int `json:"updatedCounters,omitempty"`
}
