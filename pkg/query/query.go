// Package query turns filter, sort, and pagination state into canonical
// cache keys. Encoding is pure and order-independent: two semantically equal
// filter states always produce the same key, regardless of how their
// selection sets were built.
package query

import (
	"fmt"
	"sort"
	"strings"

	"smellsync/pkg/types"
)

// SortField enumerates the server-supported sort columns.
type SortField string

const (
	SortByTitle      SortField = "title"
	SortByCategory   SortField = "category"
	SortByDifficulty SortField = "difficulty"
	SortByFavorites  SortField = "favorites"
	SortByCreated    SortField = "created"
)

// Valid reports whether f is a known sort field. The empty value is valid and
// encodes as the default (title).
func (f SortField) Valid() bool {
	switch f {
	case "", SortByTitle, SortByCategory, SortByDifficulty, SortByFavorites, SortByCreated:
		return true
	}
	return false
}

// SortOrder is the sort direction. Empty encodes as ascending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Valid reports whether o is a known sort order.
func (o SortOrder) Valid() bool {
	return o == "" || o == Asc || o == Desc
}

// FilterState is a snapshot of the UI's filter, sort, and pagination
// controls. The sync core reads it but never mutates or persists it.
type FilterState struct {
	Search       string
	Categories   map[string]struct{}
	Difficulties map[string]struct{}
	SortBy       SortField
	SortOrder    SortOrder
	Page         int
	PageSize     int
}

// Set builds a selection set from its values. Duplicates collapse, so two
// sets built from differently ordered or repeated inputs compare equal.
func Set(values ...string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// Key is the canonical identity of a FilterState.
type Key string

// Encode produces the canonical Key for fs. Selection sets are sorted before
// encoding, search text is trimmed, and zero values for sort field and order
// encode as their defaults, so an empty filter and an explicitly cleared
// filter share a key.
func Encode(fs FilterState) Key {
	sortBy := fs.SortBy
	if sortBy == "" {
		sortBy = SortByTitle
	}
	order := fs.SortOrder
	if order == "" {
		order = Asc
	}
	return Key(fmt.Sprintf("smells?search=%s&cat=%s&diff=%s&sort=%s:%s&page=%d&size=%d",
		strings.TrimSpace(fs.Search),
		strings.Join(sortedSet(fs.Categories), ","),
		strings.Join(sortedSet(fs.Difficulties), ","),
		sortBy, order, fs.Page, fs.PageSize))
}

// Neighbors returns the filter states for the previous and next page with
// all other fields held constant. prev is nil on the first page. The caller
// bounds next against the known total, if any.
func Neighbors(fs FilterState) (prev, next *FilterState) {
	if fs.Page > 1 {
		p := fs
		p.Page--
		prev = &p
	}
	n := fs
	n.Page++
	next = &n
	return prev, next
}

// Validate checks fs against the data-model contract: page at least 1, a
// positive page size, and known sort field and order.
func Validate(fs FilterState) error {
	if fs.Page < 1 {
		return &types.ValidationError{Field: "page", Reason: fmt.Sprintf("must be >= 1, got %d", fs.Page)}
	}
	if fs.PageSize < 1 {
		return &types.ValidationError{Field: "pageSize", Reason: fmt.Sprintf("must be > 0, got %d", fs.PageSize)}
	}
	if !fs.SortBy.Valid() {
		return &types.ValidationError{Field: "sortBy", Reason: fmt.Sprintf("unknown sort field %q", fs.SortBy)}
	}
	if !fs.SortOrder.Valid() {
		return &types.ValidationError{Field: "sortOrder", Reason: fmt.Sprintf("unknown sort order %q", fs.SortOrder)}
	}
	return nil
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
