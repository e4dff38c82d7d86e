package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"smellsync/pkg/query"
	"smellsync/pkg/types"
)

// memoryAPI implements the fetch.Fetcher and mutate.Mutator contracts over
// an in-memory catalog. It stands in for the HTTP API layer that is out of
// scope for the sync core, and doubles as executable documentation of the
// collaborator contracts.
type memoryAPI struct {
	mu     sync.Mutex
	smells []types.Smell

	latency       time.Duration
	failMutations bool

	listCalls   int
	mutateCalls int
}

type catalogFile struct {
	Smells []types.Smell `yaml:"smells"`
}

func newMemoryAPI(catalogYAML []byte, latency time.Duration, failMutations bool) (*memoryAPI, error) {
	var cat catalogFile
	if err := yaml.Unmarshal(catalogYAML, &cat); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(cat.Smells) == 0 {
		return nil, errors.New("catalog contains no smells")
	}
	return &memoryAPI{smells: cat.Smells, latency: latency, failMutations: failMutations}, nil
}

// FetchList filters, sorts, and paginates the catalog the way the real
// server-side query would.
func (m *memoryAPI) FetchList(ctx context.Context, fs query.FilterState) (types.ListResult, error) {
	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return types.ListResult{}, &types.NetworkError{Op: "fetchList", Err: ctx.Err()}
		case <-time.After(m.latency):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++

	search := strings.ToLower(strings.TrimSpace(fs.Search))
	var matched []types.Smell
	for _, s := range m.smells {
		if search != "" && !strings.Contains(strings.ToLower(s.Title), search) {
			continue
		}
		if len(fs.Categories) > 0 {
			if _, ok := fs.Categories[s.Category]; !ok {
				continue
			}
		}
		if len(fs.Difficulties) > 0 {
			if _, ok := fs.Difficulties[s.Difficulty]; !ok {
				continue
			}
		}
		matched = append(matched, s)
	}

	sortSmells(matched, fs.SortBy, fs.SortOrder)

	total := len(matched)
	start := (fs.Page - 1) * fs.PageSize
	if start > total {
		start = total
	}
	end := start + fs.PageSize
	if end > total {
		end = total
	}
	page := make([]types.Smell, end-start)
	copy(page, matched[start:end])

	return types.ListResult{Items: page, Total: total}, nil
}

// Mutate applies a toggle to the catalog, or rejects it when failure
// injection is on.
func (m *memoryAPI) Mutate(ctx context.Context, kind types.Kind, entityID string, action types.Action) (types.MutationResult, error) {
	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return types.MutationResult{}, &types.NetworkError{Op: "mutate", Err: ctx.Err()}
		case <-time.After(m.latency):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutateCalls++

	if m.failMutations {
		return types.MutationResult{Success: false}, nil
	}

	add := action == types.ActionAdd
	for i := range m.smells {
		if m.smells[i].ID != entityID {
			continue
		}
		switch kind {
		case types.KindFavorite:
			if m.smells[i].Favorited != add {
				m.smells[i].Favorited = add
				if add {
					m.smells[i].FavoriteCount++
				} else if m.smells[i].FavoriteCount > 0 {
					m.smells[i].FavoriteCount--
				}
			}
			return types.MutationResult{
				Success:         true,
				UpdatedCounters: map[string]int{"favoriteCount": m.smells[i].FavoriteCount},
			}, nil
		case types.KindProgress:
			m.smells[i].Completed = add
			return types.MutationResult{Success: true}, nil
		}
	}
	return types.MutationResult{Success: false}, nil
}

// Calls returns how many list and mutate requests the API has served.
func (m *memoryAPI) Calls() (listCalls, mutateCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls, m.mutateCalls
}

func sortSmells(items []types.Smell, by query.SortField, order query.SortOrder) {
	desc := order == query.Desc
	less := func(a, b types.Smell) bool {
		switch by {
		case query.SortByCategory:
			if a.Category != b.Category {
				return a.Category < b.Category
			}
		case query.SortByDifficulty:
			if a.Difficulty != b.Difficulty {
				return a.Difficulty < b.Difficulty
			}
		case query.SortByFavorites:
			if a.FavoriteCount != b.FavoriteCount {
				return a.FavoriteCount < b.FavoriteCount
			}
		}
		return a.Title < b.Title
	}
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

// staticSession satisfies mutate.Session for the demo.
type staticSession bool

func (s staticSession) Authenticated() bool { return bool(s) }
