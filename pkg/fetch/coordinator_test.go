package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smellsync/pkg/cache"
	"smellsync/pkg/query"
	"smellsync/pkg/types"
)

// fakeFetcher counts calls and records the search text of each one. When
// block is set, FetchList parks until the channel is closed so tests can
// overlap requests deterministically.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	searches []string
	block    chan struct{}
	fn       func(fs query.FilterState) (types.ListResult, error)
}

func (f *fakeFetcher) FetchList(ctx context.Context, fs query.FilterState) (types.ListResult, error) {
	f.mu.Lock()
	f.calls++
	f.searches = append(f.searches, fs.Search)
	block := f.block
	fn := f.fn
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return types.ListResult{}, &types.NetworkError{Op: "fetchList", Err: ctx.Err()}
		}
	}
	if fn != nil {
		return fn(fs)
	}
	return types.ListResult{Items: []types.Smell{{ID: "s1", Title: "God Function"}}, Total: 1}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) lastSearch() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.searches) == 0 {
		return ""
	}
	return f.searches[len(f.searches)-1]
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestCoordinator(f Fetcher, opts Options) (*cache.Store, *Coordinator) {
	store := cache.NewStore(cache.Options{FreshFor: time.Hour})
	return store, NewCoordinator(store, f, opts)
}

func TestEnsureFreshDeduplicatesConcurrentRequests(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	store, coord := newTestCoordinator(fetcher, Options{})
	defer coord.Close()

	fs := query.FilterState{Search: "god", Page: 1, PageSize: 10}
	key := query.Encode(fs)

	coord.EnsureFresh(fs, false)
	waitUntil(t, "first request to start", func() bool { return fetcher.callCount() == 1 })

	// Second request for the same key before the first resolves.
	coord.EnsureFresh(fs, false)
	time.Sleep(20 * time.Millisecond)

	close(fetcher.block)
	waitUntil(t, "entry to resolve", func() bool {
		return store.Get(key).Status == cache.StatusSuccess
	})

	assert.Equal(t, 1, fetcher.callCount(), "overlapping requests must share one network call")
}

func TestDebounceCollapsesTyping(t *testing.T) {
	fetcher := &fakeFetcher{}
	store, coord := newTestCoordinator(fetcher, Options{DebounceWindow: 50 * time.Millisecond})
	defer coord.Close()

	for _, text := range []string{"a", "ab", "abc"} {
		fs := query.FilterState{Search: text, Page: 1, PageSize: 10}
		coord.EnsureFresh(fs, true)
		time.Sleep(5 * time.Millisecond)
	}

	key := query.Encode(query.FilterState{Search: "abc", Page: 1, PageSize: 10})
	waitUntil(t, "debounced fetch to land", func() bool {
		return store.Get(key).Status == cache.StatusSuccess
	})

	assert.Equal(t, 1, fetcher.callCount(), "typing within the window must produce one fetch")
	assert.Equal(t, "abc", fetcher.lastSearch(), "only the final text fetches")
}

func TestImmediateFetchCancelsPendingDebounce(t *testing.T) {
	fetcher := &fakeFetcher{}
	store, coord := newTestCoordinator(fetcher, Options{DebounceWindow: 50 * time.Millisecond})
	defer coord.Close()

	typed := query.FilterState{Search: "a", Page: 1, PageSize: 10}
	coord.EnsureFresh(typed, true)

	// A discrete filter click supersedes the half-typed search.
	clicked := query.FilterState{Search: "a", Categories: query.Set("structure"), Page: 1, PageSize: 10}
	coord.EnsureFresh(clicked, false)

	waitUntil(t, "immediate fetch to land", func() bool {
		return store.Get(query.Encode(clicked)).Status == cache.StatusSuccess
	})
	time.Sleep(80 * time.Millisecond) // past the debounce window

	assert.Equal(t, 1, fetcher.callCount(), "pending debounced dispatch must be cancelled")
}

func TestRetryOnNetworkError(t *testing.T) {
	var mu sync.Mutex
	failures := 2
	fetcher := &fakeFetcher{}
	fetcher.fn = func(fs query.FilterState) (types.ListResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return types.ListResult{}, &types.NetworkError{Op: "fetchList", Err: context.DeadlineExceeded}
		}
		return types.ListResult{Items: []types.Smell{{ID: "s1"}}, Total: 1}, nil
	}

	store, coord := newTestCoordinator(fetcher, Options{RetryAttempts: 3, RetryBaseDelay: time.Millisecond})
	defer coord.Close()

	fs := query.FilterState{Page: 1, PageSize: 10}
	coord.EnsureFresh(fs, false)

	key := query.Encode(fs)
	waitUntil(t, "fetch to succeed after retries", func() bool {
		return store.Get(key).Status == cache.StatusSuccess
	})
	assert.Equal(t, 3, fetcher.callCount())
}

func TestNoRetryOnNonNetworkError(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.fn = func(fs query.FilterState) (types.ListResult, error) {
		return types.ListResult{}, &types.ValidationError{Field: "search", Reason: "too long"}
	}

	store, coord := newTestCoordinator(fetcher, Options{RetryAttempts: 3, RetryBaseDelay: time.Millisecond})
	defer coord.Close()

	fs := query.FilterState{Page: 1, PageSize: 10}
	coord.EnsureFresh(fs, false)

	key := query.Encode(fs)
	waitUntil(t, "fetch to fail", func() bool {
		return store.Get(key).Status == cache.StatusError
	})
	assert.Equal(t, 1, fetcher.callCount(), "validation errors are not retried")
	assert.True(t, types.IsValidation(store.Get(key).Err))
}

func TestFailedRefreshRetainsPreviousData(t *testing.T) {
	var mu sync.Mutex
	failing := false
	fetcher := &fakeFetcher{}
	fetcher.fn = func(fs query.FilterState) (types.ListResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return types.ListResult{}, &types.NetworkError{Op: "fetchList", Err: context.DeadlineExceeded}
		}
		return types.ListResult{Items: []types.Smell{{ID: "s1"}}, Total: 1}, nil
	}

	store, coord := newTestCoordinator(fetcher, Options{RetryAttempts: 1, RetryBaseDelay: time.Millisecond})
	defer coord.Close()

	fs := query.FilterState{Page: 1, PageSize: 10}
	key := query.Encode(fs)

	coord.EnsureFresh(fs, false)
	waitUntil(t, "initial fetch", func() bool { return store.Get(key).Status == cache.StatusSuccess })

	mu.Lock()
	failing = true
	mu.Unlock()

	store.Invalidate(key)
	coord.Revalidate(key)

	waitUntil(t, "refresh to fail", func() bool { return store.Get(key).Status == cache.StatusError })
	snap := store.Get(key)
	require.NotNil(t, snap.Data, "failed background refresh must not clear data")
	assert.Equal(t, "s1", snap.Data.Items[0].ID)
}

func TestPrefetchHasNoVisibleLoadingState(t *testing.T) {
	fetcher := &fakeFetcher{}
	store, coord := newTestCoordinator(fetcher, Options{})
	defer coord.Close()

	fs := query.FilterState{Page: 2, PageSize: 10}
	key := query.Encode(fs)

	var statuses []cache.Status
	unsub := store.Subscribe(key, func(s cache.Snapshot) { statuses = append(statuses, s.Status) })
	defer unsub()

	coord.Prefetch(fs)
	waitUntil(t, "prefetch to land", func() bool { return store.Get(key).Status == cache.StatusSuccess })

	assert.NotContains(t, statuses, cache.StatusLoading, "prefetch must not surface a loading transition")
}

func TestPrefetchNeighborsWarmsAdjacentPages(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.fn = func(fs query.FilterState) (types.ListResult, error) {
		return types.ListResult{Items: []types.Smell{{ID: "s1"}}, Total: 100}, nil
	}
	store, coord := newTestCoordinator(fetcher, Options{})
	defer coord.Close()

	fs := query.FilterState{Page: 2, PageSize: 10}
	prev, next := query.Neighbors(fs)

	coord.PrefetchNeighbors(fs)
	waitUntil(t, "both neighbors to land", func() bool {
		return store.Get(query.Encode(*prev)).Status == cache.StatusSuccess &&
			store.Get(query.Encode(*next)).Status == cache.StatusSuccess
	})
	assert.Equal(t, 2, fetcher.callCount())
}

func TestPrefetchNeighborsSkipsPastLastPage(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.fn = func(fs query.FilterState) (types.ListResult, error) {
		return types.ListResult{Items: []types.Smell{{ID: "s1"}}, Total: 5}, nil
	}
	store, coord := newTestCoordinator(fetcher, Options{})
	defer coord.Close()

	// Page one of a five-item result: no previous page, no second page.
	fs := query.FilterState{Page: 1, PageSize: 10}
	coord.EnsureFresh(fs, false)
	waitUntil(t, "current page", func() bool {
		return store.Get(query.Encode(fs)).Status == cache.StatusSuccess
	})

	coord.PrefetchNeighbors(fs)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, fetcher.callCount(), "no neighbor fetches should have fired")
}

func TestCloseDropsPendingDebouncedDispatch(t *testing.T) {
	fetcher := &fakeFetcher{}
	_, coord := newTestCoordinator(fetcher, Options{DebounceWindow: 20 * time.Millisecond})

	coord.EnsureFresh(query.FilterState{Search: "a", Page: 1, PageSize: 10}, true)
	coord.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, fetcher.callCount(), "a dispatch firing around Close must be dropped, not leaked")
}

func TestRequestsAfterCloseAreIgnored(t *testing.T) {
	fetcher := &fakeFetcher{}
	_, coord := newTestCoordinator(fetcher, Options{})
	coord.Close()

	coord.EnsureFresh(query.FilterState{Page: 1, PageSize: 10}, false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fetcher.callCount())
}

func TestRevalidateUnknownKeyIsIgnored(t *testing.T) {
	fetcher := &fakeFetcher{}
	_, coord := newTestCoordinator(fetcher, Options{})
	defer coord.Close()

	coord.Revalidate(query.Key("smells?unknown"))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, fetcher.callCount())
}
