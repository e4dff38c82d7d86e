package main

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smellsync/internal/config"
	"smellsync/internal/logging"
	"smellsync/pkg/cache"
	"smellsync/pkg/engine"
	"smellsync/pkg/mutate"
	"smellsync/pkg/query"
	"smellsync/pkg/types"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	catalogPath   string
	apiLatency    time.Duration
	failMutations bool
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the sync engine against an in-memory catalog",
	Long: `demo drives the full pipeline: debounced search typing, request
deduplication, neighbor-page prefetching, and an optimistic favorite toggle.
With --fail-mutations the server rejects every write so the rollback path is
visible.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&catalogPath, "catalog", "", "path to a catalog YAML (default: embedded sample)")
	demoCmd.Flags().DurationVar(&apiLatency, "latency", 120*time.Millisecond, "simulated network latency")
	demoCmd.Flags().BoolVar(&failMutations, "fail-mutations", false, "make the server reject every mutation")
}

func runDemo(cmd *cobra.Command, args []string) error {
	catalogYAML := defaultCatalog
	if catalogPath != "" {
		data, err := os.ReadFile(catalogPath)
		if err != nil {
			return fmt.Errorf("reading catalog: %w", err)
		}
		catalogYAML = data
	}

	api, err := newMemoryAPI(catalogYAML, apiLatency, failMutations)
	if err != nil {
		return err
	}

	tuning, err := cfg.EngineTuning()
	if err != nil {
		return err
	}

	client := engine.New(api, api, staticSession(true),
		engine.WithTuning(tuning),
		engine.WithLogger(logger))
	defer client.Close()

	// Live tuning reload when a config file is in play.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger.Named(logging.ComponentConfig), func(c config.Config) {
			if t, terr := c.EngineTuning(); terr == nil {
				client.ApplyTuning(t)
			} else {
				logger.Warn("ignoring reloaded config", zap.Error(terr))
			}
		})
		if err == nil && watcher.Start() == nil {
			defer watcher.Stop()
		}
	}

	settled := make(chan mutate.Outcome, 4)
	client.OnMutationSettled(func(o mutate.Outcome) { settled <- o })

	base := query.FilterState{Page: 1, PageSize: 5}

	fmt.Println("== initial load ==")
	first, err := client.ListQuery(base)
	if err != nil {
		return err
	}
	waitFor(func() bool { return first.Snapshot().Status == cache.StatusSuccess })

	typingStart, _ := api.Calls()
	fmt.Println("\n== typing \"god\" one keystroke at a time (debounced) ==")
	for _, text := range []string{"g", "go", "god"} {
		fs := base
		fs.Search = text
		if _, err := client.ListQuery(fs); err != nil {
			return err
		}
		time.Sleep(40 * time.Millisecond)
	}

	final := base
	final.Search = "god"
	handle, err := client.ListQuery(final)
	if err != nil {
		return err
	}
	unsub := handle.Subscribe(func(s cache.Snapshot) {
		switch {
		case s.IsLoading():
			fmt.Println("  [loading]")
		case s.IsBackgroundRefreshing():
			fmt.Printf("  [refreshing] still showing %d items\n", len(s.Data.Items))
		case s.Status == cache.StatusSuccess:
			printPage(s)
		case s.Status == cache.StatusError:
			fmt.Printf("  [error] %v\n", s.Err)
		}
	})
	defer unsub()

	waitFor(func() bool { return handle.Snapshot().Status == cache.StatusSuccess })
	typingEnd, _ := api.Calls()
	fmt.Printf("fetches for three keystrokes: %d (intermediate search text never hit the network)\n\n",
		typingEnd-typingStart)

	fmt.Println("== optimistic favorite toggle on s1 ==")
	if err := client.Dispatch(types.KindFavorite, "s1", types.ActionAdd); err != nil {
		return err
	}
	fmt.Printf("isPending(favorite, s1) = %v\n", client.IsPending(types.KindFavorite, "s1"))

	// A second click while the first is settling is rejected.
	if err := client.Dispatch(types.KindFavorite, "s1", types.ActionAdd); err != nil {
		fmt.Printf("duplicate dispatch rejected: %v\n", err)
	}

	outcome := <-settled
	if outcome.Err != nil {
		fmt.Printf("mutation failed, rolled back: %v\n", outcome.Err)
	} else {
		fmt.Println("mutation settled, lists revalidating")
	}
	fmt.Printf("isPending(favorite, s1) = %v\n\n", client.IsPending(types.KindFavorite, "s1"))

	fmt.Println("== browsing with neighbor prefetch ==")
	browse := query.FilterState{Page: 1, PageSize: 5}
	if _, err := client.ListQuery(browse); err != nil {
		return err
	}
	time.Sleep(6 * apiLatency)

	browse.Page = 2
	h2, err := client.ListQuery(browse)
	if err != nil {
		return err
	}
	if snap := h2.Snapshot(); snap.Status == cache.StatusSuccess {
		fmt.Println("page 2 served from prefetched cache:")
		printPage(snap)
	} else {
		waitFor(func() bool { return h2.Snapshot().Status == cache.StatusSuccess })
		printPage(h2.Snapshot())
	}

	stats := client.Stats()
	fmt.Printf("\ncache: %d entries, %d hits, %d misses\n", stats.Entries, stats.Hits, stats.Misses)
	listCalls, mutateCalls := api.Calls()
	fmt.Printf("api: %d list calls, %d mutate calls\n", listCalls, mutateCalls)
	return nil
}

func printPage(s cache.Snapshot) {
	fmt.Printf("  %d of %d items", len(s.Data.Items), s.Data.Total)
	if s.Stale {
		fmt.Print(" (stale)")
	}
	fmt.Println()
	for _, item := range s.Data.Items {
		marker := " "
		if item.Favorited {
			marker = "*"
		}
		fmt.Printf("  %s %-24s %-12s %-12s favorites=%d\n",
			marker, item.Title, item.Category, item.Difficulty, item.FavoriteCount)
	}
}

func waitFor(cond func() bool) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}
