package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGarbageCollectRespectsRetention(t *testing.T) {
	t.Parallel()

	s := NewStore(Options{Retention: 10 * time.Millisecond})
	key := testKey(1)

	seq, _ := s.BeginFetch(key, testFilter(1))
	s.Complete(key, seq, testResult("s1"), nil)

	// Inside the grace period nothing is removed.
	assert.Equal(t, 0, s.GarbageCollect())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, s.GarbageCollect())
	assert.Equal(t, 0, s.StatsSnapshot().Entries)
}

func TestGarbageCollectSparesSubscribedEntries(t *testing.T) {
	t.Parallel()

	s := NewStore(Options{Retention: time.Nanosecond})
	key := testKey(1)

	unsub := s.Subscribe(key, func(Snapshot) {})
	time.Sleep(time.Millisecond)

	assert.Equal(t, 0, s.GarbageCollect(), "subscribed entries are never collected")

	unsub()
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, s.GarbageCollect())
}

func TestGarbageCollectSparesInflightEntries(t *testing.T) {
	t.Parallel()

	s := NewStore(Options{Retention: time.Nanosecond})
	key := testKey(1)

	seq, res := s.BeginFetch(key, testFilter(1))
	require.Equal(t, BeginStarted, res)
	time.Sleep(time.Millisecond)

	assert.Equal(t, 0, s.GarbageCollect(), "in-flight entries are never collected")

	s.Complete(key, seq, testResult("s1"), nil)
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, s.GarbageCollect())
}

func TestGCLoopStartStop(t *testing.T) {
	s := NewStore(Options{Retention: time.Nanosecond, GCInterval: 5 * time.Millisecond})
	key := testKey(1)

	seq, _ := s.BeginFetch(key, testFilter(1))
	s.Complete(key, seq, testResult("s1"), nil)

	s.StartGC()
	s.StartGC() // second start is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.StatsSnapshot().Entries > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, s.StatsSnapshot().Entries, "background sweep should collect the entry")

	s.Stop()
	s.Stop() // second stop is a no-op
}
