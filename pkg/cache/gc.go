package cache

import (
	"time"

	"go.uber.org/zap"
)

// StartGC launches the background sweep loop. It is a no-op if the collector
// is already running.
func (s *Store) StartGC() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	interval := s.opts.GCInterval
	s.mu.Unlock()

	go s.gcLoop(interval)
}

// Stop halts the background collector and waits for it to exit.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

func (s *Store) gcLoop(interval time.Duration) {
	defer close(s.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.GarbageCollect()
		}
	}
}

// GarbageCollect runs one sweep immediately and returns the number of
// entries removed. An entry is removed only when it has zero subscribers, no
// fetch in flight, and its last access is older than the retention window.
func (s *Store) GarbageCollect() int {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for k, e := range s.entries {
		if len(e.subscribers) > 0 || e.inflight {
			continue
		}
		if now.Sub(e.lastAccess) < s.opts.Retention {
			continue
		}
		delete(s.entries, k)
		removed++
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.log.Debug("cache swept", zap.Int("removed", removed), zap.Int("remaining", remaining))
	}
	return removed
}
