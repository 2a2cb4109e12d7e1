package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// WindowStore implements Store with an in-memory sliding-window log per key.
// Windows are created lazily on first admission and reclaimed by a periodic
// sweep once they hold no timestamps, bounding memory under high key
// cardinality regardless of request volume.
type WindowStore struct {
	mu      sync.RWMutex
	windows map[string]*window

	sweepInterval time.Duration
	stopSweep     chan struct{}
	closeOnce     sync.Once

	// maxWindow tracks the largest window duration seen, so the sweep
	// never discards timestamps an admission check could still count.
	maxWindow atomic.Int64

	// now is swappable for tests.
	now func() time.Time
}

// window holds the recent admission timestamps for one key, always sorted
// ascending. Each window has its own lock so admissions for distinct keys
// never contend.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	// gone is set when the sweep removes the window from the map. An
	// admitter holding a stale pointer must re-fetch rather than append
	// to an orphan the next request would no longer count.
	gone bool
}

// NewWindowStore creates a store whose sweep runs at the given interval.
// A non-positive interval disables the sweep (tests).
func NewWindowStore(sweepInterval time.Duration) *WindowStore {
	s := &WindowStore{
		windows:       make(map[string]*window),
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		now:           time.Now,
	}
	if sweepInterval > 0 {
		go s.sweepLoop()
	}
	return s
}

// Admit applies the sliding-window log algorithm: prune timestamps older
// than now-window, reject without mutation when the retained count reaches
// limit, otherwise record now.
func (s *WindowStore) Admit(_ context.Context, key string, limit int, windowDur time.Duration) (Decision, error) {
	for {
		cur := s.maxWindow.Load()
		if int64(windowDur) <= cur || s.maxWindow.CompareAndSwap(cur, int64(windowDur)) {
			break
		}
	}
	var w *window
	for {
		w = s.getOrCreate(key)
		w.mu.Lock()
		if !w.gone {
			break
		}
		// The sweep removed this window between the fetch and the lock.
		w.mu.Unlock()
	}
	defer w.mu.Unlock()

	now := s.now()
	w.prune(now.Add(-windowDur))

	retained := len(w.stamps)
	if retained >= limit {
		return Decision{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   now.Add(windowDur),
		}, nil
	}

	w.stamps = append(w.stamps, now)
	resetAt := w.stamps[0].Add(windowDur)
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - retained - 1,
		ResetAt:   resetAt,
	}, nil
}

// Close stops the background sweep.
func (s *WindowStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopSweep) })
	return nil
}

// TrackedKeys returns the number of keys currently held (tests, stats).
func (s *WindowStore) TrackedKeys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

func (s *WindowStore) getOrCreate(key string) *window {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[key]; ok {
		return w
	}
	w = &window{}
	s.windows[key] = w
	return w
}

// prune drops timestamps at or before cutoff. Stamps are ascending, so a
// single scan for the first retained index suffices. Pruning an already
// pruned window is a no-op. Must hold w.mu.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

func (s *WindowStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(s.now())
		case <-s.stopSweep:
			return
		}
	}
}

// sweep prunes every tracked window and removes the empty ones. The map
// lock is never held while a window is pruned: keys are snapshotted first,
// then each window takes only its own lock, so admissions proceed during
// the sweep.
func (s *WindowStore) sweep(now time.Time) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.windows))
	for k := range s.windows {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	for _, k := range keys {
		s.mu.RLock()
		w, ok := s.windows[k]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		w.mu.Lock()
		// Prune against the largest window any admission check uses, so a
		// timestamp still countable by some caller is never discarded.
		w.prune(now.Add(-time.Duration(s.maxWindow.Load())))
		empty := len(w.stamps) == 0
		w.mu.Unlock()

		if empty {
			s.mu.Lock()
			if w2, ok := s.windows[k]; ok && w2 == w {
				w.mu.Lock()
				if len(w.stamps) == 0 {
					w.gone = true
					delete(s.windows, k)
				}
				w.mu.Unlock()
			}
			s.mu.Unlock()
		}
	}
}
