// Package inflight keeps a submit action from running twice at once. A second
// submission while the first is outstanding is refused rather than queued.
package inflight

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrInFlight is returned when the action is already running.
var ErrInFlight = errors.New("request already in progress")

// Guard admits one call of an action at a time.
type Guard struct {
	sem     *semaphore.Weighted
	running atomic.Bool
}

// NewGuard returns an idle guard.
func NewGuard() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// Do runs fn unless another call is outstanding, in which case it returns
// ErrInFlight without calling fn. The guard is released when fn returns.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !g.sem.TryAcquire(1) {
		return ErrInFlight
	}
	g.running.Store(true)
	defer func() {
		g.running.Store(false)
		g.sem.Release(1)
	}()
	return fn(ctx)
}

// Busy reports whether a call is outstanding. Renderers poll it to disable the
// submit control, so it never touches the semaphore.
func (g *Guard) Busy() bool {
	return g.running.Load()
}

type entry struct {
	guard *Guard
	refs  int
}

// Set guards named actions. A name's guard exists only while a call for it
// is running, so per-record names do not accumulate.
type Set struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{entries: make(map[string]*entry)}
}

// Do runs fn under the guard for action. See Guard.Do.
func (s *Set) Do(ctx context.Context, action string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	e, ok := s.entries[action]
	if !ok {
		e = &entry{guard: NewGuard()}
		s.entries[action] = e
	}
	e.refs++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.entries, action)
		}
		s.mu.Unlock()
	}()
	return e.guard.Do(ctx, fn)
}

// Len returns the number of actions currently tracked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Busy lists, sorted, the actions with an outstanding call.
func (s *Set) Busy() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var busy []string
	for name, e := range s.entries {
		if e.guard.Busy() {
			busy = append(busy, name)
		}
	}
	sort.Strings(busy)
	return busy
}
