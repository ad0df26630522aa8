// Package dedup implements the in-flight request coalescing described
// in §4.5 step 2: at most one network execution occurs per fingerprint
// at any instant, and all concurrent callers for that fingerprint
// observe equivalent outcomes.
package dedup

import (
	"sync"

	"fetchcore/internal/domain/model"
)

// Slot is a DedupSlot: a shared in-flight handle with a waiter
// refcount. It is created on first arrival for a fingerprint and
// removed from the map when its owner resolves it.
type Slot struct {
	mu       sync.Mutex
	done     chan struct{}
	resp     *model.Response
	err      error
	waiters  int
	resolved bool
}

// Coordinator owns the fingerprint->Slot map.
type Coordinator struct {
	mu    sync.Mutex
	slots map[model.Fingerprint]*Slot
}

func New() *Coordinator {
	return &Coordinator{slots: make(map[model.Fingerprint]*Slot)}
}

// Join either installs a new Slot and returns (true, Slot) meaning
// the caller owns execution, or attaches to an existing Slot as a
// waiter and returns (false, Slot). Callers that own execution MUST
// call Resolve; waiters MUST call Detach if they give up before
// resolution (e.g. on cancellation).
func (c *Coordinator) Join(fp model.Fingerprint) (owner bool, s *Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.slots[fp]; ok {
		existing.mu.Lock()
		existing.waiters++
		existing.mu.Unlock()

		return false, existing
	}

	s = &Slot{done: make(chan struct{}), waiters: 1}
	c.slots[fp] = s

	return true, s
}

// Wait blocks until the Slot's owner resolves it and returns the
// shared (cloned) result.
func (c *Coordinator) Wait(s *Slot) (*model.Response, error) {
	<-s.done

	return s.resp.Clone(), s.err
}

// Resolve is called exactly once by the owning caller. It publishes
// the outcome to every waiter and removes the Slot from the map.
func (c *Coordinator) Resolve(fp model.Fingerprint, s *Slot, resp *model.Response, err error) {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	s.resp = resp
	s.err = err
	s.mu.Unlock()

	close(s.done)

	c.mu.Lock()
	delete(c.slots, fp)
	c.mu.Unlock()
}

// Detach removes one waiter without affecting the owner's in-flight
// execution: the network call backing a Slot always runs to
// completion on behalf of whichever waiters remain, since the owner's
// own caller cancelling is not a reason to abort work other waiters
// still need (the same reasoning golang.org/x/sync/singleflight uses).
// If the departing waiter was the last one and the Slot is still
// unresolved, the Slot stays in the map — Resolve still runs and
// simply has no one left to notify except a future arrival that joins
// before resolution completes.
func (c *Coordinator) Detach(s *Slot) {
	s.mu.Lock()
	s.waiters--
	s.mu.Unlock()
}

// Done exposes the Slot's resolution channel so a caller can race
// waiting against its own context cancellation without risking a
// second, conflicting resolution path inside Coordinator.
func (s *Slot) Done() <-chan struct{} {
	return s.done
}

// Waiters reports the current refcount, for tests and observability.
func (s *Slot) Waiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.waiters
}
