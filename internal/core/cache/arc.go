// Package cache implements the Adaptive Replacement Cache from §4.5:
// resident lists T1 (recent) and T2 (frequent) plus ghost lists B1 and
// B2, with an adaptation parameter p steering the T1/T2 split on miss.
// No pack library provides this policy, so it is hand-rolled over
// container/list behind a single cache-wide mutex, matching §5's
// "ARC resident and ghost lists are guarded by a single cache-wide
// mutex; the critical section is bounded to O(1) list operations."
package cache

import (
	"container/list"
	"sync"
	"time"

	"fetchcore/internal/domain/model"
)

// Backend is the optional persistent overflow store consulted on a
// full ARC miss and written through on store. A nil Backend makes the
// cache purely in-memory.
type Backend interface {
	Get(fp model.Fingerprint) (*model.CacheEntry, bool)
	Set(fp model.Fingerprint, entry *model.CacheEntry)
	Delete(fp model.Fingerprint)
}

type entryHolder struct {
	fp    model.Fingerprint
	entry *model.CacheEntry // nil for ghost-list elements
}

// ARC is the Adaptive Replacement Cache. Capacity c bounds the
// resident set (|T1|+|T2| <= c); the combined ghost lists are bounded
// to mirror that same size.
type ARC struct {
	mu sync.Mutex

	c int
	p int

	t1, t2, b1, b2 *list.List
	index          map[model.Fingerprint]*list.Element // points into whichever list currently holds fp

	backend    Backend
	defaultTTL time.Duration

	hits, misses int64
}

func New(capacity int, defaultTTL time.Duration, backend Backend) *ARC {
	if capacity <= 0 {
		capacity = 1
	}

	return &ARC{
		c:          capacity,
		t1:         list.New(),
		t2:         list.New(),
		b1:         list.New(),
		b2:         list.New(),
		index:      make(map[model.Fingerprint]*list.Element),
		backend:    backend,
		defaultTTL: defaultTTL,
	}
}

// Get looks up fp. A hit in T1 or T2 promotes the entry per ARC rules
// (T1 hit moves to MRU of T2; T2 hit refreshes MRU of T2) and is
// reported as a cache hit. A stale-but-revalidatable entry is returned
// alongside ok=true with Response.Cached left false, so the caller can
// decide to attach conditional headers rather than treat it as a hit
// outright; a stale non-revalidatable entry is evicted and reported as
// a miss.
func (a *ARC) Get(fp model.Fingerprint) (*model.CacheEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if el, ok := a.index[fp]; ok {
		if el.Value.(*entryHolder).entry != nil {
			h := el.Value.(*entryHolder)

			if h.entry.Stale(time.Now()) && !h.entry.Revalidatable() {
				a.removeResident(fp, el)
				a.misses++

				return nil, false
			}

			if a.inList(a.t1, el) {
				a.t1.Remove(el)
				a.index[fp] = a.t2.PushFront(h)
			} else {
				a.t2.MoveToFront(el)
			}

			a.hits++

			return h.entry, true
		}
	}

	a.misses++

	if a.backend != nil {
		if entry, ok := a.backend.Get(fp); ok && !entry.Stale(time.Now()) {
			a.insertAfterMiss(fp, entry)
			return entry, true
		}
	}

	return nil, false
}

func (a *ARC) inList(l *list.List, el *list.Element) bool {
	for e := l.Front(); e != nil; e = e.Next() {
		if e == el {
			return true
		}
	}

	return false
}

// Store inserts or updates fp's entry, running the full ARC
// replacement algorithm. An entry with a zero ExpiresAt gets the
// configured default TTL.
func (a *ARC) Store(fp model.Fingerprint, entry *model.CacheEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry.ExpiresAt.IsZero() && a.defaultTTL > 0 {
		entry.ExpiresAt = time.Now().Add(a.defaultTTL)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if el, ok := a.index[fp]; ok {
		h := el.Value.(*entryHolder)
		if h.entry != nil {
			h.entry = entry
			if a.inList(a.t1, el) {
				a.t1.Remove(el)
				a.index[fp] = a.t2.PushFront(h)
			} else {
				a.t2.MoveToFront(el)
			}

			if a.backend != nil {
				a.backend.Set(fp, entry)
			}

			return
		}
	}

	a.insertAfterMiss(fp, entry)

	if a.backend != nil {
		a.backend.Set(fp, entry)
	}
}

// insertAfterMiss runs ARC's case I-IV replacement decision for a
// fingerprint not currently resident. Caller holds a.mu.
func (a *ARC) insertAfterMiss(fp model.Fingerprint, entry *model.CacheEntry) {
	inB1 := a.findIn(a.b1, fp)
	inB2 := a.findIn(a.b2, fp)

	switch {
	case inB1 != nil:
		// Case II: hit in B1 — grow p, the bias toward recency.
		delta := 1
		if a.b1.Len() > 0 && a.b2.Len() > 0 && a.b2.Len() > a.b1.Len() {
			delta = a.b2.Len() / a.b1.Len()
		}
		a.p = min(a.p+delta, a.c)

		a.replace(fp)
		a.b1.Remove(inB1)
		delete(a.index, fp)
		a.index[fp] = a.t2.PushFront(&entryHolder{fp: fp, entry: entry})

	case inB2 != nil:
		// Case III: hit in B2 — shrink p, the bias toward frequency.
		delta := 1
		if a.b1.Len() > 0 && a.b2.Len() > 0 && a.b1.Len() > a.b2.Len() {
			delta = a.b1.Len() / a.b2.Len()
		}
		a.p = max(a.p-delta, 0)

		a.replace(fp)
		a.b2.Remove(inB2)
		delete(a.index, fp)
		a.index[fp] = a.t2.PushFront(&entryHolder{fp: fp, entry: entry})

	default:
		// Case IV: fp is in neither ghost list.
		l1 := a.t1.Len() + a.b1.Len()
		if l1 == a.c {
			if a.t1.Len() < a.c {
				a.evictGhost(a.b1)
				a.replace(fp)
			} else {
				a.evictResidentLRU(a.t1)
			}
		} else if l1 < a.c && l1+a.t2.Len()+a.b2.Len() >= a.c {
			if l1+a.t2.Len()+a.b2.Len() == 2*a.c {
				a.evictGhost(a.b2)
			}
			a.replace(fp)
		}

		a.index[fp] = a.t1.PushFront(&entryHolder{fp: fp, entry: entry})
	}
}

// replace evicts one entry from T1 or T2 into its ghost list, choosing
// the side based on p, per the ARC REPLACE procedure.
func (a *ARC) replace(fp model.Fingerprint) {
	if a.t1.Len() >= 1 && ((a.t1.Len() > a.p) || (a.inGhostHit(fp, a.b2) && a.t1.Len() == a.p)) {
		a.evictResidentToGhost(a.t1, a.b1)
	} else if a.t2.Len() >= 1 {
		a.evictResidentToGhost(a.t2, a.b2)
	} else if a.t1.Len() >= 1 {
		a.evictResidentToGhost(a.t1, a.b1)
	}
}

func (a *ARC) inGhostHit(fp model.Fingerprint, ghost *list.List) bool {
	return a.findIn(ghost, fp) != nil
}

func (a *ARC) evictResidentToGhost(resident, ghost *list.List) {
	back := resident.Back()
	if back == nil {
		return
	}

	h := back.Value.(*entryHolder)
	resident.Remove(back)
	delete(a.index, h.fp)

	a.index[h.fp] = ghost.PushFront(&entryHolder{fp: h.fp, entry: nil})
}

func (a *ARC) evictResidentLRU(resident *list.List) {
	back := resident.Back()
	if back == nil {
		return
	}

	h := back.Value.(*entryHolder)
	resident.Remove(back)
	delete(a.index, h.fp)

	if a.backend != nil {
		a.backend.Delete(h.fp)
	}
}

func (a *ARC) evictGhost(ghost *list.List) {
	back := ghost.Back()
	if back == nil {
		return
	}

	h := back.Value.(*entryHolder)
	ghost.Remove(back)
	delete(a.index, h.fp)
}

func (a *ARC) findIn(l *list.List, fp model.Fingerprint) *list.Element {
	el, ok := a.index[fp]
	if !ok {
		return nil
	}

	for e := l.Front(); e != nil; e = e.Next() {
		if e == el {
			return e
		}
	}

	return nil
}

func (a *ARC) removeResident(fp model.Fingerprint, el *list.Element) {
	h := el.Value.(*entryHolder)
	if a.inList(a.t1, el) {
		a.t1.Remove(el)
	} else {
		a.t2.Remove(el)
	}
	delete(a.index, fp)

	if a.backend != nil {
		a.backend.Delete(h.fp)
	}
}

// Stats reports sizes for cache://stats and for the invariant tests in
// §8 (resident size <= c, ghost sizes <= c, p in [0, c]).
type Stats struct {
	T1, T2, B1, B2 int
	P, Capacity    int
	Hits, Misses   int64
}

// Purge drops fp from whichever list currently holds it — resident or
// ghost — and from the backend overflow store, for cache_management's
// explicit invalidation tool. A no-op if fp isn't present.
func (a *ARC) Purge(fp model.Fingerprint) {
	a.mu.Lock()
	defer a.mu.Unlock()

	el, ok := a.index[fp]
	if !ok {
		return
	}

	switch {
	case a.inList(a.t1, el):
		a.t1.Remove(el)
	case a.inList(a.t2, el):
		a.t2.Remove(el)
	case a.inList(a.b1, el):
		a.b1.Remove(el)
	case a.inList(a.b2, el):
		a.b2.Remove(el)
	}
	delete(a.index, fp)

	if a.backend != nil {
		a.backend.Delete(fp)
	}
}

func (a *ARC) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		T1: a.t1.Len(), T2: a.t2.Len(), B1: a.b1.Len(), B2: a.b2.Len(),
		P: a.p, Capacity: a.c,
		Hits: a.hits, Misses: a.misses,
	}
}
