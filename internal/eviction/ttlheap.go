package eviction

import (
	"container/heap"

	"github.com/redlite/redlite/internal/engine"
)

// ttlCandidate is one entry in the volatile-ttl min-heap: the key nearest to expiring sorts
// first, with an equal-TTL tie broken toward the older-updated key (Open Question decision).
type ttlCandidate struct {
	keyID       engine.KeyID
	db          engine.DBIndex
	expiresAtMs int64
	updatedAtMs int64
	index       int
}

type ttlHeap []*ttlCandidate

func (h ttlHeap) Len() int { return len(h) }

func (h ttlHeap) Less(i, j int) bool {
	if h[i].expiresAtMs != h[j].expiresAtMs {
		return h[i].expiresAtMs < h[j].expiresAtMs
	}
	return h[i].updatedAtMs < h[j].updatedAtMs
}

func (h ttlHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *ttlHeap) Push(x any) {
	c := x.(*ttlCandidate)
	c.index = len(*h)
	*h = append(*h, c)
}

func (h *ttlHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	c.index = -1
	*h = old[:n-1]
	return c
}

// ttlIndex tracks volatile-ttl candidates so they can be updated or removed in place, keyed by
// key_id across all databases (a maxmemory policy is process-wide, not per-db — spec §4.E).
type ttlIndex struct {
	heap    ttlHeap
	byKeyID map[engine.KeyID]*ttlCandidate
}

func newTTLIndex() *ttlIndex {
	return &ttlIndex{byKeyID: make(map[engine.KeyID]*ttlCandidate)}
}

func (t *ttlIndex) upsert(keyID engine.KeyID, db engine.DBIndex, expiresAtMs, updatedAtMs int64) {
	if c, ok := t.byKeyID[keyID]; ok {
		c.db, c.expiresAtMs, c.updatedAtMs = db, expiresAtMs, updatedAtMs
		heap.Fix(&t.heap, c.index)
		return
	}
	c := &ttlCandidate{keyID: keyID, db: db, expiresAtMs: expiresAtMs, updatedAtMs: updatedAtMs}
	heap.Push(&t.heap, c)
	t.byKeyID[keyID] = c
}

func (t *ttlIndex) remove(keyID engine.KeyID) {
	c, ok := t.byKeyID[keyID]
	if !ok {
		return
	}
	heap.Remove(&t.heap, c.index)
	delete(t.byKeyID, keyID)
}

// peek returns the nearest-to-expiring candidate without removing it.
func (t *ttlIndex) peek() (engine.KeyID, bool) {
	if len(t.heap) == 0 {
		return 0, false
	}
	return t.heap[0].keyID, true
}

func (t *ttlIndex) len() int { return len(t.heap) }
