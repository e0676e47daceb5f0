package keydir

import (
	"sync"

	"github.com/redlite/redlite/internal/engine"
)

// WatchRegistry tracks a monotonic revision counter per key_id, entirely in process memory
// (spec §4.F, §9: WATCH is a best-effort, single-process optimistic lock; it is not persisted
// and does not survive a restart). The transaction engine snapshots revisions at WATCH time and
// compares them again at EXEC time.
type WatchRegistry struct {
	mu   sync.RWMutex
	revs map[engine.KeyID]uint64
}

// NewWatchRegistry builds an empty registry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{revs: make(map[engine.KeyID]uint64)}
}

// Bump advances keyID's revision. Called on every create, write, TTL change, or delete that
// touches the key, including lazy expiry.
func (w *WatchRegistry) Bump(keyID engine.KeyID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.revs[keyID]++
}

// Revision returns keyID's current revision (0 if never touched since process start).
func (w *WatchRegistry) Revision(keyID engine.KeyID) uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.revs[keyID]
}

// Forget drops bookkeeping for keyID. Safe to call periodically for deleted keys since a
// missing entry is equivalent to revision 0 and Bump re-creates it on demand; mainly useful to
// bound memory on a long-running process with high key churn.
func (w *WatchRegistry) Forget(keyID engine.KeyID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.revs, keyID)
}
