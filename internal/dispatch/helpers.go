package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/storage"
)

var errDBIndexRange = errors.New("ERR DB index is out of range")

func upperArg(b []byte) string {
	return strings.ToUpper(string(b))
}

// recordHistory appends one version to the history tracker if one is configured (embedded mode
// can run without history tracking enabled at all, spec §4.I). Errors are logged rather than
// propagated: a history-tracking failure must never fail the mutating command that triggered it.
func (d *Dispatcher) recordHistory(ctx context.Context, tx storage.Tx, keyID engine.KeyID, db engine.DBIndex, op string, kind engine.Kind, snapshot []byte) {
	if d.History == nil {
		return
	}
	if err := d.History.Record(ctx, tx, keyID, db, op, kind, snapshot); err != nil {
		d.Logger.Warn("history record failed", "op", op, "key_id", keyID, "error", err)
	}
}

// touchKey informs the eviction manager's recency/frequency trackers that keyID was just
// accessed or written (spec §4.E policies keyed on LRU/LFU). A no-op when eviction is disabled.
func (d *Dispatcher) touchKey(keyID engine.KeyID, db engine.DBIndex) {
	if d.Eviction != nil {
		d.Eviction.Touch(keyID, db)
	}
}
