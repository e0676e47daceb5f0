package history

// RetentionKind selects how a history.Policy bounds the version log.
type RetentionKind int

const (
	// RetentionNone disables tracking entirely — no version is appended.
	RetentionNone RetentionKind = iota
	// RetentionCount keeps only the last N versions.
	RetentionCount
	// RetentionTime drops versions older than a duration, measured from the newest entry at
	// prune time.
	RetentionTime
)

// Policy configures retention for one scope (global, per-database, or per-key — nearest scope
// wins, spec §4.I "Configurable at global, per-database, or per-key scope").
type Policy struct {
	Kind RetentionKind
	// Count is the number of versions to keep, used when Kind == RetentionCount.
	Count int64
	// TTLMs is the retention window in milliseconds, used when Kind == RetentionTime.
	TTLMs int64
}

// NoneRetention returns a Policy that disables tracking.
func NoneRetention() Policy { return Policy{Kind: RetentionNone} }

// CountRetention returns a Policy keeping the last n versions.
func CountRetention(n int64) Policy { return Policy{Kind: RetentionCount, Count: n} }

// TimeRetention returns a Policy dropping versions older than ttlMs.
func TimeRetention(ttlMs int64) Policy { return Policy{Kind: RetentionTime, TTLMs: ttlMs} }

// Enabled reports whether this policy tracks history at all.
func (p Policy) Enabled() bool { return p.Kind != RetentionNone }
