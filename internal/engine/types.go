// Package engine holds the domain primitives shared by every redlite subsystem: the key kind
// tag, the key record returned by the Key Directory, and the error vocabulary from spec §7.
// It is intentionally dependency-free (no storage, no resp) so every other internal package can
// import it without creating cycles.
package engine

import "time"

// Kind tags the dynamically-typed value a key currently holds (spec §3.1, §9).
type Kind string

const (
	KindString Kind = "string"
	KindHash   Kind = "hash"
	KindList   Kind = "list"
	KindSet    Kind = "set"
	KindZSet   Kind = "zset"
	KindStream Kind = "stream"
)

// KeyID is the stable, never-reused-while-live identifier assigned to a key record.
type KeyID int64

// DBIndex selects one of the logical, disjoint namespaces (spec §3.1).
type DBIndex int

// KeyRecord is the Key Directory's view of one key (spec §3.1).
type KeyRecord struct {
	KeyID       KeyID
	DBIndex     DBIndex
	Name        []byte
	Kind        Kind
	CreatedAtMs int64
	UpdatedAtMs int64
	// ExpiresAtMs is nil when the key has no TTL.
	ExpiresAtMs *int64
}

// Expired reports whether the record is logically absent at the given wall-clock time
// (spec §3.2 invariant 2).
func (k *KeyRecord) Expired(nowMs int64) bool {
	return k.ExpiresAtMs != nil && *k.ExpiresAtMs <= nowMs
}

// NowMs returns the current wall-clock time in Unix milliseconds. Centralized so tests can
// reason about a single time source.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
