// Error vocabulary shared across redlite (spec §7). These are Go errors, not RESP error codes
// directly; internal/resp and internal/dispatch classify them onto the RESP error codes from
// spec §6.1 (WRONGTYPE, ERR, NOTINT, SYNTAX, OOM, EXECABORT, NOAUTH, READONLY, NOGROUP,
// BUSYGROUP) at the boundary, the way the teacher keeps internal/core/errors.go free of any
// transport concern.
package engine

import (
	"errors"
	"fmt"
)

// Client errors (spec §7 "Client").
var (
	ErrWrongType    = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrSyntax       = errors.New("ERR syntax error")
	ErrNotInt       = errors.New("ERR value is not an integer or out of range")
	ErrNotFloat     = errors.New("ERR value is not a valid float")
	ErrOutOfRange   = errors.New("ERR index/score out of range")
	ErrNoAuth       = errors.New("NOAUTH Authentication required")
	ErrInvalidAuth  = errors.New("ERR invalid password")
	ErrNoGroup      = errors.New("NOGROUP consumer group does not exist")
	ErrBusyGroup    = errors.New("BUSYGROUP consumer group already exists")
	ErrNoSuchKey    = errors.New("ERR no such key")
	ErrNaNScore     = errors.New("ERR resulting score is not a number (NaN)")
	ErrSubscribeCtx = errors.New("ERR only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT allowed in this context")
)

// Resource errors (spec §7 "Resource").
var (
	ErrOOM       = errors.New("OOM command not allowed when used memory > 'maxmemory'")
	ErrDiskFull  = errors.New("ERR disk usage limit exceeded")
	ErrCacheFull = errors.New("ERR cache capacity exceeded")
)

// Transactional errors (spec §7 "Transactional").
var (
	ErrExecAbort = errors.New("EXECABORT Transaction discarded because of previous errors")
	ErrTryAgain  = errors.New("TRYAGAIN transient failure, retry")
)

// KeyNotFoundError is returned by type engines when an operation requires an existing key of a
// specific kind and none exists (distinct from "key absent is a valid empty result", which most
// read commands treat as a zero value rather than an error).
type KeyNotFoundError struct {
	Name []byte
}

func (e KeyNotFoundError) Error() string {
	return fmt.Sprintf("ERR no such key %q", e.Name)
}

// Is allows errors.Is(err, ErrNoSuchKey) to match any KeyNotFoundError.
func (e KeyNotFoundError) Is(target error) bool {
	return target == ErrNoSuchKey
}
