package eviction

import "fmt"

// Policy selects how the Manager picks eviction victims once a write would push the store past
// maxmemory/maxdisk (spec §4.E "Memory-pressure eviction").
type Policy string

const (
	PolicyNoEviction     Policy = "noeviction"
	PolicyAllKeysLRU     Policy = "allkeys-lru"
	PolicyAllKeysLFU     Policy = "allkeys-lfu"
	PolicyAllKeysRandom  Policy = "allkeys-random"
	PolicyVolatileLRU    Policy = "volatile-lru"
	PolicyVolatileLFU    Policy = "volatile-lfu"
	PolicyVolatileTTL    Policy = "volatile-ttl"
	PolicyVolatileRandom Policy = "volatile-random"
)

// ParsePolicy validates a maxmemory-policy / maxdisk-policy config string.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyNoEviction, PolicyAllKeysLRU, PolicyAllKeysLFU, PolicyAllKeysRandom,
		PolicyVolatileLRU, PolicyVolatileLFU, PolicyVolatileTTL, PolicyVolatileRandom:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("eviction: unknown policy %q", s)
	}
}

// VolatileOnly reports whether p only considers keys that carry a TTL (spec: "volatile-* only
// consider keys with TTL").
func (p Policy) VolatileOnly() bool {
	switch p {
	case PolicyVolatileLRU, PolicyVolatileLFU, PolicyVolatileTTL, PolicyVolatileRandom:
		return true
	default:
		return false
	}
}
