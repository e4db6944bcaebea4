// Package cache defines the Cache Client contract (spec.md §4.1): keyed
// hash/set/sorted-set operations plus a scripted compare-and-swap primitive
// for the multi-field atomic writes equip/unequip and stack merges need.
//
// Two implementations exist: Redis (production) and Memory (tests). Both
// satisfy the same interface so managers never know which one they're
// talking to, mirroring the teacher's Manager holding a jetstream.KeyValue
// behind its own method set rather than leaking the client type around.
package cache

import "context"

// CASCheck asserts that, at execution time, the hash field at Key/Field
// either equals Expect (Exists=true) or is absent (Exists=false). A
// CompareAndSwap call fails (returns ok=false) without applying anything if
// any check does not hold.
type CASCheck struct {
	Key    string
	Field  string
	Exists bool
	Expect string // only meaningful when Exists is true
}

// HSetOp is one hash-field write to apply as part of a CompareAndSwap.
type HSetOp struct {
	Key, Field, Value string
}

// HDelOp is one hash-field delete to apply as part of a CompareAndSwap.
type HDelOp struct {
	Key, Field string
}

// Cache is the hash/set/sorted-set store the Game State Core's manager
// layer is built on. Implementations must preserve per-key atomicity: for
// any single key, an observer sees either the pre- or post-state of a write,
// never a partial one.
type Cache interface {
	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key, field string) error
	HKeys(ctx context.Context, key string) ([]string, error)

	SAdd(ctx context.Context, set, member string) error
	SRem(ctx context.Context, set, member string) error
	SMembers(ctx context.Context, set string) ([]string, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	// Del removes an entire key (hash, set, or sorted set).
	Del(ctx context.Context, key string) error

	// CompareAndSwap atomically verifies every check, and — only if all
	// checks hold — applies every set and every delete, all against the
	// same underlying store in one indivisible step. Returns ok=false (no
	// error) if a check failed; callers treat that as a rejected mutation,
	// not a transient failure.
	CompareAndSwap(ctx context.Context, checks []CASCheck, sets []HSetOp, dels []HDelOp) (ok bool, err error)
}
