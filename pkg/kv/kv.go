// Package kv defines the abstract key/value backend the store is built on:
// hashes, sets and sorted sets plus one atomic check-and-lock primitive.
// Two implementations exist: a Redis-backed one for deployments and an
// in-process one for tests and single-node development.
package kv

import "context"

// ZMember is a scored member of a sorted set.
type ZMember struct {
	Member string
	Score  float64
}

// Store is the primitive surface the metadata layer is written against.
//
// Sorted-set range arguments follow Redis ZRANGEBYLEX syntax: "[x" and "(x"
// for inclusive/exclusive bounds, "-" and "+" for the extremes. A count of
// -1 means unbounded.
type Store interface {
	// Plain keys.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Hashes.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	// Sets.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Sorted sets.
	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeByLex(ctx context.Context, key, min, max string, offset, count int64) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]string, error)
	ZInterStore(ctx context.Context, dest string, keys ...string) (int64, error)

	// Incr allocates monotonically increasing integers under key.
	Incr(ctx context.Context, key string) (int64, error)

	// CheckAndLock atomically sets the "locked" field of the hash at key to
	// "1" and returns true, unless the field is already "1" or the hash's
	// "dateExpires" field holds a timestamp later than now (milliseconds).
	// This is the single cross-caller mutual-exclusion primitive; it must
	// not be emulated with a read-then-write pair.
	CheckAndLock(ctx context.Context, key string, now int64) (bool, error)

	Close() error
}

const (
	lockedField  = "locked"
	expiresField = "dateExpires"
)
