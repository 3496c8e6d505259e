package redjob

import "time"

// KeyStore is the narrow capability the package depends on. It is the only
// seam onto Redis: nothing in this package talks to a *redis.Pool directly
// outside of redis_keystore.go.
type KeyStore interface {
	// Lists
	ListPushTail(key string, value []byte) error
	ListPopHead(key string) ([]byte, bool, error)
	ListBlockingPopHead(keys []string, timeout time.Duration) (key string, value []byte, ok bool, err error)
	ListLen(key string) (int64, error)
	ListRemove(key string, value []byte, count int64) (int64, error)
	ListRange(key string, start, stop int64) ([][]byte, error)

	// Sorted sets
	ZAdd(key string, score float64, member string) error
	ZRangeByScore(key string, min, max float64, offset, count int64) ([]string, error)
	ZRem(key string, member string) (bool, error)
	ZCard(key string) (int64, error)

	// Strings
	Get(key string) (string, bool, error)
	Set(key, value string, ttl time.Duration) error
	SetNX(key, value string, ttl time.Duration) (bool, error)
	Del(keys ...string) error

	// Hashes
	HSet(key, field, value string) error
	HGetAll(key string) (map[string]string, error)
	HIncrBy(key, field string, delta int64) (int64, error)
	Expire(key string, ttl time.Duration) error

	// Sets
	SAdd(key, member string) error
	SRem(key, member string) error
	SMembers(key string) ([]string, error)

	// Counters
	Incr(key string) (int64, error)

	// Key enumeration
	Keys(pattern string) ([]string, error)

	Close() error
}
