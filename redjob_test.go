package redjob

import (
	"github.com/gomodule/redigo/redis"
)

// newTestPool dials a local Redis for tests that need a real KeyStore
// rather than exercising pure logic.
func newTestPool(addr string) *redis.Pool {
	return &redis.Pool{
		MaxActive:   8,
		MaxIdle:     8,
		IdleTimeout: 240000000000,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
		Wait: true,
	}
}

// cleanKeyspace deletes every key under prefix so each test starts from an
// empty namespace.
func cleanKeyspace(prefix string, pool *redis.Pool) {
	conn := pool.Get()
	defer conn.Close()

	keys, err := redis.Strings(conn.Do("KEYS", prefix+"*"))
	if err != nil {
		panic("redjob: could not list keys: " + err.Error())
	}
	for _, k := range keys {
		if _, err := conn.Do("DEL", k); err != nil {
			panic("redjob: could not del key: " + err.Error())
		}
	}
}

// newTestContext returns a Context backed by a freshly cleaned Redis
// namespace, for tests exercising the package against a real KeyStore.
func newTestContext(prefix string) *Context {
	pool := newTestPool("127.0.0.1:6379")
	cleanKeyspace(prefix, pool)
	store := NewRedisKeyStore(pool)
	return NewContext(store, prefix)
}
