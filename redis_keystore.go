package redjob

import (
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

// redisKeyStore implements KeyStore over a *redis.Pool, grounded on the
// teacher's redis.go/dead_pool_reaper.go call patterns (conn := pool.Get();
// defer conn.Close(); conn.Do(...)).
type redisKeyStore struct {
	pool *redis.Pool
}

// NewRedisKeyStore adapts an existing redigo pool into a KeyStore. The pool's
// lifecycle (including reconnects) is owned by the caller; redjob never
// shares a connection across a forked/re-exec'd child.
func NewRedisKeyStore(pool *redis.Pool) KeyStore {
	return &redisKeyStore{pool: pool}
}

// NewRedisPool builds a redigo pool from a parsed DSN, mirroring the
// teacher's test-only newTestPool (webui/webui_test.go) but dialing with
// the scheme, auth, and db a DSN actually carries.
func NewRedisPool(d *DSN) *redis.Pool {
	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	return &redis.Pool{
		MaxActive:   16,
		MaxIdle:     8,
		IdleTimeout: 240 * time.Second,
		Wait:        true,
		Dial: func() (redis.Conn, error) {
			opts := []redis.DialOption{}
			if d.HasPass {
				opts = append(opts, redis.DialPassword(d.Pass))
			}
			if d.HasDB {
				opts = append(opts, redis.DialDatabase(d.DB))
			}
			return redis.Dial("tcp", addr, opts...)
		},
	}
}

func (r *redisKeyStore) conn() redis.Conn { return r.pool.Get() }

func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

func (r *redisKeyStore) ListPushTail(key string, value []byte) error {
	conn := r.conn()
	defer conn.Close()
	_, err := conn.Do("RPUSH", key, value)
	return wrapTransport("list_push_tail", err)
}

func (r *redisKeyStore) ListPopHead(key string) ([]byte, bool, error) {
	conn := r.conn()
	defer conn.Close()
	reply, err := conn.Do("LPOP", key)
	if err != nil {
		return nil, false, wrapTransport("list_pop_head", err)
	}
	if reply == nil {
		return nil, false, nil
	}
	b, err := redis.Bytes(reply, nil)
	if err != nil {
		return nil, false, wrapTransport("list_pop_head.decode", err)
	}
	return b, true, nil
}

func (r *redisKeyStore) ListBlockingPopHead(keys []string, timeout time.Duration) (string, []byte, bool, error) {
	conn := r.conn()
	defer conn.Close()

	args := make([]interface{}, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, k)
	}
	secs := int64(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	args = append(args, secs)

	reply, err := conn.Do("BLPOP", args...)
	if err == redis.ErrNil {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, wrapTransport("list_blocking_pop_head", err)
	}
	if reply == nil {
		return "", nil, false, nil
	}

	vals, err := redis.Values(reply, nil)
	if err != nil {
		return "", nil, false, wrapTransport("list_blocking_pop_head.decode", err)
	}
	if len(vals) != 2 {
		return "", nil, false, nil
	}
	key, err := redis.String(vals[0], nil)
	if err != nil {
		return "", nil, false, wrapTransport("list_blocking_pop_head.key", err)
	}
	val, err := redis.Bytes(vals[1], nil)
	if err != nil {
		return "", nil, false, wrapTransport("list_blocking_pop_head.val", err)
	}
	return key, val, true, nil
}

func (r *redisKeyStore) ListLen(key string) (int64, error) {
	conn := r.conn()
	defer conn.Close()
	n, err := redis.Int64(conn.Do("LLEN", key))
	return n, wrapTransport("list_len", err)
}

func (r *redisKeyStore) ListRemove(key string, value []byte, count int64) (int64, error) {
	conn := r.conn()
	defer conn.Close()
	n, err := redis.Int64(conn.Do("LREM", key, count, value))
	return n, wrapTransport("list_remove", err)
}

func (r *redisKeyStore) ListRange(key string, start, stop int64) ([][]byte, error) {
	conn := r.conn()
	defer conn.Close()
	vals, err := redis.ByteSlices(conn.Do("LRANGE", key, start, stop))
	return vals, wrapTransport("list_range", err)
}

func (r *redisKeyStore) ZAdd(key string, score float64, member string) error {
	conn := r.conn()
	defer conn.Close()
	_, err := conn.Do("ZADD", key, score, member)
	return wrapTransport("zadd", err)
}

func (r *redisKeyStore) ZRangeByScore(key string, min, max float64, offset, count int64) ([]string, error) {
	conn := r.conn()
	defer conn.Close()
	vals, err := redis.Strings(conn.Do("ZRANGEBYSCORE", key, min, max, "LIMIT", offset, count))
	return vals, wrapTransport("zrangebyscore", err)
}

func (r *redisKeyStore) ZRem(key string, member string) (bool, error) {
	conn := r.conn()
	defer conn.Close()
	n, err := redis.Int64(conn.Do("ZREM", key, member))
	return n > 0, wrapTransport("zrem", err)
}

func (r *redisKeyStore) ZCard(key string) (int64, error) {
	conn := r.conn()
	defer conn.Close()
	n, err := redis.Int64(conn.Do("ZCARD", key))
	return n, wrapTransport("zcard", err)
}

func (r *redisKeyStore) Get(key string) (string, bool, error) {
	conn := r.conn()
	defer conn.Close()
	reply, err := conn.Do("GET", key)
	if err != nil {
		return "", false, wrapTransport("get", err)
	}
	if reply == nil {
		return "", false, nil
	}
	s, err := redis.String(reply, nil)
	return s, true, wrapTransport("get.decode", err)
}

func (r *redisKeyStore) Set(key, value string, ttl time.Duration) error {
	conn := r.conn()
	defer conn.Close()
	var err error
	if ttl > 0 {
		_, err = conn.Do("SET", key, value, "EX", int64(ttl/time.Second))
	} else {
		_, err = conn.Do("SET", key, value)
	}
	return wrapTransport("set", err)
}

func (r *redisKeyStore) SetNX(key, value string, ttl time.Duration) (bool, error) {
	conn := r.conn()
	defer conn.Close()
	var reply interface{}
	var err error
	if ttl > 0 {
		reply, err = conn.Do("SET", key, value, "NX", "EX", int64(ttl/time.Second))
	} else {
		reply, err = conn.Do("SET", key, value, "NX")
	}
	if err != nil {
		return false, wrapTransport("setnx", err)
	}
	return reply != nil, nil
}

func (r *redisKeyStore) Del(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	conn := r.conn()
	defer conn.Close()
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := conn.Do("DEL", args...)
	return wrapTransport("del", err)
}

func (r *redisKeyStore) HSet(key, field, value string) error {
	conn := r.conn()
	defer conn.Close()
	_, err := conn.Do("HSET", key, field, value)
	return wrapTransport("hset", err)
}

func (r *redisKeyStore) HGetAll(key string) (map[string]string, error) {
	conn := r.conn()
	defer conn.Close()
	m, err := redis.StringMap(conn.Do("HGETALL", key))
	return m, wrapTransport("hgetall", err)
}

func (r *redisKeyStore) HIncrBy(key, field string, delta int64) (int64, error) {
	conn := r.conn()
	defer conn.Close()
	n, err := redis.Int64(conn.Do("HINCRBY", key, field, delta))
	return n, wrapTransport("hincrby", err)
}

func (r *redisKeyStore) Expire(key string, ttl time.Duration) error {
	conn := r.conn()
	defer conn.Close()
	_, err := conn.Do("EXPIRE", key, int64(ttl/time.Second))
	return wrapTransport("expire", err)
}

func (r *redisKeyStore) SAdd(key, member string) error {
	conn := r.conn()
	defer conn.Close()
	_, err := conn.Do("SADD", key, member)
	return wrapTransport("sadd", err)
}

func (r *redisKeyStore) SRem(key, member string) error {
	conn := r.conn()
	defer conn.Close()
	_, err := conn.Do("SREM", key, member)
	return wrapTransport("srem", err)
}

func (r *redisKeyStore) SMembers(key string) ([]string, error) {
	conn := r.conn()
	defer conn.Close()
	vals, err := redis.Strings(conn.Do("SMEMBERS", key))
	return vals, wrapTransport("smembers", err)
}

func (r *redisKeyStore) Incr(key string) (int64, error) {
	conn := r.conn()
	defer conn.Close()
	n, err := redis.Int64(conn.Do("INCR", key))
	return n, wrapTransport("incr", err)
}

func (r *redisKeyStore) Keys(pattern string) ([]string, error) {
	conn := r.conn()
	defer conn.Close()
	vals, err := redis.Strings(conn.Do("KEYS", pattern))
	return vals, wrapTransport("keys", err)
}

func (r *redisKeyStore) Close() error {
	return errors.Wrap(r.pool.Close(), "redjob: close pool")
}
