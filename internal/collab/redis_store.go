package collab

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisLockPrefix = "collab:lock:"

// errUnexpectedScriptReply indicates a Lua reply the client cannot decode.
var errUnexpectedScriptReply = errors.New("collab: unexpected script reply")

// Replies are arrays of {granted/changed flag, user_id, user_name, locked_at, expires_at}.
// Timestamps travel as unix milliseconds so the scripts can compare them
// numerically. Fresh grants append a sixth element reporting whether an
// expired record was evicted.
var acquireScript = redis.NewScript(`
local owner = redis.call("HGET", KEYS[1], "user_id")
local expires = redis.call("HGET", KEYS[1], "expires_at")
if owner and expires and tonumber(expires) > tonumber(ARGV[3]) then
  if owner == ARGV[1] then
    redis.call("HSET", KEYS[1], "user_name", ARGV[2], "expires_at", ARGV[4])
    redis.call("PEXPIRE", KEYS[1], ARGV[5])
    return {1, owner, ARGV[2], redis.call("HGET", KEYS[1], "locked_at"), ARGV[4]}
  end
  return {0, owner, redis.call("HGET", KEYS[1], "user_name"), redis.call("HGET", KEYS[1], "locked_at"), expires}
end
local stale = 0
if owner then
  stale = 1
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "user_id", ARGV[1], "user_name", ARGV[2], "locked_at", ARGV[3], "expires_at", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {1, ARGV[1], ARGV[2], ARGV[3], ARGV[4], stale}
`)

var releaseScript = redis.NewScript(`
local owner = redis.call("HGET", KEYS[1], "user_id")
local expires = redis.call("HGET", KEYS[1], "expires_at")
if owner and owner == ARGV[1] and expires and tonumber(expires) > tonumber(ARGV[2]) then
  local name = redis.call("HGET", KEYS[1], "user_name")
  local lockedAt = redis.call("HGET", KEYS[1], "locked_at")
  redis.call("DEL", KEYS[1])
  return {1, owner, name, lockedAt, expires}
end
return {0}
`)

var renewScript = redis.NewScript(`
local owner = redis.call("HGET", KEYS[1], "user_id")
local expires = redis.call("HGET", KEYS[1], "expires_at")
if owner and owner == ARGV[1] and expires and tonumber(expires) > tonumber(ARGV[2]) then
  redis.call("HSET", KEYS[1], "expires_at", ARGV[3])
  redis.call("PEXPIRE", KEYS[1], ARGV[4])
  return {1, owner, redis.call("HGET", KEYS[1], "user_name"), redis.call("HGET", KEYS[1], "locked_at"), ARGV[3]}
end
return {0}
`)

var forceReleaseScript = redis.NewScript(`
local owner = redis.call("HGET", KEYS[1], "user_id")
if owner then
  local name = redis.call("HGET", KEYS[1], "user_name")
  local lockedAt = redis.call("HGET", KEYS[1], "locked_at")
  local expires = redis.call("HGET", KEYS[1], "expires_at")
  redis.call("DEL", KEYS[1])
  return {1, owner, name, lockedAt, expires}
end
return {0}
`)

var transferScript = redis.NewScript(`
local owner = redis.call("HGET", KEYS[1], "user_id")
local expires = redis.call("HGET", KEYS[1], "expires_at")
local had = 0
local priorName = ""
local priorLockedAt = ""
local priorExpires = ""
if owner then
  had = 1
  priorName = redis.call("HGET", KEYS[1], "user_name")
  priorLockedAt = redis.call("HGET", KEYS[1], "locked_at")
  priorExpires = expires
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "user_id", ARGV[1], "user_name", ARGV[2], "locked_at", ARGV[3], "expires_at", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
if had == 1 then
  return {1, owner, priorName, priorLockedAt, priorExpires}
end
return {0}
`)

var reapScript = redis.NewScript(`
local expires = redis.call("HGET", KEYS[1], "expires_at")
if expires and tonumber(expires) <= tonumber(ARGV[1]) then
  local owner = redis.call("HGET", KEYS[1], "user_id")
  local name = redis.call("HGET", KEYS[1], "user_name")
  local lockedAt = redis.call("HGET", KEYS[1], "locked_at")
  redis.call("DEL", KEYS[1])
  return {1, owner, name, lockedAt, expires}
end
return {0}
`)

// RedisLockStore keeps the lock table in Redis so a restarted backend does
// not immediately forget outstanding holds. Atomicity per key comes from the
// single-threaded script execution; each record also carries a Redis TTL of
// twice the lock TTL as a backstop against reaper outages.
type RedisLockStore struct {
	client *redis.Client
}

// NewRedisLockStore returns a lock store backed by the provided client.
func NewRedisLockStore(client *redis.Client) *RedisLockStore {
	return &RedisLockStore{client: client}
}

func redisLockKey(key DocumentKey) string {
	return redisLockPrefix + string(key.Type) + ":" + key.ID
}

func parseRedisLockKey(raw string) (DocumentKey, bool) {
	rest := strings.TrimPrefix(raw, redisLockPrefix)
	if rest == raw {
		return DocumentKey{}, false
	}
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return DocumentKey{}, false
	}
	return DocumentKey{Type: DocumentType(parts[0]), ID: parts[1]}, true
}

// Acquire implements LockStore.
func (s *RedisLockStore) Acquire(ctx context.Context, key DocumentKey, owner Owner, now time.Time, ttl time.Duration) (AcquireOutcome, error) {
	reply, err := acquireScript.Run(ctx, s.client, []string{redisLockKey(key)},
		owner.UserID, owner.DisplayName,
		now.UnixMilli(), now.Add(ttl).UnixMilli(), (2 * ttl).Milliseconds(),
	).Result()
	if err != nil {
		return AcquireOutcome{}, err
	}
	granted, lock, ok, err := decodeLockReply(key, reply)
	if err != nil {
		return AcquireOutcome{}, err
	}
	if !ok {
		return AcquireOutcome{}, fmt.Errorf("%w: empty acquire reply", errUnexpectedScriptReply)
	}
	evicted := false
	if values, isArray := reply.([]interface{}); isArray && len(values) >= 6 {
		if stale, isInt := values[5].(int64); isInt {
			evicted = stale == 1
		}
	}
	return AcquireOutcome{Granted: granted, Lock: lock, Evicted: evicted}, nil
}

// Release implements LockStore.
func (s *RedisLockStore) Release(ctx context.Context, key DocumentKey, userID string, now time.Time) (Lock, bool, error) {
	reply, err := releaseScript.Run(ctx, s.client, []string{redisLockKey(key)},
		userID, now.UnixMilli(),
	).Result()
	if err != nil {
		return Lock{}, false, err
	}
	_, lock, ok, err := decodeLockReply(key, reply)
	return lock, ok, err
}

// Renew implements LockStore.
func (s *RedisLockStore) Renew(ctx context.Context, key DocumentKey, userID string, now time.Time, ttl time.Duration) (Lock, bool, error) {
	reply, err := renewScript.Run(ctx, s.client, []string{redisLockKey(key)},
		userID, now.UnixMilli(), now.Add(ttl).UnixMilli(), (2 * ttl).Milliseconds(),
	).Result()
	if err != nil {
		return Lock{}, false, err
	}
	_, lock, ok, err := decodeLockReply(key, reply)
	return lock, ok, err
}

// ForceRelease implements LockStore.
func (s *RedisLockStore) ForceRelease(ctx context.Context, key DocumentKey) (Lock, bool, error) {
	reply, err := forceReleaseScript.Run(ctx, s.client, []string{redisLockKey(key)}).Result()
	if err != nil {
		return Lock{}, false, err
	}
	_, lock, ok, err := decodeLockReply(key, reply)
	return lock, ok, err
}

// Transfer implements LockStore.
func (s *RedisLockStore) Transfer(ctx context.Context, key DocumentKey, owner Owner, now time.Time, ttl time.Duration) (Lock, *Lock, error) {
	reply, err := transferScript.Run(ctx, s.client, []string{redisLockKey(key)},
		owner.UserID, owner.DisplayName,
		now.UnixMilli(), now.Add(ttl).UnixMilli(), (2 * ttl).Milliseconds(),
	).Result()
	if err != nil {
		return Lock{}, nil, err
	}
	granted := Lock{
		Key:          key,
		LockedBy:     owner.UserID,
		LockedByName: owner.DisplayName,
		LockedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
	_, prior, had, err := decodeLockReply(key, reply)
	if err != nil {
		return Lock{}, nil, err
	}
	if !had {
		return granted, nil, nil
	}
	dispossessed := prior
	return granted, &dispossessed, nil
}

// Get implements LockStore.
func (s *RedisLockStore) Get(ctx context.Context, key DocumentKey, now time.Time) (Lock, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisLockKey(key)).Result()
	if err != nil {
		return Lock{}, false, err
	}
	if len(fields) == 0 {
		return Lock{}, false, nil
	}
	lock, err := lockFromFields(key, fields)
	if err != nil {
		return Lock{}, false, err
	}
	if !lock.Live(now) {
		return Lock{}, false, nil
	}
	return lock, true, nil
}

// SweepExpired implements LockStore. Expired records are deleted under the
// same expiry comparison the scripts use, so a lock re-acquired between the
// scan and the delete survives.
func (s *RedisLockStore) SweepExpired(ctx context.Context, now time.Time) ([]Lock, error) {
	var removed []Lock
	iter := s.client.Scan(ctx, 0, redisLockPrefix+"*", 64).Iterator()
	for iter.Next(ctx) {
		key, ok := parseRedisLockKey(iter.Val())
		if !ok {
			continue
		}
		reply, err := reapScript.Run(ctx, s.client, []string{iter.Val()}, now.UnixMilli()).Result()
		if err != nil {
			return removed, err
		}
		_, lock, reaped, err := decodeLockReply(key, reply)
		if err != nil {
			return removed, err
		}
		if reaped {
			removed = append(removed, lock)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}

// decodeLockReply unpacks the {flag, user_id, user_name, locked_at, expires_at}
// array shared by the mutation scripts. ok is false for the bare {0} reply.
func decodeLockReply(key DocumentKey, reply interface{}) (granted bool, lock Lock, ok bool, err error) {
	values, isArray := reply.([]interface{})
	if !isArray || len(values) == 0 {
		return false, Lock{}, false, fmt.Errorf("%w: %T", errUnexpectedScriptReply, reply)
	}
	flag, isInt := values[0].(int64)
	if !isInt {
		return false, Lock{}, false, fmt.Errorf("%w: flag %T", errUnexpectedScriptReply, values[0])
	}
	if len(values) < 5 {
		if flag == 0 {
			return false, Lock{}, false, nil
		}
		return false, Lock{}, false, fmt.Errorf("%w: truncated reply", errUnexpectedScriptReply)
	}

	fields := make([]string, 0, 4)
	for _, value := range values[1:5] {
		text, isString := value.(string)
		if !isString {
			return false, Lock{}, false, fmt.Errorf("%w: field %T", errUnexpectedScriptReply, value)
		}
		fields = append(fields, text)
	}
	lockedAt, err := parseUnixMilli(fields[2])
	if err != nil {
		return false, Lock{}, false, err
	}
	expiresAt, err := parseUnixMilli(fields[3])
	if err != nil {
		return false, Lock{}, false, err
	}
	return flag == 1, Lock{
		Key:          key,
		LockedBy:     fields[0],
		LockedByName: fields[1],
		LockedAt:     lockedAt,
		ExpiresAt:    expiresAt,
	}, true, nil
}

func lockFromFields(key DocumentKey, fields map[string]string) (Lock, error) {
	lockedAt, err := parseUnixMilli(fields["locked_at"])
	if err != nil {
		return Lock{}, err
	}
	expiresAt, err := parseUnixMilli(fields["expires_at"])
	if err != nil {
		return Lock{}, err
	}
	return Lock{
		Key:          key,
		LockedBy:     fields["user_id"],
		LockedByName: fields["user_name"],
		LockedAt:     lockedAt,
		ExpiresAt:    expiresAt,
	}, nil
}

func parseUnixMilli(raw string) (time.Time, error) {
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", errUnexpectedScriptReply, raw)
	}
	return time.UnixMilli(millis).UTC(), nil
}
