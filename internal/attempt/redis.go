package attempt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"atm-terminal/backend/internal/domain"
)

const defaultRedisPrefix = "atm:attempts"

// failScript increments the counter and latches the lock flag in one round trip.
// KEYS[1] hash key; ARGV[1] max attempts; ARGV[2] ttl in ms (0 = no expiry).
var failScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "locked") == "1" then
  return {tonumber(redis.call("HGET", KEYS[1], "failures") or "0"), 1}
end
local n = redis.call("HINCRBY", KEYS[1], "failures", 1)
local locked = 0
if n >= tonumber(ARGV[1]) then
  redis.call("HSET", KEYS[1], "locked", "1")
  locked = 1
end
if tonumber(ARGV[2]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {n, locked}
`)

// RedisStore keeps attempt state in Redis so lockouts survive restarts and are
// shared between terminals. A zero ttl keeps a lockout until Reset.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a Redis-backed attempt store.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: p, ttl: ttl}
}

func (s *RedisStore) key(username string) string {
	return fmt.Sprintf("%s:%s", s.prefix, username)
}

// Get returns the state for username.
func (s *RedisStore) Get(ctx context.Context, username string) (domain.AttemptState, error) {
	vals, err := s.client.HGetAll(ctx, s.key(username)).Result()
	if err != nil {
		return domain.AttemptState{}, err
	}
	var st domain.AttemptState
	if f, ok := vals["failures"]; ok {
		n, err := strconv.Atoi(f)
		if err != nil {
			return domain.AttemptState{}, fmt.Errorf("attempt state for %q: %w", username, err)
		}
		st.Failures = n
	}
	st.Locked = vals["locked"] == "1"
	return st, nil
}

// Fail increments the failure count for username.
func (s *RedisStore) Fail(ctx context.Context, username string, max int) (domain.AttemptState, error) {
	raw, err := failScript.Run(ctx, s.client, []string{s.key(username)}, max, s.ttl.Milliseconds()).Result()
	if err != nil {
		return domain.AttemptState{}, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return domain.AttemptState{}, fmt.Errorf("unexpected redis attempt response shape: %T", raw)
	}
	n, ok := values[0].(int64)
	if !ok {
		return domain.AttemptState{}, fmt.Errorf("unexpected redis attempt count type: %T", values[0])
	}
	locked, ok := values[1].(int64)
	if !ok {
		return domain.AttemptState{}, fmt.Errorf("unexpected redis attempt lock type: %T", values[1])
	}
	return domain.AttemptState{Failures: int(n), Locked: locked == 1}, nil
}

// Clear drops the state for username.
func (s *RedisStore) Clear(ctx context.Context, username string) error {
	return s.client.Del(ctx, s.key(username)).Err()
}
