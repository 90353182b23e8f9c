package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sequenceKeyPrefix = "seq:"
	guardKeyPrefix    = "guard:"
)

// seedSequenceScript raises the counter to ARGV[1] and never lowers it.
var seedSequenceScript = redis.NewScript(`
local key = KEYS[1]
local floor = tonumber(ARGV[1])

local current = tonumber(redis.call('GET', key) or '0')
if current < floor then
	redis.call('SET', key, floor)
	return floor
end

return current
`)

// releaseGuardScript deletes the guard only when it still carries the caller's token.
var releaseGuardScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

local current = redis.call('GET', key)
if current == token then
	redis.call('DEL', key)
	return 1
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) NextSequence(ctx context.Context, name string) (int64, error) {
	return r.client.Incr(ctx, sequenceKeyPrefix+name).Result()
}

// SeedSequence makes sure the next NextSequence returns more than floor.
// It returns the counter value after seeding.
func (r *RedisAdapter) SeedSequence(ctx context.Context, name string, floor int64) (int64, error) {
	return seedSequenceScript.Run(ctx, r.client, []string{sequenceKeyPrefix + name}, floor).Int64()
}

func (r *RedisAdapter) AcquireGuard(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, guardKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseGuard(ctx context.Context, key, token string) error {
	return releaseGuardScript.Run(ctx, r.client, []string{guardKeyPrefix + key}, token).Err()
}
