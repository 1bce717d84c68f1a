package kv

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/gazouio/gazou/pkg/errors"
)

// The lock script runs server-side so that check and set happen in one
// atomic step. A hash is lockable when its locked field is not "1" and its
// dateExpires field, if present, has passed.
var checkAndLockScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'locked') == '1' then
	return 0
end
local exp = redis.call('HGET', KEYS[1], 'dateExpires')
if exp and tonumber(exp) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'locked', '1')
return 1
`)

// Redis implements Store on a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and verifies the connection with a ping.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	slog.Info("kv_redis_init", "addr", addr, "db", db)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("kv_redis_ping_failed", "addr", addr, "error", err)
		return nil, errors.Wrap(err, "failed to reach redis")
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	return r.client.Del(ctx, keys...).Result()
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "hget failed")
	}
	return v, true, nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return r.client.HSet(ctx, key, args...).Err()
}

func (r *Redis) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	return r.client.HDel(ctx, key, fields...).Result()
}

func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	return r.client.SAdd(ctx, key, toAny(members)...).Err()
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	return r.client.SRem(ctx, key, toAny(members)...).Err()
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.client.SIsMember(ctx, key, member).Result()
}

func (r *Redis) ZAdd(ctx context.Context, key string, members ...ZMember) error {
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	return r.client.ZAdd(ctx, key, zs...).Err()
}

func (r *Redis) ZRem(ctx context.Context, key string, members ...string) error {
	return r.client.ZRem(ctx, key, toAny(members)...).Err()
}

func (r *Redis) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := r.client.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "zscore failed")
	}
	return score, true, nil
}

func (r *Redis) ZCard(ctx context.Context, key string) (int64, error) {
	return r.client.ZCard(ctx, key).Result()
}

func (r *Redis) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRange(ctx, key, start, stop).Result()
}

func (r *Redis) ZRangeByLex(ctx context.Context, key, min, max string, offset, count int64) ([]string, error) {
	return r.client.ZRangeByLex(ctx, key, &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: offset,
		Count:  count,
	}).Result()
}

func (r *Redis) ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]string, error) {
	return r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    formatScore(min),
		Max:    formatScore(max),
		Offset: offset,
		Count:  count,
	}).Result()
}

func (r *Redis) ZInterStore(ctx context.Context, dest string, keys ...string) (int64, error) {
	return r.client.ZInterStore(ctx, dest, &redis.ZStore{Keys: keys}).Result()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *Redis) CheckAndLock(ctx context.Context, key string, now int64) (bool, error) {
	res, err := checkAndLockScript.Run(ctx, r.client, []string{key}, now).Int64()
	if err != nil {
		return false, errors.Wrap(err, "check-and-lock script failed")
	}
	return res == 1, nil
}

func toAny(members []string) []any {
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
