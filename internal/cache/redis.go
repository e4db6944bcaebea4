package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis implements Cache over github.com/redis/go-redis/v9, grounded in
// edirooss-zmux-server's internal/repo/store pattern of treating Redis as
// the hot authoritative layer behind a narrow, purpose-built interface.
type Redis struct {
	client *redis.Client
	casScr *redis.Script
}

// NewRedis wraps an existing *redis.Client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, casScr: redis.NewScript(casLuaScript)}
}

func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) HDel(ctx context.Context, key, field string) error {
	return r.client.HDel(ctx, key, field).Err()
}

func (r *Redis) HKeys(ctx context.Context, key string) ([]string, error) {
	return r.client.HKeys(ctx, key).Result()
}

func (r *Redis) SAdd(ctx context.Context, set, member string) error {
	return r.client.SAdd(ctx, set, member).Err()
}

func (r *Redis) SRem(ctx context.Context, set, member string) error {
	return r.client.SRem(ctx, set, member).Err()
}

func (r *Redis) SMembers(ctx context.Context, set string) ([]string, error) {
	return r.client.SMembers(ctx, set).Result()
}

func (r *Redis) ZAdd(ctx context.Context, key, member string, score float64) error {
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *Redis) ZRem(ctx context.Context, key, member string) error {
	return r.client.ZRem(ctx, key, member).Err()
}

func (r *Redis) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

func (r *Redis) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// casLuaScript implements CompareAndSwap server-side: KEYS/ARGV are laid out
// as three sections (checks, sets, dels), each length-prefixed, so the whole
// verify-then-apply sequence runs as one atomic Redis operation regardless
// of how many hash keys it touches.
const casLuaScript = `
local nChecks = tonumber(ARGV[1])
local nSets = tonumber(ARGV[2])
local nDels = tonumber(ARGV[3])
local idx = 4
local keyIdx = 1

for i = 1, nChecks do
  local key = KEYS[keyIdx]; keyIdx = keyIdx + 1
  local field = ARGV[idx]; idx = idx + 1
  local exists = ARGV[idx]; idx = idx + 1
  local expect = ARGV[idx]; idx = idx + 1
  local current = redis.call('HGET', key, field)
  if exists == '1' then
    if current == false or current ~= expect then
      return 0
    end
  else
    if current ~= false then
      return 0
    end
  end
end

for i = 1, nSets do
  local key = KEYS[keyIdx]; keyIdx = keyIdx + 1
  local field = ARGV[idx]; idx = idx + 1
  local value = ARGV[idx]; idx = idx + 1
  redis.call('HSET', key, field, value)
end

for i = 1, nDels do
  local key = KEYS[keyIdx]; keyIdx = keyIdx + 1
  local field = ARGV[idx]; idx = idx + 1
  redis.call('HDEL', key, field)
end

return 1
`

func (r *Redis) CompareAndSwap(ctx context.Context, checks []CASCheck, sets []HSetOp, dels []HDelOp) (bool, error) {
	keys := make([]string, 0, len(checks)+len(sets)+len(dels))
	args := []any{len(checks), len(sets), len(dels)}

	for _, c := range checks {
		keys = append(keys, c.Key)
		existsFlag := "0"
		if c.Exists {
			existsFlag = "1"
		}
		args = append(args, c.Field, existsFlag, c.Expect)
	}
	for _, s := range sets {
		keys = append(keys, s.Key)
		args = append(args, s.Field, s.Value)
	}
	for _, d := range dels {
		keys = append(keys, d.Key)
		args = append(args, d.Field)
	}

	res, err := r.casScr.Run(ctx, r.client, keys, args...).Result()
	if err != nil {
		return false, fmt.Errorf("cas script: %w", err)
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}
