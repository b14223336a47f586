package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hmos/marketplace/internal/models"
)

var ErrCacheMiss = errors.New("balance cache miss")

// BalanceCache is a read-through cache for wallet snapshots. Writes always go
// to the store first; each committed change is then written through.
//
// Set must keep whichever snapshot has the later UpdatedAt, so a slow reader
// cannot put back a balance that a commit has already replaced.
type BalanceCache interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Set(ctx context.Context, w *models.Wallet) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, uuid.UUID) (*models.Wallet, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, *models.Wallet) error { return nil }
func (NopCache) Invalidate(context.Context, uuid.UUID) error { return nil }

// KEYS[1] = snapshot hash
// ARGV[1] = wallet JSON, ARGV[2] = updated_at in unix micros, ARGV[3] = ttl ms
const luaSetIfNewer = `
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'ts', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`

// RedisCache stores each snapshot in a hash holding the JSON value and its
// UpdatedAt, compared and replaced atomically by a Lua script.
type RedisCache struct {
	rdb       redis.Cmdable
	ttl       time.Duration
	scrSetNew *redis.Script
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, scrSetNew: redis.NewScript(luaSetIfNewer)}
}

func snapshotKey(userID uuid.UUID) string { return "wallet:snapshot:" + userID.String() }

func (c *RedisCache) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	raw, err := c.rdb.HGet(ctx, snapshotKey(userID), "v").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	var w models.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode cached wallet: %w", err)
	}
	return &w, nil
}

func (c *RedisCache) Set(ctx context.Context, w *models.Wallet) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}
	keys := []string{snapshotKey(w.UserID)}
	err = c.scrSetNew.Run(ctx, c.rdb, keys, string(raw), w.UpdatedAt.UnixMicro(), c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.rdb.Del(ctx, snapshotKey(userID)).Err()
}
