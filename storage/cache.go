package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskforge-board/domain"
)

// Cache keeps board statistics in Redis and announces committed board
// changes on a pub/sub channel. Each change starts a new statistics
// generation for the board.
type Cache struct {
	redis   *redis.Client
	ttl     time.Duration
	channel string
	log     *log.Logger
}

// NewCache creates a Redis-backed cache. An empty channel disables publishing.
func NewCache(client *redis.Client, ttl time.Duration, channel string, logger *log.Logger) *Cache {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{redis: client, ttl: ttl, channel: channel, log: logger}
}

// minGenerationTTL keeps a board's generation counter alive well past any
// statistics entry written under it.
const minGenerationTTL = 24 * time.Hour

func statsGenerationKey(boardID string) string {
	return "board-stats-gen:" + boardID
}

func statsCacheKey(boardID string, gen int64) string {
	return "board-stats:" + boardID + ":" + strconv.FormatInt(gen, 10)
}

func (c *Cache) generationTTL() time.Duration {
	return max(minGenerationTTL, 2*c.ttl)
}

// LoadStatistics returns cached statistics for the board's current
// generation. On a miss it returns the generation to pass to
// StoreStatistics, or -1 when the cache is unavailable.
func (c *Cache) LoadStatistics(ctx context.Context, boardID string) (domain.BoardStatistics, int64, bool) {
	if c.redis == nil {
		return domain.BoardStatistics{}, -1, false
	}
	gen, err := c.redis.Get(ctx, statsGenerationKey(boardID)).Int64()
	switch {
	case err == redis.Nil:
		gen = 0
	case err != nil:
		return domain.BoardStatistics{}, -1, false
	}
	key := statsCacheKey(boardID, gen)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return domain.BoardStatistics{}, gen, false
	}
	var stats domain.BoardStatistics
	if err := sonic.Unmarshal(data, &stats); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return domain.BoardStatistics{}, gen, false
	}
	return stats, gen, true
}

// StoreStatistics caches stats computed at generation gen. If the board
// changed since gen was read, the entry is written under a key no reader
// looks up and expires with the TTL.
func (c *Cache) StoreStatistics(ctx context.Context, stats domain.BoardStatistics, gen int64) {
	if c.redis == nil || c.ttl == 0 || gen < 0 {
		return
	}
	data, err := sonic.Marshal(stats)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, statsCacheKey(stats.BoardID, gen), data, c.ttl).Err()
}

// BoardChanged moves the board to a new statistics generation, which evicts
// the cached entry, and publishes the change.
func (c *Cache) BoardChanged(ctx context.Context, change domain.BoardChange) {
	if c.redis == nil {
		return
	}
	genKey := statsGenerationKey(change.BoardID)
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, c.generationTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).WithField("board", change.BoardID).Warn("stats eviction failed")
	}
	if c.channel == "" {
		return
	}
	payload, err := sonic.Marshal(change)
	if err != nil {
		c.log.WithError(err).Error("marshal board change")
		return
	}
	if err := c.redis.Publish(ctx, c.channel, payload).Err(); err != nil {
		c.log.WithError(err).WithFields(log.Fields{"board": change.BoardID, "action": change.Action}).Warn("publish board change failed")
	}
}
