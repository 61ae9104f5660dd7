package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"voiceline/internal/lines"
	"voiceline/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Cache is a Redis read-through cache in front of a SettingsSource.
// Redis failures fall through to the source; the cache is never
// authoritative.
type Cache struct {
	rdb    *redis.Client
	source SettingsSource
	prefix string
	ttl    time.Duration
}

func NewCache(rdb *redis.Client, source SettingsSource, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{rdb: rdb, source: source, prefix: "whisper:line", ttl: ttl}
}

func (c *Cache) key(lineID string) string { return c.prefix + ":" + lineID }

func (c *Cache) WhisperView(ctx context.Context, lineID string) (lines.WhisperView, error) {
	raw, err := c.rdb.Get(ctx, c.key(lineID)).Bytes()
	if err == nil {
		var v lines.WhisperView
		if jerr := json.Unmarshal(raw, &v); jerr == nil {
			return v, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.From(ctx).Warn("whisper cache read failed", "line_id", lineID, "err", err)
	}

	v, err := c.source.WhisperView(ctx, lineID)
	if err != nil {
		return lines.WhisperView{}, err
	}
	if b, jerr := json.Marshal(v); jerr == nil {
		if serr := c.rdb.Set(ctx, c.key(lineID), b, c.ttl).Err(); serr != nil {
			logger.From(ctx).Warn("whisper cache write failed", "line_id", lineID, "err", serr)
		}
	}
	return v, nil
}

func (c *Cache) Invalidate(ctx context.Context, lineID string) error {
	return c.rdb.Del(ctx, c.key(lineID)).Err()
}
