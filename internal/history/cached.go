package history

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"crashgame/internal/game"
)

const (
	REDIS_KEY_RECENT_ROUNDS = "crash:history:recent"
	RECENT_CACHE_TTL        = 30 * time.Second
)

// CachedStore serves Recent from Redis and drops the cached page whenever a
// new round is recorded.
type CachedStore struct {
	Store
	client *redis.Client
	ttl    time.Duration
}

func NewCachedStore(store Store, client *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = RECENT_CACHE_TTL
	}
	return &CachedStore{Store: store, client: client, ttl: ttl}
}

func (s *CachedStore) Record(ctx context.Context, rec game.RoundRecord) error {
	if err := s.Store.Record(ctx, rec); err != nil {
		return err
	}
	if err := s.client.Del(ctx, REDIS_KEY_RECENT_ROUNDS).Err(); err != nil {
		log.Printf("[CACHE] Failed to invalidate recent rounds: %v", err)
	}
	return nil
}

func (s *CachedStore) Recent(ctx context.Context, limit int) ([]game.RoundRecord, error) {
	limit = ClampLimit(limit)

	raw, err := s.client.Get(ctx, REDIS_KEY_RECENT_ROUNDS).Bytes()
	if err == nil {
		var cached []game.RoundRecord
		if err := json.Unmarshal(raw, &cached); err == nil {
			return head(cached, limit), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("[CACHE] Failed to read recent rounds: %v", err)
	}

	records, err := s.Store.Recent(ctx, MAX_LIMIT)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(records); err == nil {
		if err := s.client.Set(ctx, REDIS_KEY_RECENT_ROUNDS, data, s.ttl).Err(); err != nil {
			log.Printf("[CACHE] Failed to cache recent rounds: %v", err)
		}
	}
	return head(records, limit), nil
}

func head(records []game.RoundRecord, limit int) []game.RoundRecord {
	if len(records) > limit {
		return records[:limit]
	}
	return records
}
