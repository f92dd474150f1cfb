package pending

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/safarilist/safarilist/app/models"
)

const redisKeyPrefix = "pending:"

// RedisStore keeps pending subscriptions in Redis so several processes can
// share one pending set. SET NX gives the atomic insert, GETDEL the atomic
// take; expiry is Redis TTL, so no sweeper is needed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

func (s *RedisStore) Put(ctx context.Context, rec *models.PendingSubscription) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, redisKey(rec.CorrelationKey), encoded, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateKey
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, key string) (*models.PendingSubscription, bool, error) {
	val, err := s.client.GetDel(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rec models.PendingSubscription
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKey(key)).Err()
}

func (s *RedisStore) Snapshot(ctx context.Context) ([]models.PendingSubscription, error) {
	var out []models.PendingSubscription
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec models.PendingSubscription
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return n, nil
}
