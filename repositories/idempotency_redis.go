package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Dosada05/match-engine/models"
	"github.com/redis/go-redis/v9"
)

const minRedisTTL = time.Second

// redisGetter is satisfied by both *redis.Client and *redis.Tx.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisIdempotencyStore struct {
	rdb *redis.Client
}

// NewRedisIdempotencyStore keeps records as JSON values; the record lifetime is the key TTL.
func NewRedisIdempotencyStore(rdb *redis.Client) IdempotencyStore {
	return &redisIdempotencyStore{rdb: rdb}
}

func (s *redisIdempotencyStore) keyRecord(key models.IdempotencyKey) string {
	return "idem:match:" + strconv.Itoa(key.MatchID) + ":" + key.Operation + ":" + key.ClientKey
}

func (s *redisIdempotencyStore) Reserve(ctx context.Context, key models.IdempotencyKey, token string, ttl time.Duration) (*models.IdempotencyRecord, bool, error) {
	now := time.Now().UTC()
	rec := models.IdempotencyRecord{
		Key:       key,
		Status:    models.IdempotencyPending,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, false, err
	}

	ok, err := s.rdb.SetNX(ctx, s.keyRecord(key), raw, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return nil, true, nil
	}

	existing, err := s.load(ctx, s.rdb, key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// ключ истёк между SETNX и GET
		return nil, false, ErrReservationLost
	}
	return existing, false, nil
}

func (s *redisIdempotencyStore) load(ctx context.Context, c redisGetter, key models.IdempotencyKey) (*models.IdempotencyRecord, error) {
	raw, err := c.Get(ctx, s.keyRecord(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load idempotency record: %w", err)
	}
	var rec models.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *redisIdempotencyStore) Commit(ctx context.Context, key models.IdempotencyKey, token string, response []byte, ttl time.Duration) error {
	k := s.keyRecord(key)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec == nil || rec.Token != token || rec.Status != models.IdempotencyPending {
			return ErrReservationLost
		}
		if ttl < minRedisTTL {
			ttl = minRedisTTL
		}
		rec.Status = models.IdempotencyCommitted
		rec.Response = response
		rec.ExpiresAt = time.Now().UTC().Add(ttl)
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, raw, ttl)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrReservationLost
	}
	return err
}

func (s *redisIdempotencyStore) Release(ctx context.Context, key models.IdempotencyKey, token string) error {
	k := s.keyRecord(key)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec == nil || rec.Token != token || rec.Status != models.IdempotencyPending {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// PurgeExpired is a no-op: Redis expires records by TTL.
func (s *redisIdempotencyStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
