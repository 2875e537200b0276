package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares idempotency records between instances. Key expiry enforces the TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. Keys are written as "{prefix}:idem:{sha256(key)}".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "checkout"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":idem:" + storageKey(key)
}

// Reserve implements Store using SET NX.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ttl = normaliseTTL(ttl)
	record := pendingRecord(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}
	redisKey := s.key(key)
	created, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	existing, ok, err := s.load(ctx, redisKey)
	if err != nil {
		return Reservation{}, err
	}
	if !ok {
		// Expired between SETNX and GET; the caller may retry.
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
	return reservationFor(existing, fingerprint)
}

// Complete implements Store. The write is guarded by WATCH so a concurrent release or
// re-reservation is not overwritten.
func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = normaliseTTL(ttl)
	redisKey := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, ok, err := decode(tx.Get(ctx, redisKey))
		if err != nil {
			return err
		}
		if ok && record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if !ok {
			record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now.UTC()}
		}
		payload, err := json.Marshal(completeRecord(record, resp, now.UTC(), ttl))
		if err != nil {
			return fmt.Errorf("idempotency: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, ttl)
			return nil
		})
		if err != nil {
			return fmt.Errorf("idempotency: redis set: %w", err)
		}
		return nil
	}, redisKey)
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	redisKey := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, ok, err := decode(tx.Get(ctx, redisKey))
		if err != nil || !ok || record.Fingerprint != fingerprint {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisKey)
			return nil
		})
		if err != nil {
			return fmt.Errorf("idempotency: redis del: %w", err)
		}
		return nil
	}, redisKey)
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (Record, bool, error) {
	return decode(s.client.Get(ctx, redisKey))
}

func decode(cmd *redis.StringCmd) (Record, bool, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}
