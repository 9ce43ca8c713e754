package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore persists idempotency records in Redis so replays survive restarts
// and are shared across API instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client, prefix: redisKeyPrefix}, nil
}

type redisRecord struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"response_status,omitempty"`
	ResponseHeaders map[string][]string `json:"response_headers,omitempty"`
	ResponseBody    []byte              `json:"response_body,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + storageID(key)
}

// Reserve implements the Store interface.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	record := redisRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	id := s.redisKey(key)
	set, err := s.client.SetNX(ctx, id, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve key: %w", err)
	}
	if set {
		return Reservation{State: ReservationStateNew, Record: recordFromRedis(record)}, nil
	}

	raw, err := s.client.Get(ctx, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Reservation expired between SETNX and GET. Treat as fresh.
			return Reservation{State: ReservationStateNew, Record: recordFromRedis(record)}, nil
		}
		return Reservation{}, fmt.Errorf("idempotency: load record: %w", err)
	}

	var existing redisRecord
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode record: %w", err)
	}

	if existing.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: recordFromRedis(existing)}, nil
	}
	return Reservation{State: ReservationStatePending, Record: recordFromRedis(existing)}, nil
}

// SaveResponse implements the Store interface.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	id := s.redisKey(key)

	raw, err := s.client.Get(ctx, id).Bytes()
	createdAt := now
	if err == nil {
		var existing redisRecord
		if decodeErr := json.Unmarshal(raw, &existing); decodeErr == nil {
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			if !existing.CreatedAt.IsZero() {
				createdAt = existing.CreatedAt
			}
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: load record: %w", err)
	}

	record := redisRecord{
		Key:             key,
		Fingerprint:     fingerprint,
		Status:          StatusCompleted,
		ResponseStatus:  resp.Status,
		ResponseHeaders: storableHeaders(resp.Headers),
		ResponseBody:    resp.Body,
		CreatedAt:       createdAt,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}

	if err := s.client.Set(ctx, id, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: store response: %w", err)
	}
	return nil
}

// Release deletes the reservation so that subsequent attempts may retry.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release key: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op for Redis since keys expire via TTL.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func recordFromRedis(r redisRecord) Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          r.Status,
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

var _ Store = (*RedisStore)(nil)
