package idempotency

import (
	"context"
	"sync"
	"time"
)

// memorySweepThreshold is the entry count past which Reserve sweeps expired
// records inline instead of waiting for the cleanup worker.
const memorySweepThreshold = 4096

// MemoryStore keeps records in process memory. It backs tests and local runs
// where a Redis instance is not worth the trouble; replays do not survive a
// restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Record
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Record)}
}

func expired(rec Record, now time.Time) bool {
	return !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt)
}

// Reserve claims the key or reports what already holds it.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) > memorySweepThreshold {
		s.sweepLocked(now, 0)
	}

	id := storageID(key)
	rec, ok := s.entries[id]
	if !ok || expired(rec, now) {
		rec = Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		s.entries[id] = rec
		return Reservation{State: ReservationStateNew, Record: rec}, nil
	}

	if rec.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if rec.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: rec}, nil
	}
	return Reservation{State: ReservationStatePending, Record: rec}, nil
}

// SaveResponse stores the captured response under the key.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := storageID(key)
	rec, ok := s.entries[id]
	if ok && rec.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		rec = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.Status = StatusCompleted
	rec.ResponseStatus = resp.Status
	rec.ResponseHeaders = storableHeaders(resp.Headers)
	rec.ResponseBody = nil
	if len(resp.Body) > 0 {
		rec.ResponseBody = append([]byte(nil), resp.Body...)
	}
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(ttl)
	s.entries[id] = rec

	return nil
}

// Release drops the reservation so a later attempt starts fresh.
func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, storageID(key))
	return nil
}

// CleanupExpired removes up to limit expired records; limit <= 0 means all.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweepLocked(now.UTC(), limit), nil
}

func (s *MemoryStore) sweepLocked(now time.Time, limit int) int {
	removed := 0
	for id, rec := range s.entries {
		if !expired(rec, now) {
			continue
		}
		delete(s.entries, id)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed
}

var _ Store = (*MemoryStore)(nil)
