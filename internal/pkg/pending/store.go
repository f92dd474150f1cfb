package pending

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/safarilist/safarilist/app/models"
)

// DefaultTTL bounds how long an unconfirmed record stays claimable. A push
// prompt the payer never answers times out on the provider side well within
// this window.
const DefaultTTL = 30 * time.Minute

// ErrDuplicateKey is returned by Put when a live record already holds the
// key. Re-subscribing with the same phone only works once the earlier
// attempt has been confirmed or has expired.
var ErrDuplicateKey = errors.New("a pending subscription already exists for this key")

// Store holds subscriptions awaiting payment confirmation, keyed by
// correlation key. Take must be atomic: under concurrent duplicate webhook
// deliveries exactly one caller may receive the record.
type Store interface {
	// Put inserts the record. Fails with ErrDuplicateKey if a live record
	// already holds rec.CorrelationKey.
	Put(ctx context.Context, rec *models.PendingSubscription) error
	// Take atomically removes and returns the record for key. The second
	// return is false when no live record exists (unknown key, already
	// consumed, or expired).
	Take(ctx context.Context, key string) (*models.PendingSubscription, bool, error)
	// Delete removes the record for key if present. Used to roll back a
	// Put after a failed push-payment request.
	Delete(ctx context.Context, key string) error
	// Snapshot returns a copy of all live records. Admin/debug surface only.
	Snapshot(ctx context.Context) ([]models.PendingSubscription, error)
	// Len reports the number of live records.
	Len(ctx context.Context) (int, error)
}

type memoryEntry struct {
	rec      models.PendingSubscription
	deadline time.Time
}

// MemoryStore is the default single-process Store: a mutex-guarded map with
// per-record deadlines. Expired entries are dropped lazily on access and by
// a background sweeper.
type MemoryStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]memoryEntry

	stopCh  chan struct{}
	stopped sync.Once
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		stopCh:  make(chan struct{}),
	}
}

func (s *MemoryStore) Put(_ context.Context, rec *models.PendingSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, ok := s.entries[rec.CorrelationKey]; ok && now.Before(e.deadline) {
		return ErrDuplicateKey
	}
	s.entries[rec.CorrelationKey] = memoryEntry{
		rec:      *rec,
		deadline: now.Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Take(_ context.Context, key string) (*models.PendingSubscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	delete(s.entries, key)
	if time.Now().After(e.deadline) {
		return nil, false, nil
	}
	rec := e.rec
	return &rec, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) ([]models.PendingSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]models.PendingSubscription, 0, len(s.entries))
	for _, e := range s.entries {
		if now.After(e.deadline) {
			continue
		}
		out = append(out, e.rec)
	}
	return out, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for _, e := range s.entries {
		if now.Before(e.deadline) {
			n++
		}
	}
	return n, nil
}

// StartSweeper launches a goroutine that evicts expired records every
// interval, so records for payments that never confirm do not pile up.
func (s *MemoryStore) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if n := s.sweep(); n > 0 {
					log.Infof("[PendingStore] Evicted %d expired pending subscription(s)", n)
				}
			}
		}
	}()
}

// StopSweeper stops the background sweeper. Safe to call more than once.
func (s *MemoryStore) StopSweeper() {
	s.stopped.Do(func() { close(s.stopCh) })
}

func (s *MemoryStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for key, e := range s.entries {
		if now.After(e.deadline) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}
