package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
)

// PersonStore caches storefront persons by id
type PersonStore interface {
	// Get returns the cached person; ok is false on a miss
	Get(ctx context.Context, id int64) (person *relay.PersonRecord, ok bool, err error)
	Set(ctx context.Context, person *relay.PersonRecord, ttl time.Duration) error
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

type personEntry struct {
	person    relay.PersonRecord
	expiresAt time.Time
}

// InMemoryPersonStore implements PersonStore with a map. Expired entries are
// dropped by a background sweep and ignored on read.
type InMemoryPersonStore struct {
	mu        sync.RWMutex
	entries   map[int64]personEntry
	clock     clockwork.Clock
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryPersonStore creates an in-memory person store and starts its sweep
func NewInMemoryPersonStore(clock clockwork.Clock) *InMemoryPersonStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &InMemoryPersonStore{
		entries:  make(map[int64]personEntry),
		clock:    clock,
		stopChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

// Get returns a cached person
func (s *InMemoryPersonStore) Get(ctx context.Context, id int64) (*relay.PersonRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[id]
	if !exists || !s.clock.Now().Before(e.expiresAt) {
		return nil, false, nil
	}
	p := e.person
	return &p, true, nil
}

// Set caches a person for ttl
func (s *InMemoryPersonStore) Set(ctx context.Context, person *relay.PersonRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[person.ID] = personEntry{
		person:    *person,
		expiresAt: s.clock.Now().Add(ttl),
	}
	return nil
}

// Close stops the sweep; safe to call multiple times
func (s *InMemoryPersonStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// Size returns the number of entries, expired ones included
func (s *InMemoryPersonStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *InMemoryPersonStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.Chan():
			s.cleanup()
		}
	}
}

func (s *InMemoryPersonStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
		}
	}
}

// ---------------------------------------------------------------------------
// Redis store
// ---------------------------------------------------------------------------

// RedisPersonStore implements PersonStore with JSON values in Redis
type RedisPersonStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisPersonStore creates a Redis person store under keyPrefix + "person:"
func NewRedisPersonStore(client *redis.Client, keyPrefix string) *RedisPersonStore {
	return &RedisPersonStore{
		client:    client,
		keyPrefix: keyPrefix + "person:",
	}
}

func (s *RedisPersonStore) key(id int64) string {
	return s.keyPrefix + strconv.FormatInt(id, 10)
}

// Get returns a cached person
func (s *RedisPersonStore) Get(ctx context.Context, id int64) (*relay.PersonRecord, bool, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached person: %w", err)
	}

	var person relay.PersonRecord
	if err := json.Unmarshal(raw, &person); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached person: %w", err)
	}
	return &person, true, nil
}

// Set caches a person for ttl
func (s *RedisPersonStore) Set(ctx context.Context, person *relay.PersonRecord, ttl time.Duration) error {
	raw, err := json.Marshal(person)
	if err != nil {
		return fmt.Errorf("failed to encode person: %w", err)
	}
	if err := s.client.Set(ctx, s.key(person.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache person: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

// CachingPersonResolver wraps a relay.PersonResolver with a PersonStore.
// Only found persons are cached. Store failures fall through to the source.
type CachingPersonResolver struct {
	next   relay.PersonResolver
	store  PersonStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachingPersonResolver creates a caching resolver
func NewCachingPersonResolver(next relay.PersonResolver, store PersonStore, ttl time.Duration, logger *zap.Logger) *CachingPersonResolver {
	return &CachingPersonResolver{
		next:   next,
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// ResolvePerson returns the cached person or resolves and caches it
func (r *CachingPersonResolver) ResolvePerson(ctx context.Context, id int64) (*relay.PersonRecord, error) {
	person, ok, err := r.store.Get(ctx, id)
	if err != nil {
		r.logger.Warn("Person cache read failed", zap.Int64("person_id", id), zap.Error(err))
	} else if ok {
		return person, nil
	}

	person, err = r.next.ResolvePerson(ctx, id)
	if err != nil || person == nil {
		return person, err
	}

	if err := r.store.Set(ctx, person, r.ttl); err != nil {
		r.logger.Warn("Person cache write failed", zap.Int64("person_id", id), zap.Error(err))
	}
	return person, nil
}

var (
	_ PersonStore          = (*InMemoryPersonStore)(nil)
	_ PersonStore          = (*RedisPersonStore)(nil)
	_ relay.PersonResolver = (*CachingPersonResolver)(nil)
)
