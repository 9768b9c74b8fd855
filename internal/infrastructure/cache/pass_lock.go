package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/neese/crmsync/internal/domain/relay"
)

// InMemoryPassLock implements relay.PassLock for a single process.
// The lock expires after its TTL so a crashed pass cannot hold it forever.
type InMemoryPassLock struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	token     string
	expiresAt time.Time
}

// NewInMemoryPassLock creates an in-memory pass lock
func NewInMemoryPassLock(clock clockwork.Clock) *InMemoryPassLock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryPassLock{clock: clock}
}

// TryAcquire takes the lock if it is free or expired
func (l *InMemoryPassLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.token != "" && now.Before(l.expiresAt) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.token = token
	l.expiresAt = now.Add(ttl)

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		// a lock that expired and was taken by someone else stays theirs
		if l.token == token {
			l.token = ""
		}
	}, true, nil
}

// RedisPassLock implements relay.PassLock with SET NX PX so that several
// instances never run overlapping passes
type RedisPassLock struct {
	client *redis.Client
	key    string
}

// releaseScript deletes the lock only if it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisPassLock creates a Redis pass lock stored at keyPrefix + "sync:lock"
func NewRedisPassLock(client *redis.Client, keyPrefix string) *RedisPassLock {
	return &RedisPassLock{
		client: client,
		key:    keyPrefix + "sync:lock",
	}
}

// TryAcquire sets the lock key if absent
func (l *RedisPassLock) TryAcquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}, true, nil
}

var (
	_ relay.PassLock = (*InMemoryPassLock)(nil)
	_ relay.PassLock = (*RedisPassLock)(nil)
)
