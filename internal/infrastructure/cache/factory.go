package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/domain/relay"
	"github.com/neese/crmsync/internal/infrastructure/config"
)

// Stores bundles the pass lock and person store chosen by the factory
type Stores struct {
	PassLock relay.PassLock
	Persons  PersonStore
	// Client is the Redis client backing the stores, nil when in-memory
	Client *redis.Client

	closers []func() error
}

// Close releases the stores and the Redis client
func (s *Stores) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StoreFactory creates the coordination stores based on configuration
type StoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	clock                 clockwork.Clock
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithClock sets the clock used by in-memory stores
func WithClock(clock clockwork.Clock) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.clock = clock
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when Redis is unavailable
// Default is true (allow fallback)
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg config.RedisConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		clock:                 clockwork.NewRealClock(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateInMemoryStores creates process-local stores.
// WARNING: in-memory locks do not coordinate separate instances.
func (f *StoreFactory) CreateInMemoryStores() *Stores {
	persons := NewInMemoryPersonStore(f.clock)
	return &Stores{
		PassLock: NewInMemoryPassLock(f.clock),
		Persons:  persons,
		closers:  []func() error{persons.Close},
	}
}

// CreateRedisStores connects to Redis and creates shared stores
func (f *StoreFactory) CreateRedisStores(ctx context.Context) (*Stores, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStores(client, f.redisConfig.KeyPrefix), nil
}

// NewRedisStores builds Redis stores on an existing client
func NewRedisStores(client *redis.Client, keyPrefix string) *Stores {
	return &Stores{
		PassLock: NewRedisPassLock(client, keyPrefix),
		Persons:  NewRedisPersonStore(client, keyPrefix),
		Client:   client,
		closers:  []func() error{client.Close},
	}
}

// CreateStores uses Redis when enabled and reachable, and falls back to
// in-memory stores when Redis is disabled or, if allowed, unavailable
func (f *StoreFactory) CreateStores(ctx context.Context) (*Stores, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory coordination stores")
		return f.CreateInMemoryStores(), nil
	}

	stores, err := f.CreateRedisStores(ctx)
	if err == nil {
		f.logger.Info("Using Redis coordination stores", zap.String("addr", f.redisConfig.Addr()))
		return stores, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory stores. "+
		"Overlapping passes across instances are not prevented.",
		zap.Error(err),
	)
	return f.CreateInMemoryStores(), nil
}
