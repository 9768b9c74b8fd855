package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/neese/crmsync/internal/infrastructure/logger"
)

// JobFunc is the work a trigger runs on every tick
type JobFunc func(ctx context.Context) error

// CronTriggerConfig holds configuration for an interval trigger
type CronTriggerConfig struct {
	// Name identifies the trigger in logs
	Name string
	// Interval is the time between two runs
	Interval time.Duration
	// RunOnStart runs the job once immediately after Start
	RunOnStart bool
	// JobTimeout bounds a single run; zero means no bound
	JobTimeout time.Duration
}

// Validate checks the configuration
func (c CronTriggerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("%w: job timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// CronTrigger runs a job on a fixed interval. Runs happen on the loop
// goroutine and never overlap.
type CronTrigger struct {
	config CronTriggerConfig
	job    JobFunc
	clock  clockwork.Clock
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   time.Time
	lastErr   error
	runs      int
}

// NewCronTrigger creates a new interval trigger
func NewCronTrigger(config CronTriggerConfig, job JobFunc, clock clockwork.Clock, logger *zap.Logger) (*CronTrigger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CronTrigger{
		config: config,
		job:    job,
		clock:  clock,
		logger: logger.With(zap.String("trigger", config.Name)),
	}, nil
}

// Start starts the trigger loop
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return ErrTriggerRunning
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Cron trigger started",
		zap.Duration("interval", c.config.Interval),
		zap.Bool("run_on_start", c.config.RunOnStart),
	)

	return nil
}

// Stop stops the trigger and waits for a running job to finish
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active
func (c *CronTrigger) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}

// Status returns the time and error of the last run and the number of runs
func (c *CronTrigger) Status() (lastRun time.Time, lastErr error, runs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.lastErr, c.runs
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.config.Interval)
	defer ticker.Stop()

	if c.config.RunOnStart {
		c.runOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.runOnce(ctx)
		}
	}
}

func (c *CronTrigger) runOnce(ctx context.Context) {
	if c.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.JobTimeout)
		defer cancel()
	}
	ctx, _ = logger.WithJob(ctx, c.logger, c.config.Name)

	started := c.clock.Now()
	err := c.job(ctx)

	c.mu.Lock()
	c.lastRun = started
	c.lastErr = err
	c.runs++
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Scheduled job failed",
			zap.Duration("elapsed", c.clock.Since(started)),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("Scheduled job completed", zap.Duration("elapsed", c.clock.Since(started)))
}
