package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// WindowMode selects how the lower bound of a sync window is computed
type WindowMode string

const (
	// WindowModeWatermark starts at the end of the last successful pass
	WindowModeWatermark WindowMode = "watermark"
	// WindowModeRolling starts a fixed number of days before now
	WindowModeRolling WindowMode = "rolling"
	// WindowModeFixed starts at a configured epoch
	WindowModeFixed WindowMode = "fixed"
)

// IsValid returns true if the mode is valid
func (m WindowMode) IsValid() bool {
	switch m {
	case WindowModeWatermark, WindowModeRolling, WindowModeFixed:
		return true
	default:
		return false
	}
}

// WatermarkReader reads the persisted end of the last successful pass
type WatermarkReader interface {
	GetLastWatermark(ctx context.Context) (time.Time, bool, error)
}

// WindowPolicy computes [start, end) for a sync pass
type WindowPolicy struct {
	Mode WindowMode
	// FixedEpoch is the lower bound in fixed mode
	FixedEpoch time.Time
	// RollingDays is the lookback in rolling mode and the fallback in
	// watermark mode when no watermark exists yet
	RollingDays int
	// Overlap is subtracted from the watermark to absorb clock skew
	Overlap time.Duration
	Clock   clockwork.Clock
}

// Validate checks the policy configuration
func (p WindowPolicy) Validate() error {
	if !p.Mode.IsValid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidWindowPolicy, p.Mode)
	}
	if p.Mode == WindowModeFixed && p.FixedEpoch.IsZero() {
		return fmt.Errorf("%w: fixed mode requires an epoch", ErrInvalidWindowPolicy)
	}
	if p.Mode != WindowModeFixed && p.RollingDays <= 0 {
		return fmt.Errorf("%w: rolling days must be positive", ErrInvalidWindowPolicy)
	}
	if p.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative", ErrInvalidWindowPolicy)
	}
	return nil
}

// Compute returns the window for the next pass. The upper bound is now.
func (p WindowPolicy) Compute(ctx context.Context, watermarks WatermarkReader) (time.Time, time.Time, error) {
	if err := p.Validate(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	end := clock.Now().UTC()
	rolling := end.AddDate(0, 0, -p.RollingDays)

	var start time.Time
	switch p.Mode {
	case WindowModeFixed:
		start = p.FixedEpoch.UTC()
	case WindowModeRolling:
		start = rolling
	case WindowModeWatermark:
		wm, ok, err := watermarks.GetLastWatermark(ctx)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("read watermark: %w", err)
		}
		if !ok {
			start = rolling
		} else {
			start = wm.UTC().Add(-p.Overlap)
		}
	}

	if !start.Before(end) {
		// Watermark ahead of the clock; fall back to the overlap alone
		start = end.Add(-p.Overlap)
		if !start.Before(end) {
			return time.Time{}, time.Time{}, ErrInvalidWindow
		}
	}
	return start, end, nil
}
