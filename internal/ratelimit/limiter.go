// Package ratelimit bounds request rates per (client identity, endpoint)
// pair with a sliding window over a persisted log of event timestamps. The
// log lives behind the Store interface so a process-local map, Redis or a
// SQL table can hold it interchangeably.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Store persists the event log for a key. Get and Set are each atomic, but
// nothing serializes a Get/Set pair: two concurrent Allow calls for the same
// key may both read the same log. Near the limit this can over- or
// under-count by the number of racing requests.
type Store interface {
	// Get returns the stored event timestamps (unix seconds) for key, or an
	// empty slice when the key is unknown.
	Get(ctx context.Context, key string) ([]int64, error)

	// Set replaces the log for key. ttl is a hint for stores that expire
	// keys on their own; entries are always re-filtered on read.
	Set(ctx context.Context, key string, events []int64, ttl time.Duration) error

	// Close releases resources held by the store.
	Close() error
}

// Limiter decides whether one more event for (identity, endpoint) fits in
// the trailing window.
type Limiter interface {
	Allow(ctx context.Context, identity, endpoint string, limit int, window time.Duration) (bool, Info, error)
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum events per window
	Remaining  int           // Events left in the current window
	ResetAt    time.Time     // When the oldest counted event leaves the window
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// Key builds the store key for an identity/endpoint pair.
func Key(identity, endpoint string) string {
	return fmt.Sprintf("%s:%s", identity, endpoint)
}

// SlidingWindow implements Limiter on top of a Store.
type SlidingWindow struct {
	store Store
	now   Clock
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *SlidingWindow) {
		s.now = c
	}
}

// NewSlidingWindow creates a limiter over store.
func NewSlidingWindow(store Store, opts ...Option) *SlidingWindow {
	s := &SlidingWindow{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow admits the event iff fewer than limit events fall inside
// (now-window, now]. An admitted event is appended to the log, so the stored
// count after the call never exceeds limit. Events outside the window are
// dropped from the stored log.
func (s *SlidingWindow) Allow(ctx context.Context, identity, endpoint string, limit int, window time.Duration) (bool, Info, error) {
	key := Key(identity, endpoint)
	now := s.now().Unix()
	windowSecs := int64(window / time.Second)
	if windowSecs <= 0 {
		windowSecs = 1
	}
	windowStart := now - windowSecs

	events, err := s.store.Get(ctx, key)
	if err != nil {
		return false, Info{Limit: limit}, fmt.Errorf("read event log %s: %w", key, err)
	}

	inWindow := make([]int64, 0, len(events)+1)
	for _, ts := range events {
		if ts > windowStart {
			inWindow = append(inWindow, ts)
		}
	}

	info := Info{Limit: limit}

	if len(inWindow) >= limit {
		oldest := oldestOf(inWindow)
		info.ResetAt = time.Unix(oldest+windowSecs, 0)
		info.RetryAfter = time.Duration(oldest+windowSecs-now) * time.Second
		if info.RetryAfter <= 0 {
			info.RetryAfter = time.Second
		}
		if len(inWindow) < len(events) {
			if err := s.store.Set(ctx, key, inWindow, window); err != nil {
				return false, info, fmt.Errorf("prune event log %s: %w", key, err)
			}
		}
		return false, info, nil
	}

	inWindow = append(inWindow, now)
	if err := s.store.Set(ctx, key, inWindow, window); err != nil {
		return false, info, fmt.Errorf("write event log %s: %w", key, err)
	}

	info.Remaining = limit - len(inWindow)
	info.ResetAt = time.Unix(oldestOf(inWindow)+windowSecs, 0)
	return true, info, nil
}

func oldestOf(events []int64) int64 {
	oldest := events[0]
	for _, ts := range events[1:] {
		if ts < oldest {
			oldest = ts
		}
	}
	return oldest
}
