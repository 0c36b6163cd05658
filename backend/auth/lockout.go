package auth

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 15 * time.Minute
)

type attemptKey struct {
	Username string
	ClientIP string
}

// FailedAttempt counts consecutive login failures for one (username, IP)
// pair. The count is only meaningful while the lockout window has not
// elapsed since LastAttemptAt.
type FailedAttempt struct {
	Count         int
	LastAttemptAt time.Time
}

// Tracker is the failure-counting lockout guard. Both recording and the
// lockout check are scoped per (username, clientIP).
type Tracker struct {
	mu          sync.Mutex
	records     map[attemptKey]*FailedAttempt
	maxFailures int
	window      time.Duration
}

func NewTracker(maxFailures int, window time.Duration) *Tracker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailedAttempts
	}
	if window <= 0 {
		window = DefaultLockoutDuration
	}
	return &Tracker{
		records:     make(map[attemptKey]*FailedAttempt),
		maxFailures: maxFailures,
		window:      window,
	}
}

// RecordFailedAttempt increments the failure counter, restarting the count
// when the previous record went stale.
func (t *Tracker) RecordFailedAttempt(username, clientIP string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := attemptKey{username, clientIP}
	rec, ok := t.records[key]
	if !ok || time.Since(rec.LastAttemptAt) >= t.window {
		rec = &FailedAttempt{}
		t.records[key] = rec
	}
	rec.Count++
	rec.LastAttemptAt = time.Now()
}

// IsAccountLocked reports whether the (username, clientIP) pair has reached
// the failure threshold within the lockout window.
func (t *Tracker) IsAccountLocked(username, clientIP string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := attemptKey{username, clientIP}
	rec, ok := t.records[key]
	if !ok {
		return false
	}
	if time.Since(rec.LastAttemptAt) >= t.window {
		delete(t.records, key)
		return false
	}
	return rec.Count >= t.maxFailures
}

// ClearFailedAttempts drops the record after a successful authentication.
func (t *Tracker) ClearFailedAttempts(username, clientIP string) {
	t.mu.Lock()
	delete(t.records, attemptKey{username, clientIP})
	t.mu.Unlock()
}

// Cleanup removes records whose window elapsed with no further attempts.
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for key, rec := range t.records {
		if now.Sub(rec.LastAttemptAt) >= t.window {
			delete(t.records, key)
		}
	}
}

// StartSweeper runs Cleanup on the given interval until ctx is done.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Cleanup()
				log.Debugf("lockout sweep done")
			}
		}
	}()
}
