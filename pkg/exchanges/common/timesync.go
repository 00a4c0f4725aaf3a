package common

import (
	"context"
	"sync"
	"time"
)

// TimeSync tracks the offset between the broker server clock and the local clock.
type TimeSync struct {
	getServerTime func(ctx context.Context) (time.Time, error)
	offset        time.Duration // server - local
	lastSync      time.Time
	syncInterval  time.Duration
	mu            sync.RWMutex
}

// NewTimeSync creates a new time synchronization manager.
func NewTimeSync(getServerTime func(ctx context.Context) (time.Time, error)) *TimeSync {
	return &TimeSync{
		getServerTime: getServerTime,
		syncInterval:  30 * time.Minute,
	}
}

// Sync synchronizes with server time.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now()

	// Assume network latency is symmetric
	local := localBefore.Add(localAfter.Sub(localBefore) / 2)

	ts.mu.Lock()
	ts.offset = serverTime.Sub(local)
	ts.lastSync = localAfter
	ts.mu.Unlock()
	return nil
}

// SyncIfStale re-syncs when the last sync is older than the sync interval.
func (ts *TimeSync) SyncIfStale(ctx context.Context) error {
	ts.mu.RLock()
	fresh := !ts.lastSync.IsZero() && time.Since(ts.lastSync) < ts.syncInterval
	ts.mu.RUnlock()
	if fresh {
		return nil
	}
	return ts.Sync(ctx)
}

// Now returns current time adjusted for server offset.
func (ts *TimeSync) Now() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().Add(ts.offset)
}

// Offset returns the current time offset.
func (ts *TimeSync) Offset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
