package observe

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshFunc rebuilds and publishes one shift's wave snapshot
type RefreshFunc func(ctx context.Context, shiftID string) error

// RefreshStats are the refresh policy counters
type RefreshStats struct {
	Requested int64 `json:"requested"`
	Ran       int64 `json:"ran"`
	Shared    int64 `json:"shared"`   // Joined an in-flight refresh
	Trailing  int64 `json:"trailing"` // Scheduled after the minimum interval
	Coalesced int64 `json:"coalesced"`
	Failed    int64 `json:"failed"`
}

// Refresher rate-limits snapshot refreshes per shift: at most one in flight (concurrent
// requests share it) and at most one start per minInterval. A request inside the
// interval schedules a single trailing refresh so the last change is never lost.
type Refresher struct {
	fn          RefreshFunc
	minInterval time.Duration
	timeout     time.Duration
	now         func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	last     map[string]time.Time
	trailing map[string]*time.Timer
	stopped  bool

	requested, ran, shared, trailingRuns, coalesced, failed atomic.Int64
}

// NewRefresher creates a refresh policy around fn
func NewRefresher(fn RefreshFunc, minInterval time.Duration) *Refresher {
	return &Refresher{
		fn:          fn,
		minInterval: minInterval,
		timeout:     10 * time.Second,
		now:         time.Now,
		last:        make(map[string]time.Time),
		trailing:    make(map[string]*time.Timer),
	}
}

// Request asks for a refresh of shiftID; it never blocks on the refresh itself
func (r *Refresher) Request(shiftID string) {
	r.requested.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if _, scheduled := r.trailing[shiftID]; scheduled {
		r.coalesced.Add(1)
		return
	}

	now := r.now()
	if last, ok := r.last[shiftID]; ok {
		if wait := r.minInterval - now.Sub(last); wait > 0 {
			r.trailingRuns.Add(1)
			r.trailing[shiftID] = time.AfterFunc(wait, func() { r.fireTrailing(shiftID) })
			return
		}
	}
	r.last[shiftID] = now
	go r.run(shiftID)
}

func (r *Refresher) fireTrailing(shiftID string) {
	r.mu.Lock()
	delete(r.trailing, shiftID)
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.last[shiftID] = r.now()
	r.mu.Unlock()
	r.run(shiftID)
}

func (r *Refresher) run(shiftID string) {
	_, err, shared := r.group.Do(shiftID, func() (interface{}, error) {
		r.ran.Add(1)
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		return nil, r.fn(ctx, shiftID)
	})
	if shared {
		r.shared.Add(1)
	}
	if err != nil {
		r.failed.Add(1)
		log.Printf("⚠️  [OBSERVE] Wave snapshot refresh for shift %s failed: %v", shiftID, err)
	}
}

// Forget drops the rate-limit state of a shift, cancelling a pending trailing refresh
func (r *Refresher) Forget(shiftID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trailing[shiftID]; ok {
		t.Stop()
		delete(r.trailing, shiftID)
	}
	delete(r.last, shiftID)
}

// Stop cancels pending trailing refreshes and ignores further requests
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for id, t := range r.trailing {
		t.Stop()
		delete(r.trailing, id)
	}
}

// GetStats returns the counters
func (r *Refresher) GetStats() RefreshStats {
	return RefreshStats{
		Requested: r.requested.Load(),
		Ran:       r.ran.Load(),
		Shared:    r.shared.Load(),
		Trailing:  r.trailingRuns.Load(),
		Coalesced: r.coalesced.Load(),
		Failed:    r.failed.Load(),
	}
}
