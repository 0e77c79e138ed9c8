// Package observe fans persisted driver status changes and wave layouts out to
// dispatcher and driver subscribers. Every stream opens with a snapshot of persisted
// state; a subscriber that falls behind is closed with ReasonResync and is expected to
// reconnect, which gives it a fresh snapshot.
package observe

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dockwave-backend/internal/models"
)

// StatusSource reads persisted driver statuses
type StatusSource interface {
	Snapshot(ctx context.Context, shiftID string) ([]models.DriverShiftStatus, error)
	Status(ctx context.Context, key models.StatusKey) (models.DriverShiftStatus, bool, error)
}

// LayoutSource reads a shift's committed wave layout
type LayoutSource interface {
	Layout(ctx context.Context, shiftID string) (models.ShiftLayout, error)
}

// Options tunes the broker
type Options struct {
	BufferSize         int           // Per-subscriber queue length
	RefreshMinInterval time.Duration // Minimum spacing of wave snapshot refreshes per shift
}

// Stats are the broker counters
type Stats struct {
	Subscribers int          `json:"subscribers"`
	Published   int64        `json:"published"`
	Resyncs     int64        `json:"resyncs"`
	Refresh     RefreshStats `json:"refresh"`
}

// Broker is the observation layer. It implements reconciler.Publisher and
// wavestore.Listener.
type Broker struct {
	statuses StatusSource
	layouts  LayoutSource
	opts     Options
	refresh  *Refresher
	now      func() time.Time

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{} // shiftID -> subscribers

	published, resyncs atomic.Int64
}

// NewBroker creates a broker over the given read sources
func NewBroker(statuses StatusSource, layouts LayoutSource, opts Options) *Broker {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.RefreshMinInterval <= 0 {
		opts.RefreshMinInterval = 500 * time.Millisecond
	}
	b := &Broker{
		statuses: statuses,
		layouts:  layouts,
		opts:     opts,
		now:      time.Now,
		subs:     make(map[string]map[*Subscription]struct{}),
	}
	b.refresh = NewRefresher(b.publishWaves, opts.RefreshMinInterval)
	return b
}

// Subscribe opens a whole-shift stream: a snapshot, then status deltas and wave snapshots
func (b *Broker) Subscribe(ctx context.Context, shiftID string) (*Subscription, error) {
	sub := newSubscription(shiftID, "", b.opts.BufferSize)
	b.add(sub)

	statuses, err := b.statuses.Snapshot(ctx, shiftID)
	if err != nil {
		b.Unsubscribe(sub)
		return nil, fmt.Errorf("failed to load shift snapshot: %w", err)
	}
	layout, err := b.layouts.Layout(ctx, shiftID)
	if err != nil {
		b.Unsubscribe(sub)
		return nil, fmt.Errorf("failed to load wave layout: %w", err)
	}

	b.start(sub, Message{
		Type:      MsgSnapshot,
		ShiftID:   shiftID,
		Statuses:  statuses,
		Layout:    &layout,
		Timestamp: b.now().UnixMilli(),
	})
	return sub, nil
}

// SubscribeDriver opens a one-driver stream. The first message is the driver's current
// status (the initial EN_ROUTE record when nothing was persisted yet).
func (b *Broker) SubscribeDriver(ctx context.Context, shiftID, driverID string) (*Subscription, error) {
	sub := newSubscription(shiftID, driverID, b.opts.BufferSize)
	b.add(sub)

	key := models.StatusKey{DriverID: driverID, ShiftID: shiftID}
	st, ok, err := b.statuses.Status(ctx, key)
	if err != nil {
		b.Unsubscribe(sub)
		return nil, fmt.Errorf("failed to load driver status: %w", err)
	}
	if !ok {
		st = models.NewDriverShiftStatus(driverID, shiftID, b.now().UnixMilli())
	}

	b.start(sub, Message{
		Type:      MsgStatus,
		ShiftID:   shiftID,
		Status:    &st,
		Timestamp: b.now().UnixMilli(),
	})
	return sub, nil
}

// Unsubscribe ends a stream
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.remove(sub)
	sub.close(ReasonClosed)
}

// PublishStatus fans a persisted status out to the shift's subscribers
func (b *Broker) PublishStatus(st models.DriverShiftStatus) {
	b.published.Add(1)
	snapshot := st.Clone()
	b.fanOut(Message{
		Type:      MsgStatus,
		ShiftID:   st.ShiftID,
		Status:    &snapshot,
		Timestamp: b.now().UnixMilli(),
	})
}

// WavesChanged schedules a wave snapshot refresh for the shift
func (b *Broker) WavesChanged(shiftID string) {
	b.refresh.Request(shiftID)
}

// ForgetShift closes every stream of an archived shift
func (b *Broker) ForgetShift(shiftID string) {
	b.refresh.Forget(shiftID)
	b.mu.Lock()
	subs := b.subs[shiftID]
	delete(b.subs, shiftID)
	b.mu.Unlock()
	for sub := range subs {
		sub.close(ReasonClosed)
	}
}

// Close stops refreshes and ends every stream
func (b *Broker) Close() {
	b.refresh.Stop()
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()
	for _, subs := range all {
		for sub := range subs {
			sub.close(ReasonShutdown)
		}
	}
}

// GetStats returns the counters
func (b *Broker) GetStats() Stats {
	b.mu.RLock()
	count := 0
	for _, subs := range b.subs {
		count += len(subs)
	}
	b.mu.RUnlock()
	return Stats{
		Subscribers: count,
		Published:   b.published.Load(),
		Resyncs:     b.resyncs.Load(),
		Refresh:     b.refresh.GetStats(),
	}
}

func (b *Broker) publishWaves(ctx context.Context, shiftID string) error {
	b.mu.RLock()
	watched := len(b.subs[shiftID]) > 0
	b.mu.RUnlock()
	if !watched {
		return nil
	}
	layout, err := b.layouts.Layout(ctx, shiftID)
	if err != nil {
		return err
	}
	b.fanOut(Message{
		Type:      MsgWaves,
		ShiftID:   shiftID,
		Layout:    &layout,
		Timestamp: b.now().UnixMilli(),
	})
	return nil
}

func (b *Broker) fanOut(msg Message) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[msg.ShiftID]))
	for sub := range b.subs[msg.ShiftID] {
		if sub.wants(msg) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.deliver(msg) {
			b.dropLagging(sub)
		}
	}
}

func (b *Broker) start(sub *Subscription, first Message) {
	if !sub.start(first) {
		b.dropLagging(sub)
	}
}

func (b *Broker) dropLagging(sub *Subscription) {
	b.remove(sub)
	b.resyncs.Add(1)
	who := "shift " + sub.ShiftID
	if sub.DriverID != "" {
		who = fmt.Sprintf("driver %s in shift %s", sub.DriverID, sub.ShiftID)
	}
	log.Printf("⚠️  [OBSERVE] Subscriber for %s fell behind, closed for resync", who)
}

func (b *Broker) add(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[sub.ShiftID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[sub.ShiftID] = set
	}
	set[sub] = struct{}{}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[sub.ShiftID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.ShiftID)
	}
}
