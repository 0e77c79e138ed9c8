// Package geofence turns a driver's location stream into ENTER/EXIT events for the
// dock and parking circles of their base.
package geofence

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dockwave-backend/internal/models"
)

// Tuning controls debounce and sample plausibility
type Tuning struct {
	ConfirmSamples int           // Consecutive samples needed to accept a flip
	MinDwell       time.Duration // Alternatively, time the flip must persist (0 disables)
	MaxAccuracyM   float64       // Samples reporting a worse accuracy are discarded
	MaxSpeedMps    float64       // Implied speed above this is discarded as a GPS jump
}

// DefaultTuning returns sensible values for a truck yard
func DefaultTuning() Tuning {
	return Tuning{
		ConfirmSamples: 3,
		MinDwell:       20 * time.Second,
		MaxAccuracyM:   75,
		MaxSpeedMps:    55, // ~200 km/h
	}
}

// Rejection explains why a sample was discarded ("" means accepted)
type Rejection string

const (
	RejectNone       Rejection = ""
	RejectAccuracy   Rejection = "accuracy"
	RejectSpeed      Rejection = "speed"
	RejectOutOfOrder Rejection = "out_of_order"
)

// FenceState is the debounced containment of one circle
type FenceState struct {
	Inside       bool
	Pending      bool
	PendingCount int
	PendingSince int64 // unix ms of the first sample disagreeing with Inside
}

// DriverFences is everything the evaluator remembers about one driver
type DriverFences struct {
	HasFix  bool
	LastLat float64
	LastLon float64
	LastT   int64
	Dock    FenceState
	Parking FenceState
}

// Step is the pure evaluation function: prior state + sample -> next state + events.
// Discarded samples return the prior state unchanged.
func Step(prior DriverFences, fences BaseFences, sample models.LocationSample, tuning Tuning) (DriverFences, []models.EventKind, Rejection) {
	if tuning.MaxAccuracyM > 0 && sample.Accuracy != nil && *sample.Accuracy > tuning.MaxAccuracyM {
		return prior, nil, RejectAccuracy
	}
	if prior.HasFix {
		if sample.Timestamp <= prior.LastT {
			return prior, nil, RejectOutOfOrder
		}
		if tuning.MaxSpeedMps > 0 {
			dt := float64(sample.Timestamp-prior.LastT) / 1000.0
			dist := haversineMeters(prior.LastLat, prior.LastLon, sample.Latitude, sample.Longitude)
			if dist/dt > tuning.MaxSpeedMps {
				return prior, nil, RejectSpeed
			}
		}
	}

	next := prior
	next.HasFix = true
	next.LastLat = sample.Latitude
	next.LastLon = sample.Longitude
	next.LastT = sample.Timestamp

	var events []models.EventKind

	var flipped bool
	next.Dock, flipped = debounce(prior.Dock, fences.Dock.Contains(sample.Latitude, sample.Longitude), sample.Timestamp, tuning)
	if flipped {
		events = append(events, crossing(next.Dock.Inside, models.EventEnterDock, models.EventExitDock))
	}
	next.Parking, flipped = debounce(prior.Parking, fences.Parking.Contains(sample.Latitude, sample.Longitude), sample.Timestamp, tuning)
	if flipped {
		events = append(events, crossing(next.Parking.Inside, models.EventEnterParking, models.EventExitParking))
	}

	return next, events, RejectNone
}

func crossing(inside bool, enter, exit models.EventKind) models.EventKind {
	if inside {
		return enter
	}
	return exit
}

func debounce(prior FenceState, observed bool, t int64, tuning Tuning) (FenceState, bool) {
	if observed == prior.Inside {
		return FenceState{Inside: prior.Inside}, false
	}

	next := prior
	if !prior.Pending {
		next.Pending = true
		next.PendingCount = 1
		next.PendingSince = t
	} else {
		next.PendingCount++
	}

	required := tuning.ConfirmSamples
	if required < 1 {
		required = 1
	}
	dwelled := tuning.MinDwell > 0 && time.Duration(t-next.PendingSince)*time.Millisecond >= tuning.MinDwell
	if next.PendingCount >= required || dwelled {
		return FenceState{Inside: observed}, true
	}
	return next, false
}

// Stats counts evaluator activity
type Stats struct {
	Accepted            int64 `json:"accepted"`
	DiscardedAccuracy   int64 `json:"discarded_accuracy"`
	DiscardedSpeed      int64 `json:"discarded_speed"`
	DiscardedOutOfOrder int64 `json:"discarded_out_of_order"`
	UnknownBase         int64 `json:"unknown_base"`
	Events              int64 `json:"events"`
	RolledBack          int64 `json:"rolled_back"`
}

type driverEntry struct {
	mu    sync.Mutex
	state DriverFences
}

// Evaluator keeps per-(driver, shift) fence state. Drivers never contend with each
// other: the map lookup is lock-free and each entry has its own mutex. Samples of one
// driver are evaluated and applied one at a time.
type Evaluator struct {
	provider Provider
	tuning   Tuning
	drivers  sync.Map // models.StatusKey -> *driverEntry

	accepted, discardedAccuracy, discardedSpeed, discardedOrder, unknownBase, events, rolledBack atomic.Int64
}

// NewEvaluator creates an evaluator reading fences from provider
func NewEvaluator(provider Provider, tuning Tuning) *Evaluator {
	return &Evaluator{provider: provider, tuning: tuning}
}

// Evaluate runs one sample for a driver whose shift belongs to baseID and returns the
// resulting geofence events (possibly none).
//
// When the sample produces crossings, apply is called with them while the driver's fence
// state is held. The new state is kept only if apply returns true; otherwise the sample
// is forgotten so that a retry or the next sample emits the crossings again. A nil apply
// keeps the state unconditionally.
func (e *Evaluator) Evaluate(baseID string, sample models.LocationSample, apply func([]models.Event) bool) []models.Event {
	fences, ok := e.provider.Fences(baseID)
	if !ok {
		e.unknownBase.Add(1)
		log.Printf("⚠️  [GEOFENCE] No fences configured for base %s (driver %s)", baseID, sample.DriverID)
		return nil
	}

	key := models.StatusKey{DriverID: sample.DriverID, ShiftID: sample.ShiftID}
	v, _ := e.drivers.LoadOrStore(key, &driverEntry{})
	entry := v.(*driverEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next, kinds, rejection := Step(entry.state, fences, sample, e.tuning)
	switch rejection {
	case RejectAccuracy:
		e.discardedAccuracy.Add(1)
		log.Printf("📉 [GEOFENCE] Discarded sample from %s: accuracy %.1fm over limit", key, sample.AccuracyOr(0))
		return nil
	case RejectSpeed:
		e.discardedSpeed.Add(1)
		log.Printf("📉 [GEOFENCE] Discarded sample from %s: implausible jump", key)
		return nil
	case RejectOutOfOrder:
		e.discardedOrder.Add(1)
		log.Printf("📉 [GEOFENCE] Discarded sample from %s: timestamp %d not after last fix", key, sample.Timestamp)
		return nil
	}
	e.accepted.Add(1)

	if len(kinds) == 0 {
		entry.state = next
		return nil
	}

	events := make([]models.Event, 0, len(kinds))
	for _, kind := range kinds {
		events = append(events, models.Event{
			Kind:     kind,
			DriverID: sample.DriverID,
			ShiftID:  sample.ShiftID,
			At:       sample.Timestamp,
		})
		log.Printf("📍 [GEOFENCE] %s for %s", kind, key)
	}
	e.events.Add(int64(len(events)))

	if apply != nil && !apply(events) {
		e.rolledBack.Add(1)
		log.Printf("↩️  [GEOFENCE] Crossings for %s not applied, sample at %d forgotten", key, sample.Timestamp)
		return events
	}
	entry.state = next
	return events
}

// ForgetShift drops all fence state held for a shift
func (e *Evaluator) ForgetShift(shiftID string) int {
	removed := 0
	e.drivers.Range(func(k, _ interface{}) bool {
		if k.(models.StatusKey).ShiftID == shiftID {
			e.drivers.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

// GetStats returns evaluator counters
func (e *Evaluator) GetStats() Stats {
	return Stats{
		Accepted:            e.accepted.Load(),
		DiscardedAccuracy:   e.discardedAccuracy.Load(),
		DiscardedSpeed:      e.discardedSpeed.Load(),
		DiscardedOutOfOrder: e.discardedOrder.Load(),
		UnknownBase:         e.unknownBase.Load(),
		Events:              e.events.Load(),
		RolledBack:          e.rolledBack.Load(),
	}
}
