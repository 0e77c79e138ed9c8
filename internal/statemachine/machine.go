// Package statemachine holds the transition table for a driver's fulfillment state.
// Apply is pure: it never touches storage and never mutates its input.
package statemachine

import (
	"fmt"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
)

// Verdict is the outcome class of applying one event
type Verdict string

const (
	Applied            Verdict = "applied"
	NoOp               Verdict = "no_op"
	PreconditionFailed Verdict = "precondition_failed"
)

// Outcome is the result of Apply. Next and Steps are only set when Verdict is Applied.
type Outcome struct {
	Verdict Verdict
	Next    models.DriverShiftStatus
	Steps   []models.TransitionRecord
	Reason  string
}

// Kind maps a refusal to its error kind ("" when applied)
func (o Outcome) Kind() errs.Kind {
	switch o.Verdict {
	case NoOp:
		return errs.KindInvalidTransition
	case PreconditionFailed:
		return errs.KindPreconditionFailed
	}
	return ""
}

// AllowedFrom lists the states each event kind may leave from. It is the
// transition diagram as data; special cases live in Apply.
var AllowedFrom = map[models.EventKind][]models.DriverState{
	models.EventEnterDock:       {models.StateEnRoute, models.StateParked},
	models.EventEnterParking:    {models.StateEnRoute, models.StateArrived, models.StateParkingRequested},
	models.EventCallToDock:      {models.StateEnRoute, models.StateArrived, models.StateParked, models.StateParkingRequested, models.StateCalledToDock},
	models.EventCallToParking:   {models.StateEnRoute, models.StateArrived},
	models.EventConfirm:         {models.StateCalledToDock, models.StateParkingRequested},
	models.EventStartLoading:    {models.StateCalledToDock},
	models.EventCompleteLoading: {models.StateCalledToDock, models.StateLoading},
}

// CanLeave reports whether kind may be applied from state at all
func CanLeave(kind models.EventKind, state models.DriverState) bool {
	for _, s := range AllowedFrom[kind] {
		if s == state {
			return true
		}
	}
	return false
}

// Apply evaluates ev against cur. now (unix ms) is stamped as UpdatedAt/RecordedAt;
// ev.At is stamped on the business timestamps.
func Apply(cur models.DriverShiftStatus, ev models.Event, now int64) Outcome {
	if ev.Kind == models.EventCallToDock && cur.State == models.StateLoading {
		return Outcome{Verdict: PreconditionFailed, Reason: "driver is already loading"}
	}
	if ev.Kind == models.EventCompleteLoading && cur.State == models.StateCompleted {
		return noOp(cur, ev)
	}
	if !CanLeave(ev.Kind, cur.State) {
		return noOp(cur, ev)
	}

	next := cur.Clone()
	path := []models.DriverState{cur.State}

	switch ev.Kind {
	case models.EventEnterDock:
		next.State = models.StateArrived

	case models.EventEnterParking:
		next.State = models.StateParked
		// A parking call is fulfilled once parked
		next.ConfirmedAt = nil

	case models.EventCallToDock:
		if ev.DockLabel == "" {
			return Outcome{Verdict: PreconditionFailed, Reason: "dock label is required"}
		}
		next.State = models.StateCalledToDock
		next.DockLabel = models.StringPtr(ev.DockLabel)
		if ev.RouteCode != "" {
			next.RouteCode = models.StringPtr(ev.RouteCode)
		} else {
			next.RouteCode = nil
		}
		next.ConfirmedAt = nil

	case models.EventCallToParking:
		next.State = models.StateParkingRequested
		next.DockLabel = nil
		next.RouteCode = nil
		next.ConfirmedAt = nil

	case models.EventConfirm:
		if cur.IsConfirmed() {
			return noOp(cur, ev)
		}
		next.ConfirmedAt = models.Int64Ptr(ev.At)

	case models.EventStartLoading:
		if !cur.IsConfirmed() {
			return Outcome{Verdict: PreconditionFailed, Reason: "dock call must be confirmed before loading"}
		}
		next.State = models.StateLoading

	case models.EventCompleteLoading:
		if !cur.IsConfirmed() {
			return Outcome{Verdict: PreconditionFailed, Reason: "dock call must be confirmed before completing"}
		}
		if cur.State == models.StateCalledToDock {
			path = append(path, models.StateLoading)
		}
		next.State = models.StateCompleted
		next.CompletedAt = models.Int64Ptr(ev.At)

	default:
		return noOp(cur, ev)
	}

	path = append(path, next.State)
	next.LastEventAt = ev.At
	if ev.Kind.Source() == models.SourceGeofence {
		next.LastGeofenceAt = ev.At
	}
	next.LastSeq = ev.Seq
	next.UpdatedAt = now

	return Outcome{
		Verdict: Applied,
		Next:    next,
		Steps:   steps(path, ev, now),
	}
}

func noOp(cur models.DriverShiftStatus, ev models.Event) Outcome {
	return Outcome{
		Verdict: NoOp,
		Reason:  fmt.Sprintf("%s has no effect in state %s", ev.Kind, cur.State),
	}
}

// steps expands a state path into audit rows; a path of one state change yields one row,
// a confirmation (state unchanged) also yields one row.
func steps(path []models.DriverState, ev models.Event, now int64) []models.TransitionRecord {
	out := make([]models.TransitionRecord, 0, len(path)-1)
	for i := 1; i < len(path); i++ {
		out = append(out, models.TransitionRecord{
			DriverID:   ev.DriverID,
			ShiftID:    ev.ShiftID,
			FromState:  path[i-1],
			ToState:    path[i],
			EventKind:  ev.Kind,
			Source:     ev.Kind.Source(),
			Seq:        ev.Seq,
			EventAt:    ev.At,
			RecordedAt: now,
		})
	}
	return out
}
