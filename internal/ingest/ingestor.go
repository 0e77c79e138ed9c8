// Package ingest turns driver location samples into geofence events and feeds them
// to the reconciler. Samples arrive over HTTP, the driver WebSocket and SQS.
package ingest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/reconciler"
)

// ShiftLookup resolves the shift a sample belongs to
type ShiftLookup interface {
	GetShift(ctx context.Context, shiftID string) (models.Shift, error)
}

// Evaluator turns one sample into zero or more geofence events. The fence state moves
// past the sample only when apply reports the events took effect.
type Evaluator interface {
	Evaluate(baseID string, sample models.LocationSample, apply func([]models.Event) bool) []models.Event
}

// Submitter applies events to driver state
type Submitter interface {
	Submit(ctx context.Context, ev models.Event) (reconciler.Result, error)
}

// Stats are the ingestion counters
type Stats struct {
	Received  int64 `json:"received"`
	Rejected  int64 `json:"rejected"`
	Events    int64 `json:"events"`
	Applied   int64 `json:"applied"`
	Failed    int64 `json:"failed"`
	Locations int   `json:"locations"`
}

// Ingestor is the location pipeline
type Ingestor struct {
	shifts    ShiftLookup
	evaluator Evaluator
	submitter Submitter
	now       func() time.Time

	latest sync.Map // models.StatusKey -> models.LocationSample

	received, rejected, events, applied, failed atomic.Int64
}

// NewIngestor wires the pipeline
func NewIngestor(shifts ShiftLookup, evaluator Evaluator, submitter Submitter) *Ingestor {
	return &Ingestor{
		shifts:    shifts,
		evaluator: evaluator,
		submitter: submitter,
		now:       time.Now,
	}
}

// Ingest evaluates one sample and submits the resulting events in order. The returned
// results line up with the emitted events; most samples emit none.
func (i *Ingestor) Ingest(ctx context.Context, sample models.LocationSample) ([]reconciler.Result, error) {
	i.received.Add(1)
	if err := validate(sample); err != nil {
		i.rejected.Add(1)
		return nil, err
	}
	if sample.Timestamp == 0 {
		sample.Timestamp = i.now().UnixMilli()
	}

	shift, err := i.shifts.GetShift(ctx, sample.ShiftID)
	if err != nil {
		i.rejected.Add(1)
		return nil, err
	}
	if shift.IsArchived() {
		i.rejected.Add(1)
		return nil, errs.PreconditionFailed(fmt.Sprintf("shift %s is archived", shift.ID))
	}

	i.latest.Store(models.StatusKey{DriverID: sample.DriverID, ShiftID: sample.ShiftID}, sample)

	var (
		results   []reconciler.Result
		submitErr error
	)
	i.evaluator.Evaluate(shift.BaseID, sample, func(events []models.Event) bool {
		i.events.Add(int64(len(events)))
		results, submitErr = i.submit(ctx, events)
		return submitErr == nil
	})
	return results, submitErr
}

// submit applies the events of one sample in order. It stops at the first event whose
// outcome is unknown: an infrastructure error or a persistence timeout. Both are
// returned as errors so the sample can be retried.
func (i *Ingestor) submit(ctx context.Context, events []models.Event) ([]reconciler.Result, error) {
	results := make([]reconciler.Result, 0, len(events))
	for _, ev := range events {
		res, err := i.submitter.Submit(ctx, ev)
		if err == nil && res.Kind == errs.KindPersistenceTimeout {
			err = errs.New(errs.KindPersistenceTimeout, res.Reason)
		}
		if err != nil {
			i.failed.Add(1)
			log.Printf("❌ [INGEST] %s for %s not applied: %v", ev.Kind, ev.Key(), err)
			return results, err
		}
		if res.Applied {
			i.applied.Add(1)
		}
		results = append(results, res)
	}
	return results, nil
}

// Locations returns the latest accepted sample of every driver in a shift
func (i *Ingestor) Locations(shiftID string) []models.LocationSample {
	out := []models.LocationSample{}
	i.latest.Range(func(k, v interface{}) bool {
		if k.(models.StatusKey).ShiftID == shiftID {
			out = append(out, v.(models.LocationSample))
		}
		return true
	})
	sort.Slice(out, func(a, b int) bool { return out[a].DriverID < out[b].DriverID })
	return out
}

// ForgetShift drops the latest locations of a shift
func (i *Ingestor) ForgetShift(shiftID string) {
	i.latest.Range(func(k, _ interface{}) bool {
		if k.(models.StatusKey).ShiftID == shiftID {
			i.latest.Delete(k)
		}
		return true
	})
}

// GetStats returns the counters
func (i *Ingestor) GetStats() Stats {
	locations := 0
	i.latest.Range(func(_, _ interface{}) bool {
		locations++
		return true
	})
	return Stats{
		Received:  i.received.Load(),
		Rejected:  i.rejected.Load(),
		Events:    i.events.Load(),
		Applied:   i.applied.Load(),
		Failed:    i.failed.Load(),
		Locations: locations,
	}
}

func validate(s models.LocationSample) error {
	if s.DriverID == "" {
		return errs.Invalid("driver_id is required")
	}
	if s.ShiftID == "" {
		return errs.Invalid("shift_id is required")
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return errs.Invalid("latitude must be between -90 and 90")
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return errs.Invalid("longitude must be between -180 and 180")
	}
	if s.Accuracy != nil && *s.Accuracy < 0 {
		return errs.Invalid("accuracy must not be negative")
	}
	return nil
}
