// Package reconciler merges geofence, dispatcher and driver events into the per-driver
// state machine. Each (driver, shift) key is owned by one actor goroutine, so events for
// one driver apply strictly one at a time while different drivers never wait on each other.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
)

// StatusStore persists driver statuses. SaveStatus is a compare-and-set on Version
// (expectedVersion 0 means "must not exist") and writes steps in the same transaction;
// a lost race returns a CONFLICT *errs.Error.
type StatusStore interface {
	GetStatus(ctx context.Context, key models.StatusKey) (models.DriverShiftStatus, bool, error)
	ListStatuses(ctx context.Context, shiftID string) ([]models.DriverShiftStatus, error)
	SaveStatus(ctx context.Context, next models.DriverShiftStatus, expectedVersion int, steps []models.TransitionRecord) (models.DriverShiftStatus, error)
	History(ctx context.Context, key models.StatusKey) ([]models.TransitionRecord, error)
}

// Publisher receives every persisted status change
type Publisher interface {
	PublishStatus(status models.DriverShiftStatus)
}

// Notifier is told about dispatcher calls so the driver's device can be alerted
type Notifier interface {
	NotifyCall(ctx context.Context, status models.DriverShiftStatus) error
}

// ShiftDirectory supplies shift and slot context
type ShiftDirectory interface {
	GetShift(ctx context.Context, shiftID string) (models.Shift, error)
	SlotForDriver(ctx context.Context, shiftID, driverID string) (*models.Slot, error)
}

// Options tunes the reconciler
type Options struct {
	PersistTimeout time.Duration // Bound on one persistence write
	IdleTimeout    time.Duration // Actors with no traffic for this long are reclaimed
	MailboxSize    int
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{
		PersistTimeout: 3 * time.Second,
		IdleTimeout:    5 * time.Minute,
		MailboxSize:    32,
	}
}

// Result is the typed outcome of one submitted event. Kind is empty when the event
// was applied. Status is the latest persisted status for the key (zero on timeout).
type Result struct {
	Applied bool                     `json:"applied"`
	Kind    errs.Kind                `json:"kind,omitempty"`
	Reason  string                   `json:"reason,omitempty"`
	Seq     int64                    `json:"seq"`
	Status  models.DriverShiftStatus `json:"status"`
}

// Stats are the reconciler counters
type Stats struct {
	Applied            int64 `json:"applied"`
	NoOp               int64 `json:"no_op"`
	PreconditionFailed int64 `json:"precondition_failed"`
	Stale              int64 `json:"stale"`
	Timeouts           int64 `json:"timeouts"`
	VersionRetries     int64 `json:"version_retries"`
	ActorsLive         int   `json:"actors_live"`
	ActorsStarted      int64 `json:"actors_started"`
	ActorsReclaimed    int64 `json:"actors_reclaimed"`
}

// ErrStopped is returned by Submit after Stop
var ErrStopped = errors.New("reconciler stopped")

// Reconciler is the key-addressed actor registry
type Reconciler struct {
	store     StatusStore
	publisher Publisher
	notifier  Notifier
	shifts    ShiftDirectory
	opts      Options
	now       func() time.Time

	mu     sync.Mutex // guards actors; never held while an event is processed
	actors map[models.StatusKey]*actor

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	applied, noOp, precondition, stale, timeouts, versionRetries atomic.Int64

	started, reclaimed atomic.Int64
}

// New creates a reconciler. publisher, notifier and shifts may be nil.
func New(store StatusStore, publisher Publisher, notifier Notifier, shifts ShiftDirectory, opts Options) *Reconciler {
	defaults := DefaultOptions()
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaults.PersistTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaults.IdleTimeout
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaults.MailboxSize
	}
	return &Reconciler{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		shifts:    shifts,
		opts:      opts,
		now:       time.Now,
		actors:    make(map[models.StatusKey]*actor),
		done:      make(chan struct{}),
	}
}

// SetPublisher registers the receiver of persisted changes. Call before the first Submit.
func (r *Reconciler) SetPublisher(p Publisher) {
	r.publisher = p
}

// Submit runs one event through the driver's actor and waits for the outcome.
// Business refusals come back in Result; only infrastructure failures are errors.
func (r *Reconciler) Submit(ctx context.Context, ev models.Event) (Result, error) {
	if err := validate(ev); err != nil {
		return Result{}, err
	}
	if ev.At == 0 {
		ev.At = r.now().UnixMilli()
	}

	if r.shifts != nil {
		shift, err := r.shifts.GetShift(ctx, ev.ShiftID)
		if err != nil {
			return Result{}, err
		}
		if shift.IsArchived() {
			r.precondition.Add(1)
			return Result{Kind: errs.KindPreconditionFailed, Reason: fmt.Sprintf("shift %s is archived", shift.ID)}, nil
		}
		if ev.Kind == models.EventCallToDock && ev.DockLabel == "" {
			if err := r.fillFromSlot(ctx, &ev); err != nil {
				return Result{}, err
			}
		}
	}

	req := request{ctx: ctx, ev: ev, reply: make(chan reply, 1)}
	if err := r.enqueue(ctx, req); err != nil {
		return Result{}, err
	}

	select {
	case rep := <-req.reply:
		return rep.result, rep.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-r.done:
		return Result{}, ErrStopped
	}
}

// fillFromSlot takes dock/route for a call-to-dock from the driver's assigned slot
func (r *Reconciler) fillFromSlot(ctx context.Context, ev *models.Event) error {
	slot, err := r.shifts.SlotForDriver(ctx, ev.ShiftID, ev.DriverID)
	if err != nil {
		return err
	}
	if slot == nil {
		return nil
	}
	ev.DockLabel = slot.DockLabel
	if ev.RouteCode == "" {
		ev.RouteCode = slot.RouteCode
	}
	return nil
}

func (r *Reconciler) enqueue(ctx context.Context, req request) error {
	key := req.ev.Key()
	for {
		select {
		case <-r.done:
			return ErrStopped
		default:
		}

		a := r.actorFor(key)

		a.mu.Lock()
		if a.closed {
			// Reclaimed between lookup and send; the registry already forgot it
			a.mu.Unlock()
			continue
		}
		select {
		case a.mailbox <- req:
			a.mu.Unlock()
			return nil
		case <-ctx.Done():
			a.mu.Unlock()
			return ctx.Err()
		case <-r.done:
			a.mu.Unlock()
			return ErrStopped
		}
	}
}

func (r *Reconciler) actorFor(key models.StatusKey) *actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[key]; ok {
		return a
	}
	a := newActor(r, key)
	r.actors[key] = a
	r.started.Add(1)
	r.wg.Add(1)
	go a.run()
	return a
}

// tryReclaim removes an idle actor. It fails when a sender currently holds the actor
// or a message is waiting, in which case the actor keeps running.
func (r *Reconciler) tryReclaim(a *actor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !a.mu.TryLock() {
		return false
	}
	defer a.mu.Unlock()
	if len(a.mailbox) > 0 {
		return false
	}
	a.closed = true
	delete(r.actors, a.key)
	r.reclaimed.Add(1)
	return true
}

// Status returns the persisted status of one driver in a shift
func (r *Reconciler) Status(ctx context.Context, key models.StatusKey) (models.DriverShiftStatus, bool, error) {
	return r.store.GetStatus(ctx, key)
}

// Snapshot returns every persisted status of a shift
func (r *Reconciler) Snapshot(ctx context.Context, shiftID string) ([]models.DriverShiftStatus, error) {
	return r.store.ListStatuses(ctx, shiftID)
}

// History returns the transition log of one driver in a shift
func (r *Reconciler) History(ctx context.Context, key models.StatusKey) ([]models.TransitionRecord, error) {
	return r.store.History(ctx, key)
}

// GetStats returns the counters
func (r *Reconciler) GetStats() Stats {
	r.mu.Lock()
	live := len(r.actors)
	r.mu.Unlock()
	return Stats{
		Applied:            r.applied.Load(),
		NoOp:               r.noOp.Load(),
		PreconditionFailed: r.precondition.Load(),
		Stale:              r.stale.Load(),
		Timeouts:           r.timeouts.Load(),
		VersionRetries:     r.versionRetries.Load(),
		ActorsLive:         live,
		ActorsStarted:      r.started.Load(),
		ActorsReclaimed:    r.reclaimed.Load(),
	}
}

// Stop rejects new events and waits for running actors to finish their current event
func (r *Reconciler) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.done) })
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		log.Println("✅ [RECONCILER] All actors stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validate(ev models.Event) error {
	if ev.DriverID == "" {
		return errs.Invalid("driver_id is required")
	}
	if ev.ShiftID == "" {
		return errs.Invalid("shift_id is required")
	}
	switch ev.Kind {
	case models.EventEnterDock, models.EventExitDock, models.EventEnterParking, models.EventExitParking,
		models.EventCallToDock, models.EventCallToParking,
		models.EventConfirm, models.EventStartLoading, models.EventCompleteLoading:
		return nil
	}
	return errs.Newf(errs.KindInvalidArgument, "unknown event kind %q", ev.Kind)
}
