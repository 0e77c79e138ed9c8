package reconciler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/statemachine"
)

type request struct {
	ctx   context.Context
	ev    models.Event
	reply chan reply
}

type reply struct {
	result Result
	err    error
}

// actor owns one (driver, shift) key. Only its goroutine touches cached and lastStamp.
type actor struct {
	r       *Reconciler
	key     models.StatusKey
	mailbox chan request

	mu     sync.Mutex // held by senders while enqueueing; guards closed
	closed bool

	cached    *models.DriverShiftStatus // last persisted status, nil when unknown
	lastStamp int64
}

func newActor(r *Reconciler, key models.StatusKey) *actor {
	return &actor{
		r:       r,
		key:     key,
		mailbox: make(chan request, r.opts.MailboxSize),
	}
}

func (a *actor) run() {
	defer a.r.wg.Done()

	idle := time.NewTimer(a.r.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case req := <-a.mailbox:
			a.serve(req)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(a.r.opts.IdleTimeout)

		case <-idle.C:
			if a.r.tryReclaim(a) {
				return
			}
			idle.Reset(a.r.opts.IdleTimeout)

		case <-a.r.done:
			return
		}
	}
}

func (a *actor) serve(req request) {
	// The caller gave up while queued; a late apply would surprise them
	if err := req.ctx.Err(); err != nil {
		req.reply <- reply{err: err}
		return
	}
	res, err := a.process(req.ev)
	req.reply <- reply{result: res, err: err}
}

// stamp assigns an arrival sequence to events that came without one. The clock is
// per key and strictly increasing even if wall time stalls or steps back.
func (a *actor) stamp(ev *models.Event) {
	if ev.Seq != 0 {
		if ev.Seq > a.lastStamp {
			a.lastStamp = ev.Seq
		}
		return
	}
	seq := a.r.now().UnixNano()
	if seq <= a.lastStamp {
		seq = a.lastStamp + 1
	}
	a.lastStamp = seq
	ev.Seq = seq
}

func (a *actor) process(ev models.Event) (Result, error) {
	// Stamp against the persisted sequence too, in case this actor is new
	cur, err := a.load()
	if err != nil {
		return Result{}, err
	}
	if cur.LastSeq > a.lastStamp {
		a.lastStamp = cur.LastSeq
	}
	a.stamp(&ev)

	for attempt := 0; ; attempt++ {
		if ev.Seq <= cur.LastSeq {
			a.r.stale.Add(1)
			log.Printf("⏭️  [RECONCILER] Stale %s for %s dropped (seq %d <= %d)", ev.Kind, a.key, ev.Seq, cur.LastSeq)
			return Result{Kind: errs.KindStaleEvent, Reason: "event is older than the current state", Seq: ev.Seq, Status: cur}, nil
		}
		// Geofence events carry the sample time; a crossing older than the last applied
		// one reached us late and must not overwrite it
		if ev.Kind.Source() == models.SourceGeofence && ev.At < cur.LastGeofenceAt {
			a.r.stale.Add(1)
			log.Printf("⏭️  [RECONCILER] Stale %s for %s dropped (sample %d < %d)", ev.Kind, a.key, ev.At, cur.LastGeofenceAt)
			return Result{Kind: errs.KindStaleEvent, Reason: "geofence crossing is older than the last one applied", Seq: ev.Seq, Status: cur}, nil
		}

		now := a.r.now().UnixMilli()
		out := statemachine.Apply(cur, ev, now)
		switch out.Verdict {
		case statemachine.NoOp:
			a.r.noOp.Add(1)
			return Result{Kind: out.Kind(), Reason: out.Reason, Seq: ev.Seq, Status: cur}, nil
		case statemachine.PreconditionFailed:
			a.r.precondition.Add(1)
			log.Printf("⚠️  [RECONCILER] %s for %s refused: %s", ev.Kind, a.key, out.Reason)
			return Result{Kind: out.Kind(), Reason: out.Reason, Seq: ev.Seq, Status: cur}, nil
		}

		saved, err := a.persist(cur, out)
		if err == nil {
			a.cached = &saved
			a.r.applied.Add(1)
			log.Printf("✅ [RECONCILER] %s: %s -> %s (%s, seq %d)", a.key, cur.State, saved.State, ev.Kind, ev.Seq)
			a.publish(saved, ev)
			return Result{Applied: true, Seq: ev.Seq, Status: saved}, nil
		}

		a.cached = nil
		switch {
		case errs.Is(err, errs.KindConflict) && attempt == 0:
			// Another writer got there first; re-evaluate against what it wrote
			a.r.versionRetries.Add(1)
			log.Printf("🔁 [RECONCILER] Version race on %s, reloading", a.key)
			if cur, err = a.load(); err != nil {
				return Result{}, err
			}
			continue
		case errors.Is(err, context.DeadlineExceeded):
			a.r.timeouts.Add(1)
			log.Printf("❌ [RECONCILER] Persisting %s for %s timed out after %s", ev.Kind, a.key, a.r.opts.PersistTimeout)
			return Result{Kind: errs.KindPersistenceTimeout, Reason: "state could not be saved in time, retry", Seq: ev.Seq}, nil
		}
		log.Printf("❌ [RECONCILER] Persisting %s for %s failed: %v", ev.Kind, a.key, err)
		return Result{}, err
	}
}

// load returns the cached status, or reads it (creating the initial EN_ROUTE record
// in memory when the driver has no status yet)
func (a *actor) load() (models.DriverShiftStatus, error) {
	if a.cached != nil {
		return a.cached.Clone(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.r.opts.PersistTimeout)
	defer cancel()

	st, ok, err := a.r.store.GetStatus(ctx, a.key)
	if err != nil {
		return models.DriverShiftStatus{}, err
	}
	if !ok {
		st = models.NewDriverShiftStatus(a.key.DriverID, a.key.ShiftID, a.r.now().UnixMilli())
	}
	a.cached = &st
	return st.Clone(), nil
}

func (a *actor) persist(cur models.DriverShiftStatus, out statemachine.Outcome) (models.DriverShiftStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.r.opts.PersistTimeout)
	defer cancel()

	saved, err := a.r.store.SaveStatus(ctx, out.Next, cur.Version, out.Steps)
	if err == nil {
		return saved, nil
	}
	if ctx.Err() != nil && !errs.Is(err, errs.KindConflict) {
		return models.DriverShiftStatus{}, context.DeadlineExceeded
	}
	return models.DriverShiftStatus{}, err
}

// publish fans out a persisted change and hands dispatcher calls to the notifier
func (a *actor) publish(saved models.DriverShiftStatus, ev models.Event) {
	if a.r.publisher != nil {
		a.r.publisher.PublishStatus(saved)
	}
	if a.r.notifier == nil {
		return
	}
	if ev.Kind != models.EventCallToDock && ev.Kind != models.EventCallToParking {
		return
	}
	go func(st models.DriverShiftStatus) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.r.notifier.NotifyCall(ctx, st); err != nil {
			log.Printf("⚠️  [RECONCILER] Push for %s failed: %v", st.Key(), err)
		}
	}(saved.Clone())
}
