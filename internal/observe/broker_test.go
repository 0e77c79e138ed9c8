package observe

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dockwave-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	statuses map[models.StatusKey]models.DriverShiftStatus
	layout   models.ShiftLayout
	// onSnapshot runs while a snapshot is being loaded
	onSnapshot func()
}

func newFakeSource() *fakeSource {
	return &fakeSource{statuses: make(map[models.StatusKey]models.DriverShiftStatus)}
}

func (f *fakeSource) put(st models.DriverShiftStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[st.Key()] = st
}

func (f *fakeSource) Snapshot(ctx context.Context, shiftID string) ([]models.DriverShiftStatus, error) {
	if f.onSnapshot != nil {
		f.onSnapshot()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DriverShiftStatus
	for _, st := range f.statuses {
		if st.ShiftID == shiftID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeSource) Status(ctx context.Context, key models.StatusKey) (models.DriverShiftStatus, bool, error) {
	if f.onSnapshot != nil {
		f.onSnapshot()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[key]
	return st, ok, nil
}

func (f *fakeSource) Layout(ctx context.Context, shiftID string) (models.ShiftLayout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.layout
	out.Shift.ID = shiftID
	return out, nil
}

func status(driverID string, state models.DriverState, version int) models.DriverShiftStatus {
	st := models.NewDriverShiftStatus(driverID, "shift-1", 1)
	st.State = state
	st.Version = version
	return st
}

func next(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "stream closed: %s", sub.Reason())
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
	return Message{}
}

func TestSubscribe_SnapshotThenDeltas(t *testing.T) {
	src := newFakeSource()
	src.put(status("drv-1", models.StateArrived, 1))
	b := NewBroker(src, src, Options{})
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "shift-1")
	require.NoError(t, err)

	first := next(t, sub)
	assert.Equal(t, MsgSnapshot, first.Type)
	require.Len(t, first.Statuses, 1)
	require.NotNil(t, first.Layout)

	b.PublishStatus(status("drv-1", models.StateParked, 2))
	b.PublishStatus(status("drv-2", models.StateArrived, 1))
	b.PublishStatus(models.DriverShiftStatus{DriverID: "drv-9", ShiftID: "other", State: models.StateArrived})

	delta := next(t, sub)
	assert.Equal(t, MsgStatus, delta.Type)
	assert.Equal(t, models.StateParked, delta.Status.State)
	assert.Equal(t, "drv-2", next(t, sub).Status.DriverID)

	select {
	case msg := <-sub.C():
		t.Fatalf("unexpected message for another shift: %+v", msg)
	default:
	}
}

func TestSubscribe_DeltasDuringSnapshotArriveAfterIt(t *testing.T) {
	src := newFakeSource()
	src.put(status("drv-1", models.StateArrived, 1))
	b := NewBroker(src, src, Options{})
	defer b.Close()

	var once sync.Once
	src.onSnapshot = func() {
		// A change lands after registration but before the snapshot is emitted
		once.Do(func() { b.PublishStatus(status("drv-1", models.StateParked, 2)) })
	}

	sub, err := b.Subscribe(context.Background(), "shift-1")
	require.NoError(t, err)

	assert.Equal(t, MsgSnapshot, next(t, sub).Type)
	delta := next(t, sub)
	assert.Equal(t, MsgStatus, delta.Type)
	assert.Equal(t, 2, delta.Status.Version)
}

func TestSubscribe_BufferedDeltasOlderThanSnapshotAreDropped(t *testing.T) {
	src := newFakeSource()
	src.put(status("drv-1", models.StateArrived, 1))
	b := NewBroker(src, src, Options{})
	defer b.Close()

	var once sync.Once
	src.onSnapshot = func() {
		// v3 is published while loading, and v4 is already what the snapshot reads
		once.Do(func() {
			b.PublishStatus(status("drv-1", models.StateArrived, 3))
			b.PublishStatus(status("drv-2", models.StateParked, 1))
			src.put(status("drv-1", models.StateCalledToDock, 4))
		})
	}

	sub, err := b.Subscribe(context.Background(), "shift-1")
	require.NoError(t, err)

	first := next(t, sub)
	require.Equal(t, MsgSnapshot, first.Type)
	require.Len(t, first.Statuses, 1)
	assert.Equal(t, 4, first.Statuses[0].Version)

	// drv-2 was not in the snapshot, so its delta is kept
	delta := next(t, sub)
	assert.Equal(t, "drv-2", delta.Status.DriverID)

	b.PublishStatus(status("drv-1", models.StateLoading, 5))
	delta = next(t, sub)
	assert.Equal(t, "drv-1", delta.Status.DriverID)
	assert.Equal(t, 5, delta.Status.Version)
}

func TestSubscribeDriver_BufferedDeltasOlderThanFirstStatusAreDropped(t *testing.T) {
	src := newFakeSource()
	b := NewBroker(src, src, Options{})
	defer b.Close()

	var once sync.Once
	src.onSnapshot = func() {
		once.Do(func() {
			b.PublishStatus(status("drv-1", models.StateArrived, 1))
			src.put(status("drv-1", models.StateParked, 2))
		})
	}

	sub, err := b.SubscribeDriver(context.Background(), "shift-1", "drv-1")
	require.NoError(t, err)

	first := next(t, sub)
	assert.Equal(t, 2, first.Status.Version)
	select {
	case msg := <-sub.C():
		t.Fatalf("stale delta after first status: v%d", msg.Status.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeDriver_FiltersAndStartsWithCurrentStatus(t *testing.T) {
	src := newFakeSource()
	b := NewBroker(src, src, Options{})
	defer b.Close()

	sub, err := b.SubscribeDriver(context.Background(), "shift-1", "drv-1")
	require.NoError(t, err)

	first := next(t, sub)
	assert.Equal(t, MsgStatus, first.Type)
	assert.Equal(t, models.StateEnRoute, first.Status.State)
	assert.Equal(t, 0, first.Status.Version)

	b.PublishStatus(status("drv-2", models.StateArrived, 1))
	b.PublishStatus(status("drv-1", models.StateArrived, 1))
	b.WavesChanged("shift-1")

	msg := next(t, sub)
	assert.Equal(t, "drv-1", msg.Status.DriverID)
	select {
	case msg := <-sub.C():
		t.Fatalf("driver stream got %s", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberIsClosedForResync(t *testing.T) {
	src := newFakeSource()
	b := NewBroker(src, src, Options{BufferSize: 2})
	defer b.Close()

	slow, err := b.Subscribe(context.Background(), "shift-1")
	require.NoError(t, err)
	fast, err := b.Subscribe(context.Background(), "shift-1")
	require.NoError(t, err)
	next(t, fast)

	// slow still holds its snapshot; one more fills it, the next overflows
	for v := 1; v <= 3; v++ {
		b.PublishStatus(status("drv-1", models.StateArrived, v))
		if v < 3 {
			next(t, fast)
		}
	}

	var got []Message
	for msg := range slow.C() {
		got = append(got, msg)
	}
	assert.Len(t, got, 2)
	assert.Equal(t, ReasonResync, slow.Reason())
	assert.Equal(t, "", fast.Reason())

	stats := b.GetStats()
	assert.Equal(t, int64(1), stats.Resyncs)
	assert.Equal(t, 1, stats.Subscribers)

	// Reconnecting gives a fresh snapshot
	again, err := b.Subscribe(context.Background(), "shift-1")
	require.NoError(t, err)
	assert.Equal(t, MsgSnapshot, next(t, again).Type)
}

func TestWavesChangedPublishesLayout(t *testing.T) {
	src := newFakeSource()
	b := NewBroker(src, src, Options{RefreshMinInterval: 10 * time.Millisecond})
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "shift-1")
	require.NoError(t, err)
	next(t, sub)

	src.mu.Lock()
	src.layout.Waves = []models.Wave{{Index: 0}}
	src.mu.Unlock()
	b.WavesChanged("shift-1")

	msg := next(t, sub)
	assert.Equal(t, MsgWaves, msg.Type)
	require.NotNil(t, msg.Layout)
	assert.Len(t, msg.Layout.Waves, 1)
}

func TestForgetShiftAndClose(t *testing.T) {
	src := newFakeSource()
	b := NewBroker(src, src, Options{})

	a, err := b.Subscribe(context.Background(), "shift-1")
	require.NoError(t, err)
	c, err := b.Subscribe(context.Background(), "shift-2")
	require.NoError(t, err)

	b.ForgetShift("shift-1")
	assert.Equal(t, ReasonClosed, a.Reason())
	assert.Equal(t, 1, b.GetStats().Subscribers)

	b.Close()
	assert.Equal(t, ReasonShutdown, c.Reason())
	assert.Equal(t, 0, b.GetStats().Subscribers)
}

func TestRefresher_TrailingRefreshAfterInterval(t *testing.T) {
	var runs atomic.Int32
	r := NewRefresher(func(ctx context.Context, shiftID string) error {
		runs.Add(1)
		return nil
	}, 50*time.Millisecond)
	defer r.Stop()

	for i := 0; i < 5; i++ {
		r.Request("shift-1")
	}

	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load(), "bursts collapse into one leading and one trailing refresh")

	stats := r.GetStats()
	assert.Equal(t, int64(5), stats.Requested)
	assert.Equal(t, int64(1), stats.Trailing)
	assert.Equal(t, int64(3), stats.Coalesced)
}

func TestRefresher_ConcurrentRequestsShareInFlight(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	r := NewRefresher(func(ctx context.Context, shiftID string) error {
		runs.Add(1)
		<-release
		return nil
	}, time.Nanosecond)
	defer r.Stop()

	r.Request("shift-1")
	time.Sleep(10 * time.Millisecond)
	r.Request("shift-1")
	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.Eventually(t, func() bool { return r.GetStats().Shared >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestRefresher_ShiftsAreIndependent(t *testing.T) {
	var runs atomic.Int32
	r := NewRefresher(func(ctx context.Context, shiftID string) error {
		runs.Add(1)
		return nil
	}, time.Hour)
	defer r.Stop()

	r.Request("shift-1")
	r.Request("shift-2")
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)

	r.Forget("shift-1")
	r.Request("shift-1")
	assert.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, 5*time.Millisecond)
}
