package wavestore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/memstore"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/wavestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu      sync.Mutex
	changes []string
}

func (l *recordingListener) WavesChanged(shiftID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, shiftID)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}

type fixture struct {
	svc      *wavestore.Service
	users    *memstore.UserStore
	listener *recordingListener
	shift    models.Shift
}

func newFixture(t *testing.T, waves int) fixture {
	t.Helper()
	ctx := context.Background()

	users := memstore.NewUserStore()
	for _, u := range []models.User{
		{ID: "drv-ana", Name: "Ana Ruiz", Email: "ana@example.com", Role: models.RoleDriver},
		{ID: "drv-ben", Name: "Ben Okafor", Email: "ben@example.com", Role: models.RoleDriver},
		{ID: "drv-cho", Name: "Cho Min", Email: "cho@example.com", Role: models.RoleDriver},
		{ID: "disp-1", Name: "Dana Dispatch", Email: "dana@example.com", Role: models.RoleDispatcher},
	} {
		require.NoError(t, users.CreateUser(ctx, u))
	}

	svc := wavestore.NewService(memstore.NewWaveStore(), users)
	listener := &recordingListener{}
	svc.SetListener(listener)

	shift, err := svc.CreateShift(ctx, wavestore.CreateShiftInput{
		BaseID: "mad-01", Day: "2026-10-19", Turn: models.ShiftTurnMorning, Waves: waves,
	})
	require.NoError(t, err)

	return fixture{svc: svc, users: users, listener: listener, shift: shift}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestCreateShift_Validation(t *testing.T) {
	svc := wavestore.NewService(memstore.NewWaveStore(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		in   wavestore.CreateShiftInput
	}{
		{"missing base", wavestore.CreateShiftInput{Day: "2026-10-19", Turn: models.ShiftTurnMorning}},
		{"bad day", wavestore.CreateShiftInput{BaseID: "b", Day: "19/10/2026", Turn: models.ShiftTurnMorning}},
		{"bad turn", wavestore.CreateShiftInput{BaseID: "b", Day: "2026-10-19", Turn: "evening"}},
		{"negative waves", wavestore.CreateShiftInput{BaseID: "b", Day: "2026-10-19", Turn: models.ShiftTurnNight, Waves: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateShift(ctx, tt.in)
			assert.True(t, errs.Is(err, errs.KindInvalidArgument), "got %v", err)
		})
	}
}

func TestEnsureWaveCount_IsIdempotentAndAppendOnly(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	slot, err := f.svc.UpsertSlot(ctx, f.shift.ID, 1, nil, models.SlotFields{DriverID: strPtr("drv-ana"), DockLabel: "A3", RouteCode: "R12"})
	require.NoError(t, err)

	before, err := f.svc.Layout(ctx, f.shift.ID)
	require.NoError(t, err)

	added, err := f.svc.EnsureWaveCount(ctx, f.shift.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	changes := f.listener.count()
	added, err = f.svc.EnsureWaveCount(ctx, f.shift.ID, 4)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, changes, f.listener.count(), "a no-op must not notify")

	added, err = f.svc.EnsureWaveCount(ctx, f.shift.ID, 1)
	require.NoError(t, err)
	assert.Zero(t, added, "never shrinks")

	after, err := f.svc.Layout(ctx, f.shift.ID)
	require.NoError(t, err)
	require.Len(t, after.Waves, 4)
	assert.Equal(t, before.Waves, after.Waves[:2], "existing waves untouched")
	assert.Equal(t, slot.ID, after.Waves[1].Slots[0].ID)
	for i, w := range after.Waves {
		assert.Equal(t, i, w.Index)
	}
}

func TestUpsertSlot(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	first, err := f.svc.UpsertSlot(ctx, f.shift.ID, 0, nil, models.SlotFields{DriverID: strPtr("drv-ana"), DockLabel: "A1", RouteCode: "R1"})
	require.NoError(t, err)
	second, err := f.svc.UpsertSlot(ctx, f.shift.ID, 0, intPtr(1), models.SlotFields{DockLabel: "A2", RouteCode: "R2"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Greater(t, second.Position, first.Position)

	t.Run("overwrite by index keeps the id", func(t *testing.T) {
		updated, err := f.svc.UpsertSlot(ctx, f.shift.ID, 0, intPtr(1), models.SlotFields{DriverID: strPtr("drv-ben"), DockLabel: "B2", RouteCode: "R9"})
		require.NoError(t, err)
		assert.Equal(t, second.ID, updated.ID)
		assert.Equal(t, "B2", updated.DockLabel)
		require.NotNil(t, updated.DriverID)
		assert.Equal(t, "drv-ben", *updated.DriverID)
	})

	t.Run("driver already placed elsewhere", func(t *testing.T) {
		_, err := f.svc.UpsertSlot(ctx, f.shift.ID, 0, nil, models.SlotFields{DriverID: strPtr("drv-ana")})
		require.True(t, errs.Is(err, errs.KindConflict), "got %v", err)
		var e *errs.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "slot:"+first.ID, e.Entity)
	})

	t.Run("unknown wave", func(t *testing.T) {
		_, err := f.svc.UpsertSlot(ctx, f.shift.ID, 7, nil, models.SlotFields{})
		assert.True(t, errs.Is(err, errs.KindNotFound))
	})

	t.Run("slot index past the end", func(t *testing.T) {
		_, err := f.svc.UpsertSlot(ctx, f.shift.ID, 0, intPtr(5), models.SlotFields{})
		assert.True(t, errs.Is(err, errs.KindNotFound))
	})
}

func TestEditSlot(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	slot, err := f.svc.UpsertSlot(ctx, f.shift.ID, 0, nil, models.SlotFields{DriverID: strPtr("drv-ana"), DockLabel: "A1"})
	require.NoError(t, err)

	qty := 14
	edited, err := f.svc.EditSlot(ctx, f.shift.ID, slot.ID, models.SlotPatch{RouteCode: strPtr("R77"), CargoQty: &qty})
	require.NoError(t, err)
	assert.Equal(t, "A1", edited.DockLabel)
	assert.Equal(t, "R77", edited.RouteCode)
	require.NotNil(t, edited.CargoQty)
	assert.Equal(t, 14, *edited.CargoQty)

	cleared, err := f.svc.EditSlot(ctx, f.shift.ID, slot.ID, models.SlotPatch{ClearDriver: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.DriverID)

	start, end := int64(2000), int64(1000)
	_, err = f.svc.EditSlot(ctx, f.shift.ID, slot.ID, models.SlotPatch{WindowStart: &start, WindowEnd: &end})
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))

	_, err = f.svc.EditSlot(ctx, f.shift.ID, "missing", models.SlotPatch{})
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestRemoveWave(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.svc.UpsertSlot(ctx, f.shift.ID, 0, nil, models.SlotFields{DockLabel: "A1"})
	require.NoError(t, err)
	moved, err := f.svc.UpsertSlot(ctx, f.shift.ID, 2, nil, models.SlotFields{DockLabel: "C1"})
	require.NoError(t, err)

	err = f.svc.RemoveWave(ctx, f.shift.ID, 0)
	require.True(t, errs.Is(err, errs.KindConflict), "non-empty wave must not be removed")
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "wave:0", e.Entity)

	require.NoError(t, f.svc.RemoveWave(ctx, f.shift.ID, 1))

	layout, err := f.svc.Layout(ctx, f.shift.ID)
	require.NoError(t, err)
	require.Len(t, layout.Waves, 2)
	assert.Equal(t, 1, layout.Waves[1].Index)
	require.Len(t, layout.Waves[1].Slots, 1)
	assert.Equal(t, moved.ID, layout.Waves[1].Slots[0].ID)
	assert.Equal(t, 1, layout.Waves[1].Slots[0].WaveIndex)

	assert.True(t, errs.Is(f.svc.RemoveWave(ctx, f.shift.ID, 9), errs.KindNotFound))
}

func TestImport(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	rows := []models.ImportRow{
		{Driver: "Ana Ruiz", DockLabel: "A1", RouteCode: "R1", WaveIndex: 0},
		{Driver: "drv-ben", DockLabel: "A2", RouteCode: "R2", WaveIndex: 2},
		{Driver: "Nobody Known", DockLabel: "A3", RouteCode: "R3", WaveIndex: 1},
		{Driver: "ana ruiz", DockLabel: "A9", RouteCode: "R1b", WaveIndex: 0}, // same driver, same wave: update
		{Driver: "drv-ben", DockLabel: "B1", RouteCode: "R4", WaveIndex: 1},  // already in wave 2: conflict
		{Driver: "Dana Dispatch", WaveIndex: 0},                              // not a driver
		{Driver: "  ", WaveIndex: 0},
	}

	results, err := f.svc.Import(ctx, f.shift.ID, rows)
	require.NoError(t, err)
	require.Len(t, results, len(rows))

	statuses := make([]models.ImportRowStatus, len(results))
	for i, r := range results {
		statuses[i] = r.Status
		assert.Equal(t, i, r.Row)
	}
	assert.Equal(t, []models.ImportRowStatus{
		models.ImportRowOK,
		models.ImportRowOK,
		models.ImportRowUnresolvedDriver,
		models.ImportRowOK,
		models.ImportRowError,
		models.ImportRowUnresolvedDriver,
		models.ImportRowUnresolvedDriver,
	}, statuses)
	assert.Equal(t, results[0].SlotID, results[3].SlotID)
	assert.Contains(t, results[4].Error, "CONFLICT")

	layout, err := f.svc.Layout(ctx, f.shift.ID)
	require.NoError(t, err)
	require.Len(t, layout.Waves, 3, "grown to cover the highest wave index")
	require.Len(t, layout.Waves[0].Slots, 1)
	assert.Equal(t, "A9", layout.Waves[0].Slots[0].DockLabel)
	assert.Empty(t, layout.Waves[1].Slots)
	require.Len(t, layout.Waves[2].Slots, 1)
	assert.Equal(t, "drv-ben", *layout.Waves[2].Slots[0].DriverID)
}

func TestSlotForDriver(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.svc.UpsertSlot(ctx, f.shift.ID, 1, nil, models.SlotFields{DriverID: strPtr("drv-cho"), DockLabel: "D4", RouteCode: "R40"})
	require.NoError(t, err)

	slot, err := f.svc.SlotForDriver(ctx, f.shift.ID, "drv-cho")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, "D4", slot.DockLabel)
	assert.Equal(t, 1, slot.WaveIndex)

	none, err := f.svc.SlotForDriver(ctx, f.shift.ID, "drv-ana")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestArchivedShiftRejectsEdits(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	require.NoError(t, f.svc.ArchiveShift(ctx, f.shift.ID))

	_, err := f.svc.AppendWave(ctx, f.shift.ID)
	assert.True(t, errs.Is(err, errs.KindPreconditionFailed))
	_, err = f.svc.UpsertSlot(ctx, f.shift.ID, 0, nil, models.SlotFields{DockLabel: "A1"})
	assert.True(t, errs.Is(err, errs.KindPreconditionFailed))
	_, err = f.svc.Import(ctx, f.shift.ID, []models.ImportRow{{Driver: "drv-ana", WaveIndex: 0}})
	assert.True(t, errs.Is(err, errs.KindPreconditionFailed))

	added, err := f.svc.EnsureWaveCount(ctx, f.shift.ID, 1)
	require.NoError(t, err, "satisfied counts stay a no-op even when archived")
	assert.Zero(t, added)
}

func TestArchiveDue(t *testing.T) {
	svc := wavestore.NewService(memstore.NewWaveStore(), nil)
	ctx := context.Background()
	now := time.Now()

	past, err := svc.CreateShift(ctx, wavestore.CreateShiftInput{BaseID: "b", Day: "2026-10-18", Turn: models.ShiftTurnNight, EndsAt: now.Add(-time.Hour).UnixMilli()})
	require.NoError(t, err)
	future, err := svc.CreateShift(ctx, wavestore.CreateShiftInput{BaseID: "b", Day: "2026-10-19", Turn: models.ShiftTurnMorning, EndsAt: now.Add(time.Hour).UnixMilli()})
	require.NoError(t, err)

	archived, err := svc.ArchiveDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, past.ID, archived[0].ID)

	got, err := svc.GetShift(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftStatusOpen, got.Status)

	again, err := svc.ArchiveDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestConcurrentAppendsProduceDistinctSlots(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	ids := make(chan string, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slot, err := f.svc.UpsertSlot(ctx, f.shift.ID, 0, nil, models.SlotFields{DockLabel: fmt.Sprintf("D%d", i)})
			if err == nil {
				ids <- slot.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, writers)

	layout, err := f.svc.Layout(ctx, f.shift.ID)
	require.NoError(t, err)
	assert.Len(t, layout.Waves[0].Slots, writers)
}
