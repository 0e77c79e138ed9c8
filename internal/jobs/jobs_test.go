package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dockwave-backend/internal/memstore"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/wavestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShiftArchivalJob_RunOnce(t *testing.T) {
	ctx := context.Background()
	waves := wavestore.NewService(memstore.NewWaveStore(), memstore.NewUserStore())

	past, err := waves.CreateShift(ctx, wavestore.CreateShiftInput{
		BaseID: "mad-1", Day: "2026-10-18", Turn: models.ShiftTurnNight,
		EndsAt: time.Now().Add(-time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	future, err := waves.CreateShift(ctx, wavestore.CreateShiftInput{
		BaseID: "mad-1", Day: "2026-10-19", Turn: models.ShiftTurnMorning,
		EndsAt: time.Now().Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var forgotten []string
	job := NewShiftArchivalJob(waves, "@every 1m", func(shiftID string) {
		mu.Lock()
		defer mu.Unlock()
		forgotten = append(forgotten, shiftID)
	})

	assert.Equal(t, 1, job.RunOnce(ctx))
	assert.Equal(t, []string{past.ID}, forgotten)

	got, err := waves.GetShift(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftStatusArchived, got.Status)
	got, err = waves.GetShift(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftStatusOpen, got.Status)

	assert.Equal(t, 0, job.RunOnce(ctx), "already archived shifts are not archived again")
}

type countingArchiver struct {
	runs atomic.Int32
}

func (a *countingArchiver) ArchiveDue(ctx context.Context, now time.Time) ([]models.Shift, error) {
	a.runs.Add(1)
	return nil, nil
}

func TestJobManager_StartAndStop(t *testing.T) {
	archiver := &countingArchiver{}
	var reports atomic.Int32
	stats := NewStatsReportJob(func() map[string]interface{} {
		reports.Add(1)
		return map[string]interface{}{"ok": true}
	}, "* * * * * *")

	jm := NewJobManager(NewShiftArchivalJob(archiver, "* * * * * *"), stats)
	require.NoError(t, jm.StartAll())

	assert.Eventually(t, func() bool {
		return archiver.runs.Load() > 0 && reports.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
	jm.StopAll()
}

func TestJobManager_BadScheduleFailsToStart(t *testing.T) {
	jm := NewJobManager(NewShiftArchivalJob(&countingArchiver{}, "every now and then"), nil)
	assert.Error(t, jm.StartAll())

	jm = NewJobManager(
		NewShiftArchivalJob(&countingArchiver{}, "@every 1h"),
		NewStatsReportJob(func() map[string]interface{} { return nil }, "not a schedule"),
	)
	assert.Error(t, jm.StartAll())
}
