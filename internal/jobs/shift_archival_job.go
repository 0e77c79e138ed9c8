package jobs

import (
	"context"
	"log"
	"time"

	"dockwave-backend/internal/models"

	"github.com/robfig/cron/v3"
)

// ShiftArchiver archives every open shift past its end time
type ShiftArchiver interface {
	ArchiveDue(ctx context.Context, now time.Time) ([]models.Shift, error)
}

// ShiftArchivalJob closes finished shifts and lets in-memory components drop what
// they hold for them (geofence state, last locations, live streams)
type ShiftArchivalJob struct {
	archiver ShiftArchiver
	forget   []func(shiftID string)
	schedule string
	cron     *cron.Cron
	now      func() time.Time
}

// NewShiftArchivalJob creates the job. schedule is a cron spec with a seconds field
// or a descriptor such as "@every 1m".
func NewShiftArchivalJob(archiver ShiftArchiver, schedule string, forget ...func(shiftID string)) *ShiftArchivalJob {
	return &ShiftArchivalJob{
		archiver: archiver,
		forget:   forget,
		schedule: schedule,
		cron:     cron.New(cron.WithSeconds()),
		now:      time.Now,
	}
}

// Start schedules the job
func (j *ShiftArchivalJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	log.Printf("⏰ [JOBS] Shift archival job started (%s)", j.schedule)
	return nil
}

// RunOnce archives due shifts and returns how many were archived
func (j *ShiftArchivalJob) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	archived, err := j.archiver.ArchiveDue(ctx, j.now())
	if err != nil {
		log.Printf("❌ [JOBS] Shift archival failed: %v", err)
	}
	for _, shift := range archived {
		for _, forget := range j.forget {
			forget(shift.ID)
		}
	}
	if len(archived) > 0 {
		log.Printf("🗄️  [JOBS] Archived %d shift(s)", len(archived))
	}
	return len(archived)
}

// Stop stops the schedule and waits for a running archival to finish
func (j *ShiftArchivalJob) Stop() {
	<-j.cron.Stop().Done()
	log.Println("⏰ [JOBS] Shift archival job stopped")
}
