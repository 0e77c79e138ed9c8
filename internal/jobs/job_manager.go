// Package jobs runs the scheduled background tasks on robfig/cron.
package jobs

import "fmt"

// JobManager starts and stops all scheduled jobs together
type JobManager struct {
	archival *ShiftArchivalJob
	stats    *StatsReportJob
}

// NewJobManager creates a manager. stats may be nil.
func NewJobManager(archival *ShiftArchivalJob, stats *StatsReportJob) *JobManager {
	return &JobManager{archival: archival, stats: stats}
}

// StartAll starts every job, stopping the ones already started if one fails
func (jm *JobManager) StartAll() error {
	if err := jm.archival.Start(); err != nil {
		return fmt.Errorf("failed to start shift archival job: %w", err)
	}
	if jm.stats != nil {
		if err := jm.stats.Start(); err != nil {
			jm.archival.Stop()
			return fmt.Errorf("failed to start stats report job: %w", err)
		}
	}
	return nil
}

// StopAll stops every job
func (jm *JobManager) StopAll() {
	if jm.stats != nil {
		jm.stats.Stop()
	}
	jm.archival.Stop()
}
