package jobs

import (
	"encoding/json"
	"log"

	"github.com/robfig/cron/v3"
)

// StatsReportJob periodically logs the counters of the running components
type StatsReportJob struct {
	collect  func() map[string]interface{}
	schedule string
	cron     *cron.Cron
}

// NewStatsReportJob creates the job; collect is called on every tick
func NewStatsReportJob(collect func() map[string]interface{}, schedule string) *StatsReportJob {
	return &StatsReportJob{
		collect:  collect,
		schedule: schedule,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start schedules the job
func (j *StatsReportJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.report); err != nil {
		return err
	}
	j.cron.Start()
	log.Printf("⏰ [JOBS] Stats report job started (%s)", j.schedule)
	return nil
}

func (j *StatsReportJob) report() {
	data, err := json.Marshal(j.collect())
	if err != nil {
		log.Printf("❌ [JOBS] Failed to marshal stats: %v", err)
		return
	}
	log.Printf("📊 [STATS] %s", data)
}

// Stop stops the schedule
func (j *StatsReportJob) Stop() {
	<-j.cron.Stop().Done()
}
