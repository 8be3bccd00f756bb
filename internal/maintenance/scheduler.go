package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "*/5 * * * *"

// Trigger starts a maintenance run.
type Trigger interface {
	Trigger(ctx context.Context, tenant string) Ack
}

// SchedulerConfig contains scheduler configuration.
type SchedulerConfig struct {
	Schedule string
	Tenant   string
	Location *time.Location
}

// Scheduler triggers the maintenance job on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	trigger Trigger
	tenant  string
	logger  *slog.Logger
}

// NewScheduler creates a scheduler. The schedule uses the standard five-field cron syntax.
func NewScheduler(cfg SchedulerConfig, trigger Trigger, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor))),
		trigger: trigger,
		tenant:  cfg.Tenant,
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("parse maintenance schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.logger.Info("starting maintenance scheduler", "tenant", s.tenant)
	s.cron.Start()
}

// Stop stops scheduling and waits for a running tick to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) tick() {
	ack := s.trigger.Trigger(context.Background(), s.tenant)
	s.logger.Debug("scheduled maintenance trigger", "message", ack.Message)
}
