package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwizi/ticketbot/internal/heartbeat"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule accepts five-field cron expressions and descriptors such as "@hourly" or "@every 30m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.Join(strings.Fields(expr), " ")
	if expr == "" {
		return nil, fmt.Errorf("schedule is empty")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression: %w", err)
	}
	return schedule, nil
}

type JobFunc func(ctx context.Context) error

// Service runs one job at startup and then on every tick of its schedule.
type Service struct {
	name     string
	schedule cron.Schedule
	job      JobFunc
	logger   *slog.Logger
	reporter heartbeat.Reporter
	now      func() time.Time
	// keepalive re-beats a healthy job between runs so long schedules do not read as stale.
	keepalive time.Duration
	healthy   bool
}

// New builds a service for job. An empty expr runs the job once at startup only.
func New(name, expr string, job JobFunc, logger *slog.Logger) (*Service, error) {
	service := &Service{
		name:      strings.TrimSpace(name),
		job:       job,
		logger:    logger,
		now:       time.Now,
		keepalive: 30 * time.Second,
	}
	if strings.TrimSpace(expr) != "" {
		schedule, err := ParseSchedule(expr)
		if err != nil {
			return nil, err
		}
		service.schedule = schedule
	}
	return service, nil
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

func (s *Service) Start(ctx context.Context) error {
	if s.job == nil {
		if s.reporter != nil {
			s.reporter.Disabled(s.name, "job missing")
		}
		<-ctx.Done()
		return nil
	}
	if s.reporter != nil {
		s.reporter.Starting(s.name, "started")
	}
	s.logger.Info("scheduler started", "job", s.name, "scheduled", s.schedule != nil)
	s.runOnce(ctx)

	for {
		if s.schedule == nil {
			if s.reporter != nil {
				s.reporter.Disabled(s.name, "no schedule, ran at startup only")
			}
			<-ctx.Done()
			s.logger.Info("scheduler stopped", "job", s.name)
			return nil
		}
		if !s.waitNext(ctx) {
			if s.reporter != nil {
				s.reporter.Stopped(s.name, "stopped")
			}
			s.logger.Info("scheduler stopped", "job", s.name)
			return nil
		}
		s.runOnce(ctx)
	}
}

// waitNext blocks until the next scheduled tick. It returns false when ctx is done first.
func (s *Service) waitNext(ctx context.Context) bool {
	now := s.now()
	timer := time.NewTimer(s.schedule.Next(now).Sub(now))
	defer timer.Stop()
	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-keepalive.C:
			if s.healthy && s.reporter != nil {
				s.reporter.Beat(s.name, "waiting for next run")
			}
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	started := s.now()
	if err := s.job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.healthy = false
		if s.reporter != nil {
			s.reporter.Degrade(s.name, "job failed", err)
		}
		s.logger.Error("scheduled job failed", "job", s.name, "error", err)
		return
	}
	s.healthy = true
	if s.reporter != nil {
		s.reporter.Beat(s.name, "job completed")
	}
	s.logger.Debug("scheduled job completed", "job", s.name, "duration", s.now().Sub(started).String())
}
