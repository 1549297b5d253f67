// Package scheduler runs the background housekeeping jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"PRESENCE/logger"
	"PRESENCE/presence"

	"github.com/go-co-op/gocron"
)

type Sweeper interface {
	Sweep(ttl time.Duration) int
}

type Auditor interface {
	DuplicateSessions(ctx context.Context, date string) ([]presence.DuplicateReport, error)
}

type Scheduler struct {
	cron    *gocron.Scheduler
	sweeper Sweeper
	auditor Auditor
	ttl     time.Duration
	today   func() string
}

// New registers the stale-attempt sweep (every minute) and the daily
// duplicate-session audit at auditAt ("HH:MM" in loc). It does not start them.
func New(loc *time.Location, sweeper Sweeper, auditor Auditor, ttl time.Duration, auditAt string, today func() string) (*Scheduler, error) {
	s := &Scheduler{
		cron:    gocron.NewScheduler(loc),
		sweeper: sweeper,
		auditor: auditor,
		ttl:     ttl,
		today:   today,
	}
	s.cron.SingletonModeAll()

	if _, err := s.cron.Every(1).Minute().Do(s.sweep); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	if _, err := s.cron.Every(1).Day().At(auditAt).Do(s.audit); err != nil {
		return nil, fmt.Errorf("schedule audit at %q: %w", auditAt, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.StartAsync()
	logger.Info("scheduler started", logger.LoggerOptions{
		Key:  "jobs",
		Data: len(s.cron.Jobs()),
	})
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) sweep() {
	s.sweeper.Sweep(s.ttl)
}

// audit only reports; duplicates are left for an operator to resolve.
func (s *Scheduler) audit() int {
	date := s.today()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	reports, err := s.auditor.DuplicateSessions(ctx, date)
	if err != nil {
		logger.Error("duplicate session audit failed", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "date",
			Data: date,
		})
		return 0
	}
	logger.Info("duplicate session audit finished", logger.LoggerOptions{
		Key:  "date",
		Data: date,
	}, logger.LoggerOptions{
		Key:  "users",
		Data: len(reports),
	})
	return len(reports)
}
