// Package jobs runs periodic maintenance against the engine. Nothing here is required for
// correctness; the audit only catches drift left by interrupted writes.
package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/cppla/learnquest/config"
	"github.com/cppla/learnquest/services"
)

const (
	auditConcurrency = 4
	warmTopN         = 10
	jobTimeout       = 5 * time.Minute
)

// Target is the part of the engine the scheduled jobs drive.
type Target interface {
	AuditAll(ctx context.Context, concurrency int) (services.AuditReport, error)
	WarmLeaderboards(ctx context.Context, topN int) error
}

type Scheduler struct {
	scheduler *gocron.Scheduler
	target    Target
	log       *zap.SugaredLogger
}

func New(target Target, loc *time.Location, log *zap.SugaredLogger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	s.WaitForScheduleAll()
	return &Scheduler{scheduler: s, target: target, log: log}
}

// Register adds the jobs enabled in cfg and returns how many were scheduled.
func (s *Scheduler) Register(cfg config.AppConfig) (int, error) {
	if cfg.AuditEnabled && cfg.AuditIntervalMin > 0 {
		if _, err := s.scheduler.Every(cfg.AuditIntervalMin).Minutes().Tag("audit").Do(s.runAudit); err != nil {
			return 0, err
		}
	}
	if cfg.LeaderboardWarmIntervalMin > 0 {
		if _, err := s.scheduler.Every(cfg.LeaderboardWarmIntervalMin).Minutes().Tag("leaderboard-warm").Do(s.runWarm); err != nil {
			return 0, err
		}
	}
	return s.scheduler.Len(), nil
}

func (s *Scheduler) Start() {
	if s.scheduler.Len() == 0 {
		return
	}
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	if s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) runAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	report, err := s.target.AuditAll(ctx, auditConcurrency)
	if err != nil {
		s.log.Errorw("consistency audit failed", "error", err)
		return
	}
	level := s.log.Infow
	if report.Repaired > 0 || report.Failed > 0 {
		level = s.log.Warnw
	}
	level("consistency audit finished",
		"checked", report.Checked,
		"repaired", report.Repaired,
		"failed", report.Failed,
		"took", time.Since(start))
}

func (s *Scheduler) runWarm() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := s.target.WarmLeaderboards(ctx, warmTopN); err != nil {
		s.log.Warnw("leaderboard warm-up failed", "error", err)
	}
}
