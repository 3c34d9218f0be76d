package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const jobTimeout = 5 * time.Minute

// Schedules holds a five-field cron spec per job. An empty Summary skips the weekly summary.
type Schedules struct {
	Snapshot string
	Alerts   string
	Summary  string
}

// Scheduler runs the daily stock snapshot, the low-stock sweep and the weekly
// summary on a calendar schedule
type Scheduler struct {
	cron      *cron.Cron
	ledger    *StockLedger
	alerts    *StockAlertService
	summaries *SummaryService
	log       zerolog.Logger
}

// NewScheduler registers the engine's jobs with specs evaluated in loc
func NewScheduler(engine *Engine, loc *time.Location, specs Schedules, log zerolog.Logger) (*Scheduler, error) {
	logger := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ledger:    engine.Ledger,
		alerts:    engine.Alerts,
		summaries: engine.Summaries,
		log:       log,
	}

	if _, err := s.cron.AddFunc(specs.Snapshot, s.runSnapshot); err != nil {
		return nil, fmt.Errorf("schedule daily stock snapshot %q: %w", specs.Snapshot, err)
	}
	if _, err := s.cron.AddFunc(specs.Alerts, s.runAlerts); err != nil {
		return nil, fmt.Errorf("schedule low stock check %q: %w", specs.Alerts, err)
	}
	if specs.Summary != "" {
		if _, err := s.cron.AddFunc(specs.Summary, s.runSummary); err != nil {
			return nil, fmt.Errorf("schedule weekly summary %q: %w", specs.Summary, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop prevents new runs and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stopped before jobs finished")
	}
}

func (s *Scheduler) runSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.ledger.RecordDailyStock(ctx); err != nil {
		s.log.Error().Err(err).Msg("daily stock snapshot failed")
	}
}

func (s *Scheduler) runAlerts() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.alerts.CheckMedicationStock(ctx); err != nil {
		s.log.Error().Err(err).Msg("low stock check failed")
	}
}

func (s *Scheduler) runSummary() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.summaries.GenerateWeekly(ctx); err != nil {
		s.log.Error().Err(err).Msg("weekly summary failed")
	}
}

// cronLogger forwards cron's key/value logging to zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
