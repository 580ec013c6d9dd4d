package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Scheduler runs the pipeline on a cron cadence. Overlapping runs are
// skipped rather than queued.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	logger  arbor.ILogger

	mu      sync.Mutex
	running bool
	baseCtx context.Context
}

// NewScheduler creates a scheduler for the given cron expression. The
// expression uses six fields, with seconds.
func NewScheduler(service *Service, spec string, logger arbor.ILogger) (*Scheduler, error) {
	s := &Scheduler{
		service: service,
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
	}

	_, err := s.cron.AddFunc(spec, func() {
		s.trigger()
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	return s, nil
}

// Start begins scheduling. Runs execute on the cron goroutine and inherit
// ctx, so cancelling it interrupts an in-flight run.
func (s *Scheduler) Start(ctx context.Context) {
	s.baseCtx = ctx
	s.logger.Info().Msg("Scheduler started")
	s.cron.Start()
}

// Stop halts scheduling and waits for an in-progress run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) trigger() {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("Skipping scheduled run, previous run still in progress")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.service.Run(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled run failed")
	}
}
