package workers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"raffle-ledger-backend/internal/common/config"
	"raffle-ledger-backend/internal/common/logger"
	inventory "raffle-ledger-backend/internal/features/inventory/service"
	raffleservice "raffle-ledger-backend/internal/features/raffle/service"
)

// jobTimeout bounds a single run so a stuck store call cannot stall a ticker.
const jobTimeout = 2 * time.Minute

// Job is periodic maintenance. Run reports how many items it handled.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) (int, error)
}

// Scheduler runs jobs on their own tickers until stopped.
type Scheduler struct {
	jobs   []Job
	now    func() time.Time
	logger zerolog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
	mu     sync.Mutex
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		now:    time.Now,
		logger: logger.Component("scheduler"),
	}
}

// MaintenanceJobs are the ledger's background duties: expiring holds,
// closing raffles past their end date and retrying refunds of cancelled
// raffles.
func MaintenanceJobs(cfg *config.Config, ledger inventory.LedgerService, raffles raffleservice.RaffleService) []Job {
	return []Job{
		{
			Name:     "sweep_expired_holds",
			Interval: cfg.Ledger.SweepInterval,
			Run:      ledger.SweepExpired,
		},
		{
			Name:     "close_due_raffles",
			Interval: cfg.Ledger.CloseInterval,
			Run:      raffles.CloseDue,
		},
		{
			Name:     "retry_refunds",
			Interval: cfg.Ledger.RefundRetryInterval,
			Run: func(ctx context.Context, _ time.Time) (int, error) {
				return raffles.RetryRefunds(ctx)
			},
		},
	}
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn().Str("job", job.Name).Msg("Job disabled, interval is not positive")
			continue
		}
		job := job
		s.group.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop cancels every job and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	_ = s.group.Wait()
	s.cancel = nil
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runJob(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs every job a single time, in order. Used by the sweep command.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	for _, job := range s.jobs {
		if err := s.runJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := s.now()
	n, err := job.Run(ctx, start)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Dur("elapsed", elapsed).Msg("Job failed")
		return err
	}
	if n > 0 {
		s.logger.Info().Str("job", job.Name).Int("handled", n).Dur("elapsed", elapsed).Msg("Job finished")
	}
	return nil
}
