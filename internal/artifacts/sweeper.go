package artifacts

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dlx/internal/shared"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the expiry sweep every five minutes.
const DefaultSchedule = "@every 5m"

// Sweeper runs [Store.Sweep] on a cron schedule.
type Sweeper struct {
	store    *Store
	cron     *cron.Cron
	entry    cron.EntryID
	logger   *log.Logger
	reports  chan SweepReport
	schedule string
}

// NewSweeper registers a sweep of store on schedule, a standard five-field
// cron expression or a descriptor such as "@every 5m". Overlapping runs are skipped.
func NewSweeper(store *Store, schedule string, logger *log.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	logger = shared.WithLogger(logger, "component", "sweeper")

	s := &Sweeper{
		store:    store,
		logger:   logger,
		schedule: schedule,
		reports:  make(chan SweepReport, 1),
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(logger)),
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		)),
	}

	id, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, fmt.Errorf("%w: sweep schedule %q: %v", shared.ErrInvalidConfig, schedule, err)
	}
	s.entry = id
	return s, nil
}

func (s *Sweeper) run() {
	report := s.store.Sweep(time.Now())
	for _, err := range report.Errors {
		s.logger.Error("sweep failed to purge artifact", "error", err)
	}

	// Keep only the latest report for observers.
	select {
	case <-s.reports:
	default:
	}
	select {
	case s.reports <- report:
	default:
	}
}

// Start begins scheduling sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("artifact sweeper started", "schedule", s.schedule, "ttl", s.store.TTL(), "next", s.Next())
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next scheduled sweep.
func (s *Sweeper) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Reports delivers the most recent sweep report.
func (s *Sweeper) Reports() <-chan SweepReport {
	return s.reports
}
