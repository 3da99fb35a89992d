package news

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/logger"
)

// runTimeout bounds one scheduled ingestion run
const runTimeout = 15 * time.Minute

// Scheduler runs the ingester on a cron schedule. Overlapping runs are
// skipped rather than queued.
type Scheduler struct {
	ingester *Ingester
	logger   *zap.SugaredLogger
	cron     *cron.Cron
	job      cron.Job

	mu      sync.Mutex
	spec    string
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup
}

// NewScheduler creates a scheduler for a standard 5-field cron spec
func NewScheduler(ingester *Ingester, spec string, log *zap.SugaredLogger) (*Scheduler, error) {
	if log == nil {
		log = logger.ComponentLogger("news.scheduler")
	}
	cronLog := cronLogger{log}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ingester: ingester,
		logger:   log,
		cron:     cron.New(cron.WithLogger(cronLog)),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.job = cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)).
		Then(cron.FuncJob(s.runScheduled))

	if err := s.Reschedule(spec); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Reschedule swaps the cron spec. An invalid spec leaves the old one active.
func (s *Scheduler) Reschedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return errors.Wrapf(errors.ErrConfiguration, "invalid news schedule %q: %v", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if spec == s.spec && s.entryID != 0 {
		return nil
	}

	id, err := s.cron.AddJob(spec, s.job)
	if err != nil {
		return errors.Wrap(err, "failed to schedule news ingestion")
	}
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.spec = spec

	s.logger.Infow("news ingestion scheduled", "schedule", spec)
	return nil
}

// Start begins scheduling. With runNow an ingestion starts immediately in the
// background; a tick that fires while it runs is skipped.
func (s *Scheduler) Start(runNow bool) {
	s.cron.Start()
	if runNow {
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			s.job.Run()
		}()
	}
}

// Stop halts scheduling, cancels a running ingestion and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "news scheduler did not stop in time")
	}
}

// RunOnce performs one ingestion bound to the scheduler's lifetime
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, runTimeout)
	defer cancel()

	_, err := s.ingester.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrServiceUnavailable), errors.Is(err, context.Canceled):
		s.logger.Debugw("news ingestion stopped", logger.FieldError, err)
	default:
		s.logger.Warnw("news ingestion aborted", logger.FieldError, err)
	}
}

func (s *Scheduler) runScheduled() {
	s.runs.Add(1)
	defer s.runs.Done()
	s.RunOnce()
}

// ApplyConfig updates feeds and schedule after a configuration reload
func (s *Scheduler) ApplyConfig(cfg *am.Config) {
	s.ingester.SetFeeds(cfg.News.Feeds)
	if err := s.Reschedule(cfg.GetNewsSchedule()); err != nil {
		s.logger.Warnw("keeping previous news schedule", logger.FieldError, err)
	}
	s.logger.Infow("news configuration reloaded", logger.FieldCount, len(cfg.News.Feeds))
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, logger.FieldError, err)...)
}
