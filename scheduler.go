package tcc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultCronExpression runs a recovery sweep at the start of every minute.
const DefaultCronExpression = "0 */1 * * * ?"

// Scheduler runs recovery sweeps on a cron schedule.  A sweep that is still
// running when the next one is due causes that one to be skipped.
type Scheduler struct {
	cron     *cron.Cron
	recovery *Recovery
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	lock       sync.Mutex
	started    bool
	lastResult *RecoveryResult
}

type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

func newScheduler(expression string, recovery *Recovery, logger *zap.Logger) (*Scheduler, error) {
	cLogger := cronLogger{sugar: logger.Sugar()}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cLogger),
			cron.WithChain(cron.Recover(cLogger), cron.SkipIfStillRunning(cLogger)),
		),
		recovery: recovery,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	if _, err := s.cron.AddFunc(expression, s.runSweep); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "invalid recovery cron expression %q", expression)
	}

	return s, nil
}

func (s *Scheduler) runSweep() {
	result, err := s.recovery.StartRecover(s.ctx)
	if err != nil {
		s.logger.Error("recovery sweep failed", zap.Error(err))
	} else if result.Scanned > 0 {
		s.logger.Info("recovery sweep completed",
			zap.Int("scanned", result.Scanned),
			zap.Int("succeeded", result.Succeeded()),
			zap.Int("failed", result.Failed()),
			zap.Int("skipped", result.SkippedCount()))
	}

	if result != nil {
		s.lock.Lock()
		s.lastResult = result
		s.lock.Unlock()
	}
}

// Start begins running sweeps in the background.
func (s *Scheduler) Start() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop cancels any running sweep and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()

	s.lock.Lock()
	started := s.started
	s.started = false
	s.lock.Unlock()

	if started {
		<-s.cron.Stop().Done()
	}
}

// LastResult returns the result of the most recent completed sweep.
func (s *Scheduler) LastResult() *RecoveryResult {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastResult
}
