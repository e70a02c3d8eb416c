package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"atmflow/logger"
)

// Ticker is the unit of work a Scheduler runs.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Scheduler drives a Ticker on a fixed interval. A tick that is still running
// when the next one is due makes the scheduler skip that slot.
type Scheduler struct {
	interval time.Duration
	ticker   Ticker
	cron     *cron.Cron
	entry    cron.EntryID

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	log     *logger.Log
}

// cronLogger adapts the logrus wrapper to cron.Logger.
type cronLogger struct {
	log *logger.Log
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithComponent("scheduler").WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithComponent("scheduler").WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(kv []interface{}) logger.Fields {
	fields := logger.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

func NewScheduler(interval time.Duration, loc *time.Location, t Ticker) (*Scheduler, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("scheduler interval %s below 1s", interval)
	}
	if loc == nil {
		loc = time.Local
	}
	log := logger.GetLogger()
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s := &Scheduler{
		interval: interval,
		ticker:   t,
		cron:     c,
		log:      log,
	}
	id, err := c.AddFunc(fmt.Sprintf("@every %s", interval), s.run)
	if err != nil {
		return nil, fmt.Errorf("schedule tick: %w", err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := s.ticker.Tick(ctx); err != nil {
		s.log.WithComponent("scheduler").WithError(err).Debug("tick finished with error")
	}
}

// Start runs the first tick right away, through the same job chain, and then
// hands over to cron.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.log.WithComponent("scheduler").WithFields(logger.Fields{
		"interval": s.interval.String(),
	}).Info("starting scheduler")

	// cron.Stop waits for the jobs cron launched; wg covers this one.
	first := s.cron.Entry(s.entry).WrappedJob
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		first.Run()
	}()
	s.cron.Start()
}

// Stop stops scheduling and waits for the in-flight tick. When ctx expires
// first the tick is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()
	defer cancel()

	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.WithComponent("scheduler").Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
