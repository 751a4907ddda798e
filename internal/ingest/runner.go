package ingest

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Runner drives the orchestrator from a periodic timer and feeds its events
// to the recorder.
type Runner struct {
	orch     *Orchestrator
	recorder *EventRecorder
	interval time.Duration
	logger   *zap.SugaredLogger
	closers  []func()
}

func NewRunner(orch *Orchestrator, recorder *EventRecorder, interval time.Duration, logger *zap.SugaredLogger) *Runner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{
		orch:     orch,
		recorder: recorder,
		interval: interval,
		logger:   logger,
	}
}

// OnStop registers fn to run after the timer has stopped.
func (r *Runner) OnStop(fn func()) {
	r.closers = append(r.closers, fn)
}

// Run ticks every interval until ctx is cancelled. Ticks may overlap; the
// orchestrator drops any that arrive while a pass is running.
func (r *Runner) Run(ctx context.Context) error {
	done := make(chan struct{})
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		r.recorder.Consume(r.orch.Events(), done)
	}()

	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(r.interval).Do(func() {
		r.orch.Tick(ctx)
	})
	if err != nil {
		close(done)
		<-consumed
		return err
	}

	r.logger.Infow("scheduler started", "interval", r.interval)
	s.StartAsync()

	<-ctx.Done()
	r.logger.Infow("scheduler: shutting down")
	s.Stop()

	r.orch.Wait()
	close(done)
	<-consumed
	r.drain()

	for _, fn := range r.closers {
		fn()
	}
	return nil
}

// RunOnce runs a single pass regardless of the timer and records its events.
// It reports whether a pass ran.
func (r *Runner) RunOnce(ctx context.Context) bool {
	done := make(chan struct{})
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		r.recorder.Consume(r.orch.Events(), done)
	}()

	ran := r.orch.Tick(ctx)
	close(done)
	<-consumed
	r.drain()

	for _, fn := range r.closers {
		fn()
	}
	return ran
}

// drain records events still buffered after the last pass.
func (r *Runner) drain() {
	for {
		select {
		case ev := <-r.orch.Events():
			r.recorder.Record(ev)
		default:
			return
		}
	}
}
