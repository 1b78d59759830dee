package ingest

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/feedmeta/harvester/pkg/logging"
	"github.com/feedmeta/harvester/pkg/telemetry"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

// Runner calls a task forever, sleeping a fixed interval after every call.
// Task errors are logged and otherwise ignored; only cancellation of the
// context stops a runner.
type Runner struct {
	name     string
	interval time.Duration
	task     Task
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner for task.
func NewRunner(name string, interval time.Duration, task Task, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		task:     task,
		metrics:  metrics,
		logger:   logging.WithComponent("runner").With(zap.String("job", name)),
		sleep:    sleep,
	}
}

// Run loops until ctx is done and returns its error.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Runner started", zap.Duration("interval", r.interval))

	for {
		r.tick(ctx)
		if err := ctx.Err(); err != nil {
			r.logger.Info("Runner stopped")
			return err
		}

		if err := r.sleep(ctx, r.interval); err != nil {
			r.logger.Info("Runner stopped")
			return err
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID))

	ctx, span := telemetry.StartSpan(ctx, "runner."+r.name,
		trace.WithAttributes(attribute.String("run_id", runID)))
	if sc := span.SpanContext(); sc.HasTraceID() {
		logger = logging.WithTraceID(logger, sc.TraceID().String())
	}

	logger.Debug("Calling scheduled job")
	clock := &tickClock{start: time.Now()}
	begun := clock.start
	err := r.call(context.WithValue(ctx, tickClockKey{}, clock), logger)
	took := time.Since(clock.start)
	waited := clock.start.Sub(begun)

	r.metrics.Job(ctx, r.name, took, err)
	telemetry.EndSpan(span, err)

	switch {
	case err != nil && ctx.Err() != nil:
		logger.Info("Job interrupted", zap.Duration("took", took), zap.Duration("waited", waited))
	case err != nil:
		logger.Error("Ignoring error in scheduled job", zap.Duration("took", took), zap.Error(err))
	default:
		logger.Info("Job completed", zap.Duration("took", took), zap.Duration("waited", waited))
	}
}

// call runs the task, turning a panic into an error.
func (r *Runner) call(ctx context.Context, logger *zap.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Scheduled job panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", r.name, p)
		}
	}()
	return r.task(ctx)
}

type tickClockKey struct{}

// tickClock holds the start of the measured part of a tick.
type tickClock struct {
	start time.Time
}

// startWork restarts the tick's timer. Tasks that block waiting for input
// call it once input arrives, so job.duration covers only the work.
func startWork(ctx context.Context) {
	if clock, ok := ctx.Value(tickClockKey{}).(*tickClock); ok {
		clock.start = time.Now()
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
