package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/feedmeta/harvester/internal/models"
	"github.com/feedmeta/harvester/pkg/config"
	"github.com/feedmeta/harvester/pkg/logging"
	"github.com/feedmeta/harvester/pkg/telemetry"
)

// Rule runs Job on chunks whose age in hours lies within [MinAge, MaxAge].
// An unbounded rule ignores MaxAge.
type Rule struct {
	MinAge    float64
	MaxAge    float64
	Unbounded bool
	Job       Job
}

// ItemSource starts a fresh walk over the feed, newest item first.
type ItemSource func() Sequence[models.Item]

// Scheduler walks the feed from the newest item backwards in chunks and
// applies its rules to every chunk until no rule wants older items.
type Scheduler struct {
	name      string
	rules     []Rule
	chunkSize int
	source    ItemSource
	store     Store
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewScheduler creates a scheduler. Rules are applied in order.
func NewScheduler(name string, chunkSize int, rules []Rule, source ItemSource, store Store, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{
		name:      name,
		rules:     rules,
		chunkSize: chunkSize,
		source:    source,
		store:     store,
		metrics:   metrics,
		logger:    logging.WithComponent("scheduler").With(zap.String("schedule", name)),
		now:       time.Now,
	}
}

// Name returns the schedule name.
func (s *Scheduler) Name() string {
	return s.name
}

// Run performs one walk.
func (s *Scheduler) Run(ctx context.Context) error {
	batches := NewBatcher(s.source(), s.chunkSize)

	for {
		chunk, err := batches.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}

		age := s.now().Sub(chunk[0].CreatedAt()).Hours()

		if err := s.store.UpsertItems(ctx, chunk); err != nil {
			return err
		}
		s.metrics.Stored(ctx, "items", len(chunk))

		proceed := false
		for _, rule := range s.rules {
			if age < rule.MinAge {
				// too young for this rule, older chunks will match
				proceed = true
				continue
			}
			if !rule.Unbounded && age > rule.MaxAge {
				continue
			}

			if err := s.apply(ctx, rule.Job, chunk); err != nil {
				return err
			}
			proceed = true
		}

		if !proceed {
			s.logger.Debug("Walk finished", zap.Float64("age_hours", age), zap.Int64("cursor", chunk[len(chunk)-1].ID))
			return nil
		}
	}
}

func (s *Scheduler) apply(ctx context.Context, job Job, chunk []models.Item) error {
	results, err := job.Process(ctx, chunk)

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			s.metrics.Error(ctx, job.Name())
		}
	}
	if failed > 0 {
		s.logger.Info("Job finished with failures",
			zap.String("job", job.Name()),
			zap.Int("failed", failed),
			zap.Int("processed", len(results)))
	}

	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name(), err)
	}
	return nil
}

// BuildSchedulers creates one scheduler per configured schedule, resolving
// rule job names through jobs.
func BuildSchedulers(schedules []config.ScheduleConfig, jobs map[string]Job, source ItemSource, store Store, metrics *telemetry.Metrics) ([]*Scheduler, error) {
	out := make([]*Scheduler, 0, len(schedules))
	for _, sc := range schedules {
		rules := make([]Rule, 0, len(sc.Rules))
		for _, rc := range sc.Rules {
			job, ok := jobs[rc.Job]
			if !ok {
				return nil, fmt.Errorf("schedule %s: unknown job %q", sc.Name, rc.Job)
			}
			rules = append(rules, Rule{
				MinAge:    rc.MinAge,
				MaxAge:    rc.MaxAge,
				Unbounded: rc.Unbounded,
				Job:       job,
			})
		}
		out = append(out, NewScheduler(sc.Name, sc.ChunkSize, rules, source, store, metrics))
	}
	return out, nil
}
