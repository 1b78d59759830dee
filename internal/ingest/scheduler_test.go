package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedmeta/harvester/internal/models"
	"github.com/feedmeta/harvester/pkg/config"
)

var schedulerNow = time.Unix(1700000000, 0)

// itemsAged returns items with ids counting down from 100, created the given
// number of hours before schedulerNow.
func itemsAged(hours ...float64) []models.Item {
	out := make([]models.Item, len(hours))
	for i, h := range hours {
		created := schedulerNow.Add(-time.Duration(h * float64(time.Hour)))
		out[i] = models.Item{ID: int64(100 - i), Created: created.Unix()}
	}
	return out
}

func newTestScheduler(items []models.Item, chunkSize int, rules []Rule, store Store) (*Scheduler, *sliceSequence[models.Item]) {
	seq := &sliceSequence[models.Item]{values: items}
	s := NewScheduler("test", chunkSize, rules, func() Sequence[models.Item] { return seq }, store, nil)
	s.now = func() time.Time { return schedulerNow }
	return s, seq
}

func TestSchedulerStopsWhenNoRuleMatches(t *testing.T) {
	fresh := &recordingJob{name: "fresh"}
	older := &recordingJob{name: "older"}
	store := newMemoryStore()

	items := itemsAged(0.1, 0.2, 1, 2, 6, 7, 50, 60, 70, 80)
	s, seq := newTestScheduler(items, 2, []Rule{
		{MinAge: 0, MaxAge: 0.5, Job: fresh},
		{MinAge: 5, MaxAge: 48, Job: older},
	}, store)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(fresh.chunks) != 1 || fresh.chunks[0][0] != 100 {
		t.Errorf("fresh job chunks = %v, want only the first chunk", fresh.chunks)
	}
	if len(older.chunks) != 1 || older.chunks[0][0] != 96 {
		t.Errorf("older job chunks = %v, want only the third chunk", older.chunks)
	}

	// the chunk aged 50h ends the walk, the rest is never read
	if len(seq.values) != 2 {
		t.Errorf("expected 2 unread items, got %d", len(seq.values))
	}
	if len(store.items) != 8 {
		t.Errorf("expected 8 stored items, got %d", len(store.items))
	}
}

func TestSchedulerEmptyFeed(t *testing.T) {
	job := &recordingJob{name: "job"}
	s, _ := newTestScheduler(nil, 16, []Rule{{MinAge: 0, MaxAge: 1, Job: job}}, newMemoryStore())

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(job.chunks) != 0 {
		t.Errorf("job must not run on an empty feed, got %v", job.chunks)
	}
}

func TestSchedulerZeroWindow(t *testing.T) {
	tests := []struct {
		name      string
		unbounded bool
		chunks    int
	}{
		{"literal window", false, 0},
		{"unbounded", true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &recordingJob{name: "job"}
			s, _ := newTestScheduler(itemsAged(1, 2, 3), 1,
				[]Rule{{MinAge: 0, MaxAge: 0, Unbounded: tt.unbounded, Job: job}}, newMemoryStore())

			if err := s.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(job.chunks) != tt.chunks {
				t.Errorf("job ran on %d chunks, want %d", len(job.chunks), tt.chunks)
			}
		})
	}
}

type failingJob struct{}

func (failingJob) Name() string { return "failing" }

func (failingJob) Process(ctx context.Context, items []models.Item) ([]Result, error) {
	return nil, errors.New("storage gone")
}

func TestSchedulerAbortsOnJobError(t *testing.T) {
	after := &recordingJob{name: "after"}
	s, _ := newTestScheduler(itemsAged(0.1, 0.2), 1, []Rule{
		{MinAge: 0, MaxAge: 1, Job: failingJob{}},
		{MinAge: 0, MaxAge: 1, Job: after},
	}, newMemoryStore())

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(after.chunks) != 0 {
		t.Errorf("later rules must not run after a failed job, got %v", after.chunks)
	}
}

func TestBuildSchedulers(t *testing.T) {
	jobs := map[string]Job{
		config.JobSizes:    &recordingJob{name: config.JobSizes},
		config.JobTags:     &recordingJob{name: config.JobTags},
		config.JobPreviews: &recordingJob{name: config.JobPreviews},
	}
	source := func() Sequence[models.Item] { return &sliceSequence[models.Item]{} }

	schedulers, err := BuildSchedulers(config.DefaultSchedules(), jobs, source, newMemoryStore(), nil)
	if err != nil {
		t.Fatalf("BuildSchedulers() error = %v", err)
	}
	if len(schedulers) != 4 || schedulers[0].Name() != "sizes" || len(schedulers[0].rules) != 3 {
		t.Errorf("unexpected schedulers: %d", len(schedulers))
	}

	_, err = BuildSchedulers([]config.ScheduleConfig{{Name: "x", Rules: []config.RuleConfig{{Job: "nope"}}}}, jobs, source, newMemoryStore(), nil)
	if err == nil {
		t.Error("expected error for unknown job")
	}
}
