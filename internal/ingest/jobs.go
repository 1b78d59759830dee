package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feedmeta/harvester/internal/feed"
	"github.com/feedmeta/harvester/internal/media"
	"github.com/feedmeta/harvester/internal/models"
	"github.com/feedmeta/harvester/pkg/logging"
	"github.com/feedmeta/harvester/pkg/telemetry"
)

// ErrUnmeasurable is reported for items whose dimensions no probe could
// determine.
var ErrUnmeasurable = errors.New("media size could not be determined")

var (
	imageRanges = []int{1024, 4096, 8192, 16 * 1024, 64 * 1024}
	videoPrefix = 16 * 1024
)

// Store is the persistence the ingester writes through. Every write is a
// single transaction.
type Store interface {
	UpsertItems(ctx context.Context, items []models.Item) error
	ExistingSizes(ctx context.Context, ids []int64) (map[int64]bool, error)
	ExistingPreviews(ctx context.Context, ids []int64) (map[int64]bool, error)
	InsertSizes(ctx context.Context, sizes []models.Size) error
	InsertPreviews(ctx context.Context, previews []models.ItemPreview) error
	UpsertTags(ctx context.Context, tags []models.Tag) error
	StoreUser(ctx context.Context, user models.User, observedAt time.Time) error
}

// MediaSource downloads the start of media files.
type MediaSource interface {
	MediaURL(path string) string
	FetchPrefix(ctx context.Context, url string, size int) ([]byte, error)
}

// InfoSource fetches item details.
type InfoSource interface {
	ItemInfo(ctx context.Context, itemID int64) (*feed.ItemInfo, error)
}

// ProfileSource fetches user profiles.
type ProfileSource interface {
	Profile(ctx context.Context, name string) (*models.User, error)
}

// VideoProber measures a video from the start of its file.
type VideoProber interface {
	VideoSize(ctx context.Context, prefix []byte) (int, int, error)
}

// PreviewRenderer renders the preview of the media at a URL.
type PreviewRenderer interface {
	RenderPreview(ctx context.Context, url string) (*media.Preview, error)
}

// Result is the outcome of one item within a job run.
type Result struct {
	ItemID int64
	Err    error
}

// Job enriches a chunk of items. Per-item failures are reported as results;
// a returned error means the run as a whole failed and nothing more of the
// chunk should be done.
type Job interface {
	Name() string
	Process(ctx context.Context, items []models.Item) ([]Result, error)
}

func ids(items []models.Item) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

// SizeJob stores the dimensions of items that have none yet.
type SizeJob struct {
	store   Store
	media   MediaSource
	video   VideoProber
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// NewSizeJob creates the sizes job.
func NewSizeJob(store Store, source MediaSource, video VideoProber, metrics *telemetry.Metrics) *SizeJob {
	return &SizeJob{
		store:   store,
		media:   source,
		video:   video,
		metrics: metrics,
		logger:  logging.WithComponent("size-job"),
	}
}

func (j *SizeJob) Name() string { return "sizes" }

// Process measures every item without a stored size and writes the
// measurements in one transaction.
func (j *SizeJob) Process(ctx context.Context, items []models.Item) ([]Result, error) {
	existing, err := j.store.ExistingSizes(ctx, ids(items))
	if err != nil {
		return nil, err
	}

	var results []Result
	var sizes []models.Size
	for _, item := range items {
		if existing[item.ID] {
			continue
		}

		width, height, err := j.measure(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			j.logger.Warn("Could not measure item", zap.Int64("item", item.ID), zap.String("image", item.Image), zap.Error(err))
			results = append(results, Result{ItemID: item.ID, Err: err})
			continue
		}

		sizes = append(sizes, models.Size{ID: item.ID, Width: width, Height: height})
		results = append(results, Result{ItemID: item.ID})
	}

	if err := j.store.InsertSizes(ctx, sizes); err != nil {
		return results, err
	}
	j.metrics.Stored(ctx, "sizes", len(sizes))
	return results, nil
}

func (j *SizeJob) measure(ctx context.Context, item models.Item) (int, int, error) {
	url := j.media.MediaURL(item.Image)

	switch media.Classify(item.Image) {
	case media.KindImage:
		// grow the range until the header is complete
		var lastErr error
		for _, size := range imageRanges {
			data, err := j.media.FetchPrefix(ctx, url, size)
			if err != nil {
				lastErr = err
				if ctx.Err() != nil {
					return 0, 0, ctx.Err()
				}
				continue
			}
			width, height, err := media.DecodeImageSize(data)
			if err == nil {
				return width, height, nil
			}
			lastErr = err
		}
		return 0, 0, fmt.Errorf("%w: %v", ErrUnmeasurable, lastErr)

	case media.KindVideo:
		data, err := j.media.FetchPrefix(ctx, url, videoPrefix)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrUnmeasurable, err)
		}
		width, height, err := j.video.VideoSize(ctx, data)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrUnmeasurable, err)
		}
		return width, height, nil
	}

	return 0, 0, ErrUnmeasurable
}

// TagJob refreshes the tags of items and feeds their users and commenters
// into the user queue.
type TagJob struct {
	store   Store
	info    InfoSource
	users   *UserQueue
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// NewTagJob creates the tags job.
func NewTagJob(store Store, info InfoSource, users *UserQueue, metrics *telemetry.Metrics) *TagJob {
	return &TagJob{
		store:   store,
		info:    info,
		users:   users,
		metrics: metrics,
		logger:  logging.WithComponent("tag-job"),
	}
}

func (j *TagJob) Name() string { return "tags" }

// Process fetches the details of every item. Items whose details fail are
// skipped; the tags of all others are written in one transaction.
func (j *TagJob) Process(ctx context.Context, items []models.Item) ([]Result, error) {
	results := make([]Result, 0, len(items))
	var tags []models.Tag

	for _, item := range items {
		j.users.Put(item.User)

		info, err := j.info.ItemInfo(ctx, item.ID)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			j.logger.Warn("Could not get tags for item", zap.Int64("item", item.ID), zap.Error(err))
			results = append(results, Result{ItemID: item.ID, Err: err})
			continue
		}

		for _, comment := range info.Comments {
			j.users.Put(comment.Name)
		}
		for _, tag := range info.Tags {
			tags = append(tags, models.Tag{
				ID:         tag.ID,
				ItemID:     item.ID,
				Confidence: tag.Confidence,
				Tag:        tag.Tag,
			})
		}
		results = append(results, Result{ItemID: item.ID})
	}

	if err := j.store.UpsertTags(ctx, tags); err != nil {
		return results, err
	}
	j.metrics.Stored(ctx, "tags", len(tags))
	return results, nil
}

// PreviewJob stores tiny previews of items that have none yet.
type PreviewJob struct {
	store    Store
	media    MediaSource
	renderer PreviewRenderer
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

// NewPreviewJob creates the previews job.
func NewPreviewJob(store Store, source MediaSource, renderer PreviewRenderer, metrics *telemetry.Metrics) *PreviewJob {
	return &PreviewJob{
		store:    store,
		media:    source,
		renderer: renderer,
		metrics:  metrics,
		logger:   logging.WithComponent("preview-job"),
	}
}

func (j *PreviewJob) Name() string { return "previews" }

func (j *PreviewJob) Process(ctx context.Context, items []models.Item) ([]Result, error) {
	existing, err := j.store.ExistingPreviews(ctx, ids(items))
	if err != nil {
		return nil, err
	}

	var results []Result
	var previews []models.ItemPreview
	for _, item := range items {
		if existing[item.ID] {
			continue
		}

		url := j.media.MediaURL(item.Image)
		j.logger.Debug("Rendering preview", zap.Int64("item", item.ID), zap.String("url", url))

		preview, err := j.renderer.RenderPreview(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			j.logger.Warn("Could not render preview", zap.Int64("item", item.ID), zap.Error(err))
			results = append(results, Result{ItemID: item.ID, Err: err})
			continue
		}

		previews = append(previews, models.ItemPreview{
			ID:      item.ID,
			Width:   preview.Width,
			Height:  preview.Height,
			Preview: preview.Pixels,
		})
		results = append(results, Result{ItemID: item.ID})
	}

	if err := j.store.InsertPreviews(ctx, previews); err != nil {
		return results, err
	}
	j.metrics.Stored(ctx, "item_previews", len(previews))
	return results, nil
}

// UserJob refreshes one queued user per call.
type UserJob struct {
	store    Store
	profiles ProfileSource
	users    *UserQueue
	scores   *logging.SideLog
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewUserJob creates the user job. scores may be nil.
func NewUserJob(store Store, profiles ProfileSource, users *UserQueue, scores *logging.SideLog, metrics *telemetry.Metrics) *UserJob {
	return &UserJob{
		store:    store,
		profiles: profiles,
		users:    users,
		scores:   scores,
		metrics:  metrics,
		logger:   logging.WithComponent("user-job"),
		now:      time.Now,
	}
}

// Run waits for the next queued user, fetches its profile and stores it with
// a new score sample. A user that cannot be fetched is dropped; it comes back
// once it is seen again in the feed.
func (j *UserJob) Run(ctx context.Context) error {
	name, err := j.users.Get(ctx)
	if err != nil {
		return err
	}
	startWork(ctx)

	user, err := j.profiles.Profile(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		j.metrics.Error(ctx, "user")
		j.logger.Warn("Could not fetch user", zap.String("user", name), zap.Error(err))
		return nil
	}

	observedAt := j.now()
	if err := j.store.StoreUser(ctx, *user, observedAt); err != nil {
		return err
	}
	j.metrics.Stored(ctx, "user_score", 1)

	if j.scores != nil {
		j.scores.Record("user_score",
			zap.Int64("user_id", user.ID),
			zap.String("user", user.Name),
			zap.Int64("score", user.Score),
			zap.Int64("timestamp", observedAt.Unix()))
	}
	return nil
}
