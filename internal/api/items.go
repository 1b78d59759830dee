package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feedmeta/harvester/internal/cache"
	"github.com/feedmeta/harvester/internal/models"
	"github.com/feedmeta/harvester/pkg/telemetry"
)

const (
	maxLookupIDs        = 150
	repostTag           = "repost"
	repostMinConfidence = 0.3
)

// ItemsResult is the answer to an item lookup.
type ItemsResult struct {
	Sizes    []models.Size `json:"sizes"`
	Reposts  []int64       `json:"reposts"`
	Duration float64       `json:"duration"`
}

// ScoreResult is the score history of one user.
type ScoreResult struct {
	User   models.User   `json:"user"`
	Scores []ScoreSample `json:"scores"`
}

// ScoreSample is one observed score.
type ScoreSample struct {
	Timestamp int64 `json:"timestamp"`
	Score     int64 `json:"score"`
}

// ParseIDs parses a comma separated id list, ignoring empty entries and
// keeping at most limit ids.
func ParseIDs(raw string, limit int) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, badRequest("invalid item id %q", part)
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (r *Router) itemsHandler(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "api.items")
	start := time.Now()

	raw := c.Query("ids")
	if raw == "" {
		raw = c.PostForm("ids")
	}

	ids, err := ParseIDs(raw, maxLookupIDs)
	if err != nil {
		telemetry.EndSpan(span, err)
		var apiErr *Error
		errors.As(err, &apiErr)
		r.fail(c, apiErr)
		return
	}

	result, err := r.lookupItems(ctx, ids)
	r.metrics.Request(ctx, "lookup", time.Since(start), err)
	telemetry.EndSpan(span, err)
	if err != nil {
		r.logger.Error("Item lookup failed", zap.Int("ids", len(ids)), zap.Error(err))
		r.fail(c, errLookupFailed)
		return
	}

	result.Duration = time.Since(start).Seconds()
	c.JSON(http.StatusOK, result)
}

func (r *Router) lookupItems(ctx context.Context, ids []int64) (*ItemsResult, error) {
	parts := make([]string, len(ids)+1)
	parts[0] = "items"
	for i, id := range ids {
		parts[i+1] = strconv.FormatInt(id, 10)
	}
	key := cache.HashKey(parts...)

	var cached ItemsResult
	if err := r.cache.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	sizes, err := r.repo.LookupSizes(ctx, ids, maxLookupIDs)
	if err != nil {
		return nil, err
	}
	reposts, err := r.repo.LookupTagged(ctx, ids, repostTag, repostMinConfidence, maxLookupIDs)
	if err != nil {
		return nil, err
	}

	result := &ItemsResult{Sizes: sizes, Reposts: reposts}
	if result.Sizes == nil {
		result.Sizes = []models.Size{}
	}
	if result.Reposts == nil {
		result.Reposts = []int64{}
	}

	if err := r.cache.SetJSON(ctx, key, result); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		r.logger.Warn("Failed to cache lookup", zap.Error(err))
	}
	return result, nil
}

func (r *Router) scoreHandler(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "api.score")

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			telemetry.EndSpan(span, err)
			r.fail(c, badRequest("since must be a unix timestamp"))
			return
		}
		since = time.Unix(seconds, 0)
	} else {
		since = time.Unix(0, 0)
	}

	user, err := r.repo.GetUserByName(ctx, c.Param("name"))
	if err != nil {
		telemetry.EndSpan(span, err)
		r.logger.Error("User lookup failed", zap.Error(err))
		r.fail(c, errLookupFailed)
		return
	}
	if user == nil {
		telemetry.EndSpan(span, nil)
		r.fail(c, errUnknownUser)
		return
	}

	history, err := r.repo.ScoreHistory(ctx, user.ID, since)
	telemetry.EndSpan(span, err)
	if err != nil {
		r.logger.Error("Score lookup failed", zap.Error(err))
		r.fail(c, errLookupFailed)
		return
	}

	result := ScoreResult{User: *user, Scores: make([]ScoreSample, 0, len(history))}
	for _, sample := range history {
		result.Scores = append(result.Scores, ScoreSample{Timestamp: sample.Timestamp, Score: sample.Score})
	}
	c.JSON(http.StatusOK, result)
}
