package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/feedmeta/harvester/internal/models"
	"github.com/feedmeta/harvester/pkg/config"
	"github.com/feedmeta/harvester/pkg/logging"
	"github.com/feedmeta/harvester/pkg/telemetry"
)

// FetchError is returned for transport failures, non-success statuses and
// payloads that do not decode.
type FetchError struct {
	Kind   string
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s %s: status %d", e.Kind, e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Page is one page of the feed, newest item first.
type Page struct {
	Items []models.Item `json:"items"`
	AtEnd bool          `json:"atEnd"`
}

// ItemInfo holds the detail of one item.
type ItemInfo struct {
	Tags     []InfoTag     `json:"tags"`
	Comments []InfoComment `json:"comments"`
}

// InfoTag is a tag as returned by the detail endpoint.
type InfoTag struct {
	ID         int64   `json:"id"`
	Confidence float64 `json:"confidence"`
	Tag        string  `json:"tag"`
}

// InfoComment is a comment as returned by the detail endpoint; only the
// author is of interest.
type InfoComment struct {
	Name string `json:"name"`
}

type profileResponse struct {
	User *models.User `json:"user"`
}

// Client talks to the feed, detail, profile and media endpoints.
type Client struct {
	http       *http.Client
	feedURL    string
	detailURL  string
	profileURL string
	mediaURL   string
	flags      int
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

// New creates a new feed client
func New(cfg *config.FeedConfig, metrics *telemetry.Metrics) (*Client, error) {
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("feed_url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger := logging.WithComponent("feed-client")
	logger.Info("Feed client initialized", zap.String("url", cfg.FeedURL))

	return &Client{
		http:       &http.Client{Timeout: timeout},
		feedURL:    cfg.FeedURL,
		detailURL:  cfg.DetailURL,
		profileURL: cfg.ProfileURL,
		mediaURL:   cfg.MediaURL,
		flags:      cfg.Flags,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// Page fetches the page of items older than the given id. older <= 0 fetches
// the newest page.
func (c *Client) Page(ctx context.Context, older int64) (*Page, error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.page")

	params := url.Values{}
	params.Set("flags", strconv.Itoa(c.flags))
	if older > 0 {
		params.Set("older", strconv.FormatInt(older, 10))
	}

	var page Page
	err := c.getJSON(ctx, "feed", c.feedURL+"?"+params.Encode(), &page)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// ItemInfo fetches tags and comments of an item.
func (c *Client) ItemInfo(ctx context.Context, itemID int64) (*ItemInfo, error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.item_info")

	params := url.Values{}
	params.Set("itemId", strconv.FormatInt(itemID, 10))

	var info ItemInfo
	err := c.getJSON(ctx, "info", c.detailURL+"?"+params.Encode(), &info)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Profile resolves a user name to its profile and current score.
func (c *Client) Profile(ctx context.Context, name string) (*models.User, error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.profile")

	params := url.Values{}
	params.Set("name", name)
	params.Set("flags", "1")
	target := c.profileURL + "?" + params.Encode()

	var resp profileResponse
	err := c.getJSON(ctx, "user", target, &resp)
	if err == nil && (resp.User == nil || resp.User.ID == 0) {
		err = &FetchError{Kind: "user", URL: target, Err: fmt.Errorf("response has no user")}
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return resp.User, nil
}

// MediaURL returns the absolute URL of an item's media path.
func (c *Client) MediaURL(path string) string {
	return strings.TrimSuffix(c.mediaURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// FetchPrefix downloads at most size bytes from the start of target using a
// range request.
func (c *Client) FetchPrefix(ctx context.Context, target string, size int) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "feed.media_prefix")
	start := time.Now()

	data, err := c.fetchPrefix(ctx, target, size)
	c.metrics.Request(ctx, "media", time.Since(start), err)
	telemetry.EndSpan(span, err)
	return data, err
}

func (c *Client) fetchPrefix(ctx context.Context, target string, size int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Kind: "media", URL: target, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", size-1))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: "media", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, &FetchError{Kind: "media", URL: target, Status: resp.StatusCode}
	}

	// servers ignoring the range header send everything
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(size)))
	if err != nil {
		return nil, &FetchError{Kind: "media", URL: target, Err: err}
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, kind, target string, out interface{}) error {
	start := time.Now()
	err := c.doJSON(ctx, kind, target, out)
	c.metrics.Request(ctx, kind, time.Since(start), err)

	if err != nil {
		c.logger.Debug("Request failed", zap.String("kind", kind), zap.String("url", target), zap.Error(err))
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, kind, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &FetchError{Kind: kind, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Kind: kind, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &FetchError{Kind: kind, URL: target, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Kind: kind, URL: target, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
