package feed

import (
	"context"
	"fmt"
	"io"

	"github.com/feedmeta/harvester/internal/models"
)

// PageFetcher fetches one page of the feed older than the given id.
type PageFetcher interface {
	Page(ctx context.Context, older int64) (*Page, error)
}

// Walker pages backwards through the feed, newest item first. It returns
// io.EOF after the last item of the page marked as the end. A Walker cannot
// be restarted; create a new one for a fresh walk.
type Walker struct {
	pages  PageFetcher
	cursor int64
	buffer []models.Item
	atEnd  bool
}

// NewWalker creates a walker starting at the newest page.
func NewWalker(pages PageFetcher) *Walker {
	return &Walker{pages: pages}
}

// Next returns the next older item.
func (w *Walker) Next(ctx context.Context) (models.Item, error) {
	for len(w.buffer) == 0 {
		if w.atEnd {
			return models.Item{}, io.EOF
		}

		page, err := w.pages.Page(ctx, w.cursor)
		if err != nil {
			return models.Item{}, err
		}

		if len(page.Items) == 0 && !page.AtEnd {
			// the cursor did not move, asking again would return the same page
			return models.Item{}, &FetchError{Kind: "feed", Err: fmt.Errorf("empty page without end marker")}
		}

		if len(page.Items) > 0 {
			oldest := page.Items[0].ID
			for _, item := range page.Items[1:] {
				oldest = min(oldest, item.ID)
			}
			// an upstream that ignores older would hand out the same page forever
			if w.cursor != 0 && oldest >= w.cursor {
				return models.Item{}, &FetchError{
					Kind: "feed",
					Err:  fmt.Errorf("page older than %d reaches back only to %d", w.cursor, oldest),
				}
			}
			w.cursor = oldest
		}

		w.buffer = page.Items
		w.atEnd = page.AtEnd
	}

	item := w.buffer[0]
	w.buffer = w.buffer[1:]
	return item, nil
}

// Cursor returns the smallest item id seen so far.
func (w *Walker) Cursor() int64 {
	return w.cursor
}
