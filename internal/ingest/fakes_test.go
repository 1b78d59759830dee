package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/feedmeta/harvester/internal/feed"
	"github.com/feedmeta/harvester/internal/media"
	"github.com/feedmeta/harvester/internal/models"
)

type sliceSequence[T any] struct {
	values []T
	err    error
}

func (s *sliceSequence[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if len(s.values) == 0 {
		if s.err != nil {
			return zero, s.err
		}
		return zero, io.EOF
	}
	value := s.values[0]
	s.values = s.values[1:]
	return value, nil
}

type memoryStore struct {
	mu       sync.Mutex
	items    map[int64]models.Item
	sizes    map[int64]models.Size
	previews map[int64]models.ItemPreview
	tags     map[int64]models.Tag
	users    map[int64]models.User
	samples  []models.UserScore
	failTags bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		items:    make(map[int64]models.Item),
		sizes:    make(map[int64]models.Size),
		previews: make(map[int64]models.ItemPreview),
		tags:     make(map[int64]models.Tag),
		users:    make(map[int64]models.User),
	}
}

func (m *memoryStore) UpsertItems(ctx context.Context, items []models.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.items[item.ID] = item
	}
	return nil
}

func (m *memoryStore) ExistingSizes(ctx context.Context, ids []int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]bool)
	for _, id := range ids {
		if _, ok := m.sizes[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memoryStore) ExistingPreviews(ctx context.Context, ids []int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]bool)
	for _, id := range ids {
		if _, ok := m.previews[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memoryStore) InsertSizes(ctx context.Context, sizes []models.Size) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, size := range sizes {
		if _, ok := m.sizes[size.ID]; !ok {
			m.sizes[size.ID] = size
		}
	}
	return nil
}

func (m *memoryStore) InsertPreviews(ctx context.Context, previews []models.ItemPreview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, preview := range previews {
		if _, ok := m.previews[preview.ID]; !ok {
			m.previews[preview.ID] = preview
		}
	}
	return nil
}

func (m *memoryStore) UpsertTags(ctx context.Context, tags []models.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTags {
		return errors.New("database is locked")
	}
	for _, tag := range tags {
		m.tags[tag.ID] = tag
	}
	return nil
}

func (m *memoryStore) StoreUser(ctx context.Context, user models.User, observedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	m.samples = append(m.samples, models.UserScore{UserID: user.ID, Timestamp: observedAt.Unix(), Score: user.Score})
	return nil
}

// fakeMedia serves fixed payloads per URL and counts fetches.
type fakeMedia struct {
	mu      sync.Mutex
	files   map[string][]byte
	fetches int
	sizes   []int
}

func (f *fakeMedia) MediaURL(path string) string {
	return "media://" + path
}

func (f *fakeMedia) FetchPrefix(ctx context.Context, url string, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	f.sizes = append(f.sizes, size)

	data, ok := f.files[url]
	if !ok {
		return nil, &feed.FetchError{Kind: "media", URL: url, Status: 404}
	}
	if len(data) > size {
		data = data[:size]
	}
	return data, nil
}

type fakeVideo struct {
	width, height int
	err           error
}

func (f *fakeVideo) VideoSize(ctx context.Context, prefix []byte) (int, int, error) {
	return f.width, f.height, f.err
}

type fakeRenderer struct {
	calls int
}

func (f *fakeRenderer) RenderPreview(ctx context.Context, url string) (*media.Preview, error) {
	f.calls++
	return &media.Preview{Width: 1, Height: 1, Pixels: []byte{0xff, 0xff}}, nil
}

type fakeInfo struct {
	infos map[int64]*feed.ItemInfo
	calls []int64
}

func (f *fakeInfo) ItemInfo(ctx context.Context, itemID int64) (*feed.ItemInfo, error) {
	f.calls = append(f.calls, itemID)
	info, ok := f.infos[itemID]
	if !ok {
		return nil, &feed.FetchError{Kind: "info", Status: 500}
	}
	return info, nil
}

type fakeProfiles struct {
	users map[string]*models.User
	asked []string
}

func (f *fakeProfiles) Profile(ctx context.Context, name string) (*models.User, error) {
	f.asked = append(f.asked, name)
	user, ok := f.users[name]
	if !ok {
		return nil, &feed.FetchError{Kind: "user", Status: 404}
	}
	return user, nil
}

// recordingJob remembers the chunks it was given.
type recordingJob struct {
	name   string
	chunks [][]int64
}

func (j *recordingJob) Name() string { return j.name }

func (j *recordingJob) Process(ctx context.Context, items []models.Item) ([]Result, error) {
	j.chunks = append(j.chunks, ids(items))
	return nil, nil
}
