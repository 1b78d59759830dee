package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feedmeta/harvester/internal/models"
)

const insertBatchSize = 100

// StorageError is returned when a write could not be committed. Nothing of the
// failed call is visible afterwards.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// transaction runs fn in one transaction and wraps failures in a StorageError.
func (r *Repository) transaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	if err := r.db.WithContext(ctx).Transaction(fn); err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

// UpsertItems stores items. Existing rows only get up, down and mark refreshed.
func (r *Repository) UpsertItems(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}
	return r.transaction(ctx, "upsert items", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"up", "down", "mark"}),
		}).CreateInBatches(items, insertBatchSize).Error
	})
}

// ExistingSizes returns which of ids already have a stored size.
func (r *Repository) ExistingSizes(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return r.existingIDs(ctx, &models.Size{}, ids)
}

// ExistingPreviews returns which of ids already have a stored preview.
func (r *Repository) ExistingPreviews(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return r.existingIDs(ctx, &models.ItemPreview{}, ids)
}

func (r *Repository) existingIDs(ctx context.Context, model interface{}, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var existing []int64
	if err := r.db.WithContext(ctx).Model(model).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
		return nil, fmt.Errorf("failed to query existing ids: %w", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// InsertSizes stores sizes; ids that already have a size keep the old one.
func (r *Repository) InsertSizes(ctx context.Context, sizes []models.Size) error {
	if len(sizes) == 0 {
		return nil
	}
	return r.transaction(ctx, "insert sizes", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(sizes, insertBatchSize).Error
	})
}

// InsertPreviews stores previews; existing previews are kept.
func (r *Repository) InsertPreviews(ctx context.Context, previews []models.ItemPreview) error {
	if len(previews) == 0 {
		return nil
	}
	return r.transaction(ctx, "insert previews", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(previews, insertBatchSize).Error
	})
}

// UpsertTags stores tags, refreshing the confidence of known tag ids.
func (r *Repository) UpsertTags(ctx context.Context, tags []models.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	return r.transaction(ctx, "upsert tags", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"confidence"}),
		}).CreateInBatches(tags, insertBatchSize).Error
	})
}

// StoreUser upserts the profile and appends a score sample taken at observedAt.
func (r *Repository) StoreUser(ctx context.Context, user models.User, observedAt time.Time) error {
	return r.transaction(ctx, "store user", func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score"}),
		}).Create(&user).Error; err != nil {
			return err
		}

		sample := models.UserScore{
			UserID:    user.ID,
			Timestamp: observedAt.Unix(),
			Score:     user.Score,
		}
		return tx.Create(&sample).Error
	})
}

// GetItem retrieves an item by ID
func (r *Repository) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	var item models.Item
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// GetSize retrieves the size of an item
func (r *Repository) GetSize(ctx context.Context, id int64) (*models.Size, error) {
	var size models.Size
	if err := r.db.WithContext(ctx).First(&size, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &size, nil
}

// TagsByItem retrieves all tags of an item ordered by id
func (r *Repository) TagsByItem(ctx context.Context, itemID int64) ([]models.Tag, error) {
	var tags []models.Tag
	if err := r.db.WithContext(ctx).Where("item_id = ?", itemID).Order("id").Find(&tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

// GetUserByName retrieves a user by name, ignoring case
func (r *Repository) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("lower(name) = ?", strings.ToLower(name)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// ScoreHistory returns the score samples of a user, oldest first.
func (r *Repository) ScoreHistory(ctx context.Context, userID int64, since time.Time) ([]models.UserScore, error) {
	var samples []models.UserScore
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where(clause.Gte{Column: clause.Column{Name: "timestamp"}, Value: since.Unix()}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Find(&samples).Error; err != nil {
		return nil, err
	}
	return samples, nil
}

// LookupSizes returns the stored sizes of the given items.
func (r *Repository) LookupSizes(ctx context.Context, ids []int64, limit int) ([]models.Size, error) {
	var sizes []models.Size
	if len(ids) == 0 {
		return sizes, nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Size{}).
		Select("sizes.id, sizes.width, sizes.height").
		Joins("JOIN items ON items.id = sizes.id").
		Where("sizes.id IN ?", ids).
		Order("sizes.id").
		Limit(limit).
		Find(&sizes).Error; err != nil {
		return nil, err
	}
	return sizes, nil
}

// LookupTagged returns the stored items among ids carrying tag (any case)
// with a confidence above minConfidence.
func (r *Repository) LookupTagged(ctx context.Context, ids []int64, tag string, minConfidence float64, limit int) ([]int64, error) {
	var out []int64
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Tag{}).
		Distinct("tags.item_id").
		Joins("JOIN items ON items.id = tags.item_id").
		Where("tags.item_id IN ? AND tags.confidence > ? AND lower(tags.tag) = ?", ids, minConfidence, strings.ToLower(tag)).
		Order("tags.item_id").
		Limit(limit).
		Pluck("tags.item_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
