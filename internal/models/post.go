package models

import (
	"time"
)

// Item represents a post of the feed. Only Up, Down and Mark change after the
// first write.
type Item struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false;column:id" json:"id"`
	Promoted int64  `gorm:"not null;default:0;column:promoted" json:"promoted"`
	Up       int64  `gorm:"not null;default:0;column:up" json:"up"`
	Down     int64  `gorm:"not null;default:0;column:down" json:"down"`
	Created  int64  `gorm:"not null;column:created" json:"created"`
	Image    string `gorm:"type:text;column:image" json:"image"`
	Thumb    string `gorm:"type:text;column:thumb" json:"thumb"`
	Fullsize string `gorm:"type:text;column:fullsize" json:"fullsize"`
	Source   string `gorm:"type:text;column:source" json:"source"`
	Flags    int    `gorm:"not null;default:0;column:flags" json:"flags"`
	User     string `gorm:"type:text;column:user" json:"user"`
	Mark     int    `gorm:"not null;default:0;column:mark" json:"mark"`
}

// TableName specifies the table name for Item
func (Item) TableName() string {
	return "items"
}

// CreatedAt returns the creation time of the item.
func (i Item) CreatedAt() time.Time {
	return time.Unix(i.Created, 0)
}

// Size is the measured pixel size of an item's media file. A cached fact: the
// first measurement wins.
type Size struct {
	ID     int64 `gorm:"primaryKey;autoIncrement:false;column:id" json:"id"`
	Width  int   `gorm:"not null;column:width" json:"width"`
	Height int   `gorm:"not null;column:height" json:"height"`
}

// TableName specifies the table name for Size
func (Size) TableName() string {
	return "sizes"
}

// Tag is a tag attached to an item. ItemID is not a foreign key: tags may be
// written before their item.
type Tag struct {
	ID         int64   `gorm:"primaryKey;autoIncrement:false;column:id" json:"id"`
	ItemID     int64   `gorm:"not null;index:tags_item_id;column:item_id" json:"item_id"`
	Confidence float64 `gorm:"not null;column:confidence" json:"confidence"`
	Tag        string  `gorm:"type:text;column:tag" json:"tag"`
}

// TableName specifies the table name for Tag
func (Tag) TableName() string {
	return "tags"
}

// ItemPreview is a tiny RGB565 bitmap of the first frame of an item.
type ItemPreview struct {
	ID      int64  `gorm:"primaryKey;autoIncrement:false;column:id" json:"id"`
	Width   int    `gorm:"not null;column:width" json:"width"`
	Height  int    `gorm:"not null;column:height" json:"height"`
	Preview []byte `gorm:"column:preview" json:"preview"`
}

// TableName specifies the table name for ItemPreview
func (ItemPreview) TableName() string {
	return "item_previews"
}
