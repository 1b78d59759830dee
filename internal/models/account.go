package models

// User is a feed user profile. Score is overwritten on every fetch.
type User struct {
	ID         int64  `gorm:"primaryKey;autoIncrement:false;column:id" json:"id"`
	Name       string `gorm:"type:text;not null;index:users_name_lower,expression:lower(name);column:name" json:"name"`
	Registered int64  `gorm:"not null;column:registered" json:"registered"`
	Score      int64  `gorm:"not null;column:score" json:"score"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// UserScore is one observation of a user's score. Rows are only ever appended.
type UserScore struct {
	UserID    int64 `gorm:"not null;index:user_score_user_id_timestamp,priority:1;column:user_id" json:"user_id"`
	Timestamp int64 `gorm:"not null;index:user_score_user_id_timestamp,priority:2;column:timestamp" json:"timestamp"`
	Score     int64 `gorm:"not null;column:score" json:"score"`
}

// TableName specifies the table name for UserScore
func (UserScore) TableName() string {
	return "user_score"
}

// All lists every persisted model, in the order tables are created and copied.
func All() []interface{} {
	return []interface{}{
		&Item{},
		&Size{},
		&Tag{},
		&User{},
		&UserScore{},
		&ItemPreview{},
	}
}
