package models

import "time"

// User maps to the `users` table.
// Primary key is the Telegram user ID.
type User struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// BlacklistEntry maps to the `blacklist` table.
type BlacklistEntry struct {
	UserID    int64     `gorm:"column:user_id;primaryKey;autoIncrement:false" json:"user_id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (BlacklistEntry) TableName() string {
	return "blacklist"
}
