package identity

import (
	"strings"
	"time"
)

// Account is a persisted admin user able to sign in to the console.
type Account struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName  string    `gorm:"column:display_name;size:320;not null"`
	Role         string    `gorm:"column:role;size:32;not null;default:'editor'"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing admin accounts.
func (Account) TableName() string {
	return "admin_accounts"
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
