package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrUserNotFound is returned when no credential row exists for a username.
var ErrUserNotFound = errors.New("user not found")

// User is a row of the credential table.
type User struct {
	ID           uint      `gorm:"primaryKey"`
	Username     string    `gorm:"column:username;uniqueIndex;size:64"`
	PasswordHash string    `gorm:"column:password_hash;size:100"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// EnsureUser inserts the user if it does not exist yet. Existing hashes are left untouched.
func (r *VerificationRepository) EnsureUser(ctx context.Context, username, passwordHash string) error {
	return r.executeWithRetry(ctx, "repository.ensure_user", "", func() error {
		user := User{Username: username, PasswordHash: passwordHash}
		return r.db.WithContext(ctx).
			Where(User{Username: username}).
			FirstOrCreate(&user).Error
	})
}

// FindUser loads a credential row.
func (r *VerificationRepository) FindUser(ctx context.Context, username string) (*User, error) {
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user", "", func() error {
		return r.db.WithContext(ctx).First(&user, "username = ?", username).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsernames returns every username in lexicographic order.
func (r *VerificationRepository) ListUsernames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.executeWithRetry(ctx, "repository.list_usernames", "", func() error {
		return r.db.WithContext(ctx).Model(&User{}).Order("username ASC").Pluck("username", &names).Error
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
