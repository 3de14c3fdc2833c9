package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// GormDeviceTokens stores push registration tokens.
type GormDeviceTokens struct {
	db *gorm.DB
}

func NewGormDeviceTokens(db *gorm.DB) *GormDeviceTokens {
	return &GormDeviceTokens{db: db}
}

func (s *GormDeviceTokens) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.DeviceToken{})
}

// Register binds token to userID. A token moving to another user is
// reassigned.
func (s *GormDeviceTokens) Register(ctx context.Context, userID uint64, token, platform string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform"}),
	}).Create(&core.DeviceToken{UserID: userID, Token: token, Platform: platform}).Error
}

// Tokens returns the user's tokens, oldest first.
func (s *GormDeviceTokens) Tokens(ctx context.Context, userID uint64) ([]string, error) {
	var tokens []string
	err := s.db.WithContext(ctx).
		Model(&core.DeviceToken{}).
		Where("user_id = ?", userID).
		Order("id").
		Pluck("token", &tokens).Error
	return tokens, err
}

// RemoveTokens deletes tokens the push provider reported as unregistered.
func (s *GormDeviceTokens) RemoveTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("token IN ?", tokens).Delete(&core.DeviceToken{}).Error
}
