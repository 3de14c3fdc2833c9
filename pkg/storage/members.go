package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// GormMembers reads channel memberships and thread followers.
type GormMembers struct {
	db *gorm.DB
}

// NewGormMembers creates a GORM-backed member source.
func NewGormMembers(db *gorm.DB) *GormMembers {
	return &GormMembers{db: db}
}

// Migrate creates the membership tables.
func (m *GormMembers) Migrate(ctx context.Context) error {
	return m.db.WithContext(ctx).AutoMigrate(&core.ChannelMember{}, &core.ReplyFollower{})
}

// ChannelMembers returns up to limit members of channelID with an ordering
// id greater than afterID, in id order. Inactive and muted members are
// included; callers filter them.
func (m *GormMembers) ChannelMembers(ctx context.Context, channelID, afterID uint64, limit int) ([]core.ChannelMember, error) {
	var members []core.ChannelMember
	err := m.db.WithContext(ctx).
		Where("channel_id = ? AND id > ?", channelID, afterID).
		Order("id").
		Limit(limit).
		Find(&members).Error
	return members, err
}

// ThreadFollowers returns the users following a reply thread.
func (m *GormMembers) ThreadFollowers(ctx context.Context, parentKind string, parentID uint64) ([]uint64, error) {
	var ids []uint64
	err := m.db.WithContext(ctx).
		Model(&core.ReplyFollower{}).
		Where("parent_kind = ? AND parent_id = ?", parentKind, parentID).
		Order("id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// AddMember inserts or updates a channel membership.
func (m *GormMembers) AddMember(ctx context.Context, member *core.ChannelMember) error {
	if member.Status == "" {
		member.Status = core.MemberActive
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "notification_muted"}),
	}).Create(member).Error
}

// Follow records userID as a follower of a thread. Repeated calls are no-ops.
func (m *GormMembers) Follow(ctx context.Context, parentKind string, parentID, userID uint64) error {
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&core.ReplyFollower{
		ParentKind: parentKind,
		ParentID:   parentID,
		UserID:     userID,
	}).Error
}
