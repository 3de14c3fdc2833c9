package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// duplicateRetryDelay is how long IncrementUnread waits after losing an
// insert race before reading the winner's row.
const duplicateRetryDelay = 20 * time.Millisecond

// GormTimeline implements core.Timeline using GORM.
type GormTimeline struct {
	db *gorm.DB
}

// NewGormTimeline creates a GORM-backed timeline.
func NewGormTimeline(db *gorm.DB) *GormTimeline {
	return &GormTimeline{db: db}
}

// Migrate creates the notification and visit tables.
func (t *GormTimeline) Migrate(ctx context.Context) error {
	return t.db.WithContext(ctx).AutoMigrate(&core.NotificationRecord{}, &core.VisitDetail{})
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func prepareRecord(rec *core.NotificationRecord) {
	if rec.UUID == "" {
		rec.UUID = uuid.NewString()
	}
	if rec.LastActionTimestamp == 0 {
		rec.LastActionTimestamp = time.Now().UnixMilli()
	}
	if rec.ActorIDs == nil {
		rec.ActorIDs = datatypes.JSONSlice[uint64]{}
	}
	rec.ActorCount = len(rec.ActorIDs)
	if rec.HeadingVersion == 0 {
		rec.HeadingVersion = 1
	}
}

// Append inserts rec. It never overwrites an existing key.
func (t *GormTimeline) Append(ctx context.Context, rec *core.NotificationRecord) error {
	prepareRecord(rec)
	if err := t.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return core.ErrDuplicateNotification
		}
		return err
	}
	return nil
}

// AppendBatch inserts recs in one transaction and reports, per record,
// whether it was inserted. A record whose (user_id, uuid) already exists is
// left untouched in the table and reloaded in place from the stored row.
func (t *GormTimeline) AppendBatch(ctx context.Context, recs []*core.NotificationRecord) ([]bool, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	for _, rec := range recs {
		prepareRecord(rec)
	}
	inserted := make([]bool, len(recs))
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, rec := range recs {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				inserted[i] = true
				continue
			}
			var stored core.NotificationRecord
			err := tx.Where("user_id = ? AND uuid = ?", rec.UserID, rec.UUID).Take(&stored).Error
			if err != nil {
				return fmt.Errorf("reload existing record: %w", err)
			}
			*rec = stored
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func keyScope(key core.NotificationKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ? AND last_action_timestamp = ? AND uuid = ?", key.UserID, key.Timestamp, key.UUID)
	}
}

// Get fetches one record by key.
func (t *GormTimeline) Get(ctx context.Context, key core.NotificationKey) (*core.NotificationRecord, error) {
	var rec core.NotificationRecord
	err := t.db.WithContext(ctx).Scopes(keyScope(key)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Page returns up to limit records strictly older than cursor, ordered by
// (last_action_timestamp, uuid) descending.
func (t *GormTimeline) Page(ctx context.Context, userID uint64, cursor core.Cursor, limit int) ([]*core.NotificationRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := t.db.WithContext(ctx).Where("user_id = ?", userID)
	switch {
	case cursor.Before > 0 && cursor.UUID != "":
		q = q.Where("(last_action_timestamp < ? OR (last_action_timestamp = ? AND uuid < ?))",
			cursor.Before, cursor.Before, cursor.UUID)
	case cursor.Before > 0:
		q = q.Where("last_action_timestamp < ?", cursor.Before)
	}

	var recs []*core.NotificationRecord
	err := q.Order("last_action_timestamp DESC, uuid DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// MarkThankYou sets the thank-you flag if it is not set yet. A second call
// returns applied=false and no error.
func (t *GormTimeline) MarkThankYou(ctx context.Context, key core.NotificationKey, text string) (bool, error) {
	res := t.db.WithContext(ctx).
		Model(&core.NotificationRecord{}).
		Scopes(keyScope(key)).
		Where("thank_you_flag = ?", false).
		Updates(map[string]any{
			"thank_you_flag": true,
			"thank_you_text": text,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := t.Get(ctx, key); err != nil {
		return false, err
	}
	return false, nil
}

// SetDeliveryResponse stores the last delivery outcome on a record.
func (t *GormTimeline) SetDeliveryResponse(ctx context.Context, key core.NotificationKey, response json.RawMessage) error {
	res := t.db.WithContext(ctx).
		Model(&core.NotificationRecord{}).
		Scopes(keyScope(key)).
		Update("delivery_response", jsonColumn(response))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.ErrNotificationNotFound
	}
	return nil
}

// upsertVisit applies updates to the user's visit row, creating it from
// initial when missing. A lost insert race is resolved by waiting briefly,
// then updating the row the other writer created.
func (t *GormTimeline) upsertVisit(ctx context.Context, userID uint64, updates map[string]any, initial core.VisitDetail) error {
	db := t.db.WithContext(ctx)
	res := db.Model(&core.VisitDetail{}).Where("user_id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	initial.UserID = userID
	err := db.Create(&initial).Error
	if err == nil || !isDuplicate(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duplicateRetryDelay):
	}
	var existing core.VisitDetail
	if err := db.Where("user_id = ?", userID).Take(&existing).Error; err != nil {
		return err
	}
	return db.Model(&existing).Updates(updates).Error
}

// IncrementUnread bumps the unread counter of every user.
func (t *GormTimeline) IncrementUnread(ctx context.Context, userIDs []uint64) error {
	for _, id := range userIDs {
		err := t.upsertVisit(ctx, id,
			map[string]any{
				"unread_flag":  true,
				"unread_count": gorm.Expr("unread_count + ?", 1),
			},
			core.VisitDetail{UnreadFlag: true, UnreadCount: 1},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ResetUnread clears the unread flag and counter.
func (t *GormTimeline) ResetUnread(ctx context.Context, userID uint64) error {
	return t.upsertVisit(ctx, userID,
		map[string]any{"unread_flag": false, "unread_count": 0},
		core.VisitDetail{},
	)
}

// MarkVisited records a notification center visit and clears the unread state.
func (t *GormTimeline) MarkVisited(ctx context.Context, userID uint64, at time.Time) error {
	at = at.UTC()
	return t.upsertVisit(ctx, userID,
		map[string]any{"last_visited_at": at, "unread_flag": false, "unread_count": 0},
		core.VisitDetail{LastVisitedAt: &at},
	)
}

// GetVisit returns the user's visit row, or a zero row if none exists.
func (t *GormTimeline) GetVisit(ctx context.Context, userID uint64) (*core.VisitDetail, error) {
	var v core.VisitDetail
	err := t.db.WithContext(ctx).Where("user_id = ?", userID).Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &core.VisitDetail{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

var _ core.Timeline = (*GormTimeline)(nil)
