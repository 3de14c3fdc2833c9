package storage

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pepolabs/hookpipe/pkg/alert"
	"github.com/pepolabs/hookpipe/pkg/core"
)

// ErrorLogStore persists alerts into the error_logs table.
type ErrorLogStore struct {
	db *gorm.DB
}

// NewErrorLogStore creates an alert sink backed by db.
func NewErrorLogStore(db *gorm.DB) *ErrorLogStore {
	return &ErrorLogStore{db: db}
}

func (s *ErrorLogStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.ErrorLog{})
}

// Alert implements alert.Sink.
func (s *ErrorLogStore) Alert(ctx context.Context, a alert.Alert) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&core.ErrorLog{
		Kind:       a.Kind,
		Severity:   string(a.Severity),
		Identifier: a.Identifier,
		Data:       datatypes.JSON(data),
	}).Error
}

// Recent returns the latest logged alerts, newest first.
func (s *ErrorLogStore) Recent(ctx context.Context, limit int) ([]core.ErrorLog, error) {
	var logs []core.ErrorLog
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
