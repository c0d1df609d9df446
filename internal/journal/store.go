// Package journal persists the decision trail: orders, engine events and
// reconciliation drift. It exists for operator forensics, never for control
// flow; a journal failure is logged and swallowed by callers.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&OrderRecord{}, &EventRecord{}, &DriftRecord{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

// SaveOrder upserts by client order id so repeated lifecycle updates land on
// the same row.
func (s *Store) SaveOrder(ctx context.Context, rec *OrderRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "client_order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"broker_order_id", "filled_qty", "status", "updated_at",
		}),
	}).Create(rec).Error
}

func (s *Store) AppendEvent(ctx context.Context, rec *EventRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) RecordDrift(ctx context.Context, rec *DriftRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// RecentDrifts returns the newest drift records, newest first.
func (s *Store) RecentDrifts(ctx context.Context, limit int) ([]DriftRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []DriftRecord
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// OrderByClientID looks up one order record.
func (s *Store) OrderByClientID(ctx context.Context, clientOrderID string) (*OrderRecord, error) {
	var rec OrderRecord
	err := s.db.WithContext(ctx).Where("client_order_id = ?", clientOrderID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
