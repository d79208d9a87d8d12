package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type snapshotRow struct {
	Key       string `gorm:"primaryKey;type:varchar(64)"`
	Payload   []byte
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string { return "snapshots" }

// SQLite keeps snapshots in a local file for single-venue installs.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens path and migrates the snapshot table.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection keeps ":memory:" databases coherent
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate snapshots: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	var row snapshotRow
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.Payload, true, nil
}

func (s *SQLite) Save(ctx context.Context, key string, payload []byte) error {
	return s.SaveAll(ctx, []Entry{{Key: key, Payload: payload}})
}

func (s *SQLite) SaveAll(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]snapshotRow, 0, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
		rows = append(rows, snapshotRow{Key: e.Key, Payload: e.Payload, UpdatedAt: now})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&rows).Error
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&snapshotRow{}).Order("key asc").Pluck("key", &keys).Error
	return keys, err
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
