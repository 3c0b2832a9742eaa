package storage

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ Journal = (*sqlJournal)(nil)

type sqlJournal struct {
	db *gorm.DB
}

// NewSQLite opens the journal at path, which may be ":memory:".
func NewSQLite(path string) (Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	sqlDB.SetMaxOpenConns(1)

	return NewGORM(db)
}

// NewGORM uses an existing connection, migrating the runs table.
func NewGORM(db *gorm.DB) (Journal, error) {
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &sqlJournal{db: db}, nil
}

func (j *sqlJournal) Record(ctx context.Context, run Run) error {
	if err := validate(run); err != nil {
		return err
	}

	if err := j.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	return nil
}

func (j *sqlJournal) Attempts(ctx context.Context, taskID string) (int, error) {
	var n int64
	err := j.db.WithContext(ctx).
		Model(&Run{}).
		Where("task_id = ?", taskID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}

	return int(n), nil
}

func (j *sqlJournal) List(ctx context.Context, offset, limit uint64) ([]Run, uint64, error) {
	var total int64
	if err := j.db.WithContext(ctx).Model(&Run{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	runs := []Run{}
	err := j.db.WithContext(ctx).
		Order("finished_at DESC").
		Offset(int(offset)).
		Limit(int(limit)).
		Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}

	return runs, uint64(total), nil
}

func (j *sqlJournal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
