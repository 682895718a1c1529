// Package server manages the ipslamon database layer and HTTP planes.
// The repository keeps the measurement collection in SQLite through GORM;
// the collection is read whole and written back once per batch.
package server

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vesaa/ipslamon/internal/config"
	"github.com/vesaa/ipslamon/internal/models"
	"github.com/vesaa/ipslamon/internal/store"
)

// Repository persists the record collection.
type Repository struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Open opens the configured database and runs AutoMigrate.
func Open(cfg *config.Config, log logrus.FieldLogger) (*Repository, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite')", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&models.Record{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	log.WithField("path", cfg.DBPath).Debug("database opened")
	return &Repository{db: db, log: log}, nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load returns the persisted collection sorted by start time.
func (r *Repository) Load(ctx context.Context) (store.Collection, error) {
	var rows []models.Record
	if err := r.db.WithContext(ctx).Order("start_time asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	// The driver hands times back in a fixed zone; keep the naive-UTC form.
	for i := range rows {
		rows[i].StartTime = rows[i].StartTime.UTC()
	}
	return store.Sorted(rows), nil
}

// Sync makes the stored rows match coll in a single transaction. Absent
// start times are inserted; rows whose data changed are deleted and
// reinserted under the same key. Nothing is committed if any step fails.
func (r *Repository) Sync(ctx context.Context, coll store.Collection) error {
	var inserted, replaced int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.Record
		if err := tx.Find(&rows).Error; err != nil {
			return fmt.Errorf("reading stored rows: %w", err)
		}
		stored := store.Sorted(rows)

		var pending []models.Record
		for _, rec := range coll {
			old, ok := stored.Lookup(rec.StartTime)
			if ok && old.Equal(rec) {
				continue
			}
			if ok {
				if err := tx.Where("start_time = ?", old.StartTime).Delete(&models.Record{}).Error; err != nil {
					return fmt.Errorf("replacing %s: %w", rec.StartTime.Format(models.TimeLayout), err)
				}
				replaced++
			} else {
				inserted++
			}
			pending = append(pending, rec)
		}
		if len(pending) == 0 {
			return nil
		}
		return tx.CreateInBatches(pending, 200).Error
	})
	if err != nil {
		return fmt.Errorf("syncing records: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"inserted": inserted,
		"replaced": replaced,
		"total":    len(coll),
	}).Debug("collection persisted")
	return nil
}
