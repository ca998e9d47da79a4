package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

const DefaultFileRetentionDays = 7

// Cleaner purges expired warehouse slots and ages out file records.
type Cleaner struct {
	db       *gorm.DB
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewCleaner(db *gorm.DB, registry *Registry, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(db, logger)
	}
	return &Cleaner{db: db, registry: registry, logger: logger, now: time.Now}
}

// WithTx returns a Cleaner whose availability cleanup is a savepoint of tx, so a
// failure there leaves the caller's transaction usable.
func (c *Cleaner) WithTx(tx *gorm.DB) *Cleaner {
	cp := *c
	cp.db = tx
	return &cp
}

// CleanupOldAvailability deletes every slot dated before today.
func (c *Cleaner) CleanupOldAvailability(ctx context.Context) (int64, error) {
	today := c.now().Format(dateLayout)
	var deleted int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("slot_date < ?", today).Delete(&AvailabilitySlot{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		c.logger.Error("availability cleanup failed", "error", err)
		return 0, err
	}
	c.logger.Info("availability cleanup completed", "deleted", deleted, "before", today)
	return deleted, nil
}

// CleanupProcessedFiles removes processed file records (and failed ones when
// includeFailed) older than daysThreshold days, along with their files.
func (c *Cleaner) CleanupProcessedFiles(ctx context.Context, daysThreshold int, includeFailed bool) (int, error) {
	if daysThreshold < 0 {
		return 0, fmt.Errorf("days threshold must not be negative: %d", daysThreshold)
	}
	return c.registry.Cleanup(ctx, time.Duration(daysThreshold)*24*time.Hour, includeFailed)
}
