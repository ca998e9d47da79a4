package etl

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"
)

// RunLocker serializes ETL and cleanup invocations across processes sharing a store.
type RunLocker interface {
	// WithLock blocks until the lock is held, runs fn, then releases the lock.
	WithLock(ctx context.Context, fn func() error) error
}

const runLockName = "court-etl-run"

// NewRunLocker picks a PostgreSQL advisory lock or, for other dialects, a lock row.
func NewRunLocker(db *gorm.DB, logger *slog.Logger) (RunLocker, error) {
	if db == nil {
		return noopRunLock{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{db: db, logger: logger, lockID: int64(crc32.ChecksumIEEE([]byte(runLockName)))}, nil
	}
	if err := db.AutoMigrate(&runLockRecord{}); err != nil {
		return nil, fmt.Errorf("create run lock table: %w", err)
	}
	return &tableRunLock{
		db:            db,
		logger:        logger,
		maxRetries:    30,
		retryInterval: time.Second,
		staleAfter:    30 * time.Minute,
	}, nil
}

type noopRunLock struct{}

func (noopRunLock) WithLock(_ context.Context, fn func() error) error { return fn() }

type pgAdvisoryLock struct {
	db     *gorm.DB
	logger *slog.Logger
	lockID int64
}

// Session advisory locks belong to a connection, so lock and unlock share one.
func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire run lock connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockID); err != nil {
		return fmt.Errorf("acquire run advisory lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", l.lockID); err != nil {
			l.logger.Error("release run advisory lock failed", "lockId", l.lockID, "error", err)
		}
	}()

	return fn()
}

type runLockRecord struct {
	ID       string    `gorm:"primaryKey;size:64;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"size:255;column:locked_by"`
}

func (runLockRecord) TableName() string { return "etl_run_lock" }

var ErrRunLocked = errors.New("another ETL run holds the lock")

// tableRunLock relies on the primary key to admit one holder. Rows older than
// staleAfter are treated as left behind by a crashed run.
type tableRunLock struct {
	db            *gorm.DB
	logger        *slog.Logger
	maxRetries    int
	retryInterval time.Duration
	staleAfter    time.Duration
}

func (l *tableRunLock) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	row := runLockRecord{ID: runLockName, LockedBy: fmt.Sprintf("%s/%d", hostname, os.Getpid())}

	var lastErr error
	acquired := false
	for i := 0; i < l.maxRetries; i++ {
		sweep := l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", runLockName, time.Now().UTC().Add(-l.staleAfter)).
			Delete(&runLockRecord{})
		if sweep.Error != nil {
			l.logger.Warn("stale run lock sweep failed", "error", sweep.Error)
		} else if sweep.RowsAffected > 0 {
			l.logger.Warn("reclaimed stale run lock", "staleAfter", l.staleAfter.String())
		}

		row.LockedAt = time.Now().UTC()
		if lastErr = l.db.WithContext(ctx).Create(&row).Error; lastErr == nil {
			acquired = true
			break
		}
		if i == l.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("%w after %d attempts: %v", ErrRunLocked, l.maxRetries, lastErr)
	}

	defer func() {
		err := l.db.WithContext(context.WithoutCancel(ctx)).
			Where("id = ? AND locked_by = ?", runLockName, row.LockedBy).
			Delete(&runLockRecord{}).Error
		if err != nil {
			l.logger.Error("release run lock failed", "lockedBy", row.LockedBy, "error", err)
		}
	}()
	return fn()
}
