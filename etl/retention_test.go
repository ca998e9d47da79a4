package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestCleaner(t *testing.T, db *gorm.DB) *Cleaner {
	t.Helper()
	c := NewCleaner(db, newTestRegistry(t, db), quietLogger())
	c.now = fixedClock
	return c
}

func seedSlots(t *testing.T, db *gorm.DB, dates ...time.Time) {
	t.Helper()
	for _, d := range dates {
		require.NoError(t, db.Create(&AvailabilitySlot{
			ParkID:      "1",
			CourtID:     "Court 1",
			SlotDate:    d.Format(dateLayout),
			SlotTime:    "9:00 a.m.",
			Status:      AvailableStatus,
			IsAvailable: true,
			LastUpdated: testNow,
		}).Error)
	}
}

func slotDates(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var dates []string
	require.NoError(t, db.Model(&AvailabilitySlot{}).Order("slot_date").Pluck("slot_date", &dates).Error)
	return dates
}

func TestCleanupOldAvailabilityRemovesOnlyPastSlots(t *testing.T) {
	db := newTestStore(t)
	seedCourts(t, db, "1")
	seedSlots(t, db, testNow.AddDate(0, 0, -1), testNow, testNow.AddDate(0, 0, 1), testNow.AddDate(0, 0, 7))

	deleted, err := newTestCleaner(t, db).CleanupOldAvailability(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	assert.Equal(t, []string{"2025-07-31", "2025-08-01", "2025-08-07"}, slotDates(t, db))
}

func TestCleanupOldAvailabilityRollsBackWithEnclosingTransaction(t *testing.T) {
	db := newTestStore(t)
	seedCourts(t, db, "1")
	seedSlots(t, db, testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 1))
	cleaner := newTestCleaner(t, db)
	abort := errors.New("abort")

	err := db.Transaction(func(tx *gorm.DB) error {
		deleted, err := cleaner.WithTx(tx).CleanupOldAvailability(context.Background())
		require.NoError(t, err)
		assert.EqualValues(t, 1, deleted)
		return abort
	})
	require.ErrorIs(t, err, abort)
	assert.Len(t, slotDates(t, db), 2)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := cleaner.WithTx(tx).CleanupOldAvailability(context.Background())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-08-01"}, slotDates(t, db))
}

func TestCleanupProcessedFiles(t *testing.T) {
	db := newTestStore(t)
	cleaner := newTestCleaner(t, db)
	ctx := context.Background()

	id, err := cleaner.registry.Register(ctx, writeFile(t, t.TempDir(), "a.csv", "x"))
	require.NoError(t, err)
	require.NoError(t, db.Model(&FileRecord{}).Where("id = ?", id).
		Updates(map[string]any{"status": FileStatusProcessed, "load_timestamp": testNow.AddDate(0, 0, -3)}).Error)

	n, err := cleaner.CleanupProcessedFiles(ctx, DefaultFileRetentionDays, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = cleaner.CleanupProcessedFiles(ctx, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = cleaner.CleanupProcessedFiles(ctx, -1, false)
	require.Error(t, err)
}
