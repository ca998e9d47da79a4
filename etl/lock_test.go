package etl

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRunLockAcquireAndRelease(t *testing.T) {
	db := newTestStore(t)
	locker, err := NewRunLocker(db, quietLogger())
	require.NoError(t, err)
	require.IsType(t, &tableRunLock{}, locker)

	ran := false
	err = locker.WithLock(context.Background(), func() error {
		ran = true
		assert.EqualValues(t, 1, countRows(t, db, &runLockRecord{}))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.EqualValues(t, 0, countRows(t, db, &runLockRecord{}))

	err = locker.WithLock(context.Background(), func() error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)
	assert.EqualValues(t, 0, countRows(t, db, &runLockRecord{}))
}

func TestTableRunLockHeldElsewhere(t *testing.T) {
	db := newTestStore(t)
	outer, err := NewRunLocker(db, quietLogger())
	require.NoError(t, err)
	inner := &tableRunLock{db: db, logger: quietLogger(), maxRetries: 2, retryInterval: time.Millisecond, staleAfter: time.Hour}

	err = outer.WithLock(context.Background(), func() error {
		return inner.WithLock(context.Background(), func() error {
			t.Fatal("second holder must not run")
			return nil
		})
	})
	require.ErrorIs(t, err, ErrRunLocked)
}

func TestTableRunLockReclaimsStaleRow(t *testing.T) {
	db := newTestStore(t)
	_, err := NewRunLocker(db, quietLogger())
	require.NoError(t, err)
	require.NoError(t, db.Create(&runLockRecord{
		ID:       runLockName,
		LockedAt: time.Now().UTC().Add(-2 * time.Hour),
		LockedBy: "crashed/1",
	}).Error)

	l := &tableRunLock{db: db, logger: quietLogger(), maxRetries: 1, retryInterval: time.Millisecond, staleAfter: time.Hour}
	ran := false
	require.NoError(t, l.WithLock(context.Background(), func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestTableRunLockHonoursCancellation(t *testing.T) {
	db := newTestStore(t)
	require.NoError(t, db.AutoMigrate(&runLockRecord{}))
	require.NoError(t, db.Create(&runLockRecord{ID: runLockName, LockedAt: time.Now().UTC()}).Error)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &tableRunLock{db: db, logger: quietLogger(), maxRetries: 5, retryInterval: time.Hour, staleAfter: time.Hour}
	err := l.WithLock(ctx, func() error { return nil })
	require.Error(t, err)
}

func TestTableRunLockLogsFailedRelease(t *testing.T) {
	db := newTestStore(t)
	var logs bytes.Buffer
	locker, err := NewRunLocker(db, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)

	err = locker.WithLock(context.Background(), func() error {
		return db.Migrator().DropTable(&runLockRecord{})
	})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "release run lock failed")
}

func TestNoopRunLock(t *testing.T) {
	locker, err := NewRunLocker(nil, nil)
	require.NoError(t, err)
	called := false
	require.NoError(t, locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
