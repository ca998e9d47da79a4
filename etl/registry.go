package etl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"
)

const hashChunkSize = 4096

// Registry is the only writer of FileRecord rows.
type Registry struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(db *gorm.DB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger, now: time.Now}
}

// Register hashes path and records it as pending. Byte-identical content already on
// record is logged but registered again.
func (r *Registry) Register(ctx context.Context, path string) (uint, error) {
	sum, err := fileSHA256(path)
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", path, err)
	}

	var prior FileRecord
	err = r.db.WithContext(ctx).Where("content_hash = ?", sum).Order("id DESC").Limit(1).Find(&prior).Error
	if err != nil {
		return 0, err
	}
	if prior.ID != 0 {
		r.logger.Info("content already registered",
			"path", path,
			"hash", sum,
			"priorId", prior.ID,
			"priorStatus", prior.Status)
	}

	rec := FileRecord{
		Filename:      filepath.Base(path),
		Filepath:      path,
		ContentHash:   sum,
		Status:        FileStatusPending,
		LoadTimestamp: r.now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, err
	}
	r.logger.Debug("file registered", "id", rec.ID, "path", path, "hash", sum)
	return rec.ID, nil
}

// UpdateStatus is idempotent; an id that no longer exists is not an error.
func (r *Registry) UpdateStatus(ctx context.Context, id uint, status FileStatus) error {
	updates := map[string]any{"status": status}
	if status != FileStatusFailed {
		updates["last_error"] = ""
	}
	return r.db.WithContext(ctx).Model(&FileRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkFailed sets status failed and keeps cause as the record's last error.
func (r *Registry) MarkFailed(ctx context.Context, id uint, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.db.WithContext(ctx).Model(&FileRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": FileStatusFailed, "last_error": msg}).Error
}

func (r *Registry) Get(ctx context.Context, id uint) (*FileRecord, error) {
	var rec FileRecord
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Relocate points the record at the file's new location after it has been moved.
func (r *Registry) Relocate(ctx context.Context, id uint, newPath string) error {
	return r.db.WithContext(ctx).Model(&FileRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"filepath": newPath, "filename": filepath.Base(newPath)}).Error
}

// Cleanup deletes processed records (and failed ones when includeFailed) whose load
// timestamp is older than olderThan, removing their files first. Pending records are
// never selected. File removal errors are logged and do not stop the row deletes,
// which commit together.
func (r *Registry) Cleanup(ctx context.Context, olderThan time.Duration, includeFailed bool) (int, error) {
	cutoff := r.now().UTC().Add(-olderThan)
	statuses := []FileStatus{FileStatusProcessed}
	if includeFailed {
		statuses = append(statuses, FileStatusFailed)
	}

	var deleted int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recs []FileRecord
		if err := tx.Where("status IN ? AND load_timestamp < ?", statuses, cutoff).
			Order("id").
			Find(&recs).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(recs))
		for _, rec := range recs {
			r.removeBackingFile(rec)
			ids = append(ids, rec.ID)
		}
		res := tx.Where("id IN ?", ids).Delete(&FileRecord{})
		if res.Error != nil {
			return res.Error
		}
		deleted = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.logger.Info("file registry cleanup completed",
			"deleted", deleted,
			"includeFailed", includeFailed,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

func (r *Registry) removeBackingFile(rec FileRecord) {
	if rec.Filepath == "" {
		return
	}
	err := os.Remove(rec.Filepath)
	if err == nil {
		r.logger.Debug("deleted registered file", "id", rec.ID, "path", rec.Filepath)
		return
	}
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	r.logger.Warn("delete registered file failed", "id", rec.ID, "path", rec.Filepath, "error", err)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
