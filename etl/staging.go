package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

const defaultInsertBatchSize = 500

// Stager is the only writer of the staging tables. Each kind's table holds exactly one
// generation: the rows of the last batch that loaded successfully.
type Stager struct {
	db        *gorm.DB
	registry  *Registry
	validator *Validator
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func NewStager(db *gorm.DB, registry *Registry, validator *Validator, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = NewValidator()
	}
	return &Stager{
		db:        db,
		registry:  registry,
		validator: validator,
		logger:    logger,
		batchSize: defaultInsertBatchSize,
		now:       time.Now,
	}
}

// Prepare checks the frame's columns, parses its rows, and applies the business rules.
func (s *Stager) Prepare(kind Kind, f *Frame) (Batch, error) {
	if err := ValidateColumns(kind, f.Header); err != nil {
		return nil, err
	}

	var (
		b   Batch
		err error
	)
	switch kind {
	case KindCourts:
		b, err = ParseCourts(f)
	case KindAvailability:
		b, err = ParseAvailability(f)
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Load reads path, validates it, and replaces the staging table for kind. On failure
// the file is marked failed and the error is returned unchanged. Success is not
// recorded here; the merge that follows decides that.
func (s *Stager) Load(ctx context.Context, kind Kind, path string, fileID uint) (Batch, error) {
	f, err := ReadFrameFile(path)
	if err != nil {
		s.markFailed(ctx, fileID, err)
		return nil, err
	}
	return s.LoadFrame(ctx, kind, f, fileID)
}

// LoadFrame is Load for an already parsed frame.
func (s *Stager) LoadFrame(ctx context.Context, kind Kind, f *Frame, fileID uint) (Batch, error) {
	b, err := s.Stage(ctx, nil, kind, f, fileID)
	if err != nil {
		s.markFailed(ctx, fileID, err)
		return nil, err
	}
	return b, nil
}

// Stage runs Prepare and then Replace on tx without touching the file record. The
// pipeline calls it inside its merge transaction and records the outcome itself.
func (s *Stager) Stage(ctx context.Context, tx *gorm.DB, kind Kind, f *Frame, fileID uint) (Batch, error) {
	b, err := s.Prepare(kind, f)
	if err != nil {
		return nil, err
	}
	if err := s.Replace(ctx, tx, b, fileID); err != nil {
		return nil, err
	}
	return b, nil
}

// Replace deletes the staging rows of b's kind and inserts b in their place. It runs in
// its own transaction, or as a savepoint when tx is already inside one.
func (s *Stager) Replace(ctx context.Context, tx *gorm.DB, b Batch, fileID uint) error {
	if tx == nil {
		tx = s.db
	}
	loadedAt := s.now().UTC()
	var fid *uint
	if fileID != 0 {
		fid = &fileID
	}

	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		switch batch := b.(type) {
		case CourtBatch:
			if err := all.Delete(&StagingCourt{}).Error; err != nil {
				return err
			}
			rows := make([]StagingCourt, 0, len(batch))
			for _, r := range batch {
				rows = append(rows, StagingCourt{
					ParkID:      r.ParkID,
					Name:        r.Name,
					ParkDetails: r.ParkDetails,
					Address:     r.Address,
					Phone:       r.Phone,
					Email:       r.Email,
					Hours:       r.Hours,
					Website:     r.Website,
					NumCourts:   r.NumCourts,
					Lat:         r.Lat,
					Lon:         r.Lon,
					CourtType:   r.CourtType,
					FileID:      fid,
					LoadedAt:    loadedAt,
				})
			}
			if len(rows) == 0 {
				return nil
			}
			return tx.Omit("File").CreateInBatches(rows, s.batchSize).Error
		case AvailabilityBatch:
			if err := all.Delete(&StagingAvailability{}).Error; err != nil {
				return err
			}
			rows := make([]StagingAvailability, 0, len(batch))
			for _, r := range batch {
				rows = append(rows, StagingAvailability{
					ParkID:          r.ParkID,
					CourtID:         r.CourtID,
					SlotDate:        r.Date,
					SlotTime:        r.Time,
					Status:          r.Status,
					ReservationLink: r.ReservationLink,
					IsAvailable:     r.IsAvailable,
					FileID:          fid,
					LoadedAt:        loadedAt,
				})
			}
			if len(rows) == 0 {
				return nil
			}
			return tx.Omit("File").CreateInBatches(rows, s.batchSize).Error
		default:
			return fmt.Errorf("unsupported batch type %T", b)
		}
	})
	if err != nil {
		return err
	}
	s.logger.Debug("staging replaced", "kind", b.Kind().String(), "rows", b.Len(), "fileId", fileID)
	return nil
}

func (s *Stager) markFailed(ctx context.Context, fileID uint, cause error) {
	if s.registry == nil || fileID == 0 {
		return
	}
	if err := s.registry.MarkFailed(context.WithoutCancel(ctx), fileID, cause); err != nil {
		s.logger.Error("mark file failed", "fileId", fileID, "error", err)
	}
}
