package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PipelineConfig struct {
	CourtsFile       string
	AvailabilityGlob string
	// Failed files are moved here when set.
	CourtsErrorDir       string
	AvailabilityErrorDir string
	TestDataMarker       string
	Logger               *slog.Logger
	// Now defaults to time.Now. It also drives the past-date rule.
	Now func() time.Time
}

// RunReport is the outcome of one file's trip through the pipeline.
type RunReport struct {
	RunID         string
	Kind          Kind
	Path          string
	FileID        uint
	Rows          int
	Merge         MergeStats
	Status        FileStatus
	QuarantinedTo string
	StartedAt     time.Time
	Duration      time.Duration
}

// Pipeline wires the components over one store handle.
type Pipeline struct {
	db         *gorm.DB
	cfg        PipelineConfig
	logger     *slog.Logger
	now        func() time.Time
	registry   *Registry
	stager     *Stager
	reconciler *Reconciler
	cleaner    *Cleaner
}

func NewPipeline(db *gorm.DB, cfg PipelineConfig) (*Pipeline, error) {
	if db == nil {
		return nil, errors.New("pipeline needs a store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	registry := NewRegistry(db, logger)
	registry.now = now
	validator := NewValidator(WithClock(now), WithTestDataMarker(cfg.TestDataMarker))
	stager := NewStager(db, registry, validator, logger)
	stager.now = now
	reconciler := NewReconciler(db, logger)
	reconciler.now = now
	cleaner := NewCleaner(db, registry, logger)
	cleaner.now = now

	return &Pipeline{
		db:         db,
		cfg:        cfg,
		logger:     logger,
		now:        now,
		registry:   registry,
		stager:     stager,
		reconciler: reconciler,
		cleaner:    cleaner,
	}, nil
}

func (p *Pipeline) Registry() *Registry     { return p.registry }
func (p *Pipeline) Stager() *Stager         { return p.stager }
func (p *Pipeline) Reconciler() *Reconciler { return p.reconciler }
func (p *Pipeline) Cleaner() *Cleaner       { return p.cleaner }

// RunCourtsETL loads the configured courts file.
func (p *Pipeline) RunCourtsETL(ctx context.Context) (RunReport, error) {
	path := p.cfg.CourtsFile
	if strings.TrimSpace(path) == "" {
		return RunReport{Kind: KindCourts}, errors.New("courts file is not configured")
	}
	return p.runFile(ctx, KindCourts, path)
}

// RunAvailabilityETL loads path, or the newest file matching the availability glob
// when path is empty.
func (p *Pipeline) RunAvailabilityETL(ctx context.Context, path string) (RunReport, error) {
	if strings.TrimSpace(path) == "" {
		latest, err := LatestFile(p.cfg.AvailabilityGlob)
		if err != nil {
			return RunReport{Kind: KindAvailability}, err
		}
		path = latest
	}
	return p.runFile(ctx, KindAvailability, path)
}

// RunETL runs the kinds named by selector in order and stops at the first failure.
func (p *Pipeline) RunETL(ctx context.Context, selector string) ([]RunReport, error) {
	kinds, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	reports := make([]RunReport, 0, len(kinds))
	for _, kind := range kinds {
		var (
			rep    RunReport
			runErr error
		)
		switch kind {
		case KindCourts:
			rep, runErr = p.RunCourtsETL(ctx)
		case KindAvailability:
			rep, runErr = p.RunAvailabilityETL(ctx, "")
		}
		reports = append(reports, rep)
		if runErr != nil {
			return reports, fmt.Errorf("%s etl: %w", kind, runErr)
		}
	}
	return reports, nil
}

// CleanupOldAvailability and CleanupProcessedFiles are the retention entry points.
func (p *Pipeline) CleanupOldAvailability(ctx context.Context) (int64, error) {
	return p.cleaner.CleanupOldAvailability(ctx)
}

func (p *Pipeline) CleanupProcessedFiles(ctx context.Context, daysThreshold int, includeFailed bool) (int, error) {
	return p.cleaner.CleanupProcessedFiles(ctx, daysThreshold, includeFailed)
}

// runFile registers path, then validates, replaces staging and merges in one
// transaction. Any failure after registration leaves staging and the warehouse as they
// were and marks the file failed.
func (p *Pipeline) runFile(ctx context.Context, kind Kind, path string) (RunReport, error) {
	rep := RunReport{RunID: uuid.NewString(), Kind: kind, Path: path, StartedAt: p.now()}
	log := p.logger.With("runId", rep.RunID, "kind", kind.String(), "path", path)

	id, err := p.registry.Register(ctx, path)
	if err != nil {
		log.Error("register failed", "error", err)
		return rep, err
	}
	rep.FileID = id
	rep.Status = FileStatusPending

	frame, err := ReadFrameFile(path)
	if err != nil {
		return rep, p.fail(ctx, log, &rep, err)
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := p.stager.Stage(ctx, tx, kind, frame, id)
		if err != nil {
			return err
		}
		rep.Rows = batch.Len()
		stats, err := p.reconciler.WithTx(tx).Merge(ctx, kind)
		rep.Merge = stats
		return err
	})
	if err != nil {
		return rep, p.fail(ctx, log, &rep, err)
	}

	// The merge has committed; a cancelled ctx must not leave the record pending.
	if err := p.registry.UpdateStatus(context.WithoutCancel(ctx), id, FileStatusProcessed); err != nil {
		log.Error("mark processed failed", "fileId", id, "error", err)
		return rep, err
	}
	rep.Status = FileStatusProcessed
	rep.Duration = p.now().Sub(rep.StartedAt)
	log.Info("file processed",
		"fileId", id,
		"rows", rep.Rows,
		"inserted", rep.Merge.Inserted,
		"updated", rep.Merge.Updated,
		"unchanged", rep.Merge.Unchanged,
		"duration", rep.Duration.String())
	return rep, nil
}

// fail records cause on the file and quarantines it. cause is always returned as is.
func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, rep *RunReport, cause error) error {
	ctx = context.WithoutCancel(ctx)
	rep.Status = FileStatusFailed
	rep.Duration = p.now().Sub(rep.StartedAt)

	log.Error("file failed",
		"fileId", rep.FileID,
		"validation", errors.Is(cause, ErrValidation),
		"integrity", IsIntegrityError(p.db, cause),
		"error", cause)
	if err := p.registry.MarkFailed(ctx, rep.FileID, cause); err != nil {
		log.Error("record failure failed", "fileId", rep.FileID, "error", err)
	}

	dir := p.cfg.AvailabilityErrorDir
	if rep.Kind == KindCourts {
		dir = p.cfg.CourtsErrorDir
	}
	if strings.TrimSpace(dir) == "" {
		return cause
	}
	dst, err := MoveToDir(rep.Path, dir, p.now())
	if err != nil {
		log.Warn("quarantine failed", "dir", dir, "error", err)
		return cause
	}
	rep.QuarantinedTo = dst
	if err := p.registry.Relocate(ctx, rep.FileID, dst); err != nil {
		log.Error("relocate file record failed", "fileId", rep.FileID, "error", err)
	}
	log.Info("file quarantined", "to", dst)
	return cause
}
