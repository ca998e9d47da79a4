package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MergeStats counts what one merge call did with the staged rows.
type MergeStats struct {
	Kind      Kind
	Staged    int
	Inserted  int
	Updated   int
	Unchanged int
}

// Reconciler upserts staging rows into the warehouse. It is the only writer of Court
// and AvailabilitySlot rows and relies on the store for uniqueness and foreign keys.
type Reconciler struct {
	db        *gorm.DB
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func NewReconciler(db *gorm.DB, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{db: db, logger: logger, batchSize: defaultInsertBatchSize, now: time.Now}
}

// WithTx returns a Reconciler whose merges run as savepoints of tx.
func (r *Reconciler) WithTx(tx *gorm.DB) *Reconciler {
	cp := *r
	cp.db = tx
	return &cp
}

func (r *Reconciler) Merge(ctx context.Context, kind Kind) (MergeStats, error) {
	switch kind {
	case KindCourts:
		return r.MergeCourts(ctx)
	case KindAvailability:
		return r.MergeAvailability(ctx)
	default:
		return MergeStats{Kind: kind}, fmt.Errorf("unsupported kind %s", kind)
	}
}

var courtUpdateColumns = []string{
	"name", "park_details", "address", "phone", "email", "hours", "website",
	"num_courts", "lat", "lon", "court_type", "updated_at",
}

// MergeCourts inserts unknown parks and overwrites every field of known parks whose
// staged content differs. Rows already equal to staging are left alone.
func (r *Reconciler) MergeCourts(ctx context.Context) (MergeStats, error) {
	stats := MergeStats{Kind: KindCourts}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var staged []StagingCourt
		if err := tx.Order("id").Find(&staged).Error; err != nil {
			return err
		}
		stats.Staged = len(staged)
		if len(staged) == 0 {
			return nil
		}

		existing := make(map[string]Court, len(staged))
		for start := 0; start < len(staged); start += r.batchSize {
			end := min(start+r.batchSize, len(staged))
			ids := make([]string, 0, end-start)
			for _, s := range staged[start:end] {
				ids = append(ids, s.ParkID)
			}
			var found []Court
			if err := tx.Where("park_id IN ?", ids).Find(&found).Error; err != nil {
				return err
			}
			for _, c := range found {
				existing[c.ParkID] = c
			}
		}

		now := r.now().UTC()
		upserts := make([]Court, 0, len(staged))
		for _, s := range staged {
			c := courtFromStaging(s)
			if cur, ok := existing[s.ParkID]; ok {
				if sameCourt(cur, c) {
					stats.Unchanged++
					continue
				}
				c.CreatedAt = cur.CreatedAt
				stats.Updated++
			} else {
				c.CreatedAt = now
				stats.Inserted++
			}
			c.UpdatedAt = now
			upserts = append(upserts, c)
		}
		if len(upserts) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "park_id"}},
			DoUpdates: clause.AssignmentColumns(courtUpdateColumns),
		}).CreateInBatches(upserts, r.batchSize).Error
	})
	if err != nil {
		r.logMergeError(KindCourts, err)
		return stats, err
	}
	r.logger.Info("courts merged",
		"staged", stats.Staged,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged)
	return stats, nil
}

var slotUpdateColumns = []string{"status", "reservation_link", "is_available", "last_updated"}

type slotKey struct {
	parkID, courtID, date, time string
}

// MergeAvailability upserts staged slots by (park_id, court_id, slot_date, slot_time).
// A slot whose park is not in courts fails the whole merge with the store's
// foreign-key error.
func (r *Reconciler) MergeAvailability(ctx context.Context) (MergeStats, error) {
	stats := MergeStats{Kind: KindAvailability}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var staged []StagingAvailability
		if err := tx.Order("id").Find(&staged).Error; err != nil {
			return err
		}
		stats.Staged = len(staged)
		if len(staged) == 0 {
			return nil
		}

		existing := make(map[slotKey]AvailabilitySlot, len(staged))
		for start := 0; start < len(staged); start += r.batchSize {
			end := min(start+r.batchSize, len(staged))
			parks := make(map[string]struct{})
			dates := make(map[string]struct{})
			for _, s := range staged[start:end] {
				parks[s.ParkID] = struct{}{}
				dates[s.SlotDate] = struct{}{}
			}
			var found []AvailabilitySlot
			if err := tx.Where("park_id IN ? AND slot_date IN ?", sortedKeys(parks), sortedKeys(dates)).
				Find(&found).Error; err != nil {
				return err
			}
			for _, a := range found {
				existing[slotKey{a.ParkID, a.CourtID, a.SlotDate, a.SlotTime}] = a
			}
		}

		now := r.now().UTC()
		upserts := make([]AvailabilitySlot, 0, len(staged))
		for _, s := range staged {
			slot := AvailabilitySlot{
				ParkID:          s.ParkID,
				CourtID:         s.CourtID,
				SlotDate:        s.SlotDate,
				SlotTime:        s.SlotTime,
				Status:          s.Status,
				ReservationLink: s.ReservationLink,
				IsAvailable:     s.IsAvailable,
				LastUpdated:     now,
			}
			if cur, ok := existing[slotKey{s.ParkID, s.CourtID, s.SlotDate, s.SlotTime}]; ok {
				if cur.Status == slot.Status &&
					cur.IsAvailable == slot.IsAvailable &&
					equalStringPtr(cur.ReservationLink, slot.ReservationLink) {
					stats.Unchanged++
					continue
				}
				stats.Updated++
			} else {
				stats.Inserted++
			}
			upserts = append(upserts, slot)
		}
		if len(upserts) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "park_id"}, {Name: "court_id"}, {Name: "slot_date"}, {Name: "slot_time"},
			},
			DoUpdates: clause.AssignmentColumns(slotUpdateColumns),
		}).CreateInBatches(upserts, r.batchSize).Error
	})
	if err != nil {
		r.logMergeError(KindAvailability, err)
		return stats, err
	}
	r.logger.Info("availability merged",
		"staged", stats.Staged,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged)
	return stats, nil
}

func (r *Reconciler) logMergeError(kind Kind, err error) {
	r.logger.Error("merge rolled back",
		"kind", kind.String(),
		"integrity", IsIntegrityError(r.db, err),
		"error", err)
}

func courtFromStaging(s StagingCourt) Court {
	return Court{
		ParkID:      s.ParkID,
		Name:        s.Name,
		ParkDetails: s.ParkDetails,
		Address:     s.Address,
		Phone:       s.Phone,
		Email:       s.Email,
		Hours:       s.Hours,
		Website:     s.Website,
		NumCourts:   s.NumCourts,
		Lat:         s.Lat,
		Lon:         s.Lon,
		CourtType:   s.CourtType,
	}
}

func sameCourt(a, b Court) bool {
	return a.Name == b.Name &&
		equalStringPtr(a.ParkDetails, b.ParkDetails) &&
		equalStringPtr(a.Address, b.Address) &&
		equalStringPtr(a.Phone, b.Phone) &&
		equalStringPtr(a.Email, b.Email) &&
		equalStringPtr(a.Hours, b.Hours) &&
		equalStringPtr(a.Website, b.Website) &&
		equalIntPtr(a.NumCourts, b.NumCourts) &&
		a.Lat == b.Lat &&
		a.Lon == b.Lon &&
		a.CourtType == b.CourtType
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
