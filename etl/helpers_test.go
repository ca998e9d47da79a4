package etl

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testNow is the pinned "now" for date rules: 2025-07-31, the day before the
// availability fixtures.
var testNow = time.Date(2025, time.July, 31, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// steppingClock starts at start and advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenStore(DatabaseConfig{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "etl.db")}, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseStore(db) })
	return db
}

func newTestPipeline(t *testing.T, db *gorm.DB, cfg PipelineConfig) *Pipeline {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.Now == nil {
		cfg.Now = fixedClock
	}
	p, err := NewPipeline(db, cfg)
	require.NoError(t, err)
	return p
}

func writeFile(t *testing.T, dir string, name string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return p
}

func frameOf(t *testing.T, lines ...string) *Frame {
	t.Helper()
	f, err := ReadFrame(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	return f
}

const (
	courtsHeader       = "court_id,park_name,lat,lon,court_type,address,num_courts"
	availabilityHeader = "court_id,date,time,court,status,reservation_link"
)

func seedCourts(t *testing.T, db *gorm.DB, parkIDs ...string) {
	t.Helper()
	for _, id := range parkIDs {
		require.NoError(t, db.Create(&Court{
			ParkID:    id,
			Name:      "Park " + id,
			Lat:       40.7,
			Lon:       -73.9,
			CourtType: "Hard",
		}).Error)
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func strPtr(s string) *string { return &s }
