package etl

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DefaultTestDataMarker rejects fixture parks that leak into a production courts file.
const DefaultTestDataMarker = "Test Park"

var validCourtTypes = map[string]struct{}{
	"Hard": {},
	"Clay": {},
}

// slotTimeLayouts are tried after the marker has been normalized to AM/PM.
var slotTimeLayouts = []string{"3:04 PM", "3:04PM"}

// Validator applies the business rules to a parsed batch. It never touches the database.
type Validator struct {
	now            func() time.Time
	testDataMarker string
	fold           cases.Caser
}

type ValidatorOption func(*Validator)

// WithClock replaces time.Now for the past-date rule.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithTestDataMarker overrides DefaultTestDataMarker. An empty marker disables the rule.
func WithTestDataMarker(marker string) ValidatorOption {
	return func(v *Validator) {
		v.testDataMarker = marker
	}
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		now:            time.Now,
		testDataMarker: DefaultTestDataMarker,
		fold:           cases.Fold(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) today() string {
	return v.now().Format(dateLayout)
}

// ValidateColumns reports every required column of kind that header lacks.
func ValidateColumns(kind Kind, header []string) error {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[strings.TrimSpace(h)] = struct{}{}
	}
	var missing []string
	for _, col := range requiredColumns[kind] {
		if _, ok := have[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return newValidationError(kind, "columns", "missing required columns", missing)
	}
	return nil
}

// Validate dispatches on the concrete batch type.
func (v *Validator) Validate(b Batch) error {
	switch batch := b.(type) {
	case CourtBatch:
		return v.ValidateCourts(batch)
	case AvailabilityBatch:
		return v.ValidateAvailability(batch)
	default:
		return fmt.Errorf("unsupported batch type %T", b)
	}
}

func (v *Validator) ValidateCourts(rows []CourtRow) error {
	if marker := strings.TrimSpace(v.testDataMarker); marker != "" {
		needle := v.fold.String(marker)
		var names []string
		for _, r := range rows {
			if strings.Contains(v.fold.String(r.Name), needle) {
				names = append(names, r.Name)
			}
		}
		if len(names) > 0 {
			return newValidationError(KindCourts, "test_data", "test data detected in production load", names)
		}
	}

	var badCoords []string
	for _, r := range rows {
		if !validCoordinate(r.Lat, 90) || !validCoordinate(r.Lon, 180) {
			badCoords = append(badCoords, fmt.Sprintf("%s (lat=%s lon=%s)", r.ParkID, formatFloat(r.Lat), formatFloat(r.Lon)))
		}
	}
	if len(badCoords) > 0 {
		return newValidationError(KindCourts, "coordinates", "invalid coordinates found for courts", badCoords)
	}

	var badTypes []string
	seenType := make(map[string]struct{})
	for _, r := range rows {
		if _, ok := validCourtTypes[r.CourtType]; ok {
			continue
		}
		if _, dup := seenType[r.CourtType]; !dup {
			seenType[r.CourtType] = struct{}{}
			badTypes = append(badTypes, r.CourtType)
		}
	}
	if len(badTypes) > 0 {
		return newValidationError(KindCourts, "court_type", "invalid court types found", badTypes)
	}

	count := make(map[string]int, len(rows))
	var order []string
	for _, r := range rows {
		if count[r.ParkID] == 0 {
			order = append(order, r.ParkID)
		}
		count[r.ParkID]++
	}
	var dups []string
	for _, id := range order {
		if count[id] > 1 {
			dups = append(dups, id)
		}
	}
	if len(dups) > 0 {
		return newValidationError(KindCourts, "duplicate_id", "duplicate court ids found", dups)
	}
	return nil
}

func (v *Validator) ValidateAvailability(rows []AvailabilityRow) error {
	today := v.today()

	past := make(map[string]struct{})
	for _, r := range rows {
		// ISO dates compare correctly as strings.
		if r.Date < today {
			past[r.Date] = struct{}{}
		}
	}
	if len(past) > 0 {
		return newValidationError(KindAvailability, "past_date", "found availability records with past dates", sortedKeys(past))
	}

	var badTimes []string
	seen := make(map[string]struct{})
	for _, r := range rows {
		if _, err := ParseSlotTime(r.Time); err == nil {
			continue
		}
		if _, dup := seen[r.Time]; !dup {
			seen[r.Time] = struct{}{}
			badTimes = append(badTimes, r.Time)
		}
	}
	if len(badTimes) > 0 {
		return newValidationError(KindAvailability, "time_format", "invalid time format found", badTimes)
	}

	slots := make(map[slotKey]int, len(rows))
	var dups []string
	for _, r := range rows {
		k := slotKey{r.ParkID, r.CourtID, r.Date, r.Time}
		slots[k]++
		if slots[k] == 2 {
			dups = append(dups, fmt.Sprintf("%s/%s %s %s", r.ParkID, r.CourtID, r.Date, r.Time))
		}
	}
	if len(dups) > 0 {
		return newValidationError(KindAvailability, "duplicate_slot", "duplicate availability slots found", dups)
	}
	return nil
}

// ParseSlotTime accepts 12-hour clock strings such as "2:00 PM", "2:00 p.m." and
// "02:00pm". The stored slot time stays the raw string; this only checks it.
func ParseSlotTime(s string) (time.Time, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "A.M.", "AM")
	norm = strings.ReplaceAll(norm, "P.M.", "PM")

	hour, _, ok := strings.Cut(norm, ":")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid slot time %q", s)
	}
	if h, err := strconv.Atoi(hour); err != nil || h < 1 || h > 12 {
		return time.Time{}, fmt.Errorf("invalid slot time %q: hour out of range", s)
	}
	for _, layout := range slotTimeLayouts {
		if t, err := time.Parse(layout, norm); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid slot time %q", s)
}

func validCoordinate(v float64, limit float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= -limit && v <= limit
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
