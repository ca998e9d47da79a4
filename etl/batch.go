package etl

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind selects which rules and tables a batch goes through.
type Kind int

const (
	KindCourts Kind = iota + 1
	KindAvailability
)

func (k Kind) String() string {
	switch k {
	case KindCourts:
		return "courts"
	case KindAvailability:
		return "availability"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "courts":
		return KindCourts, nil
	case "availability":
		return KindAvailability, nil
	default:
		return 0, fmt.Errorf("%w %q: must be one of: courts, availability", ErrInvalidSelector, s)
	}
}

// ParseSelector expands a run selector (courts, availability, both) into the kinds to run,
// courts first so availability rows can reference freshly merged parks.
func ParseSelector(s string) ([]Kind, error) {
	if strings.ToLower(strings.TrimSpace(s)) == "both" {
		return []Kind{KindCourts, KindAvailability}, nil
	}
	k, err := ParseKind(s)
	if err != nil {
		return nil, fmt.Errorf("%w %q: must be one of: courts, availability, both", ErrInvalidSelector, s)
	}
	return []Kind{k}, nil
}

// AvailableStatus is the only source status that marks a slot as bookable.
const AvailableStatus = "Reserve this time"

const dateLayout = "2006-01-02"

// Batch is a parsed, typed snapshot. The concrete types are CourtBatch and
// AvailabilityBatch.
type Batch interface {
	Kind() Kind
	Len() int
}

type CourtRow struct {
	ParkID      string
	Name        string
	ParkDetails *string
	Address     *string
	Phone       *string
	Email       *string
	Hours       *string
	Website     *string
	NumCourts   *int
	Lat         float64
	Lon         float64
	CourtType   string
}

type AvailabilityRow struct {
	ParkID          string
	CourtID         string
	Date            string
	Time            string
	Status          string
	ReservationLink *string
	IsAvailable     bool
}

type CourtBatch []CourtRow

func (CourtBatch) Kind() Kind { return KindCourts }
func (b CourtBatch) Len() int { return len(b) }

type AvailabilityBatch []AvailabilityRow

func (AvailabilityBatch) Kind() Kind { return KindAvailability }
func (b AvailabilityBatch) Len() int { return len(b) }

var requiredColumns = map[Kind][]string{
	KindCourts:       {"court_id", "park_name", "lat", "lon", "court_type"},
	KindAvailability: {"court_id", "date", "time", "court", "status"},
}

func RequiredColumns(kind Kind) []string {
	return append([]string(nil), requiredColumns[kind]...)
}

// ParseCourts converts frame records into typed court rows. It assumes the required
// columns are present and fails on the first value that cannot be coerced.
func ParseCourts(f *Frame) (CourtBatch, error) {
	out := make(CourtBatch, 0, f.Len())
	for i, rec := range f.Records {
		line := i + 2
		get := func(name string) string { return f.Value(rec, name) }

		parkID := get("court_id")
		if parkID == "" {
			return nil, typeError(KindCourts, line, "court_id", "", "value is required")
		}
		lat, err := parseFloat(get("lat"))
		if err != nil {
			return nil, typeError(KindCourts, line, "lat", get("lat"), "not a number")
		}
		lon, err := parseFloat(get("lon"))
		if err != nil {
			return nil, typeError(KindCourts, line, "lon", get("lon"), "not a number")
		}
		var numCourts *int
		if raw := get("num_courts"); raw != "" {
			n, err := parseCount(raw)
			if err != nil {
				return nil, typeError(KindCourts, line, "num_courts", raw, "not a whole number")
			}
			numCourts = &n
		}

		out = append(out, CourtRow{
			ParkID:      parkID,
			Name:        get("park_name"),
			ParkDetails: optional(get("park_details")),
			Address:     optional(get("address")),
			Phone:       optional(get("phone")),
			Email:       optional(get("email")),
			Hours:       optional(get("hours")),
			Website:     optional(get("website")),
			NumCourts:   numCourts,
			Lat:         lat,
			Lon:         lon,
			CourtType:   get("court_type"),
		})
	}
	return out, nil
}

// ParseAvailability converts frame records into typed availability rows. The source
// court_id column is the park, the court column is the court within it.
func ParseAvailability(f *Frame) (AvailabilityBatch, error) {
	out := make(AvailabilityBatch, 0, f.Len())
	for i, rec := range f.Records {
		line := i + 2
		get := func(name string) string { return f.Value(rec, name) }

		parkID := get("court_id")
		if parkID == "" {
			return nil, typeError(KindAvailability, line, "court_id", "", "value is required")
		}
		courtID := get("court")
		if courtID == "" {
			return nil, typeError(KindAvailability, line, "court", "", "value is required")
		}
		rawDate := get("date")
		d, err := time.Parse(dateLayout, rawDate)
		if err != nil {
			return nil, typeError(KindAvailability, line, "date", rawDate, "expected YYYY-MM-DD")
		}
		status := get("status")

		out = append(out, AvailabilityRow{
			ParkID:          parkID,
			CourtID:         courtID,
			Date:            d.Format(dateLayout),
			Time:            get("time"),
			Status:          status,
			ReservationLink: optional(get("reservation_link")),
			IsAvailable:     status == AvailableStatus,
		})
	}
	return out, nil
}

func typeError(kind Kind, line int, column string, value string, why string) *ValidationError {
	return newValidationError(kind, "type",
		fmt.Sprintf("row %d: column %s: %s", line, column, why),
		[]string{strconv.Quote(value)})
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// parseCount accepts "4" and the "4.0" that spreadsheet exports produce.
func parseCount(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("not a whole number: %q", s)
	}
	return int(f), nil
}

func optional(s string) *string {
	if s == "" || strings.EqualFold(s, "nan") {
		return nil
	}
	return &s
}
