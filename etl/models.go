package etl

import "time"

type FileStatus string

const (
	FileStatusPending   FileStatus = "pending"
	FileStatusProcessed FileStatus = "processed"
	FileStatusFailed    FileStatus = "failed"
)

// FileRecord is the provenance ledger entry for one registered input file.
// Re-registering a path always creates a new record.
type FileRecord struct {
	ID            uint       `gorm:"primaryKey"`
	Filename      string     `gorm:"size:255;not null"`
	Filepath      string     `gorm:"size:1024;not null"`
	ContentHash   string     `gorm:"size:64;not null;index"`
	Status        FileStatus `gorm:"size:16;not null;index"`
	LoadTimestamp time.Time  `gorm:"not null;index"`
	LastError     string     `gorm:"type:text"`
}

func (FileRecord) TableName() string { return "file_records" }

// Court is the warehouse row for one park. ParkID is the source's court_id column.
type Court struct {
	ParkID      string  `gorm:"primaryKey;size:64"`
	Name        string  `gorm:"size:255;not null"`
	ParkDetails *string `gorm:"type:text"`
	Address     *string `gorm:"size:512"`
	Phone       *string `gorm:"size:64"`
	Email       *string `gorm:"size:255"`
	Hours       *string `gorm:"type:text"`
	Website     *string `gorm:"size:1024"`
	NumCourts   *int
	Lat         float64
	Lon         float64
	CourtType   string    `gorm:"size:16;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time

	// Slots only declares the slot foreign key; merges never load or save it.
	Slots []AvailabilitySlot `gorm:"foreignKey:ParkID;references:ParkID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (Court) TableName() string { return "courts" }

// AvailabilitySlot is unique on (park_id, court_id, slot_date, slot_time) and must
// reference an existing Court.
type AvailabilitySlot struct {
	ID              uint      `gorm:"primaryKey"`
	ParkID          string    `gorm:"size:64;not null;uniqueIndex:uix_availability_identity,priority:1"`
	CourtID         string    `gorm:"size:64;not null;uniqueIndex:uix_availability_identity,priority:2"`
	SlotDate        string    `gorm:"size:10;not null;uniqueIndex:uix_availability_identity,priority:3;index"`
	SlotTime        string    `gorm:"size:16;not null;uniqueIndex:uix_availability_identity,priority:4"`
	Status          string    `gorm:"size:255"`
	ReservationLink *string   `gorm:"size:1024"`
	IsAvailable     bool      `gorm:"not null;index"`
	LastUpdated     time.Time `gorm:"not null"`
}

func (AvailabilitySlot) TableName() string { return "availability_slots" }

// StagingCourt holds one generation of court rows, tagged with the file that produced it.
type StagingCourt struct {
	ID          uint    `gorm:"primaryKey"`
	ParkID      string  `gorm:"size:64;not null;uniqueIndex"`
	Name        string  `gorm:"size:255;not null"`
	ParkDetails *string `gorm:"type:text"`
	Address     *string `gorm:"size:512"`
	Phone       *string `gorm:"size:64"`
	Email       *string `gorm:"size:255"`
	Hours       *string `gorm:"type:text"`
	Website     *string `gorm:"size:1024"`
	NumCourts   *int
	Lat         float64
	Lon         float64
	CourtType   string      `gorm:"size:16;not null"`
	FileID      *uint       `gorm:"index"`
	File        *FileRecord `gorm:"foreignKey:FileID;constraint:OnDelete:SET NULL"`
	LoadedAt    time.Time   `gorm:"not null"`
}

func (StagingCourt) TableName() string { return "staging_courts" }

// StagingAvailability holds one generation of availability rows. The identity index
// rejects duplicate slots within a batch.
type StagingAvailability struct {
	ID              uint        `gorm:"primaryKey"`
	ParkID          string      `gorm:"size:64;not null;uniqueIndex:uix_staging_availability_identity,priority:1"`
	CourtID         string      `gorm:"size:64;not null;uniqueIndex:uix_staging_availability_identity,priority:2"`
	SlotDate        string      `gorm:"size:10;not null;uniqueIndex:uix_staging_availability_identity,priority:3"`
	SlotTime        string      `gorm:"size:16;not null;uniqueIndex:uix_staging_availability_identity,priority:4"`
	Status          string      `gorm:"size:255"`
	ReservationLink *string     `gorm:"size:1024"`
	IsAvailable     bool        `gorm:"not null"`
	FileID          *uint       `gorm:"index"`
	File            *FileRecord `gorm:"foreignKey:FileID;constraint:OnDelete:SET NULL"`
	LoadedAt        time.Time   `gorm:"not null"`
}

func (StagingAvailability) TableName() string { return "staging_availability" }

func allModels() []any {
	return []any{
		&FileRecord{},
		&Court{},
		&AvailabilitySlot{},
		&StagingCourt{},
		&StagingAvailability{},
	}
}
