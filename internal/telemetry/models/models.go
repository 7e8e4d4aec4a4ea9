package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device is the GORM model for the devices table. Rows are created by the
// registration surface; the pipeline reads them and refreshes storage
// accounting.
type Device struct {
	ID            string     `gorm:"type:uuid;primaryKey"`
	DongleID      string     `gorm:"size:64;not null;uniqueIndex:idx_devices_dongle_id"`
	AccountID     *string    `gorm:"type:uuid;index"`
	PublicKey     string     `gorm:"type:text;not null"`
	StorageUsedMB int64      `gorm:"not null;default:0;index"`
	LastPingAt    *time.Time
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name
func (Device) TableName() string {
	return "devices"
}

// BeforeCreate generates the primary key when none is supplied
func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// Drive is the GORM model for the drives table.
type Drive struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	DongleID   string `gorm:"size:64;not null;uniqueIndex:idx_drives_dongle_identifier,priority:1"`
	Identifier string `gorm:"size:64;not null;uniqueIndex:idx_drives_dongle_identifier,priority:2"`

	MaxSegment      int   `gorm:"not null;default:0"`
	DurationSeconds int64 `gorm:"not null;default:0"`
	DistanceMeters  int64 `gorm:"not null;default:0"`
	FilesizeKB      int64 `gorm:"not null;default:0"`

	UploadComplete      bool `gorm:"not null;default:false"`
	IsProcessed         bool `gorm:"not null;default:false"`
	IsPreserved         bool `gorm:"not null;default:false;index"`
	IsDeleted           bool `gorm:"not null;default:false;index"`
	IsPhysicallyRemoved bool `gorm:"not null;default:false"`

	Metadata DriveMetadataJSON `gorm:"type:jsonb;not null;default:'{}'"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name
func (Drive) TableName() string {
	return "drives"
}

// BeforeCreate generates the primary key when none is supplied
func (d *Drive) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// DriveSegment is the GORM model for the drive_segments table.
type DriveSegment struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	DongleID        string `gorm:"size:64;not null;uniqueIndex:idx_segments_identity,priority:1"`
	DriveIdentifier string `gorm:"size:64;not null;uniqueIndex:idx_segments_identity,priority:2"`
	SegmentIndex    int    `gorm:"not null;uniqueIndex:idx_segments_identity,priority:3"`

	DurationSeconds int64 `gorm:"not null;default:0"`
	DistanceMeters  int64 `gorm:"not null;default:0"`

	UploadComplete  bool `gorm:"not null;default:false;index:idx_segments_pending"`
	IsProcessed     bool `gorm:"not null;default:false"`
	IsStalled       bool `gorm:"not null;default:false;index:idx_segments_pending"`
	ProcessAttempts int  `gorm:"not null;default:0"`
	Sensitive       bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name
func (DriveSegment) TableName() string {
	return "drive_segments"
}

// BeforeCreate generates the primary key when none is supplied
func (s *DriveSegment) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
