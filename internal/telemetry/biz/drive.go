package biz

import (
	"context"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/rlog"
)

// DriveKey identifies a drive across store and filesystem.
type DriveKey struct {
	DongleID   string
	Identifier string
}

// Drive is one recorded trip, aggregated from its ordered segments.
type Drive struct {
	ID         string
	DongleID   string
	Identifier string

	MaxSegment      int
	DurationSeconds int64
	DistanceMeters  int64
	FilesizeKB      int64

	UploadComplete      bool
	IsProcessed         bool
	IsPreserved         bool
	IsDeleted           bool
	IsPhysicallyRemoved bool

	Metadata  DriveMetadata
	CreatedAt time.Time
}

// Key returns the drive's identity key.
func (d *Drive) Key() DriveKey {
	return DriveKey{DongleID: d.DongleID, Identifier: d.Identifier}
}

// InitDataMeta is the software identification recorded on a drive.
type InitDataMeta struct {
	Version   string `json:"version,omitempty"`
	GitRemote string `json:"gitRemote,omitempty"`
	GitBranch string `json:"gitBranch,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// CarParamsMeta is the vehicle identification recorded on a drive.
type CarParamsMeta struct {
	Name        string `json:"name,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// DriveMetadata is the typed in-memory form of the drive metadata blob. It
// is serialized to JSON at the storage boundary.
type DriveMetadata struct {
	InitData  *InitDataMeta  `json:"initData,omitempty"`
	CarParams *CarParamsMeta `json:"carParams,omitempty"`
}

// MergeInitData records software identification if none is present yet.
// First writer wins; later segments never overwrite it.
func (m *DriveMetadata) MergeInitData(in *rlog.InitData) {
	if in == nil || m.InitData != nil {
		return
	}
	m.InitData = &InitDataMeta{
		Version:   in.Version,
		GitRemote: in.GitRemote,
		GitBranch: in.GitBranch,
		GitCommit: in.GitCommit,
	}
}

// MergeCarParams records vehicle identification if none is present yet.
func (m *DriveMetadata) MergeCarParams(in *rlog.CarParams) {
	if in == nil || m.CarParams != nil {
		return
	}
	m.CarParams = &CarParamsMeta{
		Name:        in.CarName,
		Fingerprint: in.CarFingerprint,
	}
}

// DriveUpdate is the aggregate state recomputed for a drive each cycle.
type DriveUpdate struct {
	MaxSegment      int
	DurationSeconds int64
	DistanceMeters  int64
	FilesizeKB      int64
	UploadComplete  bool
	IsProcessed     bool
	Metadata        DriveMetadata
}

// DriveRepo is the drive persistence interface
type DriveRepo interface {
	// Get returns the drive for key, or ErrDriveNotFound
	Get(ctx context.Context, key DriveKey) (*Drive, error)

	// UpdateAggregates persists recomputed totals and metadata
	UpdateAggregates(ctx context.Context, key DriveKey, upd *DriveUpdate) error

	// ListExpired returns non-preserved, non-deleted drives created before
	// cutoff
	ListExpired(ctx context.Context, cutoff time.Time) ([]*Drive, error)

	// OldestActive returns the oldest non-deleted drive of a device with
	// the given preservation flag, or ErrDriveNotFound
	OldestActive(ctx context.Context, dongleID string, preserved bool) (*Drive, error)

	// SoftDelete flags a drive as deleted
	SoftDelete(ctx context.Context, id string) error

	// ListSoftDeleted returns deleted drives not yet physically removed
	ListSoftDeleted(ctx context.Context) ([]*Drive, error)

	// MarkPhysicallyRemoved marks the drive row and deletes its segment
	// rows atomically
	MarkPhysicallyRemoved(ctx context.Context, drive *Drive) error
}
