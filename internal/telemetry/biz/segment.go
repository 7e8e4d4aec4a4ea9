package biz

import (
	"context"
	"time"
)

const (
	// MaxProcessAttempts caps automatic processing retries per segment.
	// Beyond it the segment is skipped until manual intervention or a
	// fresh upload resets it.
	MaxProcessAttempts = 5

	// StallGracePeriod is how long an incomplete segment may linger before
	// it is excluded from scanning. A new upload URL request from the
	// device resets the flag.
	StallGracePeriod = 10 * 24 * time.Hour

	// DefaultBatchSize bounds how many segments are enqueued for
	// processing per cycle. Decompression and probing are expensive.
	DefaultBatchSize = 15
)

// DriveSegment is one time-bounded chunk of a drive's recording.
type DriveSegment struct {
	ID              string
	DongleID        string
	DriveIdentifier string
	SegmentIndex    int

	DurationSeconds int64
	DistanceMeters  int64

	UploadComplete  bool
	IsProcessed     bool
	IsStalled       bool
	ProcessAttempts int
	Sensitive       bool

	CreatedAt time.Time
}

// DriveKey returns the key of the owning drive.
func (s *DriveSegment) DriveKey() DriveKey {
	return DriveKey{DongleID: s.DongleID, Identifier: s.DriveIdentifier}
}

// SegmentProcessResult is the outcome persisted after processing a segment.
type SegmentProcessResult struct {
	DurationSeconds int64
	DistanceMeters  int64
	// UploadComplete carries the classification made during the scan; a
	// processed segment can still be missing its front camera file.
	UploadComplete bool
}

// SegmentRepo is the drive segment persistence interface
type SegmentRepo interface {
	// ListEligible returns segments awaiting scanning: upload incomplete,
	// not stalled, attempts below the retry ceiling, oldest first
	ListEligible(ctx context.Context) ([]*DriveSegment, error)

	// ListByDrive returns a drive's segments ordered by segment index
	ListByDrive(ctx context.Context, key DriveKey) ([]*DriveSegment, error)

	// UpdateProcessAttempts persists the attempt counter before any work
	// happens, so a crash mid-processing still counts
	UpdateProcessAttempts(ctx context.Context, id string, attempts int) error

	// MarkUploadComplete sets upload_complete and clears the stall flag
	MarkUploadComplete(ctx context.Context, id string) error

	// MarkStalled excludes a segment from scanning until externally reset
	MarkStalled(ctx context.Context, id string) error

	// SaveProcessResult persists processing output and marks the segment
	// processed
	SaveProcessResult(ctx context.Context, id string, res *SegmentProcessResult) error
}
