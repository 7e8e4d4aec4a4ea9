package data

import (
	"context"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/database"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/biz"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/models"
)

// SegmentRepo is the gorm-backed drive segment repository
type SegmentRepo struct {
	db *database.DB
}

// NewSegmentRepo creates a drive segment repository
func NewSegmentRepo(db *database.DB) biz.SegmentRepo {
	return &SegmentRepo{db: db}
}

// ListEligible returns segments awaiting scanning, oldest first
func (r *SegmentRepo) ListEligible(ctx context.Context) ([]*biz.DriveSegment, error) {
	var pos []*models.DriveSegment
	err := r.db.WithContext(ctx).
		Where("upload_complete = false AND is_stalled = false AND process_attempts < ?", biz.MaxProcessAttempts).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return segmentsToBiz(pos), nil
}

// ListByDrive returns a drive's segments ordered by segment index
func (r *SegmentRepo) ListByDrive(ctx context.Context, key biz.DriveKey) ([]*biz.DriveSegment, error) {
	var pos []*models.DriveSegment
	err := r.db.WithContext(ctx).
		Where("dongle_id = ? AND drive_identifier = ?", key.DongleID, key.Identifier).
		Order("segment_index ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return segmentsToBiz(pos), nil
}

// UpdateProcessAttempts persists the attempt counter
func (r *SegmentRepo) UpdateProcessAttempts(ctx context.Context, id string, attempts int) error {
	return r.updateByID(ctx, id, map[string]interface{}{
		"process_attempts": attempts,
	})
}

// MarkUploadComplete sets upload_complete and clears the stall flag
func (r *SegmentRepo) MarkUploadComplete(ctx context.Context, id string) error {
	return r.updateByID(ctx, id, map[string]interface{}{
		"upload_complete": true,
		"is_stalled":      false,
	})
}

// MarkStalled excludes a segment from scanning until externally reset
func (r *SegmentRepo) MarkStalled(ctx context.Context, id string) error {
	return r.updateByID(ctx, id, map[string]interface{}{
		"is_stalled": true,
	})
}

// SaveProcessResult persists processing output and marks the segment
// processed
func (r *SegmentRepo) SaveProcessResult(ctx context.Context, id string, res *biz.SegmentProcessResult) error {
	return r.updateByID(ctx, id, map[string]interface{}{
		"duration_seconds": res.DurationSeconds,
		"distance_meters":  res.DistanceMeters,
		"upload_complete":  res.UploadComplete,
		"is_processed":     true,
		"is_stalled":       false,
	})
}

func (r *SegmentRepo) updateByID(ctx context.Context, id string, values map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&models.DriveSegment{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return biz.ErrSegmentNotFound
	}
	return nil
}

func segmentToBiz(po *models.DriveSegment) *biz.DriveSegment {
	return &biz.DriveSegment{
		ID:              po.ID,
		DongleID:        po.DongleID,
		DriveIdentifier: po.DriveIdentifier,
		SegmentIndex:    po.SegmentIndex,
		DurationSeconds: po.DurationSeconds,
		DistanceMeters:  po.DistanceMeters,
		UploadComplete:  po.UploadComplete,
		IsProcessed:     po.IsProcessed,
		IsStalled:       po.IsStalled,
		ProcessAttempts: po.ProcessAttempts,
		Sensitive:       po.Sensitive,
		CreatedAt:       po.CreatedAt,
	}
}

func segmentsToBiz(pos []*models.DriveSegment) []*biz.DriveSegment {
	segments := make([]*biz.DriveSegment, 0, len(pos))
	for _, po := range pos {
		segments = append(segments, segmentToBiz(po))
	}
	return segments
}
