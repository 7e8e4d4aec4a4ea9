package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/database"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/biz"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/models"
	"gorm.io/gorm"
)

// DriveRepo is the gorm-backed drive repository
type DriveRepo struct {
	db *database.DB
}

// NewDriveRepo creates a drive repository
func NewDriveRepo(db *database.DB) biz.DriveRepo {
	return &DriveRepo{db: db}
}

// Get returns the drive for key
func (r *DriveRepo) Get(ctx context.Context, key biz.DriveKey) (*biz.Drive, error) {
	var po models.Drive
	err := r.db.WithContext(ctx).
		Where("dongle_id = ? AND identifier = ?", key.DongleID, key.Identifier).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrDriveNotFound
		}
		return nil, err
	}
	return driveToBiz(&po)
}

// UpdateAggregates persists recomputed totals and metadata
func (r *DriveRepo) UpdateAggregates(ctx context.Context, key biz.DriveKey, upd *biz.DriveUpdate) error {
	metadata, err := json.Marshal(upd.Metadata)
	if err != nil {
		return fmt.Errorf("marshal drive metadata: %w", err)
	}
	result := r.db.WithContext(ctx).
		Model(&models.Drive{}).
		Where("dongle_id = ? AND identifier = ?", key.DongleID, key.Identifier).
		Updates(map[string]interface{}{
			"max_segment":      upd.MaxSegment,
			"duration_seconds": upd.DurationSeconds,
			"distance_meters":  upd.DistanceMeters,
			"filesize_kb":      upd.FilesizeKB,
			"upload_complete":  upd.UploadComplete,
			"is_processed":     upd.IsProcessed,
			"metadata":         models.DriveMetadataJSON(metadata),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return biz.ErrDriveNotFound
	}
	return nil
}

// ListExpired returns non-preserved, non-deleted drives created before cutoff
func (r *DriveRepo) ListExpired(ctx context.Context, cutoff time.Time) ([]*biz.Drive, error) {
	var pos []*models.Drive
	err := r.db.WithContext(ctx).
		Where("created_at < ? AND is_preserved = false AND is_deleted = false", cutoff).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return drivesToBiz(pos)
}

// OldestActive returns the oldest non-deleted drive with the given
// preservation flag
func (r *DriveRepo) OldestActive(ctx context.Context, dongleID string, preserved bool) (*biz.Drive, error) {
	var po models.Drive
	err := r.db.WithContext(ctx).
		Where("dongle_id = ? AND is_preserved = ? AND is_deleted = false", dongleID, preserved).
		Order("created_at ASC").
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrDriveNotFound
		}
		return nil, err
	}
	return driveToBiz(&po)
}

// SoftDelete flags a drive as deleted
func (r *DriveRepo) SoftDelete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Drive{}).
		Where("id = ?", id).
		Update("is_deleted", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return biz.ErrDriveNotFound
	}
	return nil
}

// ListSoftDeleted returns deleted drives not yet physically removed
func (r *DriveRepo) ListSoftDeleted(ctx context.Context) ([]*biz.Drive, error) {
	var pos []*models.Drive
	err := r.db.WithContext(ctx).
		Where("is_deleted = true AND is_physically_removed = false").
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	return drivesToBiz(pos)
}

// MarkPhysicallyRemoved marks the drive row and deletes its segment rows
// in one transaction, so a crash never leaves segment rows pointing at a
// removed tree.
func (r *DriveRepo) MarkPhysicallyRemoved(ctx context.Context, drive *biz.Drive) error {
	return r.db.Transaction(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.Drive{}).
			Where("id = ?", drive.ID).
			Update("is_physically_removed", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return biz.ErrDriveNotFound
		}
		return tx.
			Where("dongle_id = ? AND drive_identifier = ?", drive.DongleID, drive.Identifier).
			Delete(&models.DriveSegment{}).Error
	})
}

func driveToBiz(po *models.Drive) (*biz.Drive, error) {
	drive := &biz.Drive{
		ID:                  po.ID,
		DongleID:            po.DongleID,
		Identifier:          po.Identifier,
		MaxSegment:          po.MaxSegment,
		DurationSeconds:     po.DurationSeconds,
		DistanceMeters:      po.DistanceMeters,
		FilesizeKB:          po.FilesizeKB,
		UploadComplete:      po.UploadComplete,
		IsProcessed:         po.IsProcessed,
		IsPreserved:         po.IsPreserved,
		IsDeleted:           po.IsDeleted,
		IsPhysicallyRemoved: po.IsPhysicallyRemoved,
		CreatedAt:           po.CreatedAt,
	}
	if len(po.Metadata) > 0 {
		if err := json.Unmarshal(po.Metadata, &drive.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal drive metadata: %w", err)
		}
	}
	return drive, nil
}

func drivesToBiz(pos []*models.Drive) ([]*biz.Drive, error) {
	drives := make([]*biz.Drive, 0, len(pos))
	for _, po := range pos {
		drive, err := driveToBiz(po)
		if err != nil {
			return nil, err
		}
		drives = append(drives, drive)
	}
	return drives, nil
}
