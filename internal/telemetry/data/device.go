package data

import (
	"context"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/database"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/biz"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/models"
)

// DeviceRepo is the gorm-backed device repository
type DeviceRepo struct {
	db *database.DB
}

// NewDeviceRepo creates a device repository
func NewDeviceRepo(db *database.DB) biz.DeviceRepo {
	return &DeviceRepo{db: db}
}

// List returns all registered devices
func (r *DeviceRepo) List(ctx context.Context) ([]*biz.Device, error) {
	var pos []*models.Device
	if err := r.db.WithContext(ctx).Order("dongle_id ASC").Find(&pos).Error; err != nil {
		return nil, err
	}
	devices := make([]*biz.Device, 0, len(pos))
	for _, po := range pos {
		devices = append(devices, deviceToBiz(po))
	}
	return devices, nil
}

// GetByDongleID returns the device with the given dongle identifier
func (r *DeviceRepo) GetByDongleID(ctx context.Context, dongleID string) (*biz.Device, error) {
	var po models.Device
	err := r.db.WithContext(ctx).Where("dongle_id = ?", dongleID).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrDeviceNotFound
		}
		return nil, err
	}
	return deviceToBiz(&po), nil
}

// ListOverQuota returns devices whose recorded storage exceeds quotaMB
func (r *DeviceRepo) ListOverQuota(ctx context.Context, quotaMB int64) ([]*biz.Device, error) {
	var pos []*models.Device
	err := r.db.WithContext(ctx).
		Where("storage_used_mb > ?", quotaMB).
		Order("storage_used_mb DESC").
		Find(&pos).Error
	if err != nil {
		return nil, err
	}
	devices := make([]*biz.Device, 0, len(pos))
	for _, po := range pos {
		devices = append(devices, deviceToBiz(po))
	}
	return devices, nil
}

// UpdateStorageUsed persists a recomputed storage figure
func (r *DeviceRepo) UpdateStorageUsed(ctx context.Context, dongleID string, usedMB int64) error {
	result := r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("dongle_id = ?", dongleID).
		Update("storage_used_mb", usedMB)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return biz.ErrDeviceNotFound
	}
	return nil
}

func deviceToBiz(po *models.Device) *biz.Device {
	return &biz.Device{
		ID:            po.ID,
		DongleID:      po.DongleID,
		AccountID:     po.AccountID,
		PublicKey:     po.PublicKey,
		StorageUsedMB: po.StorageUsedMB,
		LastPingAt:    po.LastPingAt,
		CreatedAt:     po.CreatedAt,
	}
}
