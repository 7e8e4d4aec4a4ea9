package biz

import (
	"context"
	"errors"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/storage"
	"go.uber.org/zap"
)

// DeviceStorageUseCase refreshes per-device storage accounting from the
// actual on-disk tree. The figure feeds quota enforcement, so it is always
// a full recount rather than an incremental delta.
type DeviceStorageUseCase struct {
	devices DeviceRepo
	layout  *storage.Layout
	logger  *logger.Logger
}

// NewDeviceStorageUseCase creates a device storage updater
func NewDeviceStorageUseCase(devices DeviceRepo, layout *storage.Layout, log *logger.Logger) *DeviceStorageUseCase {
	return &DeviceStorageUseCase{
		devices: devices,
		layout:  layout,
		logger:  log,
	}
}

// UpdateDevices recounts disk usage for every device the cycle touched.
// Recounted devices leave the affected set; failed ones stay marked.
func (uc *DeviceStorageUseCase) UpdateDevices(ctx context.Context, cycle *Cycle) error {
	for _, dongleID := range cycle.AffectedDevices() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := uc.Refresh(ctx, dongleID); err != nil {
			uc.logger.Error("device storage update failed",
				zap.String("dongle_id", dongleID),
				zap.Error(err))
			continue
		}
		cycle.ClearDeviceAffected(dongleID)
	}
	return nil
}

// Refresh recounts one device's tree and persists the result in megabytes.
func (uc *DeviceStorageUseCase) Refresh(ctx context.Context, dongleID string) error {
	if _, err := uc.devices.GetByDongleID(ctx, dongleID); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			uc.logger.Warn("skipping storage refresh for unknown device",
				zap.String("dongle_id", dongleID))
			return nil
		}
		return err
	}

	sizeKB, err := storage.DirSizeKB(uc.layout.DevicePath(dongleID))
	if err != nil {
		return err
	}
	usedMB := (sizeKB + 1023) / 1024

	if err := uc.devices.UpdateStorageUsed(ctx, dongleID, usedMB); err != nil {
		return err
	}

	uc.logger.Info("device storage refreshed",
		zap.String("dongle_id", dongleID),
		zap.Int64("used_mb", usedMB))
	return nil
}
