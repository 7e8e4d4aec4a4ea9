package biz

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/storage"
	"go.uber.org/zap"
)

// KeptLogFiles is how many boot and crash logs survive a cleanup pass,
// per device and per category, newest first.
const KeptLogFiles = 5

// CleanupConfig tunes retention and quota enforcement.
type CleanupConfig struct {
	// RetentionDays soft-deletes non-preserved drives older than this.
	// Zero disables expiry.
	RetentionDays int

	// DeviceQuotaMB triggers eviction of a device's oldest drive when its
	// recorded usage exceeds it. Zero disables quota enforcement.
	DeviceQuotaMB int64
}

// CleanupUseCase reclaims disk space: trims old boot and crash logs,
// expires drives past the retention window, evicts drives of devices over
// quota, and physically removes soft-deleted drives from disk.
type CleanupUseCase struct {
	devices DeviceRepo
	drives  DriveRepo
	layout  *storage.Layout
	cfg     CleanupConfig
	now     func() time.Time
	logger  *logger.Logger
}

// NewCleanupUseCase creates a cleanup runner
func NewCleanupUseCase(devices DeviceRepo, drives DriveRepo, layout *storage.Layout, cfg CleanupConfig, log *logger.Logger) *CleanupUseCase {
	return &CleanupUseCase{
		devices: devices,
		drives:  drives,
		layout:  layout,
		cfg:     cfg,
		now:     time.Now,
		logger:  log,
	}
}

// Run executes a full cleanup pass. Steps run in a fixed order and each
// one continues past per-item failures; the next pass retries them.
func (uc *CleanupUseCase) Run(ctx context.Context, cycle *Cycle) error {
	if err := uc.trimLogFiles(ctx, cycle); err != nil {
		return err
	}
	if err := uc.expireDrives(ctx, cycle); err != nil {
		return err
	}
	if err := uc.enforceQuota(ctx, cycle); err != nil {
		return err
	}
	return uc.removeDeletedDrives(ctx, cycle)
}

// trimLogFiles keeps only the newest boot and crash logs per device.
// Devices that lost files get their storage figure recounted this cycle.
func (uc *CleanupUseCase) trimLogFiles(ctx context.Context, cycle *Cycle) error {
	devices, err := uc.devices.List(ctx)
	if err != nil {
		return err
	}
	for _, device := range devices {
		if err := ctx.Err(); err != nil {
			return err
		}
		removed := uc.trimLogDir(device.DongleID, uc.layout.BootlogDir(device.DongleID))
		removed += uc.trimLogDir(device.DongleID, uc.layout.CrashlogDir(device.DongleID))
		if removed > 0 {
			cycle.MarkDeviceAffected(device.DongleID)
		}
	}
	return nil
}

func (uc *CleanupUseCase) trimLogDir(dongleID, dir string) int {
	files, err := storage.ListLogFiles(dir)
	if err != nil {
		uc.logger.Error("failed to list log files",
			zap.String("dongle_id", dongleID),
			zap.String("dir", dir),
			zap.Error(err))
		return 0
	}
	removed := 0
	for _, file := range files[min(KeptLogFiles, len(files)):] {
		if err := os.Remove(file.Path); err != nil {
			uc.logger.Error("failed to remove old log file",
				zap.String("dongle_id", dongleID),
				zap.String("path", file.Path),
				zap.Error(err))
			continue
		}
		removed++
		uc.logger.Info("removed old log file",
			zap.String("dongle_id", dongleID),
			zap.String("name", file.Name))
	}
	return removed
}

// expireDrives soft-deletes drives older than the retention window.
// Preserved drives are exempt.
func (uc *CleanupUseCase) expireDrives(ctx context.Context, cycle *Cycle) error {
	if uc.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := uc.now().AddDate(0, 0, -uc.cfg.RetentionDays)
	drives, err := uc.drives.ListExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, drive := range drives {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := uc.drives.SoftDelete(ctx, drive.ID); err != nil {
			uc.logger.Error("failed to expire drive",
				zap.String("dongle_id", drive.DongleID),
				zap.String("drive_identifier", drive.Identifier),
				zap.Error(err))
			continue
		}
		uc.logger.Info("drive expired",
			zap.String("dongle_id", drive.DongleID),
			zap.String("drive_identifier", drive.Identifier),
			zap.Time("created_at", drive.CreatedAt))
		cycle.MarkDeviceAffected(drive.DongleID)
	}
	return nil
}

// enforceQuota evicts one drive per over-quota device per pass. The
// oldest non-preserved drive goes first; a preserved drive is only taken
// when nothing else is left.
func (uc *CleanupUseCase) enforceQuota(ctx context.Context, cycle *Cycle) error {
	if uc.cfg.DeviceQuotaMB <= 0 {
		return nil
	}
	devices, err := uc.devices.ListOverQuota(ctx, uc.cfg.DeviceQuotaMB)
	if err != nil {
		return err
	}
	for _, device := range devices {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := uc.evictOldest(ctx, cycle, device); err != nil {
			uc.logger.Error("quota eviction failed",
				zap.String("dongle_id", device.DongleID),
				zap.Error(err))
		}
	}
	return nil
}

func (uc *CleanupUseCase) evictOldest(ctx context.Context, cycle *Cycle, device *Device) error {
	drive, err := uc.drives.OldestActive(ctx, device.DongleID, false)
	if errors.Is(err, ErrDriveNotFound) {
		drive, err = uc.drives.OldestActive(ctx, device.DongleID, true)
	}
	if err != nil {
		if errors.Is(err, ErrDriveNotFound) {
			// Over quota with no drives left means the space is held by
			// something else under the device tree, nothing to evict.
			return nil
		}
		return err
	}

	if err := uc.drives.SoftDelete(ctx, drive.ID); err != nil {
		return err
	}
	uc.logger.Info("drive evicted for quota",
		zap.String("dongle_id", device.DongleID),
		zap.String("drive_identifier", drive.Identifier),
		zap.Int64("storage_used_mb", device.StorageUsedMB),
		zap.Bool("was_preserved", drive.IsPreserved))
	cycle.MarkDeviceAffected(device.DongleID)
	return nil
}

// removeDeletedDrives clears soft-deleted drives from disk. The database
// mark and its segment row deletion commit first; a crash between the
// commit and the unlink leaves an orphaned tree that a later pass cannot
// see, so the tree removal must follow the mark, never precede it.
func (uc *CleanupUseCase) removeDeletedDrives(ctx context.Context, cycle *Cycle) error {
	drives, err := uc.drives.ListSoftDeleted(ctx)
	if err != nil {
		return err
	}
	for _, drive := range drives {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := uc.removeDrive(ctx, drive); err != nil {
			uc.logger.Error("physical drive removal failed",
				zap.String("dongle_id", drive.DongleID),
				zap.String("drive_identifier", drive.Identifier),
				zap.Error(err))
			continue
		}
		cycle.MarkDeviceAffected(drive.DongleID)
	}
	return nil
}

func (uc *CleanupUseCase) removeDrive(ctx context.Context, drive *Drive) error {
	if err := uc.drives.MarkPhysicallyRemoved(ctx, drive); err != nil {
		return err
	}
	// The hashed parent directory holds nothing but this drive, so the
	// whole level goes.
	parent := uc.layout.DriveParentPath(drive.DongleID, drive.Identifier)
	if err := storage.RemoveTree(uc.layout.Root, parent); err != nil {
		return err
	}
	uc.logger.Info("drive removed from disk",
		zap.String("dongle_id", drive.DongleID),
		zap.String("drive_identifier", drive.Identifier),
		zap.String("path", parent))
	return nil
}
