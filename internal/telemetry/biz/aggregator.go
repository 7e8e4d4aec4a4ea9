package biz

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/storage"
	"go.uber.org/zap"
)

// AggregateUseCase recomputes drive-level state from segment rows: totals,
// completion flags, metadata, disk usage, and the streaming playlist.
type AggregateUseCase struct {
	drives   DriveRepo
	segments SegmentRepo
	layout   *storage.Layout
	logger   *logger.Logger
}

// NewAggregateUseCase creates a drive aggregator
func NewAggregateUseCase(drives DriveRepo, segments SegmentRepo, layout *storage.Layout, log *logger.Logger) *AggregateUseCase {
	return &AggregateUseCase{
		drives:   drives,
		segments: segments,
		layout:   layout,
		logger:   log,
	}
}

// UpdateDrives re-aggregates every drive the cycle touched. A failure on
// one drive is logged and the rest continue; the segment rows stay
// authoritative so the next touch repairs the aggregate.
func (uc *AggregateUseCase) UpdateDrives(ctx context.Context, cycle *Cycle) error {
	for _, key := range cycle.AffectedDrives() {
		if err := ctx.Err(); err != nil {
			return err
		}
		aggregated, err := uc.updateDrive(ctx, cycle, key)
		if err != nil {
			uc.logger.Error("drive aggregation failed",
				zap.String("dongle_id", key.DongleID),
				zap.String("drive_identifier", key.Identifier),
				zap.Error(err))
			continue
		}
		if aggregated {
			cycle.MarkDeviceAffected(key.DongleID)
		}
	}
	return nil
}

// updateDrive recomputes one drive's aggregate row. It reports whether
// aggregates were persisted; skipped drives trigger no device recount.
func (uc *AggregateUseCase) updateDrive(ctx context.Context, cycle *Cycle, key DriveKey) (bool, error) {
	drive, err := uc.drives.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrDriveNotFound) {
			// Segment rows can outlive their drive row briefly during
			// registration; picked up again once the drive exists.
			uc.logger.Warn("skipping segments without a drive row",
				zap.String("dongle_id", key.DongleID),
				zap.String("drive_identifier", key.Identifier))
			return false, nil
		}
		return false, err
	}
	if drive.IsDeleted {
		return false, nil
	}

	segments, err := uc.segments.ListByDrive(ctx, key)
	if err != nil {
		return false, err
	}
	if len(segments) == 0 {
		return false, nil
	}

	upd := &DriveUpdate{
		UploadComplete: true,
		IsProcessed:    true,
		Metadata:       drive.Metadata,
	}
	for _, segment := range segments {
		if segment.SegmentIndex > upd.MaxSegment {
			upd.MaxSegment = segment.SegmentIndex
		}
		// Unprocessed segments have no trusted figures yet and count as
		// zero until their processing pass lands.
		if segment.IsProcessed {
			upd.DurationSeconds += segment.DurationSeconds
			upd.DistanceMeters += segment.DistanceMeters
		}
		if !segment.UploadComplete {
			upd.UploadComplete = false
		}
		if !segment.IsProcessed {
			upd.IsProcessed = false
		}
	}

	upd.Metadata.MergeInitData(cycle.InitData(key))
	upd.Metadata.MergeCarParams(cycle.CarParams(key))

	if upd.IsProcessed {
		if err := uc.writePlaylist(key, segments); err != nil {
			// Size and totals are still worth persisting; the playlist
			// is rebuilt on the next touch.
			uc.logger.Warn("failed to write drive playlist",
				zap.String("dongle_id", key.DongleID),
				zap.String("drive_identifier", key.Identifier),
				zap.Error(err))
		}
	}

	// The tree stops growing once the upload is complete, so that is the
	// one moment the size figure is worth recomputing. A failed walk
	// keeps the previous figure rather than losing the whole aggregate.
	upd.FilesizeKB = drive.FilesizeKB
	if upd.UploadComplete {
		drivePath := uc.layout.DrivePath(key.DongleID, key.Identifier)
		if sizeKB, err := storage.DirSizeKB(drivePath); err != nil {
			uc.logger.Warn("failed to size drive tree",
				zap.String("dongle_id", key.DongleID),
				zap.String("drive_identifier", key.Identifier),
				zap.Error(err))
		} else {
			upd.FilesizeKB = sizeKB
		}
	}

	wasComplete := drive.UploadComplete && drive.IsProcessed
	if err := uc.drives.UpdateAggregates(ctx, key, upd); err != nil {
		return false, err
	}

	uc.logger.Info("drive aggregates updated",
		zap.String("dongle_id", key.DongleID),
		zap.String("drive_identifier", key.Identifier),
		zap.Int("max_segment", upd.MaxSegment),
		zap.Int64("duration_seconds", upd.DurationSeconds),
		zap.Int64("distance_meters", upd.DistanceMeters),
		zap.Int64("filesize_kb", upd.FilesizeKB),
		zap.Bool("upload_complete", upd.UploadComplete),
		zap.Bool("is_processed", upd.IsProcessed))

	if upd.UploadComplete && upd.IsProcessed && !wasComplete {
		uc.logger.Info("drive fully ingested",
			zap.String("dongle_id", key.DongleID),
			zap.String("drive_identifier", key.Identifier),
			zap.String("url", uc.layout.DriveURL(key.DongleID, key.Identifier)))
	}
	return true, nil
}

// writePlaylist rebuilds the drive's HLS playlist from its processed
// segments, one entry per preview video in segment order.
func (uc *AggregateUseCase) writePlaylist(key DriveKey, segments []*DriveSegment) error {
	var entries []*DriveSegment
	targetDuration := int64(0)
	for _, segment := range segments {
		if !segment.IsProcessed || segment.DurationSeconds <= 0 {
			continue
		}
		entries = append(entries, segment)
		if segment.DurationSeconds > targetDuration {
			targetDuration = segment.DurationSeconds
		}
	}
	if len(entries) == 0 {
		return nil
	}

	driveURL := uc.layout.DriveURL(key.DongleID, key.Identifier)

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	// Target duration must cover the longest entry even after rounding.
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration+1)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	for _, segment := range entries {
		fmt.Fprintf(&b, "#EXTINF:%d,%d\n", segment.DurationSeconds, segment.SegmentIndex)
		fmt.Fprintf(&b, "%s/%d/%s\n", driveURL, segment.SegmentIndex, storage.FilePreview)
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	drivePath := uc.layout.DrivePath(key.DongleID, key.Identifier)
	if err := os.MkdirAll(drivePath, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(drivePath, storage.FilePlaylist), []byte(b.String()), 0o644)
}
