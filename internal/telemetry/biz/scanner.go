package biz

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/storage"
	"go.uber.org/zap"
)

// ScanUseCase walks eligible segment rows against the on-disk upload tree
// and classifies each one: enqueue for processing, mark upload-complete,
// mark stalled, or skip when the directory has not appeared yet.
type ScanUseCase struct {
	segments  SegmentRepo
	layout    *storage.Layout
	batchSize int
	now       func() time.Time
	logger    *logger.Logger
}

// NewScanUseCase creates a segment scanner
func NewScanUseCase(segments SegmentRepo, layout *storage.Layout, batchSize int, log *logger.Logger) *ScanUseCase {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ScanUseCase{
		segments:  segments,
		layout:    layout,
		batchSize: batchSize,
		now:       time.Now,
		logger:    log,
	}
}

// Scan classifies eligible segments into the cycle state. Scanning stops
// once the processing queue is full; remaining segments roll over to the
// next cycle in creation order.
func (uc *ScanUseCase) Scan(ctx context.Context, cycle *Cycle) error {
	segments, err := uc.segments.ListEligible(ctx)
	if err != nil {
		return err
	}

	uc.logger.Debug("scanning eligible segments", zap.Int("count", len(segments)))

	for _, segment := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(cycle.Queue) >= uc.batchSize {
			break
		}

		cycle.Scanned++
		uc.scanSegment(ctx, cycle, segment)
	}

	return nil
}

func (uc *ScanUseCase) scanSegment(ctx context.Context, cycle *Cycle, segment *DriveSegment) {
	log := uc.logger.With(
		zap.String("dongle_id", segment.DongleID),
		zap.String("drive_identifier", segment.DriveIdentifier),
		zap.Int("segment_index", segment.SegmentIndex),
	)

	dir := uc.layout.SegmentPath(segment.DongleID, segment.DriveIdentifier, segment.SegmentIndex)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Row exists but the upload has not created the directory
			// yet. Retried next cycle.
			log.Debug("segment directory not present yet", zap.String("dir", dir))
			return
		}
		log.Error("failed to read segment directory", zap.String("dir", dir), zap.Error(err))
		return
	}

	files := make(map[string]string, len(storage.SegmentFiles))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, name := range storage.SegmentFiles {
			if entry.Name() == name {
				files[name] = filepath.Join(dir, name)
			}
		}
	}

	// The driver camera is not required for a complete upload.
	uploadComplete := hasAll(files,
		storage.FileFrontCamera,
		storage.FilePreview,
		storage.FileCompactLog,
		storage.FileFullLog,
	)

	switch {
	case files[storage.FileFullLog] != "" && files[storage.FilePreview] != "" && !segment.IsProcessed:
		log.Debug("segment enqueued for processing")
		cycle.Queue = append(cycle.Queue, &ScanItem{
			Segment:        segment,
			Files:          files,
			UploadComplete: uploadComplete,
		})

	case uploadComplete:
		log.Info("segment upload complete")
		if err := uc.segments.MarkUploadComplete(ctx, segment.ID); err != nil {
			log.Error("failed to mark segment upload complete", zap.Error(err))
			return
		}
		cycle.MarkDriveAffected(segment.DriveKey())

	case uc.now().Sub(segment.CreatedAt) > StallGracePeriod:
		// Ignore the segment until a new upload URL request resets the
		// flag.
		log.Warn("segment stalled, excluding from scans")
		if err := uc.segments.MarkStalled(ctx, segment.ID); err != nil {
			log.Error("failed to mark segment stalled", zap.Error(err))
		}
	}
}

func hasAll(files map[string]string, names ...string) bool {
	for _, name := range names {
		if files[name] == "" {
			return false
		}
	}
	return true
}
