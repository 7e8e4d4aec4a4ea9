package biz

import (
	"context"
	"errors"
	"math"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/geo"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/rlog"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/storage"
	"go.uber.org/zap"
)

// minGpsSampleSeconds is the minimum boot-time gap between two accepted
// fixes of the same source. Fixes arriving faster than this are dropped
// so that jitter between near-simultaneous samples does not inflate the
// distance sum.
const minGpsSampleSeconds = 0.99

// SegmentDecoder streams telemetry records out of an on-disk log file.
type SegmentDecoder interface {
	Decode(ctx context.Context, path string, fn rlog.RecordFunc) error
}

// VideoProber reports the duration of a video file in seconds, 0 when
// the duration cannot be determined.
type VideoProber interface {
	Duration(ctx context.Context, path string) float64
}

// ProcessUseCase turns queued scan items into persisted per-segment
// results: clock duration from the preview video, GPS distance from the
// full log, and drive metadata captured on first sight.
type ProcessUseCase struct {
	segments SegmentRepo
	decoder  SegmentDecoder
	prober   VideoProber
	pool     *workerpool.Pool
	logger   *logger.Logger
}

// NewProcessUseCase creates a segment processor
func NewProcessUseCase(segments SegmentRepo, decoder SegmentDecoder, prober VideoProber, pool *workerpool.Pool, log *logger.Logger) *ProcessUseCase {
	return &ProcessUseCase{
		segments: segments,
		decoder:  decoder,
		prober:   prober,
		pool:     pool,
		logger:   log,
	}
}

// persistFailure marks repository write errors. A store that rejects
// writes makes the rest of the batch pointless, so these abort the
// queue instead of moving on to the next segment.
type persistFailure struct {
	err error
}

func (e *persistFailure) Error() string { return "persist segment state: " + e.err.Error() }
func (e *persistFailure) Unwrap() error { return e.err }

// ProcessQueue works through the cycle queue one segment at a time. A
// failed segment does not abort the batch; its attempt counter keeps it
// from being retried forever. Repository write failures are the
// exception: they abandon the remaining queue, and aggregation later
// picks up whatever was committed before the failure.
func (uc *ProcessUseCase) ProcessQueue(ctx context.Context, cycle *Cycle) error {
	for _, item := range cycle.Queue {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := uc.processItem(ctx, cycle, item); err != nil {
			uc.logger.Error("segment processing failed",
				zap.String("dongle_id", item.Segment.DongleID),
				zap.String("drive_identifier", item.Segment.DriveIdentifier),
				zap.Int("segment_index", item.Segment.SegmentIndex),
				zap.Error(err))
			var pf *persistFailure
			if errors.As(err, &pf) {
				return err
			}
		}
	}
	return nil
}

func (uc *ProcessUseCase) processItem(ctx context.Context, cycle *Cycle, item *ScanItem) error {
	segment := item.Segment
	ctx = logger.WithDongleID(ctx, segment.DongleID)
	ctx = logger.WithDriveIdentifier(ctx, segment.DriveIdentifier)

	// Count the attempt up front so a crash mid-processing still moves
	// the segment toward its retry ceiling.
	attempts := segment.ProcessAttempts + 1
	if err := uc.segments.UpdateProcessAttempts(ctx, segment.ID, attempts); err != nil {
		return &persistFailure{err: err}
	}
	if attempts > MaxProcessAttempts {
		// The scanner filters on the ceiling, but a row can cross it
		// between listing and processing. The burned attempt stands and
		// the segment stays unprocessed.
		uc.logger.Warn("segment exhausted its processing attempts",
			zap.String("dongle_id", segment.DongleID),
			zap.String("drive_identifier", segment.DriveIdentifier),
			zap.Int("segment_index", segment.SegmentIndex),
			zap.Int("attempts", attempts))
		return nil
	}

	logPath := item.Files[storage.FileFullLog]
	previewPath := item.Files[storage.FilePreview]

	// Probe and decode touch independent files, so they run on the pool
	// side by side.
	durationCh := uc.pool.SubmitWithResult(func() (interface{}, error) {
		return uc.prober.Duration(ctx, previewPath), nil
	})

	acc := newGpsAccumulator()
	meta := newMetadataCollector()

	decodeErr := uc.decoder.Decode(ctx, logPath, func(record *rlog.Record) error {
		acc.observe(record)
		meta.observe(record)
		return nil
	})

	durationResult := <-durationCh
	if durationResult.Error != nil {
		return durationResult.Error
	}
	duration := durationResult.Data.(float64)

	if decodeErr != nil {
		var corrupt *rlog.CorruptSegmentError
		if errors.As(decodeErr, &corrupt) {
			// Leave the row untouched apart from the attempt count; the
			// device may still replace the file with a good upload.
			uc.logger.Warn("skipping corrupt segment log",
				zap.String("dongle_id", segment.DongleID),
				zap.String("drive_identifier", segment.DriveIdentifier),
				zap.Int("segment_index", segment.SegmentIndex),
				zap.Error(corrupt))
			return nil
		}
		return decodeErr
	}

	result := &SegmentProcessResult{
		DurationSeconds: int64(math.Round(duration)),
		DistanceMeters:  int64(math.Round(acc.distance())),
		UploadComplete:  item.UploadComplete,
	}
	if err := uc.segments.SaveProcessResult(ctx, segment.ID, result); err != nil {
		return &persistFailure{err: err}
	}
	cycle.Processed++

	key := segment.DriveKey()
	cycle.MarkDriveAffected(key)
	if meta.initData != nil {
		cycle.RecordInitData(key, meta.initData)
	}
	if meta.carParams != nil {
		cycle.RecordCarParams(key, meta.carParams)
	}

	uc.logger.Info("segment processed",
		zap.String("dongle_id", segment.DongleID),
		zap.String("drive_identifier", segment.DriveIdentifier),
		zap.Int("segment_index", segment.SegmentIndex),
		zap.Int64("duration_seconds", result.DurationSeconds),
		zap.Int64("distance_meters", result.DistanceMeters))
	return nil
}

// gpsAccumulator sums plausible step distances independently for the
// primary and external GPS sources. The reported distance is the larger
// of the two sums, never their total, since both sources describe the
// same physical track.
type gpsAccumulator struct {
	primary  gpsTrack
	external gpsTrack
}

type gpsTrack struct {
	meters       float64
	lastFix      *rlog.GpsFix
	lastMonoTime uint64
}

func newGpsAccumulator() *gpsAccumulator {
	return &gpsAccumulator{}
}

func (a *gpsAccumulator) observe(record *rlog.Record) {
	// The primary source takes precedence; an external fix riding the
	// same record is shadowed, not summed alongside.
	if record.GpsLocation != nil {
		a.primary.observe(record.GpsLocation, record.LogMonoTime)
		return
	}
	if record.GpsLocationExternal != nil {
		a.external.observe(record.GpsLocationExternal, record.LogMonoTime)
	}
}

func (t *gpsTrack) observe(fix *rlog.GpsFix, monoTime uint64) {
	if t.lastFix != nil {
		elapsed := float64(monoTime-t.lastMonoTime) / 1e9
		if elapsed < minGpsSampleSeconds {
			return
		}
		t.meters += geo.Distance(
			t.lastFix.Latitude, t.lastFix.Longitude,
			fix.Latitude, fix.Longitude,
			true)
	}
	t.lastFix = fix
	t.lastMonoTime = monoTime
}

func (a *gpsAccumulator) distance() float64 {
	if a.primary.meters >= a.external.meters {
		return a.primary.meters
	}
	return a.external.meters
}

// metadataCollector keeps the first initData and carParams records seen
// in the stream.
type metadataCollector struct {
	initData  *rlog.InitData
	carParams *rlog.CarParams
}

func newMetadataCollector() *metadataCollector {
	return &metadataCollector{}
}

func (c *metadataCollector) observe(record *rlog.Record) {
	if c.initData == nil && record.InitData != nil {
		c.initData = record.InitData
	}
	if c.carParams == nil && record.CarParams != nil {
		c.carParams = record.CarParams
	}
}
