package biz

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/rlog"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDrive(id, dongleID, identifier string, createdAt time.Time) *Drive {
	return &Drive{
		ID:         id,
		DongleID:   dongleID,
		Identifier: identifier,
		CreatedAt:  createdAt,
	}
}

func TestAggregateSumsProcessedSegments(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()
	key := DriveKey{DongleID: "d1", Identifier: "2024-05-01--10-00-00"}

	drive := testDrive("dr1", key.DongleID, key.Identifier, now)
	drives := newFakeDriveRepo(drive)

	s0 := testSegment("s0", key.DongleID, key.Identifier, 0, now)
	s0.IsProcessed = true
	s0.UploadComplete = true
	s0.DurationSeconds = 60
	s0.DistanceMeters = 800
	s2 := testSegment("s2", key.DongleID, key.Identifier, 2, now)
	// Stale figures on an unprocessed row must not leak into the totals.
	s2.DurationSeconds = 120
	s2.DistanceMeters = 500
	segments := &fakeSegmentRepo{segments: []*DriveSegment{s0, s2}}

	writeSegmentFiles(t, layout, s0, storage.FilePreview)

	uc := NewAggregateUseCase(drives, segments, layout, testLogger(t))
	cycle := NewCycle(now)
	cycle.MarkDriveAffected(key)
	require.NoError(t, uc.UpdateDrives(context.Background(), cycle))

	upd := drives.updates[key]
	require.NotNil(t, upd)
	assert.Equal(t, 2, upd.MaxSegment)
	assert.Equal(t, int64(60), upd.DurationSeconds)
	assert.Equal(t, int64(800), upd.DistanceMeters)
	// Segment 2 is still incomplete, so the drive is neither complete nor
	// fully processed, and the size figure stays at its prior value.
	assert.False(t, upd.UploadComplete)
	assert.False(t, upd.IsProcessed)
	assert.Zero(t, upd.FilesizeKB)
	assert.Equal(t, []string{"d1"}, cycle.AffectedDevices())
}

func TestAggregateCompleteDrive(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()
	key := DriveKey{DongleID: "d1", Identifier: "2024-05-01--10-00-00"}

	drive := testDrive("dr1", key.DongleID, key.Identifier, now)
	drives := newFakeDriveRepo(drive)

	var segs []*DriveSegment
	for i := 0; i < 2; i++ {
		s := testSegment(string(rune('a'+i)), key.DongleID, key.Identifier, i, now)
		s.IsProcessed = true
		s.UploadComplete = true
		s.DurationSeconds = 60
		segs = append(segs, s)
	}
	segments := &fakeSegmentRepo{segments: segs}
	writeSegmentFiles(t, layout, segs[0], storage.FilePreview)

	uc := NewAggregateUseCase(drives, segments, layout, testLogger(t))
	cycle := NewCycle(now)
	cycle.MarkDriveAffected(key)
	require.NoError(t, uc.UpdateDrives(context.Background(), cycle))

	upd := drives.updates[key]
	require.NotNil(t, upd)
	assert.True(t, upd.UploadComplete)
	assert.True(t, upd.IsProcessed)
	// The tree is final once the upload completes, so the size is
	// recomputed here.
	assert.Positive(t, upd.FilesizeKB)
}

func TestAggregateMetadataFirstWriterWins(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()
	key := DriveKey{DongleID: "d1", Identifier: "2024-05-01--10-00-00"}

	drive := testDrive("dr1", key.DongleID, key.Identifier, now)
	drive.Metadata.InitData = &InitDataMeta{Version: "0.9.3"}
	drives := newFakeDriveRepo(drive)

	s0 := testSegment("s0", key.DongleID, key.Identifier, 0, now)
	s0.IsProcessed = true
	segments := &fakeSegmentRepo{segments: []*DriveSegment{s0}}

	uc := NewAggregateUseCase(drives, segments, layout, testLogger(t))
	cycle := NewCycle(now)
	cycle.MarkDriveAffected(key)
	cycle.RecordInitData(key, &rlog.InitData{Version: "0.9.4"})
	cycle.RecordCarParams(key, &rlog.CarParams{CarName: "honda civic"})
	require.NoError(t, uc.UpdateDrives(context.Background(), cycle))

	upd := drives.updates[key]
	require.NotNil(t, upd)
	// The stored version survives; the missing car params slot fills in.
	assert.Equal(t, "0.9.3", upd.Metadata.InitData.Version)
	require.NotNil(t, upd.Metadata.CarParams)
	assert.Equal(t, "honda civic", upd.Metadata.CarParams.Name)
}

func TestAggregateWritesPlaylist(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()
	key := DriveKey{DongleID: "d1", Identifier: "2024-05-01--10-00-00"}

	drive := testDrive("dr1", key.DongleID, key.Identifier, now)
	drives := newFakeDriveRepo(drive)

	var segs []*DriveSegment
	durations := []int64{60, 42}
	for i, d := range durations {
		s := testSegment(string(rune('a'+i)), key.DongleID, key.Identifier, i, now)
		s.IsProcessed = true
		s.DurationSeconds = d
		segs = append(segs, s)
	}
	// A processed segment with no playable duration stays out of the playlist.
	empty := testSegment("c", key.DongleID, key.Identifier, 2, now)
	empty.IsProcessed = true
	segs = append(segs, empty)
	segments := &fakeSegmentRepo{segments: segs}

	uc := NewAggregateUseCase(drives, segments, layout, testLogger(t))
	cycle := NewCycle(now)
	cycle.MarkDriveAffected(key)
	require.NoError(t, uc.UpdateDrives(context.Background(), cycle))

	playlist, err := os.ReadFile(filepath.Join(layout.DrivePath(key.DongleID, key.Identifier), storage.FilePlaylist))
	require.NoError(t, err)
	content := string(playlist)
	driveURL := layout.DriveURL(key.DongleID, key.Identifier)

	assert.True(t, strings.HasPrefix(content, "#EXTM3U\n"))
	assert.Contains(t, content, "#EXT-X-TARGETDURATION:61\n")
	assert.Equal(t, 2, strings.Count(content, "#EXTINF:"))
	assert.Contains(t, content, "#EXTINF:60,0\n"+driveURL+"/0/qcamera.ts\n")
	assert.Contains(t, content, "#EXTINF:42,1\n"+driveURL+"/1/qcamera.ts\n")
	assert.True(t, strings.HasSuffix(content, "#EXT-X-ENDLIST\n"))
}

func TestAggregateSkipsPlaylistForPartialDrive(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()
	key := DriveKey{DongleID: "d1", Identifier: "2024-05-01--10-00-00"}

	drive := testDrive("dr1", key.DongleID, key.Identifier, now)
	drives := newFakeDriveRepo(drive)

	done := testSegment("a", key.DongleID, key.Identifier, 0, now)
	done.IsProcessed = true
	done.DurationSeconds = 60
	pending := testSegment("b", key.DongleID, key.Identifier, 1, now)
	segments := &fakeSegmentRepo{segments: []*DriveSegment{done, pending}}

	uc := NewAggregateUseCase(drives, segments, layout, testLogger(t))
	cycle := NewCycle(now)
	cycle.MarkDriveAffected(key)
	require.NoError(t, uc.UpdateDrives(context.Background(), cycle))

	assert.NoFileExists(t, filepath.Join(layout.DrivePath(key.DongleID, key.Identifier), storage.FilePlaylist))
}

func TestAggregateSkipsMissingDriveRow(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()
	drives := newFakeDriveRepo()
	segments := &fakeSegmentRepo{}

	uc := NewAggregateUseCase(drives, segments, layout, testLogger(t))
	cycle := NewCycle(now)
	cycle.MarkDriveAffected(DriveKey{DongleID: "d1", Identifier: "2024-05-01--10-00-00"})

	require.NoError(t, uc.UpdateDrives(context.Background(), cycle))
	assert.Empty(t, drives.updates)
	assert.Empty(t, cycle.AffectedDevices())
}

func TestAggregateSkipsDeletedDrive(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()
	key := DriveKey{DongleID: "d1", Identifier: "2024-05-01--10-00-00"}

	drive := testDrive("dr1", key.DongleID, key.Identifier, now)
	drive.IsDeleted = true
	drives := newFakeDriveRepo(drive)
	segments := &fakeSegmentRepo{}

	uc := NewAggregateUseCase(drives, segments, layout, testLogger(t))
	cycle := NewCycle(now)
	cycle.MarkDriveAffected(key)

	require.NoError(t, uc.UpdateDrives(context.Background(), cycle))
	assert.Empty(t, drives.updates)
}
