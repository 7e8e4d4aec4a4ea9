package biz

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "console"})
	require.NoError(t, err)
	return log
}

func newTestLayout(t *testing.T) *storage.Layout {
	t.Helper()
	return storage.NewLayout(t.TempDir(), "http://localhost/drives", "test-salt")
}

// writeSegmentFiles creates a segment directory containing the named files.
func writeSegmentFiles(t *testing.T, layout *storage.Layout, seg *DriveSegment, names ...string) {
	t.Helper()
	dir := layout.SegmentPath(seg.DongleID, seg.DriveIdentifier, seg.SegmentIndex)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
}

func testSegment(id, dongleID, identifier string, index int, createdAt time.Time) *DriveSegment {
	return &DriveSegment{
		ID:              id,
		DongleID:        dongleID,
		DriveIdentifier: identifier,
		SegmentIndex:    index,
		CreatedAt:       createdAt,
	}
}

func TestScanEnqueuesProcessableSegment(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()

	seg := testSegment("s1", "d1", "2024-05-01--10-00-00", 0, now)
	repo := &fakeSegmentRepo{segments: []*DriveSegment{seg}}
	writeSegmentFiles(t, layout, seg, storage.FileFullLog, storage.FilePreview)

	uc := NewScanUseCase(repo, layout, 0, testLogger(t))
	cycle := NewCycle(now)
	require.NoError(t, uc.Scan(context.Background(), cycle))

	require.Len(t, cycle.Queue, 1)
	item := cycle.Queue[0]
	assert.Equal(t, "s1", item.Segment.ID)
	assert.False(t, item.UploadComplete)
	assert.Contains(t, item.Files, storage.FileFullLog)
	assert.Contains(t, item.Files, storage.FilePreview)
	assert.Equal(t, 1, cycle.Scanned)
}

func TestScanMarksProcessedSegmentUploadComplete(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()

	seg := testSegment("s1", "d1", "2024-05-01--10-00-00", 0, now)
	seg.IsProcessed = true
	repo := &fakeSegmentRepo{segments: []*DriveSegment{seg}}
	// All required files present; dcamera is optional and absent.
	writeSegmentFiles(t, layout, seg,
		storage.FileFrontCamera, storage.FilePreview, storage.FileCompactLog, storage.FileFullLog)

	uc := NewScanUseCase(repo, layout, 0, testLogger(t))
	cycle := NewCycle(now)
	require.NoError(t, uc.Scan(context.Background(), cycle))

	assert.Empty(t, cycle.Queue)
	assert.Equal(t, []string{"s1"}, repo.uploadCompleteIDs)
	assert.Equal(t, []DriveKey{{DongleID: "d1", Identifier: "2024-05-01--10-00-00"}}, cycle.AffectedDrives())
}

func TestScanSkipsMissingDirectory(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()

	seg := testSegment("s1", "d1", "2024-05-01--10-00-00", 0, now)
	repo := &fakeSegmentRepo{segments: []*DriveSegment{seg}}

	uc := NewScanUseCase(repo, layout, 0, testLogger(t))
	cycle := NewCycle(now)
	require.NoError(t, uc.Scan(context.Background(), cycle))

	assert.Empty(t, cycle.Queue)
	assert.Empty(t, repo.stalledIDs)
	assert.False(t, seg.IsStalled)
}

func TestScanMarksStalledSegments(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()

	// Eleven days without the full log, well past the grace period.
	stale := testSegment("old", "d1", "2024-05-01--10-00-00", 0, now.Add(-11*24*time.Hour))
	// Nine days old stays inside the grace period.
	fresh := testSegment("new", "d1", "2024-05-01--10-00-00", 1, now.Add(-9*24*time.Hour))
	repo := &fakeSegmentRepo{segments: []*DriveSegment{stale, fresh}}
	writeSegmentFiles(t, layout, stale, storage.FilePreview)
	writeSegmentFiles(t, layout, fresh, storage.FilePreview)

	uc := NewScanUseCase(repo, layout, 0, testLogger(t))
	uc.now = func() time.Time { return now }
	cycle := NewCycle(now)
	require.NoError(t, uc.Scan(context.Background(), cycle))

	assert.Equal(t, []string{"old"}, repo.stalledIDs)
	assert.True(t, stale.IsStalled)
	assert.False(t, fresh.IsStalled)
}

func TestScanStopsAtBatchSize(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()

	repo := &fakeSegmentRepo{}
	for i := 0; i < 5; i++ {
		seg := testSegment(string(rune('a'+i)), "d1", "2024-05-01--10-00-00", i, now.Add(time.Duration(i)*time.Second))
		repo.segments = append(repo.segments, seg)
		writeSegmentFiles(t, layout, seg, storage.FileFullLog, storage.FilePreview)
	}

	uc := NewScanUseCase(repo, layout, 3, testLogger(t))
	cycle := NewCycle(now)
	require.NoError(t, uc.Scan(context.Background(), cycle))

	require.Len(t, cycle.Queue, 3)
	// Oldest segments win the batch slots.
	assert.Equal(t, "a", cycle.Queue[0].Segment.ID)
	assert.Equal(t, "b", cycle.Queue[1].Segment.ID)
	assert.Equal(t, "c", cycle.Queue[2].Segment.ID)
	assert.Equal(t, 3, cycle.Scanned)
}

func TestScanExcludesExhaustedSegments(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()

	seg := testSegment("s1", "d1", "2024-05-01--10-00-00", 0, now)
	seg.ProcessAttempts = MaxProcessAttempts
	repo := &fakeSegmentRepo{segments: []*DriveSegment{seg}}
	writeSegmentFiles(t, layout, seg, storage.FileFullLog, storage.FilePreview)

	uc := NewScanUseCase(repo, layout, 0, testLogger(t))
	cycle := NewCycle(now)
	require.NoError(t, uc.Scan(context.Background(), cycle))

	assert.Empty(t, cycle.Queue)
	assert.Zero(t, cycle.Scanned)
}
