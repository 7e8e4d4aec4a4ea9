package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/rlog"
)

// In-memory repositories backing the use case tests. They mirror the
// filtering and ordering the gorm implementations perform.

type fakeSegmentRepo struct {
	mu       sync.Mutex
	segments []*DriveSegment

	stalledIDs        []string
	uploadCompleteIDs []string
	saveResultErr     error
}

func (r *fakeSegmentRepo) ListEligible(ctx context.Context) ([]*DriveSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*DriveSegment
	for _, s := range r.segments {
		if !s.UploadComplete && !s.IsStalled && s.ProcessAttempts < MaxProcessAttempts {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeSegmentRepo) ListByDrive(ctx context.Context, key DriveKey) ([]*DriveSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*DriveSegment
	for _, s := range r.segments {
		if s.DriveKey() == key {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentIndex < out[j].SegmentIndex })
	return out, nil
}

func (r *fakeSegmentRepo) UpdateProcessAttempts(ctx context.Context, id string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.byID(id)
	if err != nil {
		return err
	}
	s.ProcessAttempts = attempts
	return nil
}

func (r *fakeSegmentRepo) MarkUploadComplete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.byID(id)
	if err != nil {
		return err
	}
	s.UploadComplete = true
	s.IsStalled = false
	r.uploadCompleteIDs = append(r.uploadCompleteIDs, id)
	return nil
}

func (r *fakeSegmentRepo) MarkStalled(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.byID(id)
	if err != nil {
		return err
	}
	s.IsStalled = true
	r.stalledIDs = append(r.stalledIDs, id)
	return nil
}

func (r *fakeSegmentRepo) SaveProcessResult(ctx context.Context, id string, res *SegmentProcessResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveResultErr != nil {
		return r.saveResultErr
	}
	s, err := r.byID(id)
	if err != nil {
		return err
	}
	s.DurationSeconds = res.DurationSeconds
	s.DistanceMeters = res.DistanceMeters
	s.UploadComplete = res.UploadComplete
	s.IsProcessed = true
	s.IsStalled = false
	return nil
}

func (r *fakeSegmentRepo) byID(id string) (*DriveSegment, error) {
	for _, s := range r.segments {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ErrSegmentNotFound
}

func (r *fakeSegmentRepo) get(id string) *DriveSegment {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, _ := r.byID(id)
	return s
}

type fakeDriveRepo struct {
	mu     sync.Mutex
	drives []*Drive

	updates           map[DriveKey]*DriveUpdate
	softDeletedIDs    []string
	physicallyRemoved []DriveKey
	removeSegments    func(key DriveKey)
}

func newFakeDriveRepo(drives ...*Drive) *fakeDriveRepo {
	return &fakeDriveRepo{
		drives:  drives,
		updates: make(map[DriveKey]*DriveUpdate),
	}
}

func (r *fakeDriveRepo) Get(ctx context.Context, key DriveKey) (*Drive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drives {
		if d.Key() == key {
			return d, nil
		}
	}
	return nil, ErrDriveNotFound
}

func (r *fakeDriveRepo) UpdateAggregates(ctx context.Context, key DriveKey, upd *DriveUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drives {
		if d.Key() == key {
			d.MaxSegment = upd.MaxSegment
			d.DurationSeconds = upd.DurationSeconds
			d.DistanceMeters = upd.DistanceMeters
			d.FilesizeKB = upd.FilesizeKB
			d.UploadComplete = upd.UploadComplete
			d.IsProcessed = upd.IsProcessed
			d.Metadata = upd.Metadata
			r.updates[key] = upd
			return nil
		}
	}
	return ErrDriveNotFound
}

func (r *fakeDriveRepo) ListExpired(ctx context.Context, cutoff time.Time) ([]*Drive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Drive
	for _, d := range r.drives {
		if d.CreatedAt.Before(cutoff) && !d.IsPreserved && !d.IsDeleted {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeDriveRepo) OldestActive(ctx context.Context, dongleID string, preserved bool) (*Drive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *Drive
	for _, d := range r.drives {
		if d.DongleID != dongleID || d.IsDeleted || d.IsPreserved != preserved {
			continue
		}
		if oldest == nil || d.CreatedAt.Before(oldest.CreatedAt) {
			oldest = d
		}
	}
	if oldest == nil {
		return nil, ErrDriveNotFound
	}
	return oldest, nil
}

func (r *fakeDriveRepo) SoftDelete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drives {
		if d.ID == id {
			d.IsDeleted = true
			r.softDeletedIDs = append(r.softDeletedIDs, id)
			return nil
		}
	}
	return ErrDriveNotFound
}

func (r *fakeDriveRepo) ListSoftDeleted(ctx context.Context) ([]*Drive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Drive
	for _, d := range r.drives {
		if d.IsDeleted && !d.IsPhysicallyRemoved {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeDriveRepo) MarkPhysicallyRemoved(ctx context.Context, drive *Drive) error {
	r.mu.Lock()
	for _, d := range r.drives {
		if d.ID == drive.ID {
			d.IsPhysicallyRemoved = true
			r.physicallyRemoved = append(r.physicallyRemoved, d.Key())
		}
	}
	removeSegments := r.removeSegments
	r.mu.Unlock()
	if removeSegments != nil {
		removeSegments(drive.Key())
	}
	return nil
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices []*Device

	storageUpdates map[string][]int64
}

func newFakeDeviceRepo(devices ...*Device) *fakeDeviceRepo {
	return &fakeDeviceRepo{
		devices:        devices,
		storageUpdates: make(map[string][]int64),
	}
}

func (r *fakeDeviceRepo) List(ctx context.Context) ([]*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out, nil
}

func (r *fakeDeviceRepo) GetByDongleID(ctx context.Context, dongleID string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.DongleID == dongleID {
			return d, nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (r *fakeDeviceRepo) ListOverQuota(ctx context.Context, quotaMB int64) ([]*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Device
	for _, d := range r.devices {
		if d.StorageUsedMB > quotaMB {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeDeviceRepo) UpdateStorageUsed(ctx context.Context, dongleID string, usedMB int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.DongleID == dongleID {
			d.StorageUsedMB = usedMB
			r.storageUpdates[dongleID] = append(r.storageUpdates[dongleID], usedMB)
			return nil
		}
	}
	return ErrDeviceNotFound
}

// fakeDecoder replays canned records for a log path, or fails with a
// canned error.
type fakeDecoder struct {
	records map[string][]*rlog.Record
	errs    map[string]error
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{
		records: make(map[string][]*rlog.Record),
		errs:    make(map[string]error),
	}
}

func (d *fakeDecoder) Decode(ctx context.Context, path string, fn rlog.RecordFunc) error {
	if err := d.errs[path]; err != nil {
		return err
	}
	for _, record := range d.records[path] {
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}

// fakeProber returns canned durations per video path.
type fakeProber struct {
	durations map[string]float64
}

func newFakeProber() *fakeProber {
	return &fakeProber{durations: make(map[string]float64)}
}

func (p *fakeProber) Duration(ctx context.Context, path string) float64 {
	return p.durations[path]
}
