package biz

import (
	"sort"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/telemetry/rlog"
)

// ScanItem is a segment the scanner classified as processable, together
// with the artifact paths resolved during the scan.
type ScanItem struct {
	Segment *DriveSegment
	// Files maps manifest filenames to absolute paths of the files found
	// on disk.
	Files map[string]string
	// UploadComplete is the completeness classification at scan time; it
	// is persisted with the processing result.
	UploadComplete bool
}

// Cycle carries the mutable state of one pipeline cycle between phases.
// Earlier revisions of this system kept these maps in process globals,
// which contaminated consecutive cycles; threading them explicitly keeps
// every cycle self-contained.
type Cycle struct {
	StartedAt time.Time

	// Queue holds the segments enqueued for processing this cycle.
	Queue []*ScanItem

	affectedDrives map[DriveKey]bool
	driveInitData  map[DriveKey]*rlog.InitData
	driveCarParams map[DriveKey]*rlog.CarParams

	affectedDevices map[string]bool

	// Cycle summary counters.
	Scanned   int
	Processed int
}

// NewCycle creates an empty cycle state
func NewCycle(now time.Time) *Cycle {
	return &Cycle{
		StartedAt:       now,
		affectedDrives:  make(map[DriveKey]bool),
		driveInitData:   make(map[DriveKey]*rlog.InitData),
		driveCarParams:  make(map[DriveKey]*rlog.CarParams),
		affectedDevices: make(map[string]bool),
	}
}

// MarkDriveAffected schedules a drive for re-aggregation this cycle.
func (c *Cycle) MarkDriveAffected(key DriveKey) {
	c.affectedDrives[key] = true
}

// MarkDeviceAffected schedules a device for storage recomputation.
func (c *Cycle) MarkDeviceAffected(dongleID string) {
	c.affectedDevices[dongleID] = true
}

// ClearDeviceAffected removes a device from the affected set once its
// storage figure has been recomputed.
func (c *Cycle) ClearDeviceAffected(dongleID string) {
	delete(c.affectedDevices, dongleID)
}

// RecordInitData keeps the first software identification seen for a drive.
func (c *Cycle) RecordInitData(key DriveKey, in *rlog.InitData) {
	if in == nil {
		return
	}
	if _, ok := c.driveInitData[key]; !ok {
		c.driveInitData[key] = in
	}
}

// RecordCarParams keeps the first vehicle identification seen for a drive.
func (c *Cycle) RecordCarParams(key DriveKey, in *rlog.CarParams) {
	if in == nil {
		return
	}
	if _, ok := c.driveCarParams[key]; !ok {
		c.driveCarParams[key] = in
	}
}

// InitData returns the recorded software identification for a drive, if any.
func (c *Cycle) InitData(key DriveKey) *rlog.InitData {
	return c.driveInitData[key]
}

// CarParams returns the recorded vehicle identification for a drive, if any.
func (c *Cycle) CarParams(key DriveKey) *rlog.CarParams {
	return c.driveCarParams[key]
}

// AffectedDrives returns the drives touched this cycle in deterministic
// order.
func (c *Cycle) AffectedDrives() []DriveKey {
	keys := make([]DriveKey, 0, len(c.affectedDrives))
	for key := range c.affectedDrives {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DongleID != keys[j].DongleID {
			return keys[i].DongleID < keys[j].DongleID
		}
		return keys[i].Identifier < keys[j].Identifier
	})
	return keys
}

// AffectedDevices returns the devices needing storage recomputation in
// deterministic order.
func (c *Cycle) AffectedDevices() []string {
	ids := make([]string, 0, len(c.affectedDevices))
	for id := range c.affectedDevices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
