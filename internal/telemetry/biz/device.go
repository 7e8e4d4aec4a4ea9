package biz

import (
	"context"
	"time"
)

// Device is a registered telemetry dongle. Devices are created by the
// registration endpoint; the pipeline only reads them and refreshes their
// storage accounting.
type Device struct {
	ID            string
	DongleID      string
	AccountID     *string // nil for unpaired devices
	PublicKey     string
	StorageUsedMB int64
	LastPingAt    *time.Time
	CreatedAt     time.Time
}

// DeviceRepo is the device persistence interface
type DeviceRepo interface {
	// List returns all registered devices
	List(ctx context.Context) ([]*Device, error)

	// GetByDongleID returns the device with the given dongle identifier,
	// or ErrDeviceNotFound
	GetByDongleID(ctx context.Context, dongleID string) (*Device, error)

	// ListOverQuota returns devices whose recorded storage exceeds quotaMB
	ListOverQuota(ctx context.Context, quotaMB int64) ([]*Device, error)

	// UpdateStorageUsed persists a recomputed storage figure
	UpdateStorageUsed(ctx context.Context, dongleID string, usedMB int64) error
}
