package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// Segment artifact filenames uploaded by the dongle. The driver camera is
// optional; everything else is expected for a complete upload.
const (
	FileFrontCamera  = "fcamera.hevc"
	FileDriverCamera = "dcamera.hevc"
	FilePreview      = "qcamera.ts"
	FileCompactLog   = "qlog.bz2"
	FileFullLog      = "rlog.bz2"

	// FilePlaylist is written by the aggregator once a drive is processed.
	FilePlaylist = "qcamera.m3u8"
)

// SegmentFiles lists every artifact a segment directory may contain.
var SegmentFiles = []string{
	FileFrontCamera,
	FileDriverCamera,
	FilePreview,
	FileCompactLog,
	FileFullLog,
}

// Layout resolves filesystem paths and download URLs for the upload tree:
//
//	root/<dongleId>/<hmac(dongleId)>/<hmac(identifier)>/<identifier>/<index>/<file>
//
// The HMAC salt must match the one configured on the upload handler.
type Layout struct {
	Root    string
	BaseURL string

	salt []byte
}

// NewLayout creates a path layout rooted at root
func NewLayout(root, baseURL, salt string) *Layout {
	return &Layout{
		Root:    root,
		BaseURL: baseURL,
		salt:    []byte(salt),
	}
}

// HashedID returns the lowercase hex HMAC-SHA256 of id under the layout salt.
func (l *Layout) HashedID(id string) string {
	mac := hmac.New(sha256.New, l.salt)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// DevicePath is the directory holding all data of one device.
func (l *Layout) DevicePath(dongleID string) string {
	return filepath.Join(l.Root, dongleID, l.HashedID(dongleID))
}

// DriveParentPath is the hashed directory level above the drive directory.
// Physical removal deletes this level so no hashed residue stays behind.
func (l *Layout) DriveParentPath(dongleID, identifier string) string {
	return filepath.Join(l.DevicePath(dongleID), l.HashedID(identifier))
}

// DrivePath is the directory holding one drive's segment subdirectories.
func (l *Layout) DrivePath(dongleID, identifier string) string {
	return filepath.Join(l.DriveParentPath(dongleID, identifier), identifier)
}

// SegmentPath is the directory holding one segment's artifacts.
func (l *Layout) SegmentPath(dongleID, identifier string, index int) string {
	return filepath.Join(l.DrivePath(dongleID, identifier), fmt.Sprintf("%d", index))
}

// BootlogDir holds a device's uploaded boot logs.
func (l *Layout) BootlogDir(dongleID string) string {
	return filepath.Join(l.DevicePath(dongleID), "boot")
}

// CrashlogDir holds a device's uploaded crash logs.
func (l *Layout) CrashlogDir(dongleID string) string {
	return filepath.Join(l.DevicePath(dongleID), "crash")
}

// DriveURL is the public download prefix for a drive, mirroring the on-disk
// hierarchy under the configured base URL.
func (l *Layout) DriveURL(dongleID, identifier string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		l.BaseURL, dongleID, l.HashedID(dongleID), l.HashedID(identifier), identifier)
}
