package biz

import "errors"

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrDriveNotFound   = errors.New("drive not found")
	ErrSegmentNotFound = errors.New("drive segment not found")
)
