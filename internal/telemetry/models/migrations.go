package models

// All lists every model the worker migrates at startup.
func All() []interface{} {
	return []interface{}{
		&Device{},
		&Drive{},
		&DriveSegment{},
	}
}
