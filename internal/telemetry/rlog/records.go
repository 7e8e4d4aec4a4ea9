package rlog

// GpsFix is a single GPS location sample.
type GpsFix struct {
	Latitude  float64 `cbor:"latitude"`
	Longitude float64 `cbor:"longitude"`
	Altitude  float64 `cbor:"altitude,omitempty"`
	Speed     float64 `cbor:"speed,omitempty"`
}

// CarParams identifies the vehicle the segment was recorded on.
type CarParams struct {
	CarName        string `cbor:"carName"`
	CarFingerprint string `cbor:"carFingerprint"`
}

// InitData carries the software identification emitted once at boot.
type InitData struct {
	Version   string `cbor:"version"`
	GitRemote string `cbor:"gitRemote"`
	GitBranch string `cbor:"gitBranch"`
	GitCommit string `cbor:"gitCommit"`
}

// Record is one entry of a segment's telemetry log stream. LogMonoTime is a
// monotonic timestamp in nanoseconds; all other fields are optional payloads
// and at most one is expected per record.
type Record struct {
	LogMonoTime uint64 `cbor:"logMonoTime"`

	// GpsLocation is the primary location source. GpsLocationExternal is an
	// external fallback receiver; when both appear in the same sampling
	// window the primary source takes precedence.
	GpsLocation         *GpsFix `cbor:"gpsLocation,omitempty"`
	GpsLocationExternal *GpsFix `cbor:"gpsLocationExternal,omitempty"`

	CarParams *CarParams `cbor:"carParams,omitempty"`
	InitData  *InitData  `cbor:"initData,omitempty"`
}
