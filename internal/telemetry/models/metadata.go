package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// DriveMetadataJSON is a custom type for the drive metadata blob stored as
// JSONB. The typed form lives in the biz layer; this type only shuttles
// raw bytes across the driver boundary.
type DriveMetadataJSON []byte

// Scan implements sql.Scanner interface
func (m *DriveMetadataJSON) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*m = append((*m)[:0], v...)
	case string:
		*m = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
	return nil
}

// Value implements driver.Valuer interface
func (m DriveMetadataJSON) Value() (driver.Value, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(m) {
		return nil, fmt.Errorf("drive metadata is not valid JSON")
	}
	return []byte(m), nil
}
