package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Metadata is the free-form metadata map carried by libraries, documents,
// chapters, and chunks. It implements driver.Valuer and sql.Scanner so it
// maps directly onto a JSONB column.
type Metadata map[string]any

// Value implements driver.Valuer for database writes.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner for database reads.
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan metadata: unsupported type")
	}

	out := Metadata{}
	if err := json.Unmarshal(bytes, &out); err != nil {
		return fmt.Errorf("invalid metadata in database: %w", err)
	}
	*m = out
	return nil
}

// GetString returns the string value for key, or "" when absent or not a string.
func (m Metadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Merge returns a copy of m with the entries of other applied on top.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
