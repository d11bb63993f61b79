package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// TermGPAMap maps a term number to its grade point average. It is stored as JSON.
type TermGPAMap map[int]float64

// Value implements driver.Valuer.
func (m TermGPAMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *TermGPAMap) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = TermGPAMap{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported term gpa type %T", src)
	}
	decoded := TermGPAMap{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decode term gpa: %w", err)
		}
	}
	*m = decoded
	return nil
}
