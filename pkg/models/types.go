package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
)

// JSONMap is a map[string]interface{} that round-trips through a JSONB
// column. Nil maps persist as SQL NULL.
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONMap
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONMap
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*map[string]interface{})(m))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]interface{})(m))
	default:
		return json.Unmarshal([]byte(v.(string)), (*map[string]interface{})(m))
	}
}

// Clone returns a shallow copy of the map. Nested maps are shared.
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StringList is a []string persisted as a JSONB array. Nil persists as NULL.
type StringList []string

// Value implements driver.Valuer for StringList
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for StringList
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	default:
		return json.Unmarshal([]byte(v.(string)), (*[]string)(l))
	}
}

// Contains reports whether s is present in the list.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// AggregateRoot is implemented by every versioned entity. The version is
// the optimistic-lock counter carried by the row.
type AggregateRoot interface {
	GetID() uuid.UUID
	GetType() string
	GetVersion() int
}
