package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CheckRequest is the body of the primary compliance check endpoint.
type CheckRequest struct {
	AIViolationID []RuleSelector `json:"AIViolationID"` // Rules to apply
	Data          []Record       `json:"Data"`          // Listings to analyze
}

// RuleSelector names one rule to run against one tenant's listings.
type RuleSelector struct {
	ID           string `json:"ID"`           // Uppercase rule identifier (FAIR, COMP, PROMO, ...)
	MLSID        string `json:"mlsId"`        // Tenant identifier, case-sensitive
	CheckColumns string `json:"CheckColumns"` // Comma-separated subset of the eight column names
}

// UnmarshalJSON accepts the common-typo alias `mlsIds` and normalizes it
// to `mlsId`.
func (s *RuleSelector) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID           string `json:"ID"`
		MLSID        string `json:"mlsId"`
		MLSIDs       string `json:"mlsIds"`
		CheckColumns string `json:"CheckColumns"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.MLSID == "" {
		a.MLSID = a.MLSIDs
	}
	s.ID = a.ID
	s.MLSID = a.MLSID
	s.CheckColumns = a.CheckColumns
	return nil
}

// Columns returns CheckColumns as a trimmed list, dropping empty entries.
func (s *RuleSelector) Columns() []string {
	if s.CheckColumns == "" {
		return nil
	}
	parts := strings.Split(s.CheckColumns, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := strings.TrimSpace(p); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// Record is a single listing to check. Beyond the two mandatory identifiers,
// the payload may carry any of the eight checkable columns; Fields tracks
// exactly the keys that were present, so an explicit empty string is
// distinguishable from an absent column.
type Record struct {
	MLSNum string            // Unique listing identifier
	MLSID  string            // Tenant identifier
	Fields map[string]string // Column name → value, only for keys present in the payload
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Fields = make(map[string]string)
	for key, val := range raw {
		var s string
		// null column values count as present-but-empty
		if string(val) == "null" {
			s = ""
		} else if err := json.Unmarshal(val, &s); err != nil {
			return fmt.Errorf("field %q must be a string", key)
		}
		switch key {
		case "mlsnum":
			r.MLSNum = s
		case "mlsId":
			r.MLSID = s
		default:
			r.Fields[key] = s
		}
	}
	return nil
}

func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(r.Fields)+2)
	out["mlsnum"] = r.MLSNum
	out["mlsId"] = r.MLSID
	for k, v := range r.Fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// Field returns the value of a column and whether it was present in the
// payload. Absent columns read as empty strings.
func (r *Record) Field(column string) (string, bool) {
	v, ok := r.Fields[column]
	return v, ok
}
