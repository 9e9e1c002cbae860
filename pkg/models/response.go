package models

import (
	"bytes"
	"encoding/json"
	"sort"
)

// CheckResponse is the envelope returned by the compliance check endpoint.
type CheckResponse struct {
	OK           int             `json:"ok"` // HTTP-style status code, 200 on success
	Results      []*RecordResult `json:"results"`
	RequestID    string          `json:"request_id"`
	ErrorMessage string          `json:"error_message"`
	TotalTokens  int             `json:"total_tokens"`
	ElapsedTime  float64         `json:"elapsed_time"` // Seconds
}

// RuleFinding is the outcome of one rule applied to one record. Columns holds
// violation lists keyed by API column name; only columns whose input was
// non-empty appear. Extra preserves any additional keys the model returned
// inside its result mapping. Err is set when the call failed locally.
type RuleFinding struct {
	Columns     map[string][]string
	Extra       map[string]json.RawMessage
	TotalTokens int
	Err         string
}

// Empty reports whether the finding carries nothing to surface: no error,
// no extra payload, and every column list empty. Empty findings collapse to
// null in the response.
func (f *RuleFinding) Empty() bool {
	if f == nil {
		return true
	}
	if f.Err != "" || len(f.Extra) > 0 {
		return false
	}
	for _, violations := range f.Columns {
		if len(violations) > 0 {
			return false
		}
	}
	return true
}

// MarshalJSON emits columns in canonical order, then extra keys sorted, then
// Total_tokens, then error when set.
func (f *RuleFinding) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	for _, col := range columnOrder {
		violations, ok := f.Columns[col]
		if !ok {
			continue
		}
		if violations == nil {
			violations = []string{}
		}
		if err := writeField(col, violations); err != nil {
			return nil, err
		}
	}

	extraKeys := make([]string, 0, len(f.Extra))
	for k := range f.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		if err := writeField(k, f.Extra[k]); err != nil {
			return nil, err
		}
	}

	if err := writeField("Total_tokens", f.TotalTokens); err != nil {
		return nil, err
	}
	if f.Err != "" {
		if err := writeField("error", f.Err); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RecordResult aggregates all rule outcomes for one record. Rules maps
// uppercase rule IDs to findings; a nil finding serializes as null.
type RecordResult struct {
	MLSNum     string
	MLSID      string
	Latency    float64 // Seconds spent processing this record
	TokensUsed int
	Rules      map[string]*RuleFinding
}

// MarshalJSON emits the identifiers, each rule key in sorted order, then the
// accounting fields.
func (r *RecordResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	if err := writeField("mlsnum", r.MLSNum); err != nil {
		return nil, err
	}
	if err := writeField("mlsId", r.MLSID); err != nil {
		return nil, err
	}

	ruleIDs := make([]string, 0, len(r.Rules))
	for id := range r.Rules {
		ruleIDs = append(ruleIDs, id)
	}
	sort.Strings(ruleIDs)
	for _, id := range ruleIDs {
		if err := writeField(id, r.Rules[id]); err != nil {
			return nil, err
		}
	}

	if err := writeField("latency_seconds", r.Latency); err != nil {
		return nil, err
	}
	if err := writeField("tokens_used", r.TokensUsed); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
