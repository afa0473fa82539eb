package mangashelf

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FieldText returns the string form of a top-level document field: strings
// unquoted, other values as compact JSON text, missing or null fields as "".
func FieldText(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// Matches evaluates the query against a JSON document. Contains compares
// case-insensitively.
func (q Query) Matches(doc []byte) bool {
	if len(q) == 0 {
		return true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false
	}
	for _, c := range q {
		v := FieldText(fields, c.Field)
		switch c.Op {
		case OpEq:
			if v != c.Value {
				return false
			}
		case OpNotEq:
			if v == c.Value {
				return false
			}
		case OpContains:
			if !strings.Contains(strings.ToLower(v), strings.ToLower(c.Value)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
