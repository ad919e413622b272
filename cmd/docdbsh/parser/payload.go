package parser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodePayload parses a shell argument into a document body. Documents in
// this engine are JSON objects end to end (store, WAL, wire protocol), so
// unlike the teacher's raw:/hex: escape hatches, only JSON is accepted: a
// bare JSON value, or one explicitly marked with a "json:" prefix.
func DecodePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("payload cannot be empty")
	}

	if strings.HasPrefix(s, "raw:") || strings.HasPrefix(s, "hex:") {
		return nil, fmt.Errorf("%s is not valid JSON: documents must be JSON", s[:4])
	}

	if strings.HasPrefix(s, "json:") {
		s = s[5:]
	}

	return decodeJSON(s)
}

func decodeJSON(s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}

	return json.Marshal(v)
}

// IsJSON reports whether s parses as a JSON value.
func IsJSON(s string) bool {
	return json.Valid([]byte(strings.TrimSpace(s)))
}
