package types

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EncodeValue serializes a preference value for storage. Values are kept as
// JSON text columns so scalar and structured payloads share one write path.
func EncodeValue(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// DecodeValue deserializes a stored preference value. Empty columns decode to
// nil; numbers decode to float64 per encoding/json defaults.
func DecodeValue(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
