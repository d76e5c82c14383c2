package consumer

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// DecodeList decodes a payload that is either one record or an array of
// records.
func DecodeList[T any](payload json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return out, nil
	}

	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return []T{one}, nil
}

// Validated wraps a decoder and drops records that fail valid.
func Validated[T any](decode DecodeFunc[T], valid func(T) bool) DecodeFunc[T] {
	return func(payload json.RawMessage) ([]T, error) {
		items, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out := items[:0]
		for _, it := range items {
			if valid(it) {
				out = append(out, it)
			}
		}
		return out, nil
	}
}
