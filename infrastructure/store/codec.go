package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ahrav/castrank/internal/domain"
)

// EncodeFields serializes a document payload for backends that persist
// JSON. Timestamps become RFC 3339 strings, which domain readers accept.
func EncodeFields(doc domain.Document) ([]byte, error) {
	data, err := json.Marshal(doc.Fields())
	if err != nil {
		return nil, fmt.Errorf("encode document %q: %w", doc.ID(), err)
	}
	return data, nil
}

// DecodeFields parses a payload written by EncodeFields. Integral numbers
// decode as int64 and all other numbers as float64 so counters survive a
// round trip without drifting to floating point.
func DecodeFields(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode document payload: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	for k, v := range fields {
		fields[k] = normalizeNumbers(v)
	}
	return fields, nil
}

// DecodeDocument is DecodeFields followed by domain.NewDocument.
func DecodeDocument(id string, data []byte) (domain.Document, error) {
	fields, err := DecodeFields(data)
	if err != nil {
		return domain.Document{}, err
	}
	return domain.NewDocument(id, fields), nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		for i := range val {
			val[i] = normalizeNumbers(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalizeNumbers(val[k])
		}
		return val
	default:
		return v
	}
}
