package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/arkilian/flowgraph/pkg/types"
)

// envelopeKey holds the records of a CloudWatch-style log export.
const envelopeKey = "logEvents"

// ParseJSON decodes one unit into rows of schema. Accepted layouts are NDJSON
// (or any sequence of objects), a top-level array of objects, an envelope
// object whose logEvents array holds the records, and a single object.
// Any malformed record fails the whole unit.
func ParseJSON(data []byte, schema types.Schema) (types.Batch, error) {
	values, err := decodeValues(data)
	if err != nil {
		return nil, err
	}

	var records []any
	switch {
	case len(values) == 1:
		switch v := values[0].(type) {
		case []any:
			records = v
		case map[string]any:
			if events, ok := v[envelopeKey]; ok {
				arr, ok := events.([]any)
				if !ok {
					return nil, fmt.Errorf("%s is %T, not an array", envelopeKey, events)
				}
				records = arr
			} else {
				records = values
			}
		default:
			return nil, fmt.Errorf("top-level value is %T, not an object or array", v)
		}
	default:
		records = values
	}

	batch := make(types.Batch, 0, len(records))
	for i, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is %T, not an object", i, rec)
		}
		row, err := types.CoerceRow(schema, obj)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		batch = append(batch, row)
	}
	return batch, nil
}

func decodeValues(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var values []any
	for {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return values, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid JSON at offset %d: %w", dec.InputOffset(), err)
		}
		values = append(values, v)
	}
}
