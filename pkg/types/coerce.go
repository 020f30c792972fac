package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// CoerceRow converts a decoded JSON object into a Row of the schema's
// canonical value types. Keys not declared in the schema are dropped and
// absent nullable fields become nil. Numbers may be json.Number or float64.
func CoerceRow(schema Schema, raw map[string]any) (Row, error) {
	out, err := coerceFields(schema.Fields, raw, "")
	if err != nil {
		return nil, err
	}
	return Row(out), nil
}

func coerceFields(fields []Field, raw map[string]any, prefix string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		path := prefix + f.Name
		val, ok := raw[f.Name]
		if !ok || val == nil {
			if !f.Nullable {
				return nil, fmt.Errorf("field %q: required field is missing", path)
			}
			out[f.Name] = nil
			continue
		}

		if f.Type == TypeStruct {
			nested, ok := asMap(val)
			if !ok {
				return nil, fmt.Errorf("field %q: expected object, got %T", path, val)
			}
			coerced, err := coerceFields(f.Fields, nested, path+".")
			if err != nil {
				return nil, err
			}
			out[f.Name] = coerced
			continue
		}

		v, err := coerceScalar(f.Type, val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", path, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

func coerceScalar(typ FieldType, val any) (any, error) {
	switch typ {
	case TypeString:
		if s, ok := val.(string); ok {
			return s, nil
		}
	case TypeInt, TypeBigInt:
		n, err := toInt64(val)
		if err != nil {
			return nil, err
		}
		if typ == TypeInt && (n < math.MinInt32 || n > math.MaxInt32) {
			return nil, fmt.Errorf("value %d overflows INT", n)
		}
		return n, nil
	case TypeDouble:
		switch n := val.(type) {
		case float64:
			return n, nil
		case json.Number:
			return n.Float64()
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
	case TypeBoolean:
		if b, ok := val.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", val, typ)
}

func toInt64(val any) (int64, error) {
	switch n := val.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("value %s is not an integer", n)
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("cannot use %T as integer", val)
}
