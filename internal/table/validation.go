package table

import (
	"fmt"
	"math"
	"strings"

	"github.com/arkilian/flowgraph/pkg/types"
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	RowIndex int
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d, field %q: %s", e.RowIndex, e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// SchemaValidator validates rows against a declared schema.
type SchemaValidator struct {
	schema types.Schema
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(schema types.Schema) *SchemaValidator {
	return &SchemaValidator{schema: schema}
}

// ValidateRow validates a single row against the schema.
func (v *SchemaValidator) ValidateRow(row types.Row, rowIndex int) []*ValidationError {
	if row == nil {
		return []*ValidationError{{RowIndex: rowIndex, Field: "", Message: "row is nil"}}
	}
	return validateFields(v.schema.Fields, map[string]any(row), "", rowIndex)
}

func validateFields(fields []types.Field, values map[string]any, prefix string, rowIndex int) []*ValidationError {
	var errs []*ValidationError

	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
		path := prefix + f.Name

		val, present := values[f.Name]
		if !present || val == nil {
			if !f.Nullable {
				errs = append(errs, &ValidationError{
					RowIndex: rowIndex,
					Field:    path,
					Message:  "required field is missing",
				})
			}
			continue
		}

		if f.Type == types.TypeStruct {
			nested, ok := structValue(val)
			if !ok {
				errs = append(errs, &ValidationError{
					RowIndex: rowIndex,
					Field:    path,
					Message:  fmt.Sprintf("expected STRUCT, got %T", val),
				})
				continue
			}
			errs = append(errs, validateFields(f.Fields, nested, path+".", rowIndex)...)
			continue
		}

		if msg := checkScalar(f.Type, val); msg != "" {
			errs = append(errs, &ValidationError{
				RowIndex: rowIndex,
				Field:    path,
				Message:  msg,
			})
		}
	}

	for name := range values {
		if !known[name] {
			errs = append(errs, &ValidationError{
				RowIndex: rowIndex,
				Field:    prefix + name,
				Message:  "field is not declared in the schema",
			})
		}
	}

	return errs
}

func structValue(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case types.Row:
		return map[string]any(m), true
	}
	return nil, false
}

// checkScalar returns an empty string when val conforms to typ.
func checkScalar(typ types.FieldType, val any) string {
	switch typ {
	case types.TypeString:
		if _, ok := val.(string); !ok {
			return fmt.Sprintf("expected STRING, got %T", val)
		}
	case types.TypeBigInt:
		switch val.(type) {
		case int64, int, int32:
		default:
			return fmt.Sprintf("expected BIGINT, got %T", val)
		}
	case types.TypeInt:
		var n int64
		switch i := val.(type) {
		case int64:
			n = i
		case int:
			n = int64(i)
		case int32:
			n = int64(i)
		default:
			return fmt.Sprintf("expected INT, got %T", val)
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Sprintf("value %d overflows INT", n)
		}
	case types.TypeDouble:
		if _, ok := val.(float64); !ok {
			return fmt.Sprintf("expected DOUBLE, got %T", val)
		}
	case types.TypeBoolean:
		if _, ok := val.(bool); !ok {
			return fmt.Sprintf("expected BOOLEAN, got %T", val)
		}
	}
	return ""
}

// ValidateRows validates multiple rows against the schema.
func (v *SchemaValidator) ValidateRows(rows types.Batch) ValidationErrors {
	var allErrors ValidationErrors

	for i, row := range rows {
		rowErrors := v.ValidateRow(row, i)
		allErrors = append(allErrors, rowErrors...)
	}

	return allErrors
}

// Validate validates rows and returns an error if any validation fails.
func (v *SchemaValidator) Validate(rows types.Batch) error {
	errors := v.ValidateRows(rows)
	if len(errors) > 0 {
		return errors
	}
	return nil
}
