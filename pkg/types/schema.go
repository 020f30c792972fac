package types

import (
	"fmt"
	"strings"
)

// FieldType is the logical type of a table column.
type FieldType string

const (
	TypeString  FieldType = "STRING"
	TypeInt     FieldType = "INT"
	TypeBigInt  FieldType = "BIGINT"
	TypeDouble  FieldType = "DOUBLE"
	TypeBoolean FieldType = "BOOLEAN"
	TypeStruct  FieldType = "STRUCT"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeBigInt, TypeDouble, TypeBoolean, TypeStruct:
		return true
	}
	return false
}

// Integral reports whether values of t are stored as int64.
func (t FieldType) Integral() bool {
	return t == TypeInt || t == TypeBigInt
}

// Schema defines the ordered structure of a table's rows.
type Schema struct {
	// Fields lists the columns in declaration order
	Fields []Field `json:"fields" yaml:"fields"`
}

// Field defines a single column in the schema.
type Field struct {
	// Name is the column name
	Name string `json:"name" yaml:"name"`

	// Type is the logical column type
	Type FieldType `json:"type" yaml:"type"`

	// Nullable indicates whether the column may be absent or nil
	Nullable bool `json:"nullable" yaml:"nullable"`

	// Fields holds the nested columns of a STRUCT field
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// String renders the field in DDL form, e.g. "message STRUCT<ip:STRING NOT NULL>".
func (f Field) String() string {
	return f.Name + " " + f.typeString()
}

func (f Field) nullSuffix() string {
	if f.Nullable {
		return ""
	}
	return " NOT NULL"
}

func (f Field) typeString() string {
	if f.Type != TypeStruct {
		return string(f.Type) + f.nullSuffix()
	}
	parts := make([]string, len(f.Fields))
	for i, nested := range f.Fields {
		parts[i] = nested.Name + ":" + nested.typeString()
	}
	return "STRUCT<" + strings.Join(parts, ", ") + ">" + f.nullSuffix()
}

// Field returns the top-level field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the top-level field names in order.
func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// String renders the schema as a DDL string accepted by ParseSchema.
func (s Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}

// Extend returns a copy of s with the given fields appended.
func (s Schema) Extend(fields ...Field) Schema {
	out := Schema{Fields: make([]Field, 0, len(s.Fields)+len(fields))}
	out.Fields = append(out.Fields, s.Fields...)
	out.Fields = append(out.Fields, fields...)
	return out
}

// Validate checks the schema definition itself.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema must have at least one field")
	}
	return validateFields(s.Fields, "")
}

func validateFields(fields []Field, prefix string) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("field name cannot be empty")
		}
		path := prefix + f.Name
		if seen[f.Name] {
			return fmt.Errorf("duplicate field name: %s", path)
		}
		seen[f.Name] = true

		if !f.Type.Valid() {
			return fmt.Errorf("invalid type %q for field %q", f.Type, path)
		}
		if f.Type == TypeStruct {
			if len(f.Fields) == 0 {
				return fmt.Errorf("struct field %q must have at least one nested field", path)
			}
			if err := validateFields(f.Fields, path+"."); err != nil {
				return err
			}
		} else if len(f.Fields) > 0 {
			return fmt.Errorf("non-struct field %q cannot have nested fields", path)
		}
	}
	return nil
}
