package types

import (
	"fmt"
	"strings"
	"unicode"
)

// ddlToken is a lexical token of a schema DDL string.
type ddlToken struct {
	kind    byte // 'i' identifier, or one of , < > : and 0 for EOF
	literal string
	pos     int
}

// ParseSchema parses a DDL schema string such as
//
//	id STRING NOT NULL, timestamp BIGINT, message STRUCT<ip:STRING, status:INT>
//
// Top-level fields use "name TYPE", nested struct fields use "name:TYPE".
// Fields are nullable unless followed by NOT NULL.
func ParseSchema(ddl string) (Schema, error) {
	tokens, err := lexDDL(ddl)
	if err != nil {
		return Schema{}, err
	}
	p := &ddlParser{tokens: tokens}

	var schema Schema
	for {
		f, err := p.parseField(false)
		if err != nil {
			return Schema{}, err
		}
		schema.Fields = append(schema.Fields, f)

		tok := p.next()
		if tok.kind == 0 {
			break
		}
		if tok.kind != ',' {
			return Schema{}, fmt.Errorf("schema: expected ',' at position %d, got %q", tok.pos, tok.literal)
		}
	}

	if err := schema.Validate(); err != nil {
		return Schema{}, fmt.Errorf("schema: %w", err)
	}
	return schema, nil
}

// MustParseSchema is like ParseSchema but panics on error.
func MustParseSchema(ddl string) Schema {
	s, err := ParseSchema(ddl)
	if err != nil {
		panic(err)
	}
	return s
}

func lexDDL(input string) ([]ddlToken, error) {
	var tokens []ddlToken
	i := 0
	for i < len(input) {
		c := rune(input[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == ',' || c == '<' || c == '>' || c == ':':
			tokens = append(tokens, ddlToken{kind: byte(c), literal: string(c), pos: i})
			i++
		case c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c):
			start := i
			for i < len(input) {
				r := rune(input[i])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i++
			}
			tokens = append(tokens, ddlToken{kind: 'i', literal: input[start:i], pos: start})
		default:
			return nil, fmt.Errorf("schema: unexpected character %q at position %d", c, i)
		}
	}
	tokens = append(tokens, ddlToken{pos: len(input)})
	return tokens, nil
}

type ddlParser struct {
	tokens []ddlToken
	pos    int
}

func (p *ddlParser) peek() ddlToken {
	return p.tokens[p.pos]
}

func (p *ddlParser) next() ddlToken {
	tok := p.tokens[p.pos]
	if tok.kind != 0 {
		p.pos++
	}
	return tok
}

func (p *ddlParser) parseField(nested bool) (Field, error) {
	name := p.next()
	if name.kind != 'i' {
		return Field{}, fmt.Errorf("schema: expected field name at position %d", name.pos)
	}
	if nested {
		if tok := p.next(); tok.kind != ':' {
			return Field{}, fmt.Errorf("schema: expected ':' after nested field %q at position %d", name.literal, tok.pos)
		}
	}

	f := Field{Name: name.literal, Nullable: true}
	typ := p.next()
	if typ.kind != 'i' {
		return Field{}, fmt.Errorf("schema: expected type for field %q at position %d", name.literal, typ.pos)
	}
	ft, err := normalizeType(typ.literal)
	if err != nil {
		return Field{}, fmt.Errorf("schema: field %q: %w", name.literal, err)
	}
	f.Type = ft

	if ft == TypeStruct {
		if tok := p.next(); tok.kind != '<' {
			return Field{}, fmt.Errorf("schema: expected '<' after STRUCT at position %d", tok.pos)
		}
		for {
			nestedField, err := p.parseField(true)
			if err != nil {
				return Field{}, err
			}
			f.Fields = append(f.Fields, nestedField)

			tok := p.next()
			if tok.kind == '>' {
				break
			}
			if tok.kind != ',' {
				return Field{}, fmt.Errorf("schema: expected ',' or '>' in STRUCT at position %d", tok.pos)
			}
		}
	}

	if tok := p.peek(); tok.kind == 'i' && strings.EqualFold(tok.literal, "NOT") {
		p.next()
		if null := p.next(); null.kind != 'i' || !strings.EqualFold(null.literal, "NULL") {
			return Field{}, fmt.Errorf("schema: expected NULL after NOT at position %d", null.pos)
		}
		f.Nullable = false
	}

	return f, nil
}

func normalizeType(name string) (FieldType, error) {
	switch strings.ToUpper(name) {
	case "STRING", "TEXT", "VARCHAR":
		return TypeString, nil
	case "INT", "INTEGER":
		return TypeInt, nil
	case "BIGINT", "LONG":
		return TypeBigInt, nil
	case "DOUBLE", "FLOAT", "REAL":
		return TypeDouble, nil
	case "BOOLEAN", "BOOL":
		return TypeBoolean, nil
	case "STRUCT":
		return TypeStruct, nil
	}
	return "", fmt.Errorf("unsupported type %q", name)
}
