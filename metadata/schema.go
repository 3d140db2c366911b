package metadata

import "fmt"

// FieldType defines the data type of a metadata field.
type FieldType uint8

const (
	FieldTypeAny FieldType = iota
	FieldTypeInt
	FieldTypeFloat
	FieldTypeString
	FieldTypeBool
	FieldTypeArray
)

// String returns the string representation of the FieldType.
func (t FieldType) String() string {
	switch t {
	case FieldTypeAny:
		return "any"
	case FieldTypeInt:
		return "int"
	case FieldTypeFloat:
		return "float"
	case FieldTypeString:
		return "string"
	case FieldTypeBool:
		return "bool"
	case FieldTypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// Schema declares the expected type of selected metadata fields.
// Undeclared fields accept any value.
type Schema map[string]FieldType

// Validate checks if the given metadata document conforms to the schema.
func (s Schema) Validate(doc Document) error {
	if s == nil {
		return nil
	}
	for k, v := range doc {
		expected, ok := s[k]
		if !ok {
			continue
		}
		if !acceptsKind(expected, v.Kind) {
			return fmt.Errorf("field %q has invalid type %s, expected %s", k, v.Kind, expected)
		}
	}
	return nil
}

func acceptsKind(t FieldType, k Kind) bool {
	if k == KindNull {
		return true
	}
	switch t {
	case FieldTypeAny:
		return true
	case FieldTypeInt:
		return k == KindInt
	case FieldTypeFloat:
		return k == KindFloat || k == KindInt
	case FieldTypeString:
		return k == KindString
	case FieldTypeBool:
		return k == KindBool
	case FieldTypeArray:
		return k == KindArray
	default:
		return false
	}
}

// operandAllowed reports whether an operand of kind k may be compared with a
// field declared as t using op.
func operandAllowed(t FieldType, op Operator, k Kind) bool {
	switch t {
	case FieldTypeAny:
		return true
	case FieldTypeInt, FieldTypeFloat:
		return k == KindInt || k == KindFloat
	case FieldTypeString:
		return k == KindString
	case FieldTypeBool:
		return k == KindBool && !op.isRange()
	case FieldTypeArray:
		return !op.isRange()
	default:
		return false
	}
}
