package metadata

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidFilter is matched by every *FilterParseError.
var ErrInvalidFilter = errors.New("invalid filter")

// FilterParseError is returned when a filter expression is malformed.
type FilterParseError struct {
	// Path locates the offending clause, e.g. "year.$gte" or "$or[1].genre".
	Path   string
	Reason string
}

func (e *FilterParseError) Error() string {
	if e.Path == "" {
		return "filter parse error: " + e.Reason
	}
	return fmt.Sprintf("filter parse error at %s: %s", e.Path, e.Reason)
}

// Unwrap allows errors.Is(err, ErrInvalidFilter).
func (e *FilterParseError) Unwrap() error { return ErrInvalidFilter }

func parseErr(path, format string, args ...any) error {
	return &FilterParseError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Compile validates a filter expression and turns it into a Filter.
//
// A nil or empty expression compiles to a filter that matches everything.
// When schema declares a field, operand types are checked against it.
func Compile(expr map[string]any, schema Schema) (*Filter, error) {
	return compileObject("", expr, schema)
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr map[string]any) *Filter {
	f, err := Compile(expr, nil)
	if err != nil {
		panic(err)
	}
	return f
}

// CanonicalKey returns a deterministic string for expr, suitable as a cache
// key. Two expressions share a key only if they compile identically: object
// keys are sorted and every operand is encoded with its compiled kind. ok is
// false when an operand has no metadata representation; such expressions
// must not be cached.
func CanonicalKey(expr map[string]any) (key string, ok bool) {
	var sb strings.Builder
	if !writeCanonical(&sb, expr) {
		return "", false
	}
	return sb.String(), true
}

func writeCanonical(sb *strings.Builder, v any) bool {
	if obj, isObject := v.(map[string]any); isObject {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			if !writeCanonical(sb, obj[k]) {
				return false
			}
		}
		sb.WriteByte('}')
		return true
	}
	if _, isValue := v.(Value); !isValue {
		if items, isList := asList(v); isList {
			sb.WriteByte('[')
			for i, item := range items {
				if i > 0 {
					sb.WriteByte(',')
				}
				if !writeCanonical(sb, item) {
					return false
				}
			}
			sb.WriteByte(']')
			return true
		}
	}
	val, err := FromAny(v)
	if err != nil {
		return false
	}
	return writeValue(sb, val)
}

func writeValue(sb *strings.Builder, v Value) bool {
	switch v.Kind {
	case KindNull:
		sb.WriteString("null")
	case KindInt:
		sb.WriteString("i:" + strconv.FormatInt(v.I64, 10))
	case KindFloat:
		sb.WriteString("f:" + strconv.FormatUint(math.Float64bits(v.F64), 16))
	case KindString:
		sb.WriteString("s:" + strconv.Quote(v.S))
	case KindBool:
		sb.WriteString("b:" + strconv.FormatBool(v.B))
	case KindArray:
		sb.WriteString("a[")
		for i := range v.A {
			if i > 0 {
				sb.WriteByte(',')
			}
			if !writeValue(sb, v.A[i]) {
				return false
			}
		}
		sb.WriteByte(']')
	default:
		return false
	}
	return true
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func compileObject(path string, expr map[string]any, schema Schema) (*Filter, error) {
	keys := make([]string, 0, len(expr))
	for k := range expr {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &Filter{}
	for _, k := range keys {
		v := expr[k]
		var (
			child *Filter
			err   error
		)
		switch {
		case k == "$and" || k == "$or":
			child, err = compileLogical(join(path, k), k, v, schema)
		case strings.HasPrefix(k, "$"):
			return nil, parseErr(join(path, k), "unknown top-level operator %q", k)
		case k == "":
			return nil, parseErr(path, "empty field name")
		default:
			child, err = compileField(join(path, k), k, v, schema)
		}
		if err != nil {
			return nil, err
		}
		out.And = append(out.And, child)
	}

	if len(out.And) == 1 {
		return out.And[0], nil
	}
	return out, nil
}

func compileLogical(path, op string, v any, schema Schema) (*Filter, error) {
	items, ok := asList(v)
	if !ok {
		return nil, parseErr(path, "%s expects a list of filters", op)
	}
	if len(items) == 0 {
		return nil, parseErr(path, "%s expects at least one filter", op)
	}

	children := make([]*Filter, 0, len(items))
	for i, item := range items {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, parseErr(fmt.Sprintf("%s[%d]", path, i), "expected an object, got %T", item)
		}
		c, err := compileObject(fmt.Sprintf("%s[%d]", path, i), sub, schema)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}

	if op == "$or" {
		return &Filter{Or: children}, nil
	}
	return &Filter{And: children}, nil
}

func compileField(path, field string, v any, schema Schema) (*Filter, error) {
	ops, isObject := v.(map[string]any)
	if !isObject {
		if _, isList := asList(v); isList {
			return nil, parseErr(path, "list operands require $in or $nin")
		}
		return compilePredicate(path, field, OpEqual, v, schema)
	}
	if len(ops) == 0 {
		return nil, parseErr(path, "empty operator object")
	}

	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	children := make([]*Filter, 0, len(names))
	for _, name := range names {
		c, err := compilePredicate(join(path, name), field, Operator(name), ops[name], schema)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &Filter{And: children}, nil
}

func compilePredicate(path, field string, op Operator, operand any, schema Schema) (*Filter, error) {
	declared, hasType := schema[field]

	switch op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		val, err := scalarOperand(path, operand)
		if err != nil {
			return nil, err
		}
		if op.isRange() && !val.IsNumber() && val.Kind != KindString {
			return nil, parseErr(path, "%s requires a number or string operand, got %s", op, val.Kind)
		}
		if hasType && !operandAllowed(declared, op, val.Kind) {
			return nil, parseErr(path, "%s operand of type %s cannot be compared with %s field %q", op, val.Kind, declared, field)
		}
		return leaf(field, op, val), nil

	case OpIn, OpNotIn:
		items, ok := asList(operand)
		if !ok {
			return nil, parseErr(path, "%s expects a list, got %T", op, operand)
		}
		vals := make([]Value, 0, len(items))
		for i, item := range items {
			val, err := scalarOperand(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			if hasType && !operandAllowed(declared, op, val.Kind) {
				return nil, parseErr(path, "%s element of type %s cannot be compared with %s field %q", op, val.Kind, declared, field)
			}
			vals = append(vals, val)
		}
		return &Filter{Predicate: &Predicate{Field: field, Operator: op, Values: vals}}, nil

	default:
		return nil, parseErr(path, "unknown operator %q", string(op))
	}
}

func scalarOperand(path string, operand any) (Value, error) {
	if _, isObject := operand.(map[string]any); isObject {
		return Value{}, parseErr(path, "operand must be a scalar, got an object")
	}
	val, err := FromAny(operand)
	if err != nil {
		return Value{}, parseErr(path, "%v", err)
	}
	if !val.IsScalar() {
		return Value{}, parseErr(path, "operand must be a string, number or bool, got %s", val.Kind)
	}
	return val, nil
}

// asList accepts []any and typed slices such as []string or []float64.
func asList(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	if items, ok := v.([]map[string]any); ok {
		out := make([]any, len(items))
		for i := range items {
			out[i] = items[i]
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
