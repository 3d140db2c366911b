package metadata

import (
	"encoding/json"
	"fmt"
)

// FromAny converts a Go value into a typed Value.
//
// Lists may only contain scalars; nested objects are rejected.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case float64:
		return Float(x), nil
	case float32:
		return Float(float64(x)), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return fromUint(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid metadata number %q", x.String())
		}
		return Float(f), nil
	case []Value:
		return listOf(len(x), func(i int) (Value, error) { return x[i], nil })
	case []any:
		return listOf(len(x), func(i int) (Value, error) { return FromAny(x[i]) })
	case []string:
		return listOf(len(x), func(i int) (Value, error) { return String(x[i]), nil })
	case []int:
		return listOf(len(x), func(i int) (Value, error) { return Int(int64(x[i])), nil })
	case []int64:
		return listOf(len(x), func(i int) (Value, error) { return Int(x[i]), nil })
	case []float64:
		return listOf(len(x), func(i int) (Value, error) { return Float(x[i]), nil })
	case []bool:
		return listOf(len(x), func(i int) (Value, error) { return Bool(x[i]), nil })
	default:
		return Value{}, fmt.Errorf("unsupported metadata value type %T", v)
	}
}

func fromUint(x uint64) (Value, error) {
	if x > 1<<63-1 {
		return Value{}, fmt.Errorf("metadata uint64 out of range: %d", x)
	}
	return Int(int64(x)), nil
}

func listOf(n int, at func(i int) (Value, error)) (Value, error) {
	arr := make([]Value, n)
	for i := range arr {
		v, err := at(i)
		if err != nil {
			return Value{}, err
		}
		if !v.IsScalar() {
			return Value{}, fmt.Errorf("metadata lists may only contain scalars, got %s", v.Kind)
		}
		arr[i] = v
	}
	return Array(arr...), nil
}

// DocumentFromAny converts a map[string]any document to a typed Document.
func DocumentFromAny(m map[string]any) (Document, error) {
	if m == nil {
		return nil, nil
	}
	d := make(Document, len(m))
	for k, v := range m {
		vv, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		d[k] = vv
	}
	return d, nil
}
