package metadata

import "slices"

// Operator is a comparison operator in a filter predicate.
type Operator string

const (
	OpEqual        Operator = "$eq"
	OpNotEqual     Operator = "$ne"
	OpGreaterThan  Operator = "$gt"
	OpGreaterEqual Operator = "$gte"
	OpLessThan     Operator = "$lt"
	OpLessEqual    Operator = "$lte"
	OpIn           Operator = "$in"
	OpNotIn        Operator = "$nin"
)

func (op Operator) isRange() bool {
	switch op {
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		return true
	}
	return false
}

func (op Operator) isSet() bool {
	return op == OpIn || op == OpNotIn
}

// Predicate compares a single document field against an operand.
type Predicate struct {
	Field    string
	Operator Operator
	// Value is the operand for scalar operators.
	Value Value
	// Values is the operand for $in and $nin.
	Values []Value
}

// Matches reports whether doc satisfies the predicate.
func (p *Predicate) Matches(doc Document) bool {
	field, exists := doc[p.Field]
	if !exists {
		return false
	}

	switch p.Operator {
	case OpEqual:
		return valueEquals(field, p.Value)
	case OpNotEqual:
		return !valueEquals(field, p.Value)
	case OpIn:
		return valueIn(field, p.Values)
	case OpNotIn:
		return !valueIn(field, p.Values)
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		c, ok := compareValues(field, p.Value)
		if !ok {
			return false
		}
		switch p.Operator {
		case OpGreaterThan:
			return c > 0
		case OpGreaterEqual:
			return c >= 0
		case OpLessThan:
			return c < 0
		default:
			return c <= 0
		}
	default:
		return false
	}
}

// Filter is a compiled filter tree. Exactly one of Predicate, And or Or is
// set; the zero Filter matches every document.
type Filter struct {
	Predicate *Predicate
	And       []*Filter
	Or        []*Filter
}

// Matches reports whether doc satisfies the filter. It is pure and total.
func (f *Filter) Matches(doc Document) bool {
	if f == nil {
		return true
	}
	switch {
	case f.Predicate != nil:
		return f.Predicate.Matches(doc)
	case len(f.Or) > 0:
		for _, c := range f.Or {
			if c.Matches(doc) {
				return true
			}
		}
		return false
	default:
		for _, c := range f.And {
			if !c.Matches(doc) {
				return false
			}
		}
		return true
	}
}

// IsEmpty reports whether the filter accepts every document.
func (f *Filter) IsEmpty() bool {
	return f == nil || (f.Predicate == nil && len(f.And) == 0 && len(f.Or) == 0)
}

// Conjuncts returns the predicates that must all hold for the filter to
// match, flattening nested AND nodes. Predicates below an OR are skipped.
func (f *Filter) Conjuncts() []*Predicate {
	if f == nil {
		return nil
	}
	if f.Predicate != nil {
		return []*Predicate{f.Predicate}
	}
	if len(f.Or) > 0 {
		return nil
	}
	var out []*Predicate
	for _, c := range f.And {
		out = append(out, c.Conjuncts()...)
	}
	return out
}

func leaf(field string, op Operator, v Value) *Filter {
	return &Filter{Predicate: &Predicate{Field: field, Operator: op, Value: v}}
}

// Eq matches documents whose field equals v.
func Eq(field string, v Value) *Filter { return leaf(field, OpEqual, v) }

// Ne matches documents whose field exists and differs from v.
func Ne(field string, v Value) *Filter { return leaf(field, OpNotEqual, v) }

// Gt matches documents whose field is greater than v.
func Gt(field string, v Value) *Filter { return leaf(field, OpGreaterThan, v) }

// Gte matches documents whose field is greater than or equal to v.
func Gte(field string, v Value) *Filter { return leaf(field, OpGreaterEqual, v) }

// Lt matches documents whose field is less than v.
func Lt(field string, v Value) *Filter { return leaf(field, OpLessThan, v) }

// Lte matches documents whose field is less than or equal to v.
func Lte(field string, v Value) *Filter { return leaf(field, OpLessEqual, v) }

// In matches documents whose field equals any of vs.
func In(field string, vs ...Value) *Filter {
	return &Filter{Predicate: &Predicate{Field: field, Operator: OpIn, Values: slices.Clone(vs)}}
}

// NotIn matches documents whose field exists and equals none of vs.
func NotIn(field string, vs ...Value) *Filter {
	return &Filter{Predicate: &Predicate{Field: field, Operator: OpNotIn, Values: slices.Clone(vs)}}
}

// And matches documents accepted by every sub-filter.
func And(fs ...*Filter) *Filter { return &Filter{And: fs} }

// Or matches documents accepted by any sub-filter.
func Or(fs ...*Filter) *Filter { return &Filter{Or: fs} }
