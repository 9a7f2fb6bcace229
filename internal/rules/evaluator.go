package rules

import (
	"strings"

	"github.com/storeops/be-approvals/internal/apperrors"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
	OpNotBetween  Operator = "not_between"
	OpLike        Operator = "like"
	OpNotLike     Operator = "not_like"
	OpIsNull      Operator = "is_null"
	OpIsNotNull   Operator = "is_not_null"
)

// Resolve reads a dot-path (e.g. "supplier.supplier_code") from an entity
// snapshot. A missing or non-traversable path yields nil.
func Resolve(snapshot map[string]any, path string) any {
	if path == "" {
		return nil
	}

	var current any = snapshot
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// Evaluate applies one boolean condition to an entity attribute value.
// The condition operand is assumed well-formed for the operator; shape is
// enforced by ValidateCondition when the matrix is saved.
func Evaluate(entityValue any, op Operator, cond Value) bool {
	switch op {
	case OpIsNull:
		return entityValue == nil
	case OpIsNotNull:
		return entityValue != nil
	}

	if entityValue == nil {
		return false
	}
	ev := NewScalar(entityValue)

	switch op {
	case OpEquals:
		return looseEqual(ev, cond.Item)
	case OpNotEquals:
		return !looseEqual(ev, cond.Item)
	case OpIn:
		return contains(cond.Items, ev)
	case OpNotIn:
		return !contains(cond.Items, ev)
	case OpGreaterThan:
		return ev.IsNum && cond.Item.IsNum && ev.Num > cond.Item.Num
	case OpLessThan:
		return ev.IsNum && cond.Item.IsNum && ev.Num < cond.Item.Num
	case OpBetween:
		return inRange(ev, cond.Items)
	case OpNotBetween:
		return !inRange(ev, cond.Items)
	case OpLike:
		return likeMatch(ev.Text, cond.Item.Text)
	case OpNotLike:
		return !likeMatch(ev.Text, cond.Item.Text)
	}
	return false
}

// ValidateCondition checks that the operand shape fits the operator. This is
// the save-time configuration check; Evaluate assumes it has passed.
func ValidateCondition(op Operator, cond Value) error {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpLike, OpNotLike:
		if cond.Kind != KindScalar {
			return apperrors.InvalidInput("condition_value", "operator "+string(op)+" requires a scalar value")
		}
	case OpIn, OpNotIn:
		if cond.Kind != KindList || len(cond.Items) == 0 {
			return apperrors.InvalidInput("condition_value", "operator "+string(op)+" requires a non-empty array")
		}
	case OpBetween, OpNotBetween:
		if cond.Kind != KindList || len(cond.Items) != 2 {
			return apperrors.InvalidInput("condition_value", "operator "+string(op)+" requires a [min, max] array")
		}
		if !cond.Items[0].IsNum || !cond.Items[1].IsNum {
			return apperrors.InvalidInput("condition_value", "operator "+string(op)+" requires numeric bounds")
		}
	case OpIsNull, OpIsNotNull:
		// value ignored
	default:
		return apperrors.InvalidInput("condition_operator", "unknown operator: "+string(op))
	}
	return nil
}

// looseEqual compares numerically when both sides parse as numbers,
// otherwise as strings.
func looseEqual(a, b Scalar) bool {
	if a.IsNum && b.IsNum {
		return a.Num == b.Num
	}
	return a.Text == b.Text
}

func contains(items []Scalar, v Scalar) bool {
	for _, item := range items {
		if looseEqual(v, item) {
			return true
		}
	}
	return false
}

// inRange tests min <= v <= max, bounds inclusive.
func inRange(v Scalar, bounds []Scalar) bool {
	if !v.IsNum || len(bounds) != 2 {
		return false
	}
	return v.Num >= bounds[0].Num && v.Num <= bounds[1].Num
}

// likeMatch implements SQL-style LIKE with % wildcards. A pattern without
// any % is treated as a substring match.
func likeMatch(text, pattern string) bool {
	if pattern == "" {
		return text == ""
	}
	if !strings.Contains(pattern, "%") {
		return strings.Contains(text, pattern)
	}

	parts := strings.Split(pattern, "%")

	// Anchored prefix
	if parts[0] != "" {
		if !strings.HasPrefix(text, parts[0]) {
			return false
		}
		text = text[len(parts[0]):]
	}
	// Anchored suffix
	last := parts[len(parts)-1]
	if last != "" {
		if !strings.HasSuffix(text, last) {
			return false
		}
		text = text[:len(text)-len(last)]
	}
	// Interior fragments must appear in order
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(text, part)
		if idx < 0 {
			return false
		}
		text = text[idx+len(part):]
	}
	return true
}
