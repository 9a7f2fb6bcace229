package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind discriminates the closed set of condition operand shapes.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindScalar
	KindList
)

// Scalar is one comparison operand. Text always holds the string form;
// Number/IsNum carry the parsed numeric form when one exists, so loose
// numeric-or-string equality can be computed without re-parsing.
type Scalar struct {
	Text  string
	Num   float64
	IsNum bool
}

// NewScalar builds a Scalar from a raw JSON-decoded value.
func NewScalar(v any) Scalar {
	switch t := v.(type) {
	case float64:
		return Scalar{Text: strconv.FormatFloat(t, 'f', -1, 64), Num: t, IsNum: true}
	case int:
		return Scalar{Text: strconv.Itoa(t), Num: float64(t), IsNum: true}
	case int64:
		return Scalar{Text: strconv.FormatInt(t, 10), Num: float64(t), IsNum: true}
	case bool:
		return Scalar{Text: strconv.FormatBool(t)}
	case string:
		s := Scalar{Text: t}
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			s.Num = n
			s.IsNum = true
		}
		return s
	default:
		return Scalar{Text: fmt.Sprintf("%v", v)}
	}
}

// Value is a condition operand as stored in matrix configuration:
// null, a single scalar, or a list of scalars. Nothing else is representable.
type Value struct {
	Kind  ValueKind
	Item  Scalar
	Items []Scalar
}

// Null returns the null operand.
func Null() Value {
	return Value{Kind: KindNull}
}

// ScalarValue wraps a single raw value.
func ScalarValue(v any) Value {
	return Value{Kind: KindScalar, Item: NewScalar(v)}
}

// ListValue wraps a list of raw values.
func ListValue(vs ...any) Value {
	items := make([]Scalar, 0, len(vs))
	for _, v := range vs {
		items = append(items, NewScalar(v))
	}
	return Value{Kind: KindList, Items: items}
}

// UnmarshalJSON decodes a JSON null / scalar / array into the closed shape.
// Nested arrays and objects are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = Null()
	case []any:
		items := make([]Scalar, 0, len(t))
		for _, el := range t {
			switch el.(type) {
			case []any, map[string]any:
				return fmt.Errorf("condition value: nested %T not allowed", el)
			}
			items = append(items, NewScalar(el))
		}
		*v = Value{Kind: KindList, Items: items}
	case map[string]any:
		return fmt.Errorf("condition value: object not allowed")
	default:
		*v = ScalarValue(t)
	}
	return nil
}

// MarshalJSON encodes the operand back to JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindScalar:
		return json.Marshal(scalarJSON(v.Item))
	case KindList:
		out := make([]any, 0, len(v.Items))
		for _, s := range v.Items {
			out = append(out, scalarJSON(s))
		}
		return json.Marshal(out)
	}
	return nil, fmt.Errorf("condition value: unknown kind %d", v.Kind)
}

func scalarJSON(s Scalar) any {
	if s.IsNum {
		return s.Num
	}
	return s.Text
}
