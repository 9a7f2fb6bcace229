package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	snapshot := map[string]any{
		"total_amount": 3000.0,
		"supplier": map[string]any{
			"supplier_code": "SUP-001",
			"country":       "PH",
		},
	}

	assert.Equal(t, 3000.0, Resolve(snapshot, "total_amount"))
	assert.Equal(t, "SUP-001", Resolve(snapshot, "supplier.supplier_code"))
	assert.Nil(t, Resolve(snapshot, "supplier.missing"))
	assert.Nil(t, Resolve(snapshot, "missing.deeper"))
	assert.Nil(t, Resolve(snapshot, "total_amount.not_a_map"))
	assert.Nil(t, Resolve(snapshot, ""))
}

func TestEvaluateOperators(t *testing.T) {
	tests := []struct {
		name   string
		entity any
		op     Operator
		cond   Value
		want   bool
	}{
		{"equals numeric", 3000.0, OpEquals, ScalarValue(3000), true},
		{"equals numeric string", "3000", OpEquals, ScalarValue(3000), true},
		{"equals string", "SUP-001", OpEquals, ScalarValue("SUP-001"), true},
		{"equals mismatch", "SUP-001", OpEquals, ScalarValue("SUP-002"), false},
		{"not_equals", "SUP-001", OpNotEquals, ScalarValue("SUP-002"), true},
		{"not_equals same", 5, OpNotEquals, ScalarValue(5), false},

		{"in member", "store_12", OpIn, ListValue("store_11", "store_12"), true},
		{"in non-member", "store_99", OpIn, ListValue("store_11", "store_12"), false},
		{"in numeric member", 7.0, OpIn, ListValue(5, 7, 9), true},
		{"not_in member", "store_12", OpNotIn, ListValue("store_11", "store_12"), false},
		{"not_in non-member", "store_99", OpNotIn, ListValue("store_11"), true},

		{"greater_than true", 5001.0, OpGreaterThan, ScalarValue(5000), true},
		{"greater_than equal", 5000.0, OpGreaterThan, ScalarValue(5000), false},
		{"greater_than non-numeric entity", "abc", OpGreaterThan, ScalarValue(5000), false},
		{"less_than true", 4999.0, OpLessThan, ScalarValue(5000), true},
		{"less_than equal", 5000.0, OpLessThan, ScalarValue(5000), false},

		{"between inside", 3000.0, OpBetween, ListValue(1000, 5000), true},
		{"between lower bound", 1000.0, OpBetween, ListValue(1000, 5000), true},
		{"between upper bound", 5000.0, OpBetween, ListValue(1000, 5000), true},
		{"between outside", 6000.0, OpBetween, ListValue(1000, 5000), false},
		{"not_between outside", 6000.0, OpNotBetween, ListValue(1000, 5000), true},
		{"not_between inside", 3000.0, OpNotBetween, ListValue(1000, 5000), false},

		{"like substring", "Metro Manila Branch", OpLike, ScalarValue("Manila"), true},
		{"like prefix wildcard", "SUP-0042", OpLike, ScalarValue("SUP-%"), true},
		{"like suffix wildcard", "order_mass", OpLike, ScalarValue("%_mass"), true},
		{"like both wildcards", "xx-frozen-yy", OpLike, ScalarValue("%frozen%"), true},
		{"like no match", "SUP-0042", OpLike, ScalarValue("VND-%"), false},
		{"not_like", "SUP-0042", OpNotLike, ScalarValue("VND-%"), true},

		{"is_null on nil", nil, OpIsNull, Null(), true},
		{"is_null on value", "x", OpIsNull, Null(), false},
		{"is_not_null on value", "x", OpIsNotNull, Null(), true},
		{"is_not_null on nil", nil, OpIsNotNull, Null(), false},

		{"nil entity fails equals", nil, OpEquals, ScalarValue("x"), false},
		{"nil entity fails in", nil, OpIn, ListValue("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.entity, tt.op, tt.cond))
		})
	}
}

func TestValidateCondition(t *testing.T) {
	assert.NoError(t, ValidateCondition(OpEquals, ScalarValue("x")))
	assert.NoError(t, ValidateCondition(OpIn, ListValue("a", "b")))
	assert.NoError(t, ValidateCondition(OpBetween, ListValue(1, 2)))
	assert.NoError(t, ValidateCondition(OpIsNull, Null()))

	assert.Error(t, ValidateCondition(OpEquals, ListValue("x")))
	assert.Error(t, ValidateCondition(OpIn, ScalarValue("x")))
	assert.Error(t, ValidateCondition(OpIn, Value{Kind: KindList}))
	assert.Error(t, ValidateCondition(OpBetween, ListValue(1)))
	assert.Error(t, ValidateCondition(OpBetween, ListValue(1, 2, 3)))
	assert.Error(t, ValidateCondition(OpBetween, ListValue("a", "b")))
	assert.Error(t, ValidateCondition(Operator("bogus"), Null()))
}

func TestValueJSONRoundTrip(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`[1000, 5000]`), &v))
	assert.Equal(t, KindList, v.Kind)
	require.Len(t, v.Items, 2)
	assert.Equal(t, 1000.0, v.Items[0].Num)

	require.NoError(t, json.Unmarshal([]byte(`"regular"`), &v))
	assert.Equal(t, KindScalar, v.Kind)
	assert.Equal(t, "regular", v.Item.Text)

	require.NoError(t, json.Unmarshal([]byte(`null`), &v))
	assert.Equal(t, KindNull, v.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"k":"v"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`[[1]]`), &v))

	out, err := json.Marshal(ListValue(1000, 5000))
	require.NoError(t, err)
	assert.JSONEq(t, `[1000, 5000]`, string(out))
}
