package graph

import "testing"

func TestPropValueEqual(t *testing.T) {
	cases := []struct {
		name  string
		a, b  PropValue
		equal bool
	}{
		{"null==null", Null(), Null(), true},
		{"bool same", BoolValue(true), BoolValue(true), true},
		{"bool diff", BoolValue(true), BoolValue(false), false},
		{"int64 same", Int64Value(7), Int64Value(7), true},
		{"int64 diff", Int64Value(7), Int64Value(8), false},
		{"string same", StringValue("x"), StringValue("x"), true},
		{"vector same", VectorValue([]float32{1, 2, 3}), VectorValue([]float32{1, 2, 3}), true},
		{"vector diff length", VectorValue([]float32{1, 2}), VectorValue([]float32{1, 2, 3}), false},
		{"vector diff value", VectorValue([]float32{1, 2}), VectorValue([]float32{1, 3}), false},
		{"kind mismatch", Int64Value(1), StringValue("1"), false},
	}
	for _, tc := range cases {
		if got := tc.a.Equal(tc.b); got != tc.equal {
			t.Errorf("%s: Equal() = %v, want %v", tc.name, got, tc.equal)
		}
	}
}

func TestVectorValueCopiesInput(t *testing.T) {
	src := []float32{1, 2, 3}
	v := VectorValue(src)
	src[0] = 99
	if v.Vector[0] != 1 {
		t.Fatalf("VectorValue aliased caller's slice: got %v", v.Vector)
	}
}

func TestValueKindString(t *testing.T) {
	if KindVector.String() != "vector" {
		t.Fatalf("KindVector.String() = %q", KindVector.String())
	}
	if ValueKind(99).String() != "unknown" {
		t.Fatalf("unknown kind should stringify to \"unknown\"")
	}
}
