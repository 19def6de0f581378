// Package graph defines the data model shared by the storage engine: node
// and edge identity, the tagged-union property value, and the three
// monotonic dictionary ID spaces. None of these types touch disk directly
// — encoding lives in storage — they are the vocabulary the rest of the
// engine is written against.
package graph

import "fmt"

// NodeID is a 64-bit node identity, strictly monotonic and never reused.
type NodeID uint64

// TxID is a 64-bit transaction identity, strictly monotonic.
type TxID uint64

// LabelID, ETypeID and PropKeyID are the three parallel monotonic
// dictionary ID spaces. IDs never shrink and names never change once
// assigned.
type LabelID uint32
type ETypeID uint32
type PropKeyID uint32

// Edge is the directed triple (src, etype, dst). Multi-edges with the same
// triple are forbidden.
type Edge struct {
	Src   NodeID
	EType ETypeID
	Dst   NodeID
}

// ValueKind discriminates the PropValue tagged union. Modeled as an
// explicit discriminated union rather than a runtime-typed `any` so the
// compiler, not a type switch at every call site, owns the variant set.
type ValueKind byte

const (
	KindNull ValueKind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindVector
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindVector:
		return "vector"
	default:
		return "unknown"
	}
}

// PropValue is the tagged-union property value: Null | Bool | Int64 |
// Float64 | String | Vector(float32[]).
type PropValue struct {
	Kind   ValueKind
	Bool   bool
	Int64  int64
	Float  float64
	Str    string
	Vector []float32
}

// Null returns the Null property value.
func Null() PropValue { return PropValue{Kind: KindNull} }

// BoolValue wraps a bool.
func BoolValue(b bool) PropValue { return PropValue{Kind: KindBool, Bool: b} }

// Int64Value wraps an int64.
func Int64Value(v int64) PropValue { return PropValue{Kind: KindInt64, Int64: v} }

// Float64Value wraps a float64.
func Float64Value(v float64) PropValue { return PropValue{Kind: KindFloat64, Float: v} }

// StringValue wraps a UTF-8 string.
func StringValue(s string) PropValue { return PropValue{Kind: KindString, Str: s} }

// VectorValue wraps a float32 vector.
func VectorValue(v []float32) PropValue {
	cp := make([]float32, len(v))
	copy(cp, v)
	return PropValue{Kind: KindVector, Vector: cp}
}

// Equal reports whether two property values carry the same kind and data.
func (v PropValue) Equal(other PropValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindInt64:
		return v.Int64 == other.Int64
	case KindFloat64:
		return v.Float == other.Float
	case KindString:
		return v.Str == other.Str
	case KindVector:
		if len(v.Vector) != len(other.Vector) {
			return false
		}
		for i := range v.Vector {
			if v.Vector[i] != other.Vector[i] {
				return false
			}
		}
		return true
	}
	return false
}

func (v PropValue) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt64:
		return fmt.Sprintf("%d", v.Int64)
	case KindFloat64:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	case KindVector:
		return fmt.Sprintf("vector[%d]", len(v.Vector))
	default:
		return "?"
	}
}

// NodeProp identifies a property on a node.
type NodeProp struct {
	Node NodeID
	Key  PropKeyID
}

// EdgeProp identifies a property on an edge.
type EdgeProp struct {
	Src   NodeID
	EType ETypeID
	Dst   NodeID
	Key   PropKeyID
}
