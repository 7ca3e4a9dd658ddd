package vpsa

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Value is one weight or prototype entry: either a scalar or a fixed-length
// vector. The zero Value is the scalar 0.
type Value struct {
	scalar float64
	vec    []float64
	isVec  bool
}

// Scalar returns a scalar Value.
func Scalar(v float64) Value {
	return Value{scalar: v}
}

// Vector returns a vector Value. The slice is not copied.
func Vector(v []float64) Value {
	return Value{vec: v, isVec: true}
}

// IsVector reports whether the value is a vector.
func (v Value) IsVector() bool { return v.isVec }

// Float returns the scalar component. Meaningless for vectors.
func (v Value) Float() float64 { return v.scalar }

// Vec returns the vector component. Nil for scalars.
func (v Value) Vec() []float64 { return v.vec }

// Len returns the vector length, or 0 for scalars.
func (v Value) Len() int { return len(v.vec) }

// Scale returns the value multiplied by f, elementwise for vectors.
func (v Value) Scale(f float64) Value {
	if !v.isVec {
		return Scalar(v.scalar * f)
	}
	out := make([]float64, len(v.vec))
	for i, x := range v.vec {
		out[i] = x * f
	}
	return Vector(out)
}

// Add returns v + o. Mixing scalar and vector, or vectors of unequal length,
// is a shape mismatch.
func (v Value) Add(key string, o Value) (Value, error) {
	if v.isVec != o.isVec {
		return Value{}, &ShapeMismatchError{Key: key, Reason: "mixed scalar and vector values"}
	}
	if !v.isVec {
		return Scalar(v.scalar + o.scalar), nil
	}
	if len(v.vec) != len(o.vec) {
		return Value{}, &ShapeMismatchError{Key: key, WantLen: len(v.vec), GotLen: len(o.vec)}
	}
	out := make([]float64, len(v.vec))
	for i, x := range v.vec {
		out[i] = x + o.vec[i]
	}
	return Vector(out), nil
}

// MarshalJSON encodes scalars as numbers and vectors as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isVec {
		return json.Marshal(v.vec)
	}
	return json.Marshal(v.scalar)
}

// UnmarshalJSON accepts a JSON number or an array of numbers.
func (v *Value) UnmarshalJSON(data []byte) error {
	var vec []float64
	if err := json.Unmarshal(data, &vec); err == nil {
		*v = Vector(vec)
		return nil
	}
	var s float64
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("value must be a number or an array of numbers: %w", err)
	}
	*v = Scalar(s)
	return nil
}

// Weights is a named mapping of scalar-or-vector values. It represents both
// model weights and class prototypes on the wire.
type Weights map[string]Value

// ParseWeights decodes the serialized weight document a model carries.
// An empty document decodes to an empty map.
func ParseWeights(doc string) (Weights, error) {
	if doc == "" {
		return Weights{}, nil
	}
	var w Weights
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return nil, fmt.Errorf("parse weight document: %w", err)
	}
	if w == nil {
		w = Weights{}
	}
	return w, nil
}

// Encode serializes the mapping for transport to the ledger.
func (w Weights) Encode() (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode weight document: %w", err)
	}
	return string(data), nil
}

// Keys returns the mapping's keys in sorted order.
func (w Weights) Keys() []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
