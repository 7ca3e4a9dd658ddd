package vpsa

import "fmt"

// ShapeMismatchError reports incompatible value shapes for a single key
// across contributing models: vectors of unequal length, or a scalar mixed
// with a vector.
type ShapeMismatchError struct {
	Key     string
	WantLen int
	GotLen  int
	Reason  string
}

func (e *ShapeMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("key %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("key %q: vector length mismatch: want %d, got %d", e.Key, e.WantLen, e.GotLen)
}

// EmptyGroupError reports a key whose contribution set turned out empty, so
// no mean can be taken for it.
type EmptyGroupError struct {
	Key string
}

func (e *EmptyGroupError) Error() string {
	return fmt.Sprintf("key %q: no contributing values to average", e.Key)
}
