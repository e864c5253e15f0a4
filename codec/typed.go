package codec

// Typed wraps a Codec with a concrete type, so call sites get compile-time
// checked encoding instead of passing any.
type Typed[T any] struct {
	codec Codec
}

// NewTyped creates a Typed codec for T. A nil codec falls back to Default.
func NewTyped[T any](c Codec) Typed[T] {
	if c == nil {
		c = Default
	}
	return Typed[T]{codec: c}
}

// Marshal serializes the typed value.
func (t Typed[T]) Marshal(v T) ([]byte, error) {
	return t.codec.Marshal(v)
}

// Unmarshal deserializes data into a value of type T.
func (t Typed[T]) Unmarshal(data []byte) (T, error) {
	var out T
	if err := t.codec.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Name returns the name of the underlying codec.
func (t Typed[T]) Name() string { return t.codec.Name() }
