// Package descriptor decodes enrolled face descriptors into dense vectors.
//
// The record store hands descriptors back in whatever shape they were saved in:
// a JSON array, an object keyed by component index, or either of those encoded
// once more as a JSON string. Normalize accepts exactly those three shapes and
// rejects everything else instead of guessing.
package descriptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
)

var (
	// ErrEmpty is returned for missing or null descriptors.
	ErrEmpty = errors.New("descriptor is empty")
	// ErrMalformed is returned when the descriptor is not valid JSON or has non-numeric components.
	ErrMalformed = errors.New("descriptor is malformed")
	// ErrUnsupported is returned for encodings that are neither string, array nor object.
	ErrUnsupported = errors.New("unsupported descriptor encoding")
)

// Descriptor is a dense, ordered face descriptor.
type Descriptor []float32

// Encoding tags the shape a descriptor arrived in.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingString
	EncodingArray
	EncodingObject
)

func (e Encoding) String() string {
	switch e {
	case EncodingString:
		return "string"
	case EncodingArray:
		return "array"
	case EncodingObject:
		return "object"
	default:
		return "unknown"
	}
}

// DimensionError indicates a descriptor of unexpected length.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("descriptor dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Detect reports the encoding of a raw descriptor without decoding it.
func Detect(raw json.RawMessage) Encoding {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return EncodingUnknown
	}
	switch trimmed[0] {
	case '"':
		return EncodingString
	case '[':
		return EncodingArray
	case '{':
		return EncodingObject
	default:
		return EncodingUnknown
	}
}

// IsEmpty reports whether raw carries no descriptor at all (absent, null or "").
func IsEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`))
}

// Normalize decodes a descriptor given as a JSON string, array or object.
func Normalize(raw json.RawMessage) (Descriptor, error) {
	if IsEmpty(raw) {
		return nil, ErrEmpty
	}
	return normalize(bytes.TrimSpace(raw), true)
}

// NormalizeLength decodes a descriptor and checks it has exactly n components.
func NormalizeLength(raw json.RawMessage, n int) (Descriptor, error) {
	d, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(d) != n {
		return nil, &DimensionError{Expected: n, Actual: len(d)}
	}
	return d, nil
}

func normalize(data []byte, allowString bool) (Descriptor, error) {
	switch Detect(data) {
	case EncodingString:
		if !allowString {
			return nil, fmt.Errorf("%w: string inside string", ErrUnsupported)
		}
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		innerBytes := bytes.TrimSpace([]byte(inner))
		if len(innerBytes) == 0 {
			return nil, ErrEmpty
		}
		return normalize(innerBytes, false)
	case EncodingArray:
		return decodeArray(data)
	case EncodingObject:
		return decodeObject(data)
	default:
		if !json.Valid(data) {
			return nil, ErrMalformed
		}
		return nil, ErrUnsupported
	}
}

func decodeArray(data []byte) (Descriptor, error) {
	var values []*float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(values) == 0 {
		return nil, ErrEmpty
	}
	out := make(Descriptor, len(values))
	for i, v := range values {
		if v == nil {
			return nil, fmt.Errorf("%w: component %d is not a number", ErrMalformed, i)
		}
		c, ok := component(*v)
		if !ok {
			return nil, fmt.Errorf("%w: component %d is out of range", ErrMalformed, i)
		}
		out[i] = c
	}
	return out, nil
}

// component narrows v to float32; values that overflow are rejected.
func component(v float64) (float32, bool) {
	c := float32(v)
	if math.IsInf(float64(c), 0) || math.IsNaN(float64(c)) {
		return 0, false
	}
	return c, true
}

type objectEntry struct {
	key   string
	index uint32
	isIdx bool
	value float64
}

// decodeObject walks the object token by token so document order survives.
// Index-like keys come first in ascending order, then the remaining keys in the
// order they were written; a repeated key keeps its first position.
func decodeObject(data []byte) (Descriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var entries []objectEntry
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected key %v", ErrMalformed, tok)
		}

		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		num, ok := tok.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: component %q is not a number", ErrMalformed, key)
		}
		value, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: component %q: %w", ErrMalformed, key, err)
		}

		if pos, dup := seen[key]; dup {
			entries[pos].value = value
			continue
		}
		idx, isIdx := arrayIndex(key)
		seen[key] = len(entries)
		entries = append(entries, objectEntry{key: key, index: idx, isIdx: isIdx, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	if len(entries) == 0 {
		return nil, ErrEmpty
	}

	slices.SortStableFunc(entries, func(a, b objectEntry) int {
		switch {
		case a.isIdx && b.isIdx:
			return compareUint32(a.index, b.index)
		case a.isIdx:
			return -1
		case b.isIdx:
			return 1
		default:
			return 0
		}
	})

	out := make(Descriptor, len(entries))
	for i, e := range entries {
		c, ok := component(e.value)
		if !ok {
			return nil, fmt.Errorf("%w: component %q is out of range", ErrMalformed, e.key)
		}
		out[i] = c
	}
	return out, nil
}

// arrayIndex reports whether key is a canonical array index ("0", "17", never "07").
func arrayIndex(key string) (uint32, bool) {
	if key == "" || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == 1<<32-1 {
		return 0, false
	}
	return uint32(n), true
}

func compareUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
