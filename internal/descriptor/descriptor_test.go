package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_EquivalentEncodings(t *testing.T) {
	array := `[0.25, -1.5, 3, 0.125]`
	object := `{"0": 0.25, "1": -1.5, "2": 3, "3": 0.125}`
	want := Descriptor{0.25, -1.5, 3, 0.125}

	inputs := map[string]string{
		"array":         array,
		"object":        object,
		"string array":  mustQuote(t, array),
		"string object": mustQuote(t, object),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := Normalize(json.RawMessage(in))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalize_ObjectOrdering(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Descriptor
	}{
		{
			name: "index keys sorted numerically",
			in:   `{"10": 3, "2": 2, "0": 1}`,
			want: Descriptor{1, 2, 3},
		},
		{
			name: "named keys keep document order after indices",
			in:   `{"b": 5, "1": 2, "a": 6, "0": 1}`,
			want: Descriptor{1, 2, 5, 6},
		},
		{
			name: "leading zero is not an index",
			in:   `{"01": 9, "1": 2, "0": 1}`,
			want: Descriptor{1, 2, 9},
		},
		{
			name: "duplicate key keeps first position and last value",
			in:   `{"x": 1, "y": 2, "x": 3}`,
			want: Descriptor{3, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(json.RawMessage(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"absent", ``, ErrEmpty},
		{"null", `null`, ErrEmpty},
		{"empty string", `""`, ErrEmpty},
		{"empty array", `[]`, ErrEmpty},
		{"empty object", `{}`, ErrEmpty},
		{"bare number", `42`, ErrUnsupported},
		{"boolean", `true`, ErrUnsupported},
		{"string in string", mustQuote(t, `"[1,2]"`), ErrUnsupported},
		{"garbage", `[1, 2`, ErrMalformed},
		{"not json", `nope`, ErrMalformed},
		{"string of garbage", `"[1, oops]"`, ErrMalformed},
		{"non-numeric element", `[1, "2"]`, ErrMalformed},
		{"non-numeric member", `{"0": 1, "1": "x"}`, ErrMalformed},
		{"nested member", `{"0": [1]}`, ErrMalformed},
		{"null element", `[1, null]`, ErrMalformed},
		{"null member", `{"0": 1, "1": null}`, ErrMalformed},
		{"element overflows float32", `[1e40, 0.1]`, ErrMalformed},
		{"member overflows float32", `{"0": 0.1, "1": -1e40}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(json.RawMessage(tt.in))
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestNormalizeLength(t *testing.T) {
	raw := json.RawMessage(uniformArray(128, 0.1))

	d, err := NormalizeLength(raw, 128)
	require.NoError(t, err)
	assert.Len(t, d, 128)
	assert.InDelta(t, 0.1, d[127], 1e-6)

	_, err = NormalizeLength(raw, 64)
	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 64, dimErr.Expected)
	assert.Equal(t, 128, dimErr.Actual)

	// Zero disables the check.
	d, err = NormalizeLength(raw, 0)
	require.NoError(t, err)
	assert.Len(t, d, 128)
}

func TestDetect(t *testing.T) {
	assert.Equal(t, EncodingArray, Detect(json.RawMessage(" [1]")))
	assert.Equal(t, EncodingObject, Detect(json.RawMessage(`{"0":1}`)))
	assert.Equal(t, EncodingString, Detect(json.RawMessage(`"[1]"`)))
	assert.Equal(t, EncodingUnknown, Detect(json.RawMessage(`1`)))
	assert.Equal(t, "object", EncodingObject.String())
}

func mustQuote(t *testing.T, s string) string {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b)
}

func uniformArray(n int, v float64) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
