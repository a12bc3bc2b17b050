package gallery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/wasl-gate/internal/descriptor"
	"github.com/kozaktomas/wasl-gate/internal/records"
)

const dims = 8

func vec(v float32) []float32 {
	out := make([]float32, dims)
	for i := range out {
		out[i] = v
	}
	return out
}

func participant(t *testing.T, id, name string, desc any) records.Participant {
	t.Helper()
	var raw json.RawMessage
	if desc != nil {
		b, err := json.Marshal(desc)
		require.NoError(t, err)
		raw = b
	}
	return records.Participant{ID: id, Name: name, FaceDescriptor: raw}
}

func testGallery(t *testing.T) (*Gallery, []Skipped) {
	t.Helper()
	g := New(dims, 0.6)
	skipped := g.Build([]records.Participant{
		participant(t, "p1", "karim  haddad", vec(0.1)),
		participant(t, "p2", "Nadia Saleh", vec(0.5)),
		participant(t, "p3", "Jiří Novák", map[string]float32{"0": 0.9, "1": 0.9, "2": 0.9, "3": 0.9, "4": 0.9, "5": 0.9, "6": 0.9, "7": 0.9}),
		participant(t, "p4", "No Face", nil),
		participant(t, "p5", "Short", []float32{0.1, 0.2}),
		participant(t, "p1", "Duplicate", vec(0.3)),
	})
	return g, skipped
}

func TestBuild_SkipsUnusableRecords(t *testing.T) {
	g, skipped := testGallery(t)

	assert.Equal(t, 3, g.Len())
	require.Len(t, skipped, 3)
	assert.Equal(t, "p4", skipped[0].ID)
	assert.Equal(t, "not enrolled", skipped[0].Reason)
	assert.Equal(t, "p5", skipped[1].ID)
	assert.Contains(t, skipped[1].Reason, "expected 8")
	assert.Equal(t, "duplicate id", skipped[2].Reason)

	assert.Equal(t, "Karim Haddad", g.Get("p1").Name)
	assert.Equal(t, descriptor.Descriptor(vec(0.9)), g.Get("p3").Descriptor, "object-encoded descriptors are normalized")
}

func TestSearch_ClosestFirst(t *testing.T) {
	g, _ := testGallery(t)

	matches, err := g.Search(vec(0.45), 3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "p2", matches[0].Entry.ID)
	assert.True(t, matches[0].Match)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
	}
}

func TestIdentify(t *testing.T) {
	g, _ := testGallery(t)

	m, ok, err := g.Identify(vec(0.1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1", m.Entry.ID)
	assert.InDelta(t, 0, m.Distance, 1e-6)

	// 2.0 per component is far from every enrolled face.
	_, ok, err = g.Identify(vec(2.0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSearch_Errors(t *testing.T) {
	g := New(dims, 0.6)
	_, err := g.Search(vec(0.1), 1)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = g.Search([]float32{1, 2}, 1)
	var dimErr *descriptor.DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, dims, dimErr.Expected)
}

func TestFindByName(t *testing.T) {
	g, _ := testGallery(t)

	found := g.FindByName("jiri novak")
	require.Len(t, found, 1)
	assert.Equal(t, "p3", found[0].ID)

	assert.Len(t, g.FindByName("KARIM-HADDAD"), 1)
	assert.Empty(t, g.FindByName("nobody"))
	assert.Empty(t, g.FindByName("  "))
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jan Novák", "jan novak"},
		{"jan-novak", "jan novak"},
		{"JOHN_DOE", "john doe"},
		{"  Žluťoučký   kůň ", "zlutoucky kun"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizeName(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Honza", "Honza"},
		{"Jiří", "Jiri"},
		{"naïve", "naive"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := RemoveDiacritics(tt.input); got != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
