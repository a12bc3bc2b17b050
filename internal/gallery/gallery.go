// Package gallery indexes the enrolled participants' face descriptors so a
// probe face can be matched against everyone on file at once.
package gallery

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/wasl-gate/internal/constants"
	"github.com/kozaktomas/wasl-gate/internal/descriptor"
	"github.com/kozaktomas/wasl-gate/internal/detector"
	"github.com/kozaktomas/wasl-gate/internal/records"
)

// ErrEmpty is returned when searching a gallery with nothing enrolled.
var ErrEmpty = errors.New("gallery is empty")

// Entry is one enrolled participant.
type Entry struct {
	ID         string
	Name       string
	Descriptor descriptor.Descriptor
}

// Skipped describes a record that could not be indexed.
type Skipped struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Match is a search hit.
type Match struct {
	Entry    *Entry
	Distance float64
	Match    bool
}

// Gallery wraps an HNSW graph over enrolled descriptors.
type Gallery struct {
	graph     *hnsw.Graph[string]
	entries   map[string]*Entry
	length    int
	threshold float64
	mu        sync.RWMutex
}

// New creates an empty gallery for descriptors of the given length.
// Matches are decided with threshold, the same rule the verification loop uses.
func New(length int, threshold float64) *Gallery {
	if length <= 0 {
		length = constants.DescriptorLength
	}
	if threshold <= 0 {
		threshold = constants.MatchThreshold
	}
	return &Gallery{
		entries:   make(map[string]*Entry),
		length:    length,
		threshold: threshold,
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = constants.GalleryMaxNeighbors
	g.Ml = 1.0 / float64(constants.GalleryMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the gallery contents with the enrolled participants.
// Records without a usable descriptor are skipped and reported.
func (g *Gallery) Build(participants []records.Participant) []Skipped {
	graph := newGraph()
	entries := make(map[string]*Entry, len(participants))
	var skipped []Skipped

	for i := range participants {
		p := &participants[i]
		key := p.ID
		if key == "" {
			key = fmt.Sprintf("#%d", i)
		}
		if !p.Enrolled() {
			skipped = append(skipped, Skipped{ID: key, Name: p.Name, Reason: "not enrolled"})
			continue
		}
		desc, err := descriptor.NormalizeLength(p.FaceDescriptor, g.length)
		if err != nil {
			skipped = append(skipped, Skipped{ID: key, Name: p.Name, Reason: err.Error()})
			continue
		}
		if _, dup := entries[key]; dup {
			skipped = append(skipped, Skipped{ID: key, Name: p.Name, Reason: "duplicate id"})
			continue
		}
		entries[key] = &Entry{ID: key, Name: DisplayName(p.Name), Descriptor: desc}
		graph.Add(hnsw.MakeNode(key, []float32(desc)))
	}

	g.mu.Lock()
	g.graph = graph
	g.entries = entries
	g.mu.Unlock()
	return skipped
}

// Len returns the number of indexed participants.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Length returns the descriptor length the gallery accepts.
func (g *Gallery) Length() int {
	return g.length
}

// Get returns the entry for id.
func (g *Gallery) Get(id string) *Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entries[id]
}

// Search returns up to k nearest participants, closest first.
func (g *Gallery) Search(query []float32, k int) ([]Match, error) {
	if len(query) != g.length {
		return nil, &descriptor.DimensionError{Expected: g.length, Actual: len(query)}
	}
	if k <= 0 {
		k = constants.GallerySearchK
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.graph == nil || len(g.entries) == 0 {
		return nil, ErrEmpty
	}

	neighbors := g.graph.Search(query, k)
	matches := make([]Match, 0, len(neighbors))
	for _, n := range neighbors {
		entry, ok := g.entries[n.Key]
		if !ok {
			continue
		}
		d := detector.Distance(query, entry.Descriptor)
		matches = append(matches, Match{Entry: entry, Distance: d, Match: detector.IsMatch(d, g.threshold)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches, nil
}

// Identify returns the closest participant if it is a match.
func (g *Gallery) Identify(query []float32) (Match, bool, error) {
	matches, err := g.Search(query, 1)
	if err != nil {
		return Match{}, false, err
	}
	if len(matches) == 0 || !matches[0].Match {
		return Match{}, false, nil
	}
	return matches[0], true, nil
}

// FindByName returns the entries whose name matches name, ignoring case and diacritics.
func (g *Gallery) FindByName(name string) []*Entry {
	want := NormalizeName(name)
	if want == "" {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Entry
	for _, e := range g.entries {
		if NormalizeName(e.Name) == want {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
