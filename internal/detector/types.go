package detector

import (
	"context"
	"fmt"
)

// Point is a pixel coordinate in frame space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned face bounding box in frame space.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

func (b Box) String() string {
	return fmt.Sprintf("[%.0f,%.0f %.0fx%.0f]", b.X1, b.Y1, b.Width(), b.Height())
}

// Detection is one face found in a frame.
type Detection struct {
	Box        Box
	Score      float64
	Landmarks  []Point
	Descriptor []float32
}

// Model names a set of weights the engine must load before detecting.
type Model struct {
	Name string
	URI  string
}

// Engine is the face detection and description backend.
type Engine interface {
	// Ready reports whether the engine runtime is reachable and usable.
	Ready(ctx context.Context) error
	// LoadModel loads one model's weights.
	LoadModel(ctx context.Context, model Model) error
	// Detect finds faces in an encoded frame and describes each one.
	Detect(ctx context.Context, frame []byte) ([]Detection, error)
}

// Models builds the model list for names sharing a base URI.
func Models(baseURI string, names []string) []Model {
	models := make([]Model, 0, len(names))
	for _, name := range names {
		models = append(models, Model{Name: name, URI: baseURI})
	}
	return models
}
