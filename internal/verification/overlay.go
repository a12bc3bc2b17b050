package verification

import (
	"fmt"
	"math"

	"github.com/kozaktomas/wasl-gate/internal/constants"
	"github.com/kozaktomas/wasl-gate/internal/detector"
)

// Annotation is one face drawn on the overlay.
type Annotation struct {
	Box       detector.Box     `json:"box"`
	Label     string           `json:"label,omitempty"`
	Color     string           `json:"color,omitempty"`
	LineWidth int              `json:"lineWidth,omitempty"`
	Landmarks []detector.Point `json:"landmarks,omitempty"`
	Distance  float64          `json:"distance,omitempty"`
	Match     bool             `json:"match"`
}

// Annotations is everything drawn for one frame.
type Annotations struct {
	Frame  uint64       `json:"frame"`
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Items  []Annotation `json:"items"`
}

// Overlay is the drawing surface laid over the live video.
// Implementations must not call back into the Loop.
type Overlay interface {
	Clear()
	Draw(Annotations)
}

// labelled builds the annotation for a compared detection.
func labelled(d detector.Detection, distance float64, match bool) Annotation {
	a := Annotation{
		Box:       d.Box,
		LineWidth: constants.OverlayLineWidth,
		Match:     match,
	}
	// JSON has no infinity; a mismatched descriptor length leaves it unset.
	if !math.IsInf(distance, 0) {
		a.Distance = distance
	}
	if match {
		a.Label = fmt.Sprintf("Verified (%.2f)", 1-distance)
		a.Color = constants.MatchColor
	} else {
		a.Label = fmt.Sprintf("Not Verified (%.2f)", distance)
		a.Color = constants.MismatchColor
	}
	return a
}

// raw builds the display-only annotation: box and landmarks, no label.
func raw(d detector.Detection) Annotation {
	return Annotation{
		Box:       d.Box,
		LineWidth: constants.OverlayLineWidth,
		Landmarks: d.Landmarks,
	}
}

type nopOverlay struct{}

func (nopOverlay) Clear()           {}
func (nopOverlay) Draw(Annotations) {}
