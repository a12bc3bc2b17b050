// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face verification constants
const (
	// MatchThreshold is the maximum euclidean distance (exclusive) between a live
	// descriptor and the enrolled descriptor for the face to count as verified
	MatchThreshold = 0.6

	// DescriptorLength is the number of components in a face descriptor
	DescriptorLength = 128

	// PollInterval is how often the verification loop samples the camera
	PollInterval = 100 * time.Millisecond

	// VerifiedGracePeriod is how long the confirmation stays on screen before
	// the participant is sent into the call
	VerifiedGracePeriod = 1500 * time.Millisecond
)

// Overlay colors
const (
	// MatchColor is the box color for a verified face
	MatchColor = "#16a34a"

	// MismatchColor is the box color for a face that did not match
	MismatchColor = "#dc2626"

	// OverlayLineWidth is the stroke width for overlay boxes
	OverlayLineWidth = 2
)

// Camera constants
const (
	// CameraWidth is the nominal capture width
	CameraWidth = 640

	// CameraHeight is the nominal capture height
	CameraHeight = 480

	// CameraFrameTimeout is how long a webcam read waits for a frame, in seconds
	CameraFrameTimeout = 1

	// MaxFramesPerSecond caps how many frames a browser may push per second
	MaxFramesPerSecond = 15

	// MaxFrameSize is the maximum size of a single pushed frame in bytes (4MB)
	MaxFrameSize = 4 << 20
)

// Bootstrap constants
const (
	// BootstrapTimeout bounds the shared engine and model load
	BootstrapTimeout = 2 * time.Minute
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// Gallery constants
const (
	// GalleryMaxNeighbors (M) is the maximum number of neighbors per node in the
	// enrolled face index
	GalleryMaxNeighbors = 16

	// GallerySearchK is how many candidates are pulled from the index per query
	GallerySearchK = 5
)
