// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// EncodingDim is the length of a face encoding produced by the dlib-based encoder
	EncodingDim = 128

	// DefaultDistanceThreshold is the default maximum Euclidean distance for a match.
	// Lower values = stricter matching
	DefaultDistanceThreshold = 0.4

	// DefaultCameraID is the camera device index desktop clients open by default
	DefaultCameraID = 0

	// DuplicateSuggestionLimit is how many near identities are reported on enrollment
	DuplicateSuggestionLimit = 3
)

// Image constants
const (
	// MaxImageSize is the maximum dimension (width or height) of stored enrollment images
	MaxImageSize = 1280

	// JPEGQuality is used when re-encoding enrollment images
	JPEGQuality = 90
)

// Stats constants
const (
	// RecentScansLimit is the number of recent scans returned with statistics
	RecentScansLimit = 10
)
