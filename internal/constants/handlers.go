package constants

// Handler pagination constants
const (
	// DefaultHandlerPageSize is the page size for paginated handler endpoints
	DefaultHandlerPageSize = 100

	// MaxAttendancePageSize is the largest page of attendance records (report exports)
	MaxAttendancePageSize = 50000
)

// Real-time constants
const (
	// DefaultHubQueueSize is the per-subscriber outbound queue length
	DefaultHubQueueSize = 64

	// MaxClientMessageSize is the largest frame accepted from a WebSocket client
	MaxClientMessageSize = 512
)

// File upload constants
const (
	// MaxUploadSize is the maximum enrollment image upload size in bytes (20MB)
	MaxUploadSize = 20 << 20
)
