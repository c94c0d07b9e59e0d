// Package va - Driver layer for VA-API video surfaces and video processing.
//
// The Driver interface mirrors the subset of libva the surface package needs:
// display lifecycle, processing config/context, surface allocation, image
// derivation and mapping, and the begin/render/end picture sequence used for
// hardware scaling and colour conversion. Two implementations exist: LibVA,
// which binds libva.so.2 at runtime through purego, and SoftwareDriver, which
// keeps surfaces in host memory.
package va

import "github.com/nvr-ai/go-va/fourcc"

// Display is an opaque VADisplay handle.
type Display uintptr

// SurfaceID identifies a surface allocated on a display.
type SurfaceID uint32

// ConfigID identifies a processing configuration.
type ConfigID uint32

// ContextID identifies a processing context.
type ContextID uint32

// BufferID identifies a driver buffer.
type BufferID uint32

// ImageID identifies an image derived from a surface.
type ImageID uint32

// InvalidID is VA_INVALID_ID, valid for every ID type.
const InvalidID = 0xffffffff

// Filter flags for ProcParams.FilterFlags (VA_FILTER_SCALING_*).
const (
	FilterScalingDefault uint32 = 0x00000000
	FilterScalingFast    uint32 = 0x00000100
	FilterScalingHQ      uint32 = 0x00000200
)

// Operation names reported in Error.Op. They match the libva entry points.
const (
	OpGetDisplay      = "vaGetDisplayDRM"
	OpInitialize      = "vaInitialize"
	OpTerminate       = "vaTerminate"
	OpCreateConfig    = "vaCreateConfig"
	OpDestroyConfig   = "vaDestroyConfig"
	OpCreateContext   = "vaCreateContext"
	OpDestroyContext  = "vaDestroyContext"
	OpCreateSurfaces  = "vaCreateSurfaces"
	OpDestroySurfaces = "vaDestroySurfaces"
	OpSyncSurface     = "vaSyncSurface"
	OpDeriveImage     = "vaDeriveImage"
	OpMapBuffer       = "vaMapBuffer"
	OpUnmapBuffer     = "vaUnmapBuffer"
	OpDestroyImage    = "vaDestroyImage"
	OpCreateBuffer    = "vaCreateBuffer"
	OpDestroyBuffer   = "vaDestroyBuffer"
	OpBeginPicture    = "vaBeginPicture"
	OpRenderPicture   = "vaRenderPicture"
	OpEndPicture      = "vaEndPicture"
)

// Rect is a VARectangle.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ImageInfo describes a surface derived into a CPU-mappable image (VAImage).
type ImageInfo struct {
	ID        ImageID
	Buffer    BufferID
	Format    fourcc.FourCC
	Width     int
	Height    int
	DataSize  int
	NumPlanes int
	Pitches   [3]int
	Offsets   [3]int
}

// AlignedHeight returns the number of luma rows the driver reserved before the
// first chroma plane, which can exceed Height for 4:2:0 layouts.
func (i ImageInfo) AlignedHeight() int {
	if i.NumPlanes < 2 || i.Pitches[0] == 0 {
		return i.Height
	}
	return i.Offsets[1] / i.Pitches[0]
}

// ProcParams is the subset of VAProcPipelineParameterBuffer used for scaling and
// colour conversion.
type ProcParams struct {
	// Surface is the source surface.
	Surface SurfaceID
	// SurfaceRegion is the source crop. Nil means the whole surface.
	SurfaceRegion *Rect
	// OutputRegion is where the scaled source lands on the target. Nil means the
	// whole target.
	OutputRegion *Rect
	// BackgroundColor is the ARGB fill for target pixels outside OutputRegion.
	BackgroundColor uint32
	// FilterFlags selects the scaling quality.
	FilterFlags uint32
}

// MessageHandler receives driver diagnostic messages. Every handler registered
// on a display receives its messages. Handlers must not alter control flow.
type MessageHandler interface {
	DriverError(message string)
	DriverInfo(message string)
}

// Driver is the hardware abstraction the surface package is written against.
// Every method maps to one libva call; failures are returned as *Error.
type Driver interface {
	// Name identifies the driver in logs.
	Name() string

	// OpenDisplay acquires and initializes a new display connection.
	OpenDisplay() (Display, error)
	// Terminate closes a display opened with OpenDisplay.
	Terminate(d Display) error
	// SetMessageHandler adds h to the receivers of the display's error and
	// info messages. Handlers already registered on the display stay.
	SetMessageHandler(d Display, h MessageHandler) HandlerID
	// ClearMessageHandler removes the registration id of the display only.
	ClearMessageHandler(d Display, id HandlerID)

	// CreateConfig creates a video processing configuration.
	CreateConfig(d Display) (ConfigID, error)
	DestroyConfig(d Display, c ConfigID) error
	// CreateContext creates a processing context on a configuration.
	CreateContext(d Display, c ConfigID) (ContextID, error)
	DestroyContext(d Display, c ContextID) error

	CreateSurface(d Display, width, height int, format fourcc.FourCC) (SurfaceID, error)
	DestroySurface(d Display, s SurfaceID) error
	// SyncSurface blocks until all pending operations on the surface complete.
	SyncSurface(d Display, s SurfaceID) error

	// DeriveImage exposes the surface memory as an image without copying.
	DeriveImage(d Display, s SurfaceID) (ImageInfo, error)
	// MapBuffer maps size bytes of a buffer into host memory.
	MapBuffer(d Display, b BufferID, size int) ([]byte, error)
	UnmapBuffer(d Display, b BufferID) error
	DestroyImage(d Display, i ImageID) error

	// CreateProcPipelineBuffer creates a VAProcPipelineParameterBuffer.
	CreateProcPipelineBuffer(d Display, c ContextID, p ProcParams) (BufferID, error)
	DestroyBuffer(d Display, b BufferID) error

	BeginPicture(d Display, c ContextID, target SurfaceID) error
	RenderPicture(d Display, c ContextID, buffers ...BufferID) error
	EndPicture(d Display, c ContextID) error
}
