//go:build linux

package va

import (
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-va/fourcc"
)

var (
	libvaOnce    sync.Once
	libvaInitErr error

	messageCallbacksOnce sync.Once
	errorCallbackPtr     uintptr
	infoCallbackPtr      uintptr

	// callbackMu orders callback installation against handler registration.
	callbackMu sync.Mutex
)

// libva function pointers
var (
	vaGetDisplayDRM    func(fd int32) uintptr
	vaInitialize       func(dpy uintptr, major, minor *int32) int32
	vaTerminate        func(dpy uintptr) int32
	vaSetErrorCallback func(dpy uintptr, cb uintptr, userCtx uintptr) uintptr
	vaSetInfoCallback  func(dpy uintptr, cb uintptr, userCtx uintptr) uintptr

	vaCreateConfig   func(dpy uintptr, profile, entrypoint int32, attribs unsafe.Pointer, numAttribs int32, config *uint32) int32
	vaDestroyConfig  func(dpy uintptr, config uint32) int32
	vaCreateContext  func(dpy uintptr, config uint32, width, height, flag int32, targets *uint32, numTargets int32, context *uint32) int32
	vaDestroyContext func(dpy uintptr, context uint32) int32

	vaCreateSurfaces  func(dpy uintptr, format, width, height uint32, surfaces *uint32, numSurfaces uint32, attribs *vaSurfaceAttrib, numAttribs uint32) int32
	vaDestroySurfaces func(dpy uintptr, surfaces *uint32, numSurfaces int32) int32
	vaSyncSurface     func(dpy uintptr, surface uint32) int32

	vaDeriveImage  func(dpy uintptr, surface uint32, image *vaImage) int32
	vaMapBuffer    func(dpy uintptr, buf uint32, pbuf *unsafe.Pointer) int32
	vaUnmapBuffer  func(dpy uintptr, buf uint32) int32
	vaDestroyImage func(dpy uintptr, image uint32) int32

	vaCreateBuffer  func(dpy uintptr, context uint32, bufType int32, size, numElements uint32, data unsafe.Pointer, buf *uint32) int32
	vaDestroyBuffer func(dpy uintptr, buf uint32) int32

	vaBeginPicture  func(dpy uintptr, context, target uint32) int32
	vaRenderPicture func(dpy uintptr, context uint32, buffers *uint32, numBuffers int32) int32
	vaEndPicture    func(dpy uintptr, context uint32) int32
)

// Constants from va.h / va_vpp.h
const (
	vaProfileNone                     = -1
	vaEntrypointVideoProc             = 10
	vaProgressive                     = 0x1
	vaProcPipelineParameterBufferType = 41

	vaSurfaceAttribPixelFormat = 1
	vaSurfaceAttribSettable    = 0x2
	vaGenericValueTypeInteger  = 1
)

// vaImageFormat mirrors VAImageFormat.
type vaImageFormat struct {
	FourCC       uint32
	ByteOrder    uint32
	BitsPerPixel uint32
	Depth        uint32
	RedMask      uint32
	GreenMask    uint32
	BlueMask     uint32
	AlphaMask    uint32
	_            [4]uint32
}

// vaImage mirrors VAImage.
type vaImage struct {
	ImageID           uint32
	Format            vaImageFormat
	Buf               uint32
	Width             uint16
	Height            uint16
	DataSize          uint32
	NumPlanes         uint32
	Pitches           [3]uint32
	Offsets           [3]uint32
	NumPaletteEntries int32
	EntryBytes        int32
	ComponentOrder    [4]int8
	_                 [4]uint32
}

// vaRectangle mirrors VARectangle.
type vaRectangle struct {
	X      int16
	Y      int16
	Width  uint16
	Height uint16
}

// vaSurfaceAttrib mirrors VASurfaceAttrib with an integer VAGenericValue.
type vaSurfaceAttrib struct {
	Type      int32
	Flags     uint32
	ValueType int32
	_         uint32
	Value     uint64
}

// vaColorProperties mirrors VAProcColorProperties.
type vaColorProperties struct {
	ChromaSampleLocation    uint8
	ColorRange              uint8
	ColourPrimaries         uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8
	_                       [3]uint8
}

// vaProcPipelineParameterBuffer mirrors VAProcPipelineParameterBuffer (224 bytes on 64-bit).
type vaProcPipelineParameterBuffer struct {
	Surface               uint32
	_                     uint32
	SurfaceRegion         *vaRectangle
	SurfaceColorStandard  int32
	_                     uint32
	OutputRegion          *vaRectangle
	OutputBackgroundColor uint32
	OutputColorStandard   int32
	PipelineFlags         uint32
	FilterFlags           uint32
	Filters               *uint32
	NumFilters            uint32
	_                     uint32
	ForwardReferences     *uint32
	NumForwardReferences  uint32
	_                     uint32
	BackwardReferences    *uint32
	NumBackwardReferences uint32
	RotationState         uint32
	BlendState            uintptr
	MirrorState           uint32
	_                     uint32
	AdditionalOutputs     *uint32
	NumAdditionalOutputs  uint32
	InputSurfaceFlag      uint32
	OutputSurfaceFlag     uint32
	InputColorProperties  vaColorProperties
	OutputColorProperties vaColorProperties
	ProcessingMode        int32
	OutputHDRMetadata     uintptr
	_                     [16]uint32
}

// LibVA is the Driver backed by the system libva through purego.
type LibVA struct {
	opts LibVAOptions
	log  *zap.SugaredLogger

	mu      sync.Mutex
	devices map[Display]*os.File
	buffers map[bufferKey]*procBuffer
}

type bufferKey struct {
	display Display
	buffer  BufferID
}

// procBuffer keeps the regions referenced by a submitted parameter buffer
// alive and pinned until the buffer is destroyed.
type procBuffer struct {
	params *vaProcPipelineParameterBuffer
	pinner runtime.Pinner
}

// NewLibVA loads libva and returns a driver bound to it.
//
// Arguments:
//   - opts: Library paths and the render node to open displays on.
//
// Returns:
//   - *LibVA: The driver.
//   - error: An error if libva or libva-drm cannot be loaded.
func NewLibVA(opts LibVAOptions) (*LibVA, error) {
	if opts.RenderNode == "" {
		opts.RenderNode = DefaultLibVAOptions().RenderNode
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	libvaOnce.Do(func() {
		libvaInitErr = loadLibVA(opts)
	})
	if libvaInitErr != nil {
		return nil, libvaInitErr
	}

	return &LibVA{
		opts:    opts,
		log:     log,
		devices: make(map[Display]*os.File),
		buffers: make(map[bufferKey]*procBuffer),
	}, nil
}

func loadLibVA(opts LibVAOptions) error {
	core, err := dlopenFirst(libraryPaths(opts.LibraryPath, "LIBVA_LIB_PATH", "libva.so.2", "libva.so"))
	if err != nil {
		return errors.Wrap(err, "failed to load libva")
	}
	drm, err := dlopenFirst(libraryPaths(opts.DRMLibraryPath, "LIBVA_DRM_LIB_PATH", "libva-drm.so.2", "libva-drm.so"))
	if err != nil {
		purego.Dlclose(core)
		return errors.Wrap(err, "failed to load libva-drm")
	}

	purego.RegisterLibFunc(&vaGetDisplayDRM, drm, "vaGetDisplayDRM")

	purego.RegisterLibFunc(&vaInitialize, core, "vaInitialize")
	purego.RegisterLibFunc(&vaTerminate, core, "vaTerminate")
	purego.RegisterLibFunc(&vaSetErrorCallback, core, "vaSetErrorCallback")
	purego.RegisterLibFunc(&vaSetInfoCallback, core, "vaSetInfoCallback")
	purego.RegisterLibFunc(&vaCreateConfig, core, "vaCreateConfig")
	purego.RegisterLibFunc(&vaDestroyConfig, core, "vaDestroyConfig")
	purego.RegisterLibFunc(&vaCreateContext, core, "vaCreateContext")
	purego.RegisterLibFunc(&vaDestroyContext, core, "vaDestroyContext")
	purego.RegisterLibFunc(&vaCreateSurfaces, core, "vaCreateSurfaces")
	purego.RegisterLibFunc(&vaDestroySurfaces, core, "vaDestroySurfaces")
	purego.RegisterLibFunc(&vaSyncSurface, core, "vaSyncSurface")
	purego.RegisterLibFunc(&vaDeriveImage, core, "vaDeriveImage")
	purego.RegisterLibFunc(&vaMapBuffer, core, "vaMapBuffer")
	purego.RegisterLibFunc(&vaUnmapBuffer, core, "vaUnmapBuffer")
	purego.RegisterLibFunc(&vaDestroyImage, core, "vaDestroyImage")
	purego.RegisterLibFunc(&vaCreateBuffer, core, "vaCreateBuffer")
	purego.RegisterLibFunc(&vaDestroyBuffer, core, "vaDestroyBuffer")
	purego.RegisterLibFunc(&vaBeginPicture, core, "vaBeginPicture")
	purego.RegisterLibFunc(&vaRenderPicture, core, "vaRenderPicture")
	purego.RegisterLibFunc(&vaEndPicture, core, "vaEndPicture")

	return nil
}

func libraryPaths(override, env string, names ...string) []string {
	var paths []string
	if override != "" {
		paths = append(paths, override)
	}
	if envPath := os.Getenv(env); envPath != "" {
		paths = append(paths, envPath)
	}
	for _, dir := range []string{"", "/usr/lib/x86_64-linux-gnu/", "/usr/lib64/", "/usr/lib/", "/usr/local/lib/"} {
		for _, name := range names {
			paths = append(paths, dir+name)
		}
	}
	return paths
}

func dlopenFirst(paths []string) (uintptr, error) {
	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate paths")
	}
	return 0, lastErr
}

// initMessageCallbacks creates the two trampolines shared by every display.
// The user context passed to libva is the display itself; the trampolines fan
// the message out to every handler registered on it.
func initMessageCallbacks() {
	messageCallbacksOnce.Do(func() {
		errorCallbackPtr = purego.NewCallback(func(_ purego.CDecl, userCtx uintptr, message *byte) {
			messageHandlers.dispatch(Display(userCtx), goString(message), true)
		})
		infoCallbackPtr = purego.NewCallback(func(_ purego.CDecl, userCtx uintptr, message *byte) {
			messageHandlers.dispatch(Display(userCtx), goString(message), false)
		})
	})
}

// goString copies a NUL-terminated C string. The trampolines receive the
// message as *byte so no uintptr is turned back into a pointer.
func goString(p *byte) string {
	if p == nil {
		return ""
	}
	var length int
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), length)) != 0 {
		length++
		if length > 4096 {
			break
		}
	}
	return string(unsafe.Slice(p, length))
}

// Name implements Driver.
func (l *LibVA) Name() string {
	return "vaapi"
}

// OpenDisplay opens the render node and initializes a VADisplay on it.
func (l *LibVA) OpenDisplay() (Display, error) {
	f, err := os.OpenFile(l.opts.RenderNode, os.O_RDWR, 0)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open render node %s", l.opts.RenderNode)
	}

	dpy := vaGetDisplayDRM(int32(f.Fd()))
	if dpy == 0 {
		f.Close()
		return 0, errors.WithStack(&Error{Op: OpGetDisplay, Status: StatusErrorInvalidDisplay})
	}

	major, minor := new(int32), new(int32)
	if err := check(OpInitialize, Status(vaInitialize(dpy, major, minor))); err != nil {
		f.Close()
		return 0, err
	}

	l.mu.Lock()
	l.devices[Display(dpy)] = f
	l.mu.Unlock()

	l.log.Infow("VA display initialized",
		"render_node", l.opts.RenderNode,
		"version", []int32{*major, *minor},
	)
	return Display(dpy), nil
}

// Terminate implements Driver.
func (l *LibVA) Terminate(d Display) error {
	callbackMu.Lock()
	if messageHandlers.drop(d) {
		vaSetErrorCallback(uintptr(d), 0, 0)
		vaSetInfoCallback(uintptr(d), 0, 0)
	}
	callbackMu.Unlock()
	err := check(OpTerminate, Status(vaTerminate(uintptr(d))))

	l.mu.Lock()
	f := l.devices[d]
	delete(l.devices, d)
	l.mu.Unlock()

	if f != nil {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close render node")
		}
	}
	return err
}

// SetMessageHandler implements Driver. The libva callbacks are installed with
// the first handler of a display.
func (l *LibVA) SetMessageHandler(d Display, h MessageHandler) HandlerID {
	initMessageCallbacks()
	callbackMu.Lock()
	defer callbackMu.Unlock()
	id, first := messageHandlers.add(d, h)
	if first {
		vaSetErrorCallback(uintptr(d), errorCallbackPtr, uintptr(d))
		vaSetInfoCallback(uintptr(d), infoCallbackPtr, uintptr(d))
	}
	return id
}

// ClearMessageHandler implements Driver. The libva callbacks are removed with
// the last handler of a display.
func (l *LibVA) ClearMessageHandler(d Display, id HandlerID) {
	callbackMu.Lock()
	defer callbackMu.Unlock()
	if _, last := messageHandlers.remove(d, id); last {
		vaSetErrorCallback(uintptr(d), 0, 0)
		vaSetInfoCallback(uintptr(d), 0, 0)
	}
}

// CreateConfig implements Driver.
func (l *LibVA) CreateConfig(d Display) (ConfigID, error) {
	id := new(uint32)
	st := vaCreateConfig(uintptr(d), vaProfileNone, vaEntrypointVideoProc, nil, 0, id)
	if err := check(OpCreateConfig, Status(st)); err != nil {
		return InvalidID, err
	}
	return ConfigID(*id), nil
}

// DestroyConfig implements Driver.
func (l *LibVA) DestroyConfig(d Display, c ConfigID) error {
	return check(OpDestroyConfig, Status(vaDestroyConfig(uintptr(d), uint32(c))))
}

// CreateContext implements Driver.
func (l *LibVA) CreateContext(d Display, c ConfigID) (ContextID, error) {
	id := new(uint32)
	st := vaCreateContext(uintptr(d), uint32(c), 0, 0, vaProgressive, nil, 0, id)
	if err := check(OpCreateContext, Status(st)); err != nil {
		return InvalidID, err
	}
	return ContextID(*id), nil
}

// DestroyContext implements Driver.
func (l *LibVA) DestroyContext(d Display, c ContextID) error {
	return check(OpDestroyContext, Status(vaDestroyContext(uintptr(d), uint32(c))))
}

// CreateSurface implements Driver.
func (l *LibVA) CreateSurface(d Display, width, height int, format fourcc.FourCC) (SurfaceID, error) {
	rt := format.RTFormat()
	if rt == 0 {
		return InvalidID, errors.WithStack(&Error{Op: OpCreateSurfaces, Status: StatusErrorUnsupportedRTFormat})
	}

	attrib := &vaSurfaceAttrib{
		Type:      vaSurfaceAttribPixelFormat,
		Flags:     vaSurfaceAttribSettable,
		ValueType: vaGenericValueTypeInteger,
		Value:     uint64(format),
	}
	id := new(uint32)
	st := vaCreateSurfaces(uintptr(d), rt, uint32(width), uint32(height), id, 1, attrib, 1)
	if err := check(OpCreateSurfaces, Status(st)); err != nil {
		return InvalidID, err
	}
	return SurfaceID(*id), nil
}

// DestroySurface implements Driver.
func (l *LibVA) DestroySurface(d Display, s SurfaceID) error {
	id := new(uint32)
	*id = uint32(s)
	return check(OpDestroySurfaces, Status(vaDestroySurfaces(uintptr(d), id, 1)))
}

// SyncSurface implements Driver.
func (l *LibVA) SyncSurface(d Display, s SurfaceID) error {
	return check(OpSyncSurface, Status(vaSyncSurface(uintptr(d), uint32(s))))
}

// DeriveImage implements Driver.
func (l *LibVA) DeriveImage(d Display, s SurfaceID) (ImageInfo, error) {
	img := new(vaImage)
	if err := check(OpDeriveImage, Status(vaDeriveImage(uintptr(d), uint32(s), img))); err != nil {
		return ImageInfo{}, err
	}

	info := ImageInfo{
		ID:        ImageID(img.ImageID),
		Buffer:    BufferID(img.Buf),
		Format:    fourcc.FourCC(img.Format.FourCC),
		Width:     int(img.Width),
		Height:    int(img.Height),
		DataSize:  int(img.DataSize),
		NumPlanes: int(img.NumPlanes),
	}
	for i := 0; i < 3; i++ {
		info.Pitches[i] = int(img.Pitches[i])
		info.Offsets[i] = int(img.Offsets[i])
	}
	return info, nil
}

// MapBuffer implements Driver.
func (l *LibVA) MapBuffer(d Display, b BufferID, size int) ([]byte, error) {
	ptr := new(unsafe.Pointer)
	if err := check(OpMapBuffer, Status(vaMapBuffer(uintptr(d), uint32(b), ptr))); err != nil {
		return nil, err
	}
	if *ptr == nil {
		return nil, errors.WithStack(&Error{Op: OpMapBuffer, Status: StatusErrorInvalidBuffer})
	}
	return unsafe.Slice((*byte)(*ptr), size), nil
}

// UnmapBuffer implements Driver.
func (l *LibVA) UnmapBuffer(d Display, b BufferID) error {
	return check(OpUnmapBuffer, Status(vaUnmapBuffer(uintptr(d), uint32(b))))
}

// DestroyImage implements Driver.
func (l *LibVA) DestroyImage(d Display, i ImageID) error {
	return check(OpDestroyImage, Status(vaDestroyImage(uintptr(d), uint32(i))))
}

// CreateProcPipelineBuffer implements Driver.
func (l *LibVA) CreateProcPipelineBuffer(d Display, c ContextID, p ProcParams) (BufferID, error) {
	pb := &procBuffer{params: &vaProcPipelineParameterBuffer{
		Surface:               uint32(p.Surface),
		OutputBackgroundColor: p.BackgroundColor,
		FilterFlags:           p.FilterFlags,
	}}
	if p.SurfaceRegion != nil {
		pb.params.SurfaceRegion = toVARectangle(*p.SurfaceRegion)
		pb.pinner.Pin(pb.params.SurfaceRegion)
	}
	if p.OutputRegion != nil {
		pb.params.OutputRegion = toVARectangle(*p.OutputRegion)
		pb.pinner.Pin(pb.params.OutputRegion)
	}
	pb.pinner.Pin(pb.params)

	id := new(uint32)
	st := vaCreateBuffer(uintptr(d), uint32(c), vaProcPipelineParameterBufferType,
		uint32(unsafe.Sizeof(*pb.params)), 1, unsafe.Pointer(pb.params), id)
	if err := check(OpCreateBuffer, Status(st)); err != nil {
		pb.pinner.Unpin()
		return InvalidID, err
	}

	l.mu.Lock()
	l.buffers[bufferKey{display: d, buffer: BufferID(*id)}] = pb
	l.mu.Unlock()
	return BufferID(*id), nil
}

func toVARectangle(r Rect) *vaRectangle {
	return &vaRectangle{X: int16(r.X), Y: int16(r.Y), Width: uint16(r.Width), Height: uint16(r.Height)}
}

// DestroyBuffer implements Driver.
func (l *LibVA) DestroyBuffer(d Display, b BufferID) error {
	err := check(OpDestroyBuffer, Status(vaDestroyBuffer(uintptr(d), uint32(b))))

	key := bufferKey{display: d, buffer: b}
	l.mu.Lock()
	pb := l.buffers[key]
	delete(l.buffers, key)
	l.mu.Unlock()
	if pb != nil {
		pb.pinner.Unpin()
	}
	return err
}

// BeginPicture implements Driver.
func (l *LibVA) BeginPicture(d Display, c ContextID, target SurfaceID) error {
	return check(OpBeginPicture, Status(vaBeginPicture(uintptr(d), uint32(c), uint32(target))))
}

// RenderPicture implements Driver.
func (l *LibVA) RenderPicture(d Display, c ContextID, buffers ...BufferID) error {
	if len(buffers) == 0 {
		return errors.WithStack(&Error{Op: OpRenderPicture, Status: StatusErrorInvalidParameter})
	}
	ids := make([]uint32, len(buffers))
	for i, b := range buffers {
		ids[i] = uint32(b)
	}
	st := vaRenderPicture(uintptr(d), uint32(c), &ids[0], int32(len(ids)))
	runtime.KeepAlive(ids)
	return check(OpRenderPicture, Status(st))
}

// EndPicture implements Driver.
func (l *LibVA) EndPicture(d Display, c ContextID) error {
	return check(OpEndPicture, Status(vaEndPicture(uintptr(d), uint32(c))))
}
