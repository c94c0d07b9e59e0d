package va

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-va/fourcc"
)

// SoftwareOptions configures the host-memory driver.
type SoftwareOptions struct {
	// PitchAlign is the byte alignment of every plane row.
	PitchAlign int `json:"pitch_align" yaml:"pitch_align"`
	// HeightAlign is the row alignment of the luma plane. The chroma plane of a
	// 4:2:0 surface starts after the aligned luma rows.
	HeightAlign int `json:"height_align" yaml:"height_align"`
}

// DefaultSoftwareOptions returns the alignment used by common Intel media drivers.
func DefaultSoftwareOptions() SoftwareOptions {
	return SoftwareOptions{
		PitchAlign:  64,
		HeightAlign: 32,
	}
}

// SoftwareDriver implements Driver with surfaces in host memory. Video
// processing runs on the CPU. Every call is counted per operation name and
// failures can be injected with FailNext.
type SoftwareDriver struct {
	opts SoftwareOptions

	mu          sync.Mutex
	nextDisplay Display
	nextID      uint32
	displays    map[Display]*softDisplay
	calls       map[string]int
	failures    map[string][]Status
	handlers    *handlerRegistry
}

type softDisplay struct {
	configs  map[ConfigID]struct{}
	contexts map[ContextID]*softContext
	surfaces map[SurfaceID]*softSurface
	images   map[ImageID]*softImage
	buffers  map[BufferID]*softBuffer
}

type softContext struct {
	config    ConfigID
	target    SurfaceID
	inPicture bool
	pending   []ProcParams
}

type softSurface struct {
	width   int
	height  int
	format  fourcc.FourCC
	pitches [3]int
	offsets [3]int
	planes  int
	data    []byte
}

type softImage struct {
	surface SurfaceID
	buffer  BufferID
}

type softBuffer struct {
	// data is set for image buffers and aliases the surface memory.
	data   []byte
	params *ProcParams
	mapped bool
}

// NewSoftwareDriver returns a host-memory driver. Zero alignments fall back to
// DefaultSoftwareOptions.
func NewSoftwareDriver(opts SoftwareOptions) *SoftwareDriver {
	def := DefaultSoftwareOptions()
	if opts.PitchAlign <= 0 {
		opts.PitchAlign = def.PitchAlign
	}
	if opts.HeightAlign <= 0 {
		opts.HeightAlign = def.HeightAlign
	}
	return &SoftwareDriver{
		opts:     opts,
		displays: make(map[Display]*softDisplay),
		calls:    make(map[string]int),
		failures: make(map[string][]Status),
		handlers: newHandlerRegistry(),
	}
}

// Name implements Driver.
func (s *SoftwareDriver) Name() string {
	return "software"
}

// FailNext makes the next call of op fail with st. Calls queue up, so several
// failures of the same operation can be scheduled.
func (s *SoftwareDriver) FailNext(op string, st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], st)
}

// Calls returns how many times op has been called.
func (s *SoftwareDriver) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (s *SoftwareDriver) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// ResetCalls clears the call counters.
func (s *SoftwareDriver) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// LiveSurfaces returns the number of surfaces allocated on the display.
func (s *SoftwareDriver) LiveSurfaces(d Display) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if disp, ok := s.displays[d]; ok {
		return len(disp.surfaces)
	}
	return 0
}

// LiveImages returns the number of derived images not yet destroyed.
func (s *SoftwareDriver) LiveImages(d Display) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if disp, ok := s.displays[d]; ok {
		return len(disp.images)
	}
	return 0
}

// Message delivers a driver message to every handler registered on d, the way
// libva reports diagnostics.
func (s *SoftwareDriver) Message(d Display, message string, isError bool) {
	s.handlers.dispatch(d, message, isError)
}

// enter counts the call and returns an injected failure, if one is queued.
// Callers hold s.mu.
func (s *SoftwareDriver) enter(op string) error {
	s.calls[op]++
	if queue := s.failures[op]; len(queue) > 0 {
		st := queue[0]
		s.failures[op] = queue[1:]
		return errors.WithStack(&Error{Op: op, Status: st})
	}
	return nil
}

func (s *SoftwareDriver) display(op string, d Display) (*softDisplay, error) {
	disp, ok := s.displays[d]
	if !ok {
		return nil, errors.WithStack(&Error{Op: op, Status: StatusErrorInvalidDisplay})
	}
	return disp, nil
}

func (s *SoftwareDriver) allocID() uint32 {
	s.nextID++
	return s.nextID
}

// OpenDisplay implements Driver.
func (s *SoftwareDriver) OpenDisplay() (Display, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpInitialize); err != nil {
		return 0, err
	}
	s.nextDisplay++
	d := s.nextDisplay
	s.displays[d] = &softDisplay{
		configs:  make(map[ConfigID]struct{}),
		contexts: make(map[ContextID]*softContext),
		surfaces: make(map[SurfaceID]*softSurface),
		images:   make(map[ImageID]*softImage),
		buffers:  make(map[BufferID]*softBuffer),
	}
	return d, nil
}

// Terminate implements Driver.
func (s *SoftwareDriver) Terminate(d Display) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpTerminate); err != nil {
		return err
	}
	if _, err := s.display(OpTerminate, d); err != nil {
		return err
	}
	delete(s.displays, d)
	s.handlers.drop(d)
	return nil
}

// SetMessageHandler implements Driver.
func (s *SoftwareDriver) SetMessageHandler(d Display, h MessageHandler) HandlerID {
	id, _ := s.handlers.add(d, h)
	return id
}

// ClearMessageHandler implements Driver.
func (s *SoftwareDriver) ClearMessageHandler(d Display, id HandlerID) {
	s.handlers.remove(d, id)
}

// CreateConfig implements Driver.
func (s *SoftwareDriver) CreateConfig(d Display) (ConfigID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateConfig); err != nil {
		return InvalidID, err
	}
	disp, err := s.display(OpCreateConfig, d)
	if err != nil {
		return InvalidID, err
	}
	id := ConfigID(s.allocID())
	disp.configs[id] = struct{}{}
	return id, nil
}

// DestroyConfig implements Driver.
func (s *SoftwareDriver) DestroyConfig(d Display, c ConfigID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDestroyConfig); err != nil {
		return err
	}
	disp, err := s.display(OpDestroyConfig, d)
	if err != nil {
		return err
	}
	if _, ok := disp.configs[c]; !ok {
		return errors.WithStack(&Error{Op: OpDestroyConfig, Status: StatusErrorInvalidConfig})
	}
	delete(disp.configs, c)
	return nil
}

// CreateContext implements Driver.
func (s *SoftwareDriver) CreateContext(d Display, c ConfigID) (ContextID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateContext); err != nil {
		return InvalidID, err
	}
	disp, err := s.display(OpCreateContext, d)
	if err != nil {
		return InvalidID, err
	}
	if _, ok := disp.configs[c]; !ok {
		return InvalidID, errors.WithStack(&Error{Op: OpCreateContext, Status: StatusErrorInvalidConfig})
	}
	id := ContextID(s.allocID())
	disp.contexts[id] = &softContext{config: c, target: InvalidID}
	return id, nil
}

// DestroyContext implements Driver.
func (s *SoftwareDriver) DestroyContext(d Display, c ContextID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDestroyContext); err != nil {
		return err
	}
	disp, err := s.display(OpDestroyContext, d)
	if err != nil {
		return err
	}
	if _, ok := disp.contexts[c]; !ok {
		return errors.WithStack(&Error{Op: OpDestroyContext, Status: StatusErrorInvalidContext})
	}
	delete(disp.contexts, c)
	return nil
}

// CreateSurface implements Driver.
func (s *SoftwareDriver) CreateSurface(d Display, width, height int, format fourcc.FourCC) (SurfaceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateSurfaces); err != nil {
		return InvalidID, err
	}
	disp, err := s.display(OpCreateSurfaces, d)
	if err != nil {
		return InvalidID, err
	}
	if width <= 0 || height <= 0 || width > 0xFFFF || height > 0xFFFF {
		return InvalidID, errors.WithStack(&Error{Op: OpCreateSurfaces, Status: StatusErrorResolutionUnsupported})
	}
	surf, ok := s.layout(width, height, format)
	if !ok {
		return InvalidID, errors.WithStack(&Error{Op: OpCreateSurfaces, Status: StatusErrorUnsupportedRTFormat})
	}
	id := SurfaceID(s.allocID())
	disp.surfaces[id] = surf
	return id, nil
}

// layout allocates the backing store of a surface with aligned pitches and
// aligned luma rows. YUV surfaces start out black.
func (s *SoftwareDriver) layout(width, height int, format fourcc.FourCC) (*softSurface, bool) {
	surf := &softSurface{width: width, height: height, format: format, planes: format.PlaneCount()}
	rows := align(height, s.opts.HeightAlign)
	size := 0

	switch format {
	case fourcc.NV12:
		pitch := align(width, s.opts.PitchAlign)
		surf.pitches = [3]int{pitch, pitch}
		surf.offsets = [3]int{0, pitch * rows}
		size = pitch * rows * 3 / 2
	case fourcc.I420, fourcc.YV12:
		pitch := align(width, s.opts.PitchAlign)
		chromaPitch := align((width+1)/2, s.opts.PitchAlign/2)
		chromaRows := rows / 2
		surf.pitches = [3]int{pitch, chromaPitch, chromaPitch}
		surf.offsets = [3]int{0, pitch * rows, pitch*rows + chromaPitch*chromaRows}
		size = surf.offsets[2] + chromaPitch*chromaRows
	case fourcc.RGBP:
		pitch := align(width, s.opts.PitchAlign)
		surf.pitches = [3]int{pitch, pitch, pitch}
		surf.offsets = [3]int{0, pitch * rows, 2 * pitch * rows}
		size = 3 * pitch * rows
	case fourcc.BGRA, fourcc.RGBA:
		pitch := align(width*4, s.opts.PitchAlign)
		surf.pitches = [3]int{pitch}
		size = pitch * rows
	default:
		return nil, false
	}

	surf.data = make([]byte, size)
	if format.IsYUV420() {
		fill(surf.data[:surf.offsets[1]], 16)
		fill(surf.data[surf.offsets[1]:], 128)
	}
	return surf, true
}

// DestroySurface implements Driver.
func (s *SoftwareDriver) DestroySurface(d Display, id SurfaceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDestroySurfaces); err != nil {
		return err
	}
	disp, err := s.display(OpDestroySurfaces, d)
	if err != nil {
		return err
	}
	if _, ok := disp.surfaces[id]; !ok {
		return errors.WithStack(&Error{Op: OpDestroySurfaces, Status: StatusErrorInvalidSurface})
	}
	delete(disp.surfaces, id)
	return nil
}

// SyncSurface implements Driver. Processing completes in EndPicture, so only
// the surface handle is validated.
func (s *SoftwareDriver) SyncSurface(d Display, id SurfaceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSyncSurface); err != nil {
		return err
	}
	disp, err := s.display(OpSyncSurface, d)
	if err != nil {
		return err
	}
	if _, ok := disp.surfaces[id]; !ok {
		return errors.WithStack(&Error{Op: OpSyncSurface, Status: StatusErrorInvalidSurface})
	}
	return nil
}

// DeriveImage implements Driver. The image buffer aliases the surface memory.
func (s *SoftwareDriver) DeriveImage(d Display, id SurfaceID) (ImageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDeriveImage); err != nil {
		return ImageInfo{}, err
	}
	disp, err := s.display(OpDeriveImage, d)
	if err != nil {
		return ImageInfo{}, err
	}
	surf, ok := disp.surfaces[id]
	if !ok {
		return ImageInfo{}, errors.WithStack(&Error{Op: OpDeriveImage, Status: StatusErrorInvalidSurface})
	}

	imageID := ImageID(s.allocID())
	bufferID := BufferID(s.allocID())
	disp.images[imageID] = &softImage{surface: id, buffer: bufferID}
	disp.buffers[bufferID] = &softBuffer{data: surf.data}

	return ImageInfo{
		ID:        imageID,
		Buffer:    bufferID,
		Format:    surf.format,
		Width:     surf.width,
		Height:    surf.height,
		DataSize:  len(surf.data),
		NumPlanes: surf.planes,
		Pitches:   surf.pitches,
		Offsets:   surf.offsets,
	}, nil
}

// MapBuffer implements Driver.
func (s *SoftwareDriver) MapBuffer(d Display, b BufferID, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpMapBuffer); err != nil {
		return nil, err
	}
	disp, err := s.display(OpMapBuffer, d)
	if err != nil {
		return nil, err
	}
	buf, ok := disp.buffers[b]
	if !ok || buf.data == nil {
		return nil, errors.WithStack(&Error{Op: OpMapBuffer, Status: StatusErrorInvalidBuffer})
	}
	if size > len(buf.data) {
		size = len(buf.data)
	}
	buf.mapped = true
	return buf.data[:size:size], nil
}

// UnmapBuffer implements Driver.
func (s *SoftwareDriver) UnmapBuffer(d Display, b BufferID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUnmapBuffer); err != nil {
		return err
	}
	disp, err := s.display(OpUnmapBuffer, d)
	if err != nil {
		return err
	}
	buf, ok := disp.buffers[b]
	if !ok || !buf.mapped {
		return errors.WithStack(&Error{Op: OpUnmapBuffer, Status: StatusErrorInvalidBuffer})
	}
	buf.mapped = false
	return nil
}

// DestroyImage implements Driver.
func (s *SoftwareDriver) DestroyImage(d Display, i ImageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDestroyImage); err != nil {
		return err
	}
	disp, err := s.display(OpDestroyImage, d)
	if err != nil {
		return err
	}
	img, ok := disp.images[i]
	if !ok {
		return errors.WithStack(&Error{Op: OpDestroyImage, Status: StatusErrorInvalidImage})
	}
	delete(disp.buffers, img.buffer)
	delete(disp.images, i)
	return nil
}

// CreateProcPipelineBuffer implements Driver.
func (s *SoftwareDriver) CreateProcPipelineBuffer(d Display, c ContextID, p ProcParams) (BufferID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateBuffer); err != nil {
		return InvalidID, err
	}
	disp, err := s.display(OpCreateBuffer, d)
	if err != nil {
		return InvalidID, err
	}
	if _, ok := disp.contexts[c]; !ok {
		return InvalidID, errors.WithStack(&Error{Op: OpCreateBuffer, Status: StatusErrorInvalidContext})
	}

	params := p
	if p.SurfaceRegion != nil {
		r := *p.SurfaceRegion
		params.SurfaceRegion = &r
	}
	if p.OutputRegion != nil {
		r := *p.OutputRegion
		params.OutputRegion = &r
	}
	id := BufferID(s.allocID())
	disp.buffers[id] = &softBuffer{params: &params}
	return id, nil
}

// DestroyBuffer implements Driver.
func (s *SoftwareDriver) DestroyBuffer(d Display, b BufferID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDestroyBuffer); err != nil {
		return err
	}
	disp, err := s.display(OpDestroyBuffer, d)
	if err != nil {
		return err
	}
	if _, ok := disp.buffers[b]; !ok {
		return errors.WithStack(&Error{Op: OpDestroyBuffer, Status: StatusErrorInvalidBuffer})
	}
	delete(disp.buffers, b)
	return nil
}

// BeginPicture implements Driver.
func (s *SoftwareDriver) BeginPicture(d Display, c ContextID, target SurfaceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpBeginPicture); err != nil {
		return err
	}
	disp, err := s.display(OpBeginPicture, d)
	if err != nil {
		return err
	}
	ctx, ok := disp.contexts[c]
	if !ok {
		return errors.WithStack(&Error{Op: OpBeginPicture, Status: StatusErrorInvalidContext})
	}
	if _, ok := disp.surfaces[target]; !ok {
		return errors.WithStack(&Error{Op: OpBeginPicture, Status: StatusErrorInvalidSurface})
	}
	ctx.target = target
	ctx.inPicture = true
	ctx.pending = ctx.pending[:0]
	return nil
}

// RenderPicture implements Driver. Parameters are captured at submission.
func (s *SoftwareDriver) RenderPicture(d Display, c ContextID, buffers ...BufferID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpRenderPicture); err != nil {
		return err
	}
	disp, err := s.display(OpRenderPicture, d)
	if err != nil {
		return err
	}
	ctx, ok := disp.contexts[c]
	if !ok {
		return errors.WithStack(&Error{Op: OpRenderPicture, Status: StatusErrorInvalidContext})
	}
	if !ctx.inPicture {
		return errors.WithStack(&Error{Op: OpRenderPicture, Status: StatusErrorOperationFailed})
	}
	for _, b := range buffers {
		buf, ok := disp.buffers[b]
		if !ok || buf.params == nil {
			return errors.WithStack(&Error{Op: OpRenderPicture, Status: StatusErrorInvalidBuffer})
		}
		ctx.pending = append(ctx.pending, *buf.params)
	}
	return nil
}

// EndPicture implements Driver. The submitted pipelines run synchronously.
func (s *SoftwareDriver) EndPicture(d Display, c ContextID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpEndPicture); err != nil {
		return err
	}
	disp, err := s.display(OpEndPicture, d)
	if err != nil {
		return err
	}
	ctx, ok := disp.contexts[c]
	if !ok {
		return errors.WithStack(&Error{Op: OpEndPicture, Status: StatusErrorInvalidContext})
	}
	if !ctx.inPicture {
		return errors.WithStack(&Error{Op: OpEndPicture, Status: StatusErrorOperationFailed})
	}
	ctx.inPicture = false

	dst := disp.surfaces[ctx.target]
	if dst == nil {
		return errors.WithStack(&Error{Op: OpEndPicture, Status: StatusErrorInvalidSurface})
	}
	for _, p := range ctx.pending {
		src, ok := disp.surfaces[p.Surface]
		if !ok {
			return errors.WithStack(&Error{Op: OpEndPicture, Status: StatusErrorInvalidSurface})
		}
		if err := process(src, dst, p); err != nil {
			return err
		}
	}
	ctx.pending = ctx.pending[:0]
	return nil
}

func align(v, a int) int {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
