package inference

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-va/surface"
	"github.com/nvr-ai/go-va/va"
)

var envMu sync.Mutex

// initEnvironment loads onnxruntime once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// layout describes how the single network input is shaped.
type layout struct {
	name    string
	shape   ort.Shape
	width   int
	height  int
	planar  bool
	byteIn  bool
	outName string
	out     ort.Shape
}

// checkShapes validates a detection network: exactly one input of shape
// [N, 3, H, W] or [N, H, W, 3] and one float output of shape [N, 1, K, 7]. The
// batch of both is forced to 1.
func checkShapes(inputs, outputs []ort.InputOutputInfo, outputName string) (layout, error) {
	var l layout
	if len(inputs) != 1 {
		return l, errors.Wrapf(surface.ErrInvalidArgument, "network has %d inputs, expected 1", len(inputs))
	}
	if len(outputs) != 1 {
		return l, errors.Wrapf(surface.ErrInvalidArgument, "network has %d outputs, expected 1", len(outputs))
	}

	in := inputs[0]
	dims := append(ort.Shape(nil), in.Dimensions...)
	if len(dims) != 4 {
		return l, errors.Wrapf(surface.ErrInvalidArgument, "input %q shape %v, expected 4 dimensions", in.Name, in.Dimensions)
	}
	dims[0] = 1
	switch {
	case dims[1] == 3 && dims[2] > 0 && dims[3] > 0:
		l.planar, l.height, l.width = true, int(dims[2]), int(dims[3])
	case dims[3] == 3 && dims[1] > 0 && dims[2] > 0:
		l.height, l.width = int(dims[1]), int(dims[2])
	default:
		return l, errors.Wrapf(surface.ErrInvalidArgument, "input %q shape %v, expected 3 channels and a static size", in.Name, in.Dimensions)
	}
	switch in.DataType {
	case ort.TensorElementDataTypeFloat:
	case ort.TensorElementDataTypeUint8:
		l.byteIn = true
	default:
		return l, errors.Wrapf(surface.ErrInvalidArgument, "input %q element type %v", in.Name, in.DataType)
	}
	l.name, l.shape = in.Name, dims

	out := outputs[0]
	if outputName != "" && outputName != out.Name {
		return l, errors.Wrapf(surface.ErrInvalidArgument, "network has no output %q (have %q)", outputName, out.Name)
	}
	odims := append(ort.Shape(nil), out.Dimensions...)
	if len(odims) != 4 || odims[3] != ObjectSize {
		return l, errors.Wrapf(surface.ErrInvalidArgument, "output %q shape %v, expected [1 1 N %d]", out.Name, out.Dimensions, ObjectSize)
	}
	odims[0] = 1
	for _, d := range odims {
		if d <= 0 {
			return l, errors.Wrapf(surface.ErrInvalidArgument, "output %q shape %v is dynamic", out.Name, out.Dimensions)
		}
	}
	if out.DataType != ort.TensorElementDataTypeFloat {
		return l, errors.Wrapf(surface.ErrInvalidArgument, "output %q element type %v", out.Name, out.DataType)
	}
	l.outName, l.out = out.Name, odims
	return l, nil
}

// ONNXNetwork runs an SSD detection model with onnxruntime and the OpenVINO
// GPU execution provider.
//
// Bound images are staged through the context that was bridged with
// ShareContext: the frame is scaled on the VA processing context into a pooled
// surface of the input size and read back once in BGR, which the session
// consumes from its preallocated input tensor.
type ONNXNetwork struct {
	cfg    Config
	log    *zap.SugaredLogger
	layout layout

	session   *ort.AdvancedSession
	inputF32  *ort.Tensor[float32]
	inputU8   *ort.Tensor[uint8]
	output    *ort.Tensor[float32]
	mu        sync.Mutex
	shared    *remoteContext
	hasInput  bool
	inferred  bool
	closeOnce sync.Once
}

// LoadONNX loads a detection model.
//
// Arguments:
//   - modelPath: Path to the ONNX model file.
//   - cfg: The inference configuration.
//   - log: The logger, nil for none.
//
// Returns:
//   - *ONNXNetwork: The loaded network.
//   - error: ErrInvalidArgument for unsupported devices or network shapes, or
//     the onnxruntime error.
func LoadONNX(modelPath string, cfg Config, log *zap.SugaredLogger) (*ONNXNetwork, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Device != "" && cfg.Device != DeviceGPU {
		return nil, errors.Wrapf(surface.ErrInvalidArgument, "device %q, only %s is supported", cfg.Device, DeviceGPU)
	}
	if err := cfg.OpenVINO.Precision.Validate(); err != nil {
		return nil, err
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read network %s", modelPath)
	}
	l, err := checkShapes(inputs, outputs, cfg.OutputName)
	if err != nil {
		return nil, err
	}
	log.Infow("network input", "name", l.name, "shape", l.shape.String(), "planar", l.planar, "uint8", l.byteIn)
	log.Infow("network output", "name", l.outName, "shape", l.out.String())

	n := &ONNXNetwork{cfg: cfg, log: log, layout: l}
	if err := n.build(modelPath); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *ONNXNetwork) build(modelPath string) error {
	var in ort.ArbitraryTensor
	var err error
	if n.layout.byteIn {
		n.inputU8, err = ort.NewEmptyTensor[uint8](n.layout.shape)
		in = n.inputU8
	} else {
		n.inputF32, err = ort.NewEmptyTensor[float32](n.layout.shape)
		in = n.inputF32
	}
	if err != nil {
		return errors.Wrap(err, "error creating input tensor")
	}
	n.output, err = ort.NewEmptyTensor[float32](n.layout.out)
	if err != nil {
		return errors.Wrap(err, "error creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}
	if err := options.AppendExecutionProviderOpenVINO(n.cfg.OpenVINO.providerOptions()); err != nil {
		return errors.Wrap(err, "error enabling OpenVINO")
	}

	n.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{n.layout.name},
		[]string{n.layout.outName},
		[]ort.ArbitraryTensor{in},
		[]ort.ArbitraryTensor{n.output},
		options,
	)
	if err != nil {
		return errors.Wrap(err, "error creating ORT session")
	}
	return nil
}

// remoteContext is the inference side of a bridged VA display.
type remoteContext struct {
	net     *ONNXNetwork
	display va.Display
	ctxID   va.ContextID
}

// Close unbinds the display from the network.
func (r *remoteContext) Close() error {
	r.net.mu.Lock()
	defer r.net.mu.Unlock()
	if r.net.shared == r {
		r.net.shared = nil
	}
	return nil
}

// ShareContext implements surface.Accelerator. The network accepts images of
// one bridged context at a time.
func (n *ONNXNetwork) ShareContext(ctx *surface.Context) (surface.SharedContext, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return nil, errors.New("network is closed")
	}
	if n.shared != nil {
		return nil, errors.Errorf("network already bridged to display %d", n.shared.display)
	}
	n.shared = &remoteContext{net: n, display: ctx.Display(), ctxID: ctx.ID()}
	n.log.Infow("bridged VA display into inference device", "device", DeviceGPU, "display", uint64(ctx.Display()))
	return n.shared, nil
}

// InputSize implements Network.
func (n *ONNXNetwork) InputSize() (int, int) {
	return n.layout.width, n.layout.height
}

// OutputName implements Network.
func (n *ONNXNetwork) OutputName() string {
	return n.layout.outName
}

// SetInput implements Network.
func (n *ONNXNetwork) SetInput(img *surface.Image) error {
	if img == nil {
		return errors.Wrap(surface.ErrInvalidArgument, "nil input image")
	}
	n.mu.Lock()
	shared := n.shared
	n.mu.Unlock()
	if shared == nil {
		return errors.Wrap(surface.ErrInvalidArgument, "input context is not bridged into the network")
	}
	if ctx := img.Context(); ctx.Display() != shared.display || ctx.ID() != shared.ctxID {
		return errors.Wrap(surface.ErrInvalidArgument, "input image belongs to a context the network is not bridged to")
	}

	staged, err := img.ResizeToPooled(n.layout.width, n.layout.height, surface.ResizeFill, n.cfg.HighQuality)
	if err != nil {
		return errors.Wrap(err, "failed to stage network input")
	}
	defer staged.Close()

	mat, err := staged.CopyToMat(surface.ConvertToBGR)
	if err != nil {
		return errors.Wrap(err, "failed to stage network input")
	}
	defer mat.Close()

	pixels := mat.ToBytes()
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return errors.New("network is closed")
	}
	if n.layout.byteIn {
		packPixels(n.inputU8.GetData(), pixels, n.layout.width, n.layout.height, n.layout.planar)
	} else {
		packPixels(n.inputF32.GetData(), pixels, n.layout.width, n.layout.height, n.layout.planar)
	}
	n.hasInput = true
	return nil
}

// packPixels copies interleaved 8-bit BGR pixels into an input tensor, either
// interleaved or as three planes.
func packPixels[T float32 | uint8](dst []T, bgr []byte, width, height int, planar bool) {
	plane := width * height
	if !planar {
		for i := 0; i < 3*plane && i < len(bgr); i++ {
			dst[i] = T(bgr[i])
		}
		return
	}
	for p := 0; p < plane && 3*p+2 < len(bgr); p++ {
		dst[p] = T(bgr[3*p])
		dst[plane+p] = T(bgr[3*p+1])
		dst[2*plane+p] = T(bgr[3*p+2])
	}
}

// Infer implements Network.
func (n *ONNXNetwork) Infer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return errors.New("network is closed")
	}
	if !n.hasInput {
		return errors.Wrap(surface.ErrInvalidArgument, "infer without an input")
	}
	if err := n.session.Run(); err != nil {
		return errors.Wrap(err, "inference failed")
	}
	n.inferred = true
	return nil
}

// Output implements Network.
func (n *ONNXNetwork) Output(name string) (*tensor.Dense, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name != n.layout.outName {
		return nil, errors.Wrapf(surface.ErrInvalidArgument, "network has no output %q", name)
	}
	if !n.inferred {
		return nil, errors.Wrap(surface.ErrInvalidArgument, "output read before infer")
	}
	data := append([]float32(nil), n.output.GetData()...)
	shape := make([]int, len(n.layout.out))
	for i, d := range n.layout.out {
		shape[i] = int(d)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// Close implements Network.
func (n *ONNXNetwork) Close() error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.session != nil {
			n.session.Destroy()
			n.session = nil
		}
		if n.inputF32 != nil {
			n.inputF32.Destroy()
		}
		if n.inputU8 != nil {
			n.inputU8.Destroy()
		}
		if n.output != nil {
			n.output.Destroy()
		}
		n.shared = nil
	})
	return nil
}
