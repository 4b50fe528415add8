package vision

import (
	"context"
	"fmt"
	"sync"

	"github.com/putuastawa/visioncap/internal/logger"
)

// Device enum
type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
)

// Precision enum: half on accelerator, full on CPU.
type Precision string

const (
	PrecisionHalf Precision = "f16"
	PrecisionFull Precision = "f32"
)

// CaptionLength enum
type CaptionLength string

const (
	CaptionShort  CaptionLength = "short"
	CaptionNormal CaptionLength = "normal"
)

// LoadOptions tell the engine where and how to host the model.
type LoadOptions struct {
	Device    Device
	Precision Precision
}

// Engine port (interface untuk model runtime)
type Engine interface {
	Load(ctx context.Context, opts LoadOptions) error
	Caption(ctx context.Context, jpegData []byte, length CaptionLength) (string, error)
	Query(ctx context.Context, jpegData []byte, question string) (string, error)
	// ReleaseCache asks the runtime to drop cached device memory. Called
	// before each inference when running on an accelerator.
	ReleaseCache(ctx context.Context) error
}

// Accelerator describes the probed compute device.
type Accelerator struct {
	Available bool
	MemoryGiB float64
}

// AcceleratorProbe port
type AcceleratorProbe interface {
	Detect(ctx context.Context) (Accelerator, error)
}

// Handler wraps the model lifecycle: probe the device once, load the model
// at most once per process, expose the three inference operations. It is
// constructed explicitly and injected; no package-level instance exists.
type Handler struct {
	engine Engine
	probe  AcceleratorProbe
	log    *logger.Logger

	minGPUMemGiB float64

	mu        sync.Mutex
	loaded    bool
	device    Device
	precision Precision
}

func NewHandler(engine Engine, probe AcceleratorProbe, log *logger.Logger, minGPUMemGiB float64) *Handler {
	if minGPUMemGiB <= 0 {
		minGPUMemGiB = 4
	}
	return &Handler{
		engine:       engine,
		probe:        probe,
		log:          log,
		minGPUMemGiB: minGPUMemGiB,
		device:       DeviceCPU,
		precision:    PrecisionFull,
	}
}

// Load initializes the model. Safe to call more than once; only the first
// call does work. Loading is expensive (seconds to tens of seconds), so
// processes call this once at startup.
func (h *Handler) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadLocked(ctx)
}

func (h *Handler) loadLocked(ctx context.Context) error {
	if h.loaded {
		return nil
	}

	device := DeviceCPU
	precision := PrecisionFull

	acc, err := h.probe.Detect(ctx)
	if err != nil {
		h.log.Warn("accelerator probe failed, using cpu", "err", err)
	} else if acc.Available {
		h.log.Info("accelerator memory detected", "gib", acc.MemoryGiB)
		if acc.MemoryGiB < h.minGPUMemGiB {
			h.log.Warn("accelerator memory too low, falling back to cpu",
				"gib", acc.MemoryGiB, "min_gib", h.minGPUMemGiB)
		} else {
			device = DeviceGPU
			precision = PrecisionHalf
		}
	}

	h.log.Info("loading model", "device", device, "precision", precision)
	if err := h.engine.Load(ctx, LoadOptions{Device: device, Precision: precision}); err != nil {
		if device != DeviceGPU {
			return fmt.Errorf("model load: %w", err)
		}
		// One retry on CPU before giving up.
		h.log.Warn("accelerator initialization failed, retrying on cpu", "err", err)
		device = DeviceCPU
		precision = PrecisionFull
		if err := h.engine.Load(ctx, LoadOptions{Device: device, Precision: precision}); err != nil {
			return fmt.Errorf("model load (cpu retry): %w", err)
		}
	}

	h.device = device
	h.precision = precision
	h.loaded = true
	h.log.Info("model loaded", "device", h.device, "precision", h.precision)
	return nil
}

// Device reports the device chosen at load time.
func (h *Handler) Device() Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device
}

// Precision reports the precision chosen at load time.
func (h *Handler) Precision() Precision {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.precision
}

// ShortCaption produces a brief description of the image.
func (h *Handler) ShortCaption(ctx context.Context, jpegData []byte) (string, error) {
	if err := h.prepare(ctx); err != nil {
		return "", err
	}
	out, err := h.engine.Caption(ctx, jpegData, CaptionShort)
	if err != nil {
		h.log.Error("short caption failed", "err", err)
		return "", err
	}
	h.log.Info("generated short caption", "caption", out)
	return out, nil
}

// NormalCaption produces a longer description. Present in the interface;
// no request path calls it yet.
func (h *Handler) NormalCaption(ctx context.Context, jpegData []byte) (string, error) {
	if err := h.prepare(ctx); err != nil {
		return "", err
	}
	out, err := h.engine.Caption(ctx, jpegData, CaptionNormal)
	if err != nil {
		h.log.Error("normal caption failed", "err", err)
		return "", err
	}
	return out, nil
}

// AnswerQuery answers a free-text question about the image.
func (h *Handler) AnswerQuery(ctx context.Context, jpegData []byte, question string) (string, error) {
	if err := h.prepare(ctx); err != nil {
		return "", err
	}
	out, err := h.engine.Query(ctx, jpegData, question)
	if err != nil {
		h.log.Error("query failed", "err", err, "question", question)
		return "", err
	}
	h.log.Info("generated query response", "answer", out)
	return out, nil
}

// prepare makes sure the model is loaded and, on an accelerator, clears
// cached device memory to reduce fragmentation across repeated calls.
func (h *Handler) prepare(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.loadLocked(ctx); err != nil {
		return err
	}
	if h.device == DeviceGPU {
		if err := h.engine.ReleaseCache(ctx); err != nil {
			h.log.Warn("release cache failed", "err", err)
		}
	}
	return nil
}
