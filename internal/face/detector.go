package face

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/eventshot/internal/mempool"
	"github.com/MeKo-Tech/eventshot/internal/onnx"
	"github.com/disintegration/imaging"
	"github.com/yalue/onnxruntime_go"
)

// Detector locates faces in an image. Zero faces is a valid, error-free result.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Region, error)
	Close() error
}

// ONNXDetector runs an Ultra-Light face detector exported to ONNX. The model
// takes a [1,3,H,W] image normalized as (p-127)/128 and returns per-anchor
// scores [1,K,2] and corner boxes [1,K,4] in normalized coordinates.
type ONNXDetector struct {
	config     Config
	session    *onnxruntime_go.DynamicAdvancedSession
	inputName  string
	scoresName string
	boxesName  string
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewDetector loads the model. Any error here means the process must not start.
func NewDetector(config Config, libraryPath string) (*ONNXDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid face detector config: %w", err)
	}
	if err := validateModelFile(config.ModelPath); err != nil {
		return nil, err
	}
	if err := onnx.Initialize(libraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}
	inputName, scoresName, boxesName, err := resolveTensorNames(inputs, outputs)
	if err != nil {
		return nil, err
	}

	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()
	if config.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(config.ModelPath,
		[]string{inputName}, []string{scoresName, boxesName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Debug("Face detector initialized",
		"model_path", config.ModelPath,
		"input", fmt.Sprintf("%dx%d", config.InputWidth, config.InputHeight),
		"score_threshold", config.ScoreThreshold)

	return &ONNXDetector{
		config:     config,
		session:    session,
		inputName:  inputName,
		scoresName: scoresName,
		boxesName:  boxesName,
		logger:     slog.Default(),
	}, nil
}

// resolveTensorNames picks the scores output by its trailing dimension of 2
// and the boxes output by a trailing dimension of 4.
func resolveTensorNames(inputs, outputs []onnxruntime_go.InputOutputInfo) (string, string, string, error) {
	if len(inputs) != 1 {
		return "", "", "", fmt.Errorf("expected 1 model input, got %d", len(inputs))
	}
	var scores, boxes string
	for _, o := range outputs {
		dims := o.Dimensions
		if len(dims) == 0 {
			continue
		}
		switch dims[len(dims)-1] {
		case 2:
			scores = o.Name
		case 4:
			boxes = o.Name
		}
	}
	if scores == "" || boxes == "" {
		return "", "", "", errors.New("model does not expose scores [..,2] and boxes [..,4] outputs")
	}
	return inputs[0].Name, scores, boxes, nil
}

// Config returns the detector configuration.
func (d *ONNXDetector) Config() Config { return d.config }

// Detect returns face regions in source pixel coordinates.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]Region, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	data := mempool.GetFloat32(3 * d.config.InputWidth * d.config.InputHeight)
	defer mempool.PutFloat32(data)
	preprocess(img, d.config.InputWidth, d.config.InputHeight, data)

	tensor, err := onnx.NewImageTensor(data, 3, d.config.InputHeight, d.config.InputWidth)
	if err != nil {
		return nil, err
	}
	scores, boxes, err := d.infer(tensor)
	if err != nil {
		return nil, err
	}

	regions := decode(scores, boxes, b.Dx(), b.Dy(), d.config)
	d.logger.Debug("Faces detected", "count", len(regions), "width", b.Dx(), "height", b.Dy())
	return regions, nil
}

func (d *ONNXDetector) infer(t onnx.Tensor) ([]float32, []float32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, nil, errors.New("detector session is closed")
	}

	input, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputs := []onnxruntime_go.Value{nil, nil}
	if err := d.session.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()

	scores, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("expected float32 scores tensor, got %T", outputs[0])
	}
	boxes, ok := outputs[1].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("expected float32 boxes tensor, got %T", outputs[1])
	}
	// GetData aliases tensor memory that is freed on Destroy.
	s := append([]float32(nil), scores.GetData()...)
	bx := append([]float32(nil), boxes.GetData()...)
	return s, bx, nil
}

// Close releases the ONNX session. The runtime environment stays alive for
// other sessions and is torn down by onnx.Shutdown.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}

// preprocess resizes img to w x h and writes normalized NCHW floats into dst.
func preprocess(img image.Image, w, h int, dst []float32) {
	resized := imaging.Resize(img, w, h, imaging.Linear)
	plane := w * h
	for y := range h {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+w*4]
		for x := range w {
			i := y*w + x
			p := row[x*4 : x*4+3]
			dst[i] = (float32(p[0]) - 127) / 128
			dst[plane+i] = (float32(p[1]) - 127) / 128
			dst[2*plane+i] = (float32(p[2]) - 127) / 128
		}
	}
}

// decode converts raw model outputs into filtered, de-duplicated regions.
func decode(scores, boxes []float32, width, height int, cfg Config) []Region {
	n := min(len(scores)/2, len(boxes)/4)
	regions := make([]Region, 0, 8)
	for i := range n {
		score := scores[2*i+1]
		if score < cfg.ScoreThreshold {
			continue
		}
		x1 := clampInt(int(boxes[4*i]*float32(width)), 0, width)
		y1 := clampInt(int(boxes[4*i+1]*float32(height)), 0, height)
		x2 := clampInt(int(boxes[4*i+2]*float32(width)+0.5), 0, width)
		y2 := clampInt(int(boxes[4*i+3]*float32(height)+0.5), 0, height)
		r := Region{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1, Score: score}
		if r.Width <= 0 || r.Height <= 0 || r.Width < cfg.MinFaceSize || r.Height < cfg.MinFaceSize {
			continue
		}
		regions = append(regions, r)
	}
	regions = NonMaxSuppression(regions, cfg.NMSThreshold)
	if len(regions) > cfg.MaxFaces {
		regions = regions[:cfg.MaxFaces]
	}
	return regions
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
