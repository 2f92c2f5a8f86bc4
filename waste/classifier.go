package waste

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// ErrClassifierUnavailable is returned when the model artifact cannot be
// downloaded or loaded. The rest of the application keeps working.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Canned confidence messages, lowest bucket first.
const (
	MessageUnclear    = "Not sure about this one. Try again with a clearer photo of a single object."
	MessageReasonable = "Reasonably confident. A closer, well-lit photo would help."
	MessageQuite      = "Quite confident about this one."
	MessageVery       = "Very confident. Nice photo!"
)

// ConfidenceMessage maps a confidence to its canned message. Bucket lower
// bounds are inclusive: [0,0.3), [0.3,0.6), [0.6,0.9), [0.9,1].
func ConfidenceMessage(confidence float64) string {
	switch {
	case confidence < 0.3:
		return MessageUnclear
	case confidence < 0.6:
		return MessageReasonable
	case confidence < 0.9:
		return MessageQuite
	default:
		return MessageVery
	}
}

// Model runs one forward pass over a preprocessed input tensor and returns
// the output probability vector.
type Model interface {
	Predict(ctx context.Context, input []float32) ([]float32, error)
	Close() error
}

// ModelLoader produces a ready Model. It is called at most once per Classifier.
type ModelLoader func(ctx context.Context) (Model, error)

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithClassifierLogger sets the logger.
func WithClassifierLogger(l logr.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.log = l
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) {
		c.now = now
	}
}

// Classifier maps an uploaded photo to one of the configured labels.
// The model is loaded lazily on first use and memoized for the lifetime of
// the Classifier, including a failed load.
type Classifier struct {
	cfg    ClassifierConfig
	prep   *Preprocessor
	loader ModelLoader
	log    logr.Logger
	now    func() time.Time

	once    sync.Once
	model   Model
	loadErr error
	state   atomic.Int32
}

const (
	modelNotLoaded int32 = iota
	modelReady
	modelFailed
)

// NewClassifier creates a classifier. The loader is not invoked until
// LoadModel or Classify is first called.
func NewClassifier(cfg ClassifierConfig, loader ModelLoader, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		cfg:    cfg,
		prep:   NewPreprocessor(cfg.InputSize),
		loader: loader,
		log:    logr.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithName("classifier")
	return c
}

// LoadModel returns the memoized model, loading it on the first call.
// The load outlives the caller's cancellation since its outcome is shared
// by every later caller.
func (c *Classifier) LoadModel(ctx context.Context) (Model, error) {
	c.once.Do(func() {
		start := time.Now()
		m, err := c.loader(context.WithoutCancel(ctx))
		if err != nil {
			c.loadErr = fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
			c.state.Store(modelFailed)
			c.log.Error(err, "model load failed")
			return
		}
		c.model = m
		c.state.Store(modelReady)
		c.log.Info("model loaded", "backend", c.cfg.Backend, "elapsed", time.Since(start))
	})
	return c.model, c.loadErr
}

// Available reports whether the model has been loaded successfully. It
// triggers the load if it has not happened yet.
func (c *Classifier) Available(ctx context.Context) bool {
	_, err := c.LoadModel(ctx)
	return err == nil
}

// Status reports the model state without triggering a load:
// "not loaded", "ready" or "unavailable".
func (c *Classifier) Status() string {
	switch c.state.Load() {
	case modelReady:
		return "ready"
	case modelFailed:
		return "unavailable"
	default:
		return "not loaded"
	}
}

// Close releases the model if it was loaded.
func (c *Classifier) Close() error {
	if c.state.Load() != modelReady {
		return nil
	}
	return c.model.Close()
}

// ClassifyBytes decodes, normalizes and classifies an uploaded image.
func (c *Classifier) ClassifyBytes(ctx context.Context, data []byte) (ClassificationResult, error) {
	img, err := c.prep.NormalizeBytes(data)
	if err != nil {
		return ClassificationResult{}, err
	}
	return c.Classify(ctx, img)
}

// Classify runs one forward pass over a normalized image. The image is
// resized to the square model input, normalized, and the arg-max output
// index is mapped to a label.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (ClassificationResult, error) {
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return ClassificationResult{}, ErrEmptyImage
	}

	model, err := c.LoadModel(ctx)
	if err != nil {
		return ClassificationResult{}, err
	}

	size := c.prep.Size
	input := InputTensor(resample(img, size, size), c.cfg.Layout, c.cfg.Normalization)

	output, err := model.Predict(ctx, input)
	if err != nil {
		return ClassificationResult{}, fmt.Errorf("inference: %w", err)
	}

	idx, ok := argmax(output)
	if !ok {
		return ClassificationResult{}, fmt.Errorf("inference: empty output")
	}
	if idx >= len(c.cfg.Labels) {
		return ClassificationResult{}, fmt.Errorf("inference: output index %d outside %d labels", idx, len(c.cfg.Labels))
	}

	label := c.cfg.Labels[idx]
	confidence := clamp01(float64(output[idx]))
	result := ClassificationResult{
		ID:         uuid.NewString(),
		Label:      label.Name,
		Confidence: confidence,
		Message:    ConfidenceMessage(confidence),
		Icon:       label.Icon,
		Container:  label.Container,
		Timestamp:  c.now().UTC(),
	}
	c.log.V(1).Info("classified", "label", result.Label, "confidence", result.Confidence)
	return result, nil
}

// InputTensor flattens a square RGBA image into a float32 tensor of shape
// [1,H,W,3] (nhwc) or [1,3,H,W] (nchw). "mobilenet" normalization maps
// channel values to [-1,1]; "unit" maps them to [0,1].
func InputTensor(img *image.RGBA, layout, normalization string) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	norm := func(v uint8) float32 {
		if normalization == "unit" {
			return float32(v) / 255
		}
		return float32(v)/127.5 - 1
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := img.RGBAAt(img.Rect.Min.X+x, img.Rect.Min.Y+y)
			r, g, b := norm(px.R), norm(px.G), norm(px.B)
			i := y*w + x
			if layout == "nchw" {
				out[i] = r
				out[plane+i] = g
				out[2*plane+i] = b
			} else {
				out[3*i] = r
				out[3*i+1] = g
				out[3*i+2] = b
			}
		}
	}
	return out
}

func argmax(v []float32) (int, bool) {
	if len(v) == 0 {
		return 0, false
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
