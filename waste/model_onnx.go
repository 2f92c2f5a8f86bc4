package waste

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit struct {
	sync.Mutex
	done bool
}

// initONNXRuntime initializes the process-wide onnxruntime environment once.
func initONNXRuntime(sharedLibraryPath string) error {
	ortInit.Lock()
	defer ortInit.Unlock()
	if ortInit.done {
		return nil
	}
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initializing onnxruntime: %w", err)
	}
	ortInit.done = true
	return nil
}

// onnxModel runs a local ONNX image classifier with a single input tensor
// and a single [1, numLabels] output tensor.
type onnxModel struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newONNXModel(cfg ClassifierConfig) (*onnxModel, error) {
	if err := initONNXRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	size := int64(cfg.InputSize)
	inShape := ort.NewShape(1, size, size, 3)
	if cfg.Layout == "nchw" {
		inShape = ort.NewShape(1, 3, size, size)
	}

	input, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(cfg.Labels))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("loading model %s: %w", cfg.ModelPath, err)
	}

	return &onnxModel{session: session, input: input, output: output}, nil
}

// Predict copies input into the bound tensor and runs the session. Sessions
// share bound tensors, so calls are serialized.
func (m *onnxModel) Predict(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dst := m.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("running session: %w", err)
	}

	out := make([]float32, len(m.output.GetData()))
	copy(out, m.output.GetData())
	return out, nil
}

func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.session.Destroy()
	m.input.Destroy()
	m.output.Destroy()
	return err
}
