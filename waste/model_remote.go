package waste

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// remoteModel posts the input tensor to an HTTP inference endpoint.
//
// Request:  {"input": [...], "shape": [1, H, W, 3]}
// Response: {"output": [...]}
type remoteModel struct {
	endpoint string
	shape    []int
	client   *http.Client
}

type inferenceRequest struct {
	Input []float32 `json:"input"`
	Shape []int     `json:"shape"`
}

type inferenceResponse struct {
	Output []float32 `json:"output"`
}

func newRemoteModel(cfg ClassifierConfig, client *http.Client) *remoteModel {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	shape := []int{1, cfg.InputSize, cfg.InputSize, 3}
	if cfg.Layout == "nchw" {
		shape = []int{1, 3, cfg.InputSize, cfg.InputSize}
	}
	return &remoteModel{endpoint: cfg.InferenceURL, shape: shape, client: client}
}

func (m *remoteModel) Predict(ctx context.Context, input []float32) ([]float32, error) {
	body, err := json.Marshal(inferenceRequest{Input: input, Shape: m.shape})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status: %d", resp.StatusCode)
	}

	var out inferenceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}
	return out.Output, nil
}

func (m *remoteModel) Close() error {
	return nil
}
