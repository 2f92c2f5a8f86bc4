package waste

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cavaliergopher/grab/v3"
	"github.com/go-logr/logr"
)

// partialSuffix marks an artifact that is still being downloaded.
const partialSuffix = ".part"

// downloadClient returns a copy of client without an overall timeout. A
// client timeout also bounds reading the body, so large artifacts rely on
// ctx for cancellation instead.
func downloadClient(client *http.Client) *http.Client {
	if client == nil {
		return nil
	}
	c := *client
	c.Timeout = 0
	return &c
}

// EnsureModelArtifact makes sure the model file exists at path, downloading
// it from modelURL if it is missing. An existing file is reused as is. The
// body is written to path+".part" and renamed into place once complete, so
// an interrupted download never looks like a usable artifact.
func EnsureModelArtifact(ctx context.Context, path, modelURL string, client *http.Client, log logr.Logger) error {
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return fmt.Errorf("model path %s is a directory", path)
		}
		log.V(1).Info("model artifact present", "path", path, "bytes", info.Size())
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking model path: %w", err)
	}

	if modelURL == "" {
		return fmt.Errorf("model artifact %s missing and no model URL configured", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	gc := grab.NewClient()
	if dc := downloadClient(client); dc != nil {
		gc.HTTPClient = dc
	}
	gc.UserAgent = "recicla"

	partial := path + partialSuffix
	if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale partial download: %w", err)
	}

	req, err := grab.NewRequest(partial, modelURL)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	req = req.WithContext(ctx)
	req.NoResume = true

	log.Info("downloading model artifact", "path", path)
	resp := gc.Do(req)
	if err := resp.Err(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("downloading model: %w", err)
	}
	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return fmt.Errorf("installing model artifact: %w", err)
	}
	log.Info("model artifact downloaded", "path", path, "bytes", resp.BytesComplete())
	return nil
}

// NewModelLoader returns the loader for the configured backend. The onnx
// backend fetches the artifact first when it is not on disk, bounded by
// DownloadTimeout rather than client's per-request timeout, which only
// applies to remote inference calls.
func NewModelLoader(cfg ClassifierConfig, client *http.Client, log logr.Logger) ModelLoader {
	return func(ctx context.Context) (Model, error) {
		switch cfg.Backend {
		case "remote":
			if cfg.InferenceURL == "" {
				return nil, fmt.Errorf("remote backend requires inferenceUrl")
			}
			return newRemoteModel(cfg, client), nil
		case "onnx", "":
			dlCtx := ctx
			if cfg.DownloadTimeout > 0 {
				var cancel context.CancelFunc
				dlCtx, cancel = context.WithTimeout(ctx, cfg.DownloadTimeout)
				defer cancel()
			}
			if err := EnsureModelArtifact(dlCtx, cfg.ModelPath, cfg.ModelURL, client, log); err != nil {
				return nil, err
			}
			return newONNXModel(cfg)
		default:
			return nil, fmt.Errorf("unknown classifier backend %q", cfg.Backend)
		}
	}
}
