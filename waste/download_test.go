package waste

import (
	"bytes"
	"context"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeModelBytes = []byte("not really an onnx graph, but bytes are bytes")

func modelServer(t *testing.T, gets *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/waste.onnx" {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		http.ServeContent(w, r, "waste.onnx", time.Time{}, bytes.NewReader(fakeModelBytes))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureModelArtifact_DownloadsOnce(t *testing.T) {
	var gets atomic.Int32
	srv := modelServer(t, &gets)
	path := filepath.Join(t.TempDir(), "models", "waste.onnx")
	ctx := context.Background()

	require.NoError(t, EnsureModelArtifact(ctx, path, srv.URL+"/models/waste.onnx", srv.Client(), logr.Discard()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fakeModelBytes, data)

	require.NoError(t, EnsureModelArtifact(ctx, path, srv.URL+"/models/waste.onnx", srv.Client(), logr.Discard()))
	assert.Equal(t, int32(1), gets.Load(), "existing artifact is reused")
}

func TestEnsureModelArtifact_ExistingFileNoURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, fakeModelBytes, 0644))

	assert.NoError(t, EnsureModelArtifact(context.Background(), path, "", nil, logr.Discard()))
}

func TestEnsureModelArtifact_Errors(t *testing.T) {
	var gets atomic.Int32
	srv := modelServer(t, &gets)
	dir := t.TempDir()

	err := EnsureModelArtifact(context.Background(), filepath.Join(dir, "a.onnx"), "", nil, logr.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model URL configured")

	path := filepath.Join(dir, "b.onnx")
	err = EnsureModelArtifact(context.Background(), path, srv.URL+"/missing.onnx", srv.Client(), logr.Discard())
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "failed download leaves no artifact")

	err = EnsureModelArtifact(context.Background(), dir, srv.URL+"/models/waste.onnx", srv.Client(), logr.Discard())
	assert.ErrorContains(t, err, "is a directory")
}

func TestNewModelLoader_Backends(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig().Classifier
	cfg.Backend = "remote"
	cfg.InferenceURL = ""
	_, err := NewModelLoader(cfg, nil, logr.Discard())(ctx)
	assert.ErrorContains(t, err, "inferenceUrl")

	cfg.InferenceURL = "http://localhost:1/predict"
	m, err := NewModelLoader(cfg, nil, logr.Discard())(ctx)
	require.NoError(t, err)
	assert.IsType(t, &remoteModel{}, m)

	cfg.Backend = "tflite"
	_, err = NewModelLoader(cfg, nil, logr.Discard())(ctx)
	assert.ErrorContains(t, err, "unknown classifier backend")

	// The onnx backend fails before touching the runtime when the artifact
	// cannot be obtained.
	cfg.Backend = "onnx"
	cfg.ModelPath = filepath.Join(t.TempDir(), "absent.onnx")
	cfg.ModelURL = ""
	_, err = NewModelLoader(cfg, nil, logr.Discard())(ctx)
	assert.ErrorContains(t, err, "no model URL configured")
}

func TestClassifier_UnavailableWithoutArtifact(t *testing.T) {
	cfg := DefaultConfig().Classifier
	cfg.ModelPath = filepath.Join(t.TempDir(), "absent.onnx")
	c := NewClassifier(cfg, NewModelLoader(cfg, nil, logr.Discard()))

	_, err := c.Classify(context.Background(), uniformImage(4, 4, color.White))
	assert.ErrorIs(t, err, ErrClassifierUnavailable)
}

func TestEnsureModelArtifact_SlowBodyOutlivesRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		half := len(fakeModelBytes) / 2
		w.Header().Set("Content-Length", strconv.Itoa(len(fakeModelBytes)))
		_, _ = w.Write(fakeModelBytes[:half])
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write(fakeModelBytes[half:])
	}))
	t.Cleanup(srv.Close)

	// The inference client times out long before the body finishes.
	client := srv.Client()
	client.Timeout = 100 * time.Millisecond
	path := filepath.Join(t.TempDir(), "slow.onnx")

	require.NoError(t, EnsureModelArtifact(context.Background(), path, srv.URL+"/slow.onnx", client, logr.Discard()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fakeModelBytes, data)
	assert.Equal(t, 100*time.Millisecond, client.Timeout, "caller's client is not mutated")
}

func TestEnsureModelArtifact_ContextBoundsDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(fakeModelBytes)))
		_, _ = w.Write(fakeModelBytes[:4])
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	path := filepath.Join(t.TempDir(), "stalled.onnx")

	err := EnsureModelArtifact(ctx, path, srv.URL+"/stalled.onnx", srv.Client(), logr.Discard())
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(statErr), "partial download is cleaned up")
}

func TestEnsureModelArtifact_StalePartialIsReplaced(t *testing.T) {
	var gets atomic.Int32
	srv := modelServer(t, &gets)
	path := filepath.Join(t.TempDir(), "waste.onnx")
	require.NoError(t, os.WriteFile(path+".part", []byte("trunc"), 0644))

	require.NoError(t, EnsureModelArtifact(context.Background(), path, srv.URL+"/models/waste.onnx", srv.Client(), logr.Discard()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fakeModelBytes, data)
	_, statErr := os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, int32(1), gets.Load(), "a leftover partial file is not treated as the artifact")
}
