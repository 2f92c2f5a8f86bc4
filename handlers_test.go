package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/recicla/waste"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

const testNeighborhoods = `{"nhits": 1, "records": [
  {"recordid": "r1", "fields": {"nombre": "RUSSAFA", "geo_shape": {"type": "Polygon", "coordinates": [[[-0.380, 39.458], [-0.368, 39.458], [-0.368, 39.466], [-0.380, 39.466], [-0.380, 39.458]]]}}}
]}`

const testSolid = `{"nhits": 1, "records": [
  {"recordid": "s1", "fields": {"tipo_resid": "Organic", "geo_shape": {"type": "Point", "coordinates": [-0.375, 39.461]}}}
]}`

const testGlass = `{"nhits": 2, "records": [
  {"recordid": "g1", "fields": {"geo_shape": {"type": "Point", "coordinates": [-0.371, 39.463]}}},
  {"recordid": "g2", "fields": {"geo_point_2d": [39.464, -0.372]}}
]}`

// openDataStub serves canned search responses keyed by the dataset parameter.
type openDataStub struct {
	mu       sync.Mutex
	statuses map[string]int
}

func (s *openDataStub) fail(ds string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[ds] = status
}

func (s *openDataStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ds := r.URL.Query().Get("dataset")
	s.mu.Lock()
	status, failing := s.statuses[ds]
	s.mu.Unlock()
	if failing {
		w.WriteHeader(status)
		return
	}

	bodies := map[string]string{
		"barris-barrios": testNeighborhoods,
		"solid-ds":       testSolid,
		"glass-ds":       testGlass,
	}
	body, ok := bodies[ds]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

// stubModel always answers "glass" with 0.95.
type stubModel struct{}

func (stubModel) Predict(ctx context.Context, input []float32) ([]float32, error) {
	return []float32{0.01, 0.95, 0.01, 0.01, 0.01, 0.01}, nil
}

func (stubModel) Close() error { return nil }

func stubLoader(ctx context.Context) (waste.Model, error) { return stubModel{}, nil }

func failingLoader(ctx context.Context) (waste.Model, error) {
	return nil, errors.New("no model artifact")
}

func testConfig(baseURL string) *waste.Config {
	cfg := waste.DefaultConfig()
	cfg.Owner = "test"
	cfg.OpenData.BaseURL = baseURL + "/api/records/1.0/search/"
	cfg.OpenData.RefreshSchedule = ""
	cfg.OpenData.Groups = []waste.DatasetGroup{{
		Name: "solid",
		Datasets: []waste.Dataset{
			{ID: "solid-ds"},
			{ID: "glass-ds", WasteType: "Glass"},
		},
	}}
	return cfg
}

// newTestApp wires an App against a stubbed open-data server and an
// in-process model.
func newTestApp(t *testing.T, loader waste.ModelLoader) (*App, *openDataStub) {
	t.Helper()
	stub := &openDataStub{statuses: map[string]int{}}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	app := NewApp(&out)
	app.Log = logr.Discard()
	app.Config = testConfig(srv.URL)
	require.NoError(t, app.setup())
	app.Classifier = waste.NewClassifier(app.Config.Classifier, loader, waste.WithClassifierLogger(logr.Discard()))
	t.Cleanup(app.close)
	return app, stub
}

func newTestHandler(t *testing.T) (http.Handler, *App, *openDataStub) {
	t.Helper()
	app, stub := newTestApp(t, stubLoader)
	return newHTTPServer(app.serverDeps()), app, stub
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 10), uint8(y * 10), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/classify", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// ---------------------------------------------------------------------------
// endpoints
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := get(t, h, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, "test", body["owner"])
	assert.Equal(t, "not loaded", body["classifier"])
}

func TestNeighborhoods(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := get(t, h, "/api/neighborhoods")
	require.Equal(t, http.StatusOK, w.Code)
	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	assert.Equal(t, []string{"Russafa"}, names)

	w = get(t, h, "/api/neighborhoods?format=geojson")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"FeatureCollection"`)
	assert.Contains(t, w.Body.String(), `"Russafa"`)
}

func TestNeighborhoods_UpstreamDown(t *testing.T) {
	h, _, stub := newTestHandler(t)
	stub.fail("barris-barrios", http.StatusBadGateway)

	w := get(t, h, "/api/neighborhoods")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestWasteTypes(t *testing.T) {
	h, app, _ := newTestHandler(t)
	w := get(t, h, "/api/waste-types")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Types []struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		} `json:"types"`
		Groups []waste.DatasetGroup `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Types, len(app.Config.WasteTypes))
	require.Len(t, body.Groups, 1)
	assert.Equal(t, "solid", body.Groups[0].Name)
}

func TestContainers(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := get(t, h, "/api/containers?neighborhood=Russafa")
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Neighborhood string         `json:"neighborhood"`
		Selection    string         `json:"selection"`
		Counts       map[string]int `json:"counts"`
		Degraded     bool           `json:"degraded"`
		View         struct {
			Zoom    int `json:"zoom"`
			Markers []struct {
				WasteType string `json:"wasteType"`
			} `json:"markers"`
		} `json:"view"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Russafa", res.Neighborhood)
	assert.Equal(t, waste.AllWasteTypes, res.Selection)
	assert.Equal(t, map[string]int{"Organic": 1, "Glass": 2}, res.Counts)
	assert.Len(t, res.View.Markers, 3)
	assert.False(t, res.Degraded)
	assert.Positive(t, res.View.Zoom)
}

func TestContainers_FilterByType(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := get(t, h, "/api/containers?neighborhood=Russafa&type=Glass")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"counts":{"Glass":2}`)

	w = get(t, h, "/api/containers?neighborhood=Russafa&type=Batteries")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"markers":[]`)
}

func TestContainers_Errors(t *testing.T) {
	h, _, _ := newTestHandler(t)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing neighborhood", "/api/containers", http.StatusBadRequest},
		{"unknown group", "/api/containers?neighborhood=Russafa&group=nope", http.StatusBadRequest},
		{"unknown neighborhood", "/api/containers?neighborhood=Atlantis", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, get(t, h, tt.target).Code)
		})
	}
}

func TestContainers_NeighborhoodsUnavailable(t *testing.T) {
	h, _, stub := newTestHandler(t)
	stub.fail("barris-barrios", http.StatusInternalServerError)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/containers?neighborhood=Russafa").Code)
}

func TestContainers_Degraded(t *testing.T) {
	h, _, stub := newTestHandler(t)
	stub.fail("glass-ds", http.StatusInternalServerError)

	w := get(t, h, "/api/containers?neighborhood=Russafa")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded":true`)
	assert.Contains(t, w.Body.String(), `"counts":{"Organic":1}`)
}

func TestContainersGeoJSON(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := get(t, h, "/api/containers.geojson?neighborhood=Russafa")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Len(t, fc.Features, 4) // boundary + 3 containers
}

func TestMapEndpoints(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := get(t, h, "/map.svg?neighborhood=Russafa")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<svg")

	w = get(t, h, "/map.png?neighborhood=Russafa&type=Glass")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	_, err := png.Decode(w.Body)
	assert.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/map.svg?neighborhood=Atlantis").Code)
}

func TestClassify(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "image", pngBytes(t, 16, 12)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res waste.ClassificationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "glass", res.Label)
	assert.Equal(t, "Glass", res.Container)
	assert.Equal(t, waste.MessageVery, res.Message)
	assert.InDelta(t, 0.95, res.Confidence, 1e-6)
	assert.NotEmpty(t, res.ID)
}

func TestClassify_Errors(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := get(t, h, "/api/classify")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "file", pngBytes(t, 4, 4)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/classify", strings.NewReader("plain body")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "image", []byte("not an image")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "image", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestClassify_ModelUnavailable(t *testing.T) {
	app, _ := newTestApp(t, failingLoader)
	h := newHTTPServer(app.serverDeps())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "image", pngBytes(t, 8, 8)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(t, h, "/health")
	assert.Contains(t, w.Body.String(), `"classifier":"unavailable"`)
}

func TestHandlers_PublishEvents(t *testing.T) {
	app, _ := newTestApp(t, stubLoader)
	mock := waste.NewMockClient()
	mock.SetConnected(true)
	app.Publisher = waste.NewPublisher(mock, "recicla", logr.Discard())
	h := newHTTPServer(app.serverDeps())

	require.Equal(t, http.StatusOK, get(t, h, "/api/containers?neighborhood=Russafa").Code)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "image", pngBytes(t, 8, 8)))
	require.Equal(t, http.StatusOK, w.Code)

	msgs := mock.Published()
	require.Len(t, msgs, 2)
	assert.Equal(t, "recicla/lookups", msgs[0].Topic)
	assert.Contains(t, string(msgs[0].Payload), `"neighborhood":"Russafa"`)
	assert.Equal(t, "recicla/classifications", msgs[1].Topic)
	assert.Contains(t, string(msgs[1].Payload), `"label":"glass"`)
}

func TestHandlers_PublishFailureDoesNotFailRequest(t *testing.T) {
	app, _ := newTestApp(t, stubLoader)
	app.Publisher = waste.NewPublisher(waste.NewMockClient(), "recicla", logr.Discard())
	h := newHTTPServer(app.serverDeps())

	assert.Equal(t, http.StatusOK, get(t, h, "/api/containers?neighborhood=Russafa").Code)
}

func TestIndex(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := get(t, h, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/map.svg")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/nope").Code)
}
