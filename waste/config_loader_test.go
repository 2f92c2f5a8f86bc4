package waste

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultBaseURL, cfg.OpenData.BaseURL)
	assert.Equal(t, time.Hour, cfg.OpenData.CacheTTL)
	assert.Equal(t, 18, cfg.Map.MaxZoom)
	assert.Equal(t, 15, cfg.Map.DefaultZoom)
	assert.Equal(t, 2, cfg.Map.ZoomPadding)
	assert.Len(t, cfg.Classifier.Labels, 6)
	assert.Equal(t, 224, cfg.Classifier.InputSize)
	assert.Equal(t, DefaultDownloadTimeout, cfg.Classifier.DownloadTimeout)
	assert.Less(t, cfg.Classifier.Timeout, cfg.Classifier.DownloadTimeout)

	solid, ok := cfg.OpenData.GetGroup("solid")
	require.True(t, ok)
	assert.Len(t, solid.Datasets, 2)

	other, ok := cfg.OpenData.GetGroup("other")
	require.True(t, ok)
	assert.Len(t, other.Datasets, 4)
	for _, ds := range other.Datasets {
		assert.NotEmpty(t, ds.WasteType, "dataset %s should be stamped", ds.ID)
	}

	_, ok = cfg.OpenData.GetGroup("missing")
	assert.False(t, ok)
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
owner: someone@example.com
openData:
  baseUrl: http://localhost:9999/search/
map:
  widthPixels: 500
classifier:
  backend: remote
  inferenceUrl: http://localhost:9000/predict
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "someone@example.com", cfg.Owner)
	assert.Equal(t, "http://localhost:9999/search/", cfg.OpenData.BaseURL)
	assert.Equal(t, 500, cfg.Map.WidthPixels)
	assert.Equal(t, 18, cfg.Map.MaxZoom, "unset fields keep defaults")
	assert.Equal(t, "remote", cfg.Classifier.Backend)
	assert.Len(t, cfg.OpenData.Groups, 2)
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("map: [unclosed"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config YAML")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RECICLA_EMAIL", "env@example.com")
	t.Setenv("MODEL_URL", "https://models.example.com/m.onnx")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_PUBLISH_PREFIX", "valencia")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("owner: file@example.com\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "env@example.com", cfg.Owner)
	assert.Equal(t, "https://models.example.com/m.onnx", cfg.Classifier.ModelURL)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "valencia", cfg.MQTT.PublishPrefix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty base url", func(c *Config) { c.OpenData.BaseURL = "" }, "baseUrl"},
		{"empty neighborhood dataset", func(c *Config) { c.OpenData.NeighborhoodDataset = "" }, "neighborhoodDataset"},
		{"no groups", func(c *Config) { c.OpenData.Groups = nil }, "dataset group"},
		{"group without datasets", func(c *Config) { c.OpenData.Groups[0].Datasets = nil }, "no datasets"},
		{"dataset without id", func(c *Config) { c.OpenData.Groups[1].Datasets[0].ID = "" }, "id is required"},
		{"zero width", func(c *Config) { c.Map.WidthPixels = 0 }, "widthPixels"},
		{"zoom below padding", func(c *Config) { c.Map.MaxZoom = 2 }, "maxZoom"},
		{"five labels", func(c *Config) { c.Classifier.Labels = c.Classifier.Labels[:5] }, "exactly 6"},
		{"bad layout", func(c *Config) { c.Classifier.Layout = "hwc" }, "layout"},
		{"bad normalization", func(c *Config) { c.Classifier.Normalization = "imagenet" }, "normalization"},
		{"bad backend", func(c *Config) { c.Classifier.Backend = "tflite" }, "backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := DefaultConfig()
	cfg.Owner = "saved@example.com"
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "saved@example.com", loaded.Owner)
	assert.Equal(t, cfg.WasteTypes, loaded.WasteTypes)
}
