package waste

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the Valencia open-data records search endpoint.
	DefaultBaseURL = "https://valencia.opendatasoft.com/api/records/1.0/search/"

	// DefaultCacheTTL is how long geodata responses are reused.
	DefaultCacheTTL = time.Hour

	// TargetImageSize is the short-side size uploads are scaled to and the
	// square classifier input size.
	TargetImageSize = 224
	// DefaultDownloadTimeout bounds a model artifact download end to end.
	DefaultDownloadTimeout = 10 * time.Minute
)

// DefaultConfig returns the built-in configuration for Valencia.
func DefaultConfig() *Config {
	return &Config{
		OpenData: OpenDataConfig{
			BaseURL:             DefaultBaseURL,
			NeighborhoodDataset: "barris-barrios",
			CacheTTL:            DefaultCacheTTL,
			Timeout:             DefaultFetchTimeout,
			RefreshSchedule:     "@hourly",
			Groups: []DatasetGroup{
				{
					Name:  "solid",
					Label: "Solid waste containers",
					Datasets: []Dataset{
						{ID: "contenidors-residus-solids-contenidores-residuos-solidos"},
						{ID: "contenidors-vidre-contenedores-vidrio", WasteType: "Glass"},
					},
				},
				{
					Name:  "other",
					Label: "Other containers",
					Datasets: []Dataset{
						{ID: "contenidors-piles-contenedores-pilas", WasteType: "Batteries"},
						{ID: "contenidors-oli-usat-contenedores-aceite-usado", WasteType: "Used oil"},
						{ID: "ecoparcs-mobils-ecoparques-moviles", WasteType: "Mobile eco-point"},
						{ID: "contenidors-roba-contenedores-ropa", WasteType: "Clothing"},
					},
				},
			},
		},
		Map: MapConfig{
			WidthPixels: 700,
			MaxZoom:     18,
			DefaultZoom: 15,
			ZoomPadding: 2,
		},
		WasteTypes: []WasteTypeConfig{
			{Name: "Paper/Cardboard", Icon: "icons/paper.png", Color: "#1E64C8"},
			{Name: "Glass", Icon: "icons/glass.png", Color: "#2E8B57"},
			{Name: "Organic", Icon: "icons/organic.png", Color: "#8B5A2B"},
			{Name: "Packaging", Icon: "icons/packaging.png", Color: "#F2C200"},
			{Name: "Batteries", Icon: "icons/batteries.png", Color: "#C0392B"},
			{Name: "Used oil", Icon: "icons/oil.png", Color: "#E67E22"},
			{Name: "Mobile eco-point", Icon: "icons/ecopoint.png", Color: "#8E44AD"},
			{Name: "Clothing", Icon: "icons/clothing.png", Color: "#D35486"},
			{Name: "Solid urban waste", Icon: "icons/solid.png", Color: "#555555"},
		},
		Classifier: ClassifierConfig{
			Backend:         "onnx",
			ModelPath:       "models/waste-classifier.onnx",
			InputName:       "input",
			OutputName:      "output",
			InputSize:       TargetImageSize,
			Layout:          "nhwc",
			Normalization:   "mobilenet",
			Timeout:         10 * time.Second,
			DownloadTimeout: DefaultDownloadTimeout,
			Labels: []LabelConfig{
				{Name: "cardboard", Icon: "icons/paper.png", Container: "Paper/Cardboard"},
				{Name: "glass", Icon: "icons/glass.png", Container: "Glass"},
				{Name: "metal", Icon: "icons/packaging.png", Container: "Packaging"},
				{Name: "paper", Icon: "icons/paper.png", Container: "Paper/Cardboard"},
				{Name: "plastic", Icon: "icons/packaging.png", Container: "Packaging"},
				{Name: "trash", Icon: "icons/solid.png", Container: "Solid urban waste"},
			},
		},
		MQTT: MQTTConfig{
			PublishPrefix: "recicla",
			ClientID:      "recicla",
		},
	}
}

// LoadConfig loads the configuration from a YAML file layered over DefaultConfig,
// then applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides config values with environment variables when set.
// RECICLA_EMAIL and MODEL_URL are the two runtime secrets.
func (c *Config) ApplyEnv() {
	envOverride(&c.Owner, "RECICLA_EMAIL")
	envOverride(&c.Classifier.ModelURL, "MODEL_URL")
	envOverride(&c.OpenData.BaseURL, "OPENDATA_BASE_URL")
	envOverride(&c.MQTT.Broker, "MQTT_BROKER")
	envOverride(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	envOverride(&c.MQTT.Username, "MQTT_USERNAME")
	envOverride(&c.MQTT.Password, "MQTT_PASSWORD")
	envOverride(&c.MQTT.PublishPrefix, "MQTT_PUBLISH_PREFIX")
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks required fields
func (c *Config) Validate() error {
	if c.OpenData.BaseURL == "" {
		return fmt.Errorf("openData.baseUrl is required")
	}
	if c.OpenData.NeighborhoodDataset == "" {
		return fmt.Errorf("openData.neighborhoodDataset is required")
	}
	if len(c.OpenData.Groups) == 0 {
		return fmt.Errorf("at least one dataset group must be defined")
	}
	for i, g := range c.OpenData.Groups {
		if g.Name == "" {
			return fmt.Errorf("openData.groups[%d].name is required", i)
		}
		if len(g.Datasets) == 0 {
			return fmt.Errorf("openData.groups[%d] (%s) has no datasets", i, g.Name)
		}
		for j, ds := range g.Datasets {
			if ds.ID == "" {
				return fmt.Errorf("openData.groups[%d].datasets[%d].id is required for %s", i, j, g.Name)
			}
		}
	}
	if c.Map.WidthPixels <= 0 {
		return fmt.Errorf("map.widthPixels must be positive")
	}
	if c.Map.MaxZoom <= c.Map.ZoomPadding {
		return fmt.Errorf("map.maxZoom (%d) must exceed map.zoomPadding (%d)", c.Map.MaxZoom, c.Map.ZoomPadding)
	}
	if len(c.Classifier.Labels) != 6 {
		return fmt.Errorf("classifier.labels must list exactly 6 labels, got %d", len(c.Classifier.Labels))
	}
	if c.Classifier.InputSize <= 0 {
		return fmt.Errorf("classifier.inputSize must be positive")
	}
	switch c.Classifier.Layout {
	case "nhwc", "nchw":
	default:
		return fmt.Errorf("classifier.layout must be nhwc or nchw, got %q", c.Classifier.Layout)
	}
	switch c.Classifier.Normalization {
	case "mobilenet", "unit":
	default:
		return fmt.Errorf("classifier.normalization must be mobilenet or unit, got %q", c.Classifier.Normalization)
	}
	switch c.Classifier.Backend {
	case "onnx", "remote":
	default:
		return fmt.Errorf("classifier.backend must be onnx or remote, got %q", c.Classifier.Backend)
	}
	return nil
}
