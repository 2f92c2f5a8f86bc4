package waste

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// AllWasteTypes is the selection sentinel that passes every waste type through.
const AllWasteTypes = "All"

// Neighborhood is a named city district with its boundary ring.
// Boundary vertices are [lon, lat] pairs.
type Neighborhood struct {
	Name     string   `json:"name"`
	Boundary orb.Ring `json:"boundary"`
}

// Contains reports whether p lies inside the neighborhood boundary.
func (n Neighborhood) Contains(p orb.Point) bool {
	return planar.RingContains(n.Boundary, p)
}

// ContainerRecord is a single street container of a known waste type.
// Location is stored as orb.Point{lon, lat}; use Lat()/Lon() to read it.
type ContainerRecord struct {
	WasteType string    `json:"wasteType"`
	Location  orb.Point `json:"location"`
}

// Dataset is one independently queried open-data collection.
// When WasteType is set, every record returned by the dataset is stamped with it;
// otherwise the record's inline tipo_resid field is used.
type Dataset struct {
	ID        string `yaml:"id" json:"id"`
	WasteType string `yaml:"wasteType,omitempty" json:"wasteType,omitempty"`
}

// DatasetGroup is a named set of datasets merged into one container list
// (e.g. "solid" = solid waste + glass).
type DatasetGroup struct {
	Name     string    `yaml:"name" json:"name"`
	Label    string    `yaml:"label,omitempty" json:"label,omitempty"`
	Datasets []Dataset `yaml:"datasets" json:"datasets"`
}

// ClassificationResult is the outcome of classifying one uploaded image.
type ClassificationResult struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Message    string    `json:"message"`
	Icon       string    `json:"icon,omitempty"`
	Container  string    `json:"container,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WasteTypeConfig defines one catalog entry.
type WasteTypeConfig struct {
	Name  string `yaml:"name" json:"name"`
	Icon  string `yaml:"icon" json:"icon"`
	Color string `yaml:"color" json:"color"`
}

// LabelConfig maps one classifier output index to a human label.
type LabelConfig struct {
	Name      string `yaml:"name" json:"name"`
	Icon      string `yaml:"icon,omitempty" json:"icon,omitempty"`
	Container string `yaml:"container,omitempty" json:"container,omitempty"` // suggested container waste type
}

// OpenDataConfig holds the municipal open-data API settings
type OpenDataConfig struct {
	BaseURL             string         `yaml:"baseUrl" json:"baseUrl"`
	NeighborhoodDataset string         `yaml:"neighborhoodDataset" json:"neighborhoodDataset"`
	Groups              []DatasetGroup `yaml:"groups" json:"groups"`
	CacheTTL            time.Duration  `yaml:"cacheTtl" json:"cacheTtl"`
	Timeout             time.Duration  `yaml:"timeout" json:"timeout"`
	RefreshSchedule     string         `yaml:"refreshSchedule,omitempty" json:"refreshSchedule,omitempty"`     // cron schedule; empty disables
	SimplifyTolerance   float64        `yaml:"simplifyTolerance,omitempty" json:"simplifyTolerance,omitempty"` // degrees; 0 disables
}

// GetGroup returns the dataset group with the given name
func (c *OpenDataConfig) GetGroup(name string) (DatasetGroup, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return DatasetGroup{}, false
}

// MapConfig holds camera framing settings
type MapConfig struct {
	WidthPixels int `yaml:"widthPixels" json:"widthPixels"`
	MaxZoom     int `yaml:"maxZoom" json:"maxZoom"`
	DefaultZoom int `yaml:"defaultZoom" json:"defaultZoom"` // used for zero-extent boundaries
	ZoomPadding int `yaml:"zoomPadding" json:"zoomPadding"`
}

// ClassifierConfig holds model artifact and inference settings
type ClassifierConfig struct {
	Backend           string        `yaml:"backend" json:"backend"` // "onnx" or "remote"
	ModelURL          string        `yaml:"modelUrl,omitempty" json:"-"`
	ModelPath         string        `yaml:"modelPath" json:"modelPath"`
	SharedLibraryPath string        `yaml:"sharedLibraryPath,omitempty" json:"sharedLibraryPath,omitempty"`
	InferenceURL      string        `yaml:"inferenceUrl,omitempty" json:"inferenceUrl,omitempty"`
	InputName         string        `yaml:"inputName,omitempty" json:"inputName,omitempty"`
	OutputName        string        `yaml:"outputName,omitempty" json:"outputName,omitempty"`
	InputSize         int           `yaml:"inputSize" json:"inputSize"`
	Layout            string        `yaml:"layout" json:"layout"`                   // "nhwc" or "nchw"
	Normalization     string        `yaml:"normalization" json:"normalization"`     // "mobilenet" or "unit"
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`                 // per inference request
	DownloadTimeout   time.Duration `yaml:"downloadTimeout" json:"downloadTimeout"` // whole model artifact download
	Labels            []LabelConfig `yaml:"labels" json:"labels"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// Config represents the full configuration file
type Config struct {
	Owner      string            `yaml:"owner,omitempty" json:"owner,omitempty"` // author identification tag
	OpenData   OpenDataConfig    `yaml:"openData" json:"openData"`
	Map        MapConfig         `yaml:"map" json:"map"`
	WasteTypes []WasteTypeConfig `yaml:"wasteTypes" json:"wasteTypes"`
	Classifier ClassifierConfig  `yaml:"classifier" json:"classifier"`
	MQTT       MQTTConfig        `yaml:"mqtt" json:"mqtt"`
}
