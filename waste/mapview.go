package waste

import (
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Marker is one container placed on the map.
type Marker struct {
	Location  orb.Point
	WasteType string
	Icon      string // empty when the waste type is not in the catalog
}

// MarshalJSON renders the location as explicit lat/lon fields.
func (m Marker) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Lat       float64 `json:"lat"`
		Lon       float64 `json:"lon"`
		WasteType string  `json:"wasteType"`
		Icon      string  `json:"icon"`
	}{m.Location.Lat(), m.Location.Lon(), m.WasteType, m.Icon})
}

// MapView is the camera framing plus markers for one neighborhood lookup.
type MapView struct {
	Center   orb.Point
	Zoom     int
	Boundary orb.Ring
	Markers  []Marker
}

// MarshalJSON renders the center as explicit lat/lon fields.
func (v MapView) MarshalJSON() ([]byte, error) {
	markers := v.Markers
	if markers == nil {
		markers = []Marker{}
	}
	return json.Marshal(struct {
		Center struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"center"`
		Zoom    int      `json:"zoom"`
		Markers []Marker `json:"markers"`
	}{
		Center: struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		}{v.Center.Lat(), v.Center.Lon()},
		Zoom:    v.Zoom,
		Markers: markers,
	})
}

// FeatureCollection exports the view as GeoJSON: the boundary polygon
// followed by one point feature per marker.
func (v MapView) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if len(v.Boundary) > 0 {
		f := geojson.NewFeature(orb.Polygon{v.Boundary})
		f.Properties["kind"] = "boundary"
		f.Properties["zoom"] = v.Zoom
		fc.Append(f)
	}
	for _, m := range v.Markers {
		f := geojson.NewFeature(m.Location)
		f.Properties["kind"] = "container"
		f.Properties["wasteType"] = m.WasteType
		if m.Icon != "" {
			f.Properties["icon"] = m.Icon
		}
		fc.Append(f)
	}
	return fc
}

// MapViewBuilder frames a neighborhood and places container markers.
// It is a pure function of its inputs.
type MapViewBuilder struct {
	catalog     *Catalog
	widthPixels int
	maxZoom     int
	defaultZoom int
	padding     int
}

// NewMapViewBuilder creates a builder from map settings and the shared catalog.
func NewMapViewBuilder(cfg MapConfig, catalog *Catalog) *MapViewBuilder {
	return &MapViewBuilder{
		catalog:     catalog,
		widthPixels: cfg.WidthPixels,
		maxZoom:     cfg.MaxZoom,
		defaultZoom: cfg.DefaultZoom,
		padding:     cfg.ZoomPadding,
	}
}

// CenterAndZoom returns the bounding-box midpoint and a zoom level that fits
// the boundary's longitude extent into the render width.
//
//	zoom = floor(log2(360 * cos(centerLat) / (lonExtent / widthPixels)))
//
// The raw zoom is clamped to [padding+1, maxZoom] and then reduced by padding.
// A zero lat or lon extent uses defaultZoom before the padding adjustment.
func (b *MapViewBuilder) CenterAndZoom(boundary orb.Ring) (orb.Point, int) {
	bound := boundary.Bound()
	center := bound.Center()

	lonExtent := bound.Max.Lon() - bound.Min.Lon()
	latExtent := bound.Max.Lat() - bound.Min.Lat()
	if lonExtent == 0 || latExtent == 0 {
		return center, b.defaultZoom - b.padding
	}

	degreesPerPixel := lonExtent / float64(b.widthPixels)
	raw := math.Log2(360 * math.Cos(center.Lat()*math.Pi/180) / degreesPerPixel)

	zoom := b.maxZoom
	if !math.IsNaN(raw) && !math.IsInf(raw, 0) {
		zoom = int(math.Floor(raw))
	}
	zoom = max(b.padding+1, min(zoom, b.maxZoom))

	return center, zoom - b.padding
}

// Markers emits one marker per location, grouped by waste type in the
// grouping's order. Unknown types get an empty icon.
func (b *MapViewBuilder) Markers(g *Grouped) []Marker {
	markers := make([]Marker, 0, g.Len())
	for _, t := range g.Types() {
		icon := b.catalog.Icon(t)
		for _, loc := range g.Locations(t) {
			markers = append(markers, Marker{Location: loc, WasteType: t, Icon: icon})
		}
	}
	return markers
}

// Build frames the boundary and places the markers of g.
func (b *MapViewBuilder) Build(boundary orb.Ring, g *Grouped) MapView {
	center, zoom := b.CenterAndZoom(boundary)
	return MapView{
		Center:   center,
		Zoom:     zoom,
		Boundary: boundary,
		Markers:  b.Markers(g),
	}
}
