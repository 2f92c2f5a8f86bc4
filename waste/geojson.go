package waste

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// searchResponse is the envelope returned by the records search endpoint
type searchResponse struct {
	NHits   int            `json:"nhits"`
	Records []searchRecord `json:"records"`
}

type searchRecord struct {
	RecordID string       `json:"recordid"`
	Fields   recordFields `json:"fields"`
}

type recordFields struct {
	Name      string            `json:"nombre"`
	WasteType string            `json:"tipo_resid"`
	Shape     *geojson.Geometry `json:"geo_shape"`
	Point     []float64         `json:"geo_point_2d"` // [lat, lon]
}

var titleCaser = cases.Title(language.Spanish)

// titleName normalizes a neighborhood name to title case.
func titleName(s string) string {
	return titleCaser.String(strings.ToLower(strings.TrimSpace(s)))
}

// parseSearchResponse decodes a records search body.
func parseSearchResponse(body []byte) (*searchResponse, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if resp.Records == nil {
		return nil, fmt.Errorf("parsing JSON: response has no records array")
	}
	return &resp, nil
}

// outerRing extracts the boundary ring of a polygonal geometry. For
// MultiPolygon the outer ring of the largest member is used.
func outerRing(g orb.Geometry) (orb.Ring, bool) {
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) == 0 || len(geom[0]) < 3 {
			return nil, false
		}
		return geom[0], true
	case orb.MultiPolygon:
		var best orb.Ring
		bestArea := -1.0
		for _, p := range geom {
			if len(p) == 0 || len(p[0]) < 3 {
				continue
			}
			if a := abs(planar.Area(p[0])); a > bestArea {
				bestArea = a
				best = p[0]
			}
		}
		return best, best != nil
	case orb.Ring:
		return geom, len(geom) >= 3
	}
	return nil, false
}

// recordLocation resolves a container's position from geo_shape, falling back
// to geo_point_2d.
func recordLocation(f recordFields) (orb.Point, bool) {
	if f.Shape != nil && f.Shape.Coordinates != nil {
		if p, ok := f.Shape.Coordinates.(orb.Point); ok {
			return p, true
		}
		if mp, ok := f.Shape.Coordinates.(orb.MultiPoint); ok && len(mp) > 0 {
			return mp[0], true
		}
	}
	if len(f.Point) == 2 {
		return orb.Point{f.Point[1], f.Point[0]}, true
	}
	return orb.Point{}, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// NeighborhoodCollection exports neighborhood boundaries as polygon features
// carrying a "name" property.
func NeighborhoodCollection(ns []Neighborhood) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, n := range ns {
		f := geojson.NewFeature(orb.Polygon{n.Boundary})
		f.Properties["name"] = n.Name
		fc.Append(f)
	}
	return fc
}
