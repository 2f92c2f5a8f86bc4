package waste

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
)

func TestTitleName(t *testing.T) {
	assert.Equal(t, "Russafa", titleName("RUSSAFA"))
	assert.Equal(t, "El Carme", titleName("  EL CARME "))
	assert.Equal(t, "", titleName("   "))
}

func TestParseSearchResponse(t *testing.T) {
	resp, err := parseSearchResponse([]byte(`{"nhits": 1, "records": [{"recordid": "x", "fields": {"tipo_resid": "Glass"}}]}`))
	assert.NoError(t, err)
	assert.Equal(t, 1, resp.NHits)
	assert.Equal(t, "Glass", resp.Records[0].Fields.WasteType)

	resp, err = parseSearchResponse([]byte(`{"nhits": 0, "records": []}`))
	assert.NoError(t, err)
	assert.Empty(t, resp.Records)

	_, err = parseSearchResponse([]byte(`[]`))
	assert.ErrorContains(t, err, "parsing JSON")
}

func TestOuterRing(t *testing.T) {
	square := orb.Ring{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
	small := orb.Ring{{5, 5}, {6, 5}, {6, 6}, {5, 5}}

	r, ok := outerRing(orb.Polygon{square})
	assert.True(t, ok)
	assert.Equal(t, square, r)

	r, ok = outerRing(orb.MultiPolygon{{small}, {square}})
	assert.True(t, ok)
	assert.Equal(t, square, r, "largest member wins")

	_, ok = outerRing(orb.Polygon{})
	assert.False(t, ok)
	_, ok = outerRing(orb.Point{1, 1})
	assert.False(t, ok)
	_, ok = outerRing(orb.Ring{{0, 0}, {1, 1}})
	assert.False(t, ok)
}

func TestRecordLocation(t *testing.T) {
	p, ok := recordLocation(recordFields{Shape: geojson.NewGeometry(orb.Point{-0.37, 39.46})})
	assert.True(t, ok)
	assert.Equal(t, orb.Point{-0.37, 39.46}, p)

	p, ok = recordLocation(recordFields{Shape: geojson.NewGeometry(orb.MultiPoint{{-0.1, 39.1}, {-0.2, 39.2}})})
	assert.True(t, ok)
	assert.Equal(t, orb.Point{-0.1, 39.1}, p)

	p, ok = recordLocation(recordFields{Point: []float64{39.46, -0.37}})
	assert.True(t, ok)
	assert.Equal(t, orb.Point{-0.37, 39.46}, p, "geo_point_2d is lat,lon")

	_, ok = recordLocation(recordFields{})
	assert.False(t, ok)
}

func TestNeighborhoodCollection(t *testing.T) {
	ring := orb.Ring{{-0.38, 39.45}, {-0.37, 39.45}, {-0.37, 39.46}, {-0.38, 39.45}}
	fc := NeighborhoodCollection([]Neighborhood{{Name: "Russafa", Boundary: ring}})

	assert.Len(t, fc.Features, 1)
	assert.Equal(t, "Russafa", fc.Features[0].Properties["name"])
	poly, ok := fc.Features[0].Geometry.(orb.Polygon)
	assert.True(t, ok)
	assert.Equal(t, ring, poly[0])

	assert.Empty(t, NeighborhoodCollection(nil).Features)
}
