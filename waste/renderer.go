package waste

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// minRenderSpan is the extent in degrees used for a degenerate bound so a
// single point still renders with some context around it.
const minRenderSpan = 0.002

// nrgbaToRGBA converts color.NRGBA to premultiplied color.RGBA for canvas.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * a) / 255),
		G: uint8((uint32(c.G) * a) / 255),
		B: uint8((uint32(c.B) * a) / 255),
		A: c.A,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// MapRenderer draws a MapView: the neighborhood outline and one colored dot
// per marker. Output units are pixels of the configured render width.
type MapRenderer struct {
	catalog      *Catalog
	Width        float64
	Padding      float64
	MarkerRadius float64
	Legend       bool // PNG only
}

// NewMapRenderer creates a renderer with default styling.
func NewMapRenderer(catalog *Catalog, widthPixels int) *MapRenderer {
	return &MapRenderer{
		catalog:      catalog,
		Width:        float64(widthPixels),
		Padding:      20,
		MarkerRadius: 4,
		Legend:       true,
	}
}

// projection maps lon/lat into canvas units with an equirectangular
// projection scaled by cos(lat) at the view center.
type projection struct {
	minLon, minLat float64
	kx, scale      float64
	padding        float64
}

func (p projection) apply(pt orb.Point) (float64, float64) {
	x := (pt.Lon()-p.minLon)*p.kx*p.scale + p.padding
	y := (pt.Lat()-p.minLat)*p.scale + p.padding
	return x, y
}

func (r *MapRenderer) layout(v MapView) (projection, float64, float64) {
	bound := v.Boundary.Bound()
	if len(v.Boundary) == 0 {
		bound = orb.Bound{Min: v.Center, Max: v.Center}
	}
	for _, m := range v.Markers {
		bound = bound.Extend(m.Location)
	}
	if bound.Max.Lon()-bound.Min.Lon() < minRenderSpan && bound.Max.Lat()-bound.Min.Lat() < minRenderSpan {
		bound = bound.Pad(minRenderSpan / 2)
	}

	center := bound.Center()
	kx := math.Cos(center.Lat() * math.Pi / 180)
	spanX := (bound.Max.Lon() - bound.Min.Lon()) * kx
	spanY := bound.Max.Lat() - bound.Min.Lat()

	inner := r.Width - 2*r.Padding
	scale := inner / math.Max(spanX, spanY)

	p := projection{
		minLon:  bound.Min.Lon(),
		minLat:  bound.Min.Lat(),
		kx:      kx,
		scale:   scale,
		padding: r.Padding,
	}
	width := spanX*scale + 2*r.Padding
	height := spanY*scale + 2*r.Padding
	return p, width, height
}

// RenderSVG writes the view as SVG.
func (r *MapRenderer) RenderSVG(w io.Writer, v MapView) error {
	p, width, height := r.layout(v)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, p, v, width, height)
	return svgRenderer.Close()
}

// RenderPNG writes the view as PNG at one pixel per canvas unit, with a
// legend of the waste types present.
func (r *MapRenderer) RenderPNG(w io.Writer, v MapView) error {
	p, width, height := r.layout(v)

	rast := rasterizer.New(width, height, canvas.DPMM(1.0), canvas.DefaultColorSpace)
	r.renderToCanvas(rast, p, v, width, height)

	if r.Legend {
		r.drawLegend(rast, v)
	}
	return png.Encode(w, rast)
}

func (r *MapRenderer) renderToCanvas(renderer canvasRenderer, p projection, v MapView, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	if len(v.Boundary) >= 3 {
		outline := &canvas.Path{}
		for i, pt := range v.Boundary {
			x, y := p.apply(pt)
			if i == 0 {
				outline.MoveTo(x, y)
			} else {
				outline.LineTo(x, y)
			}
		}
		outline.Close()

		areaStyle := canvas.DefaultStyle
		areaStyle.Fill = canvas.Paint{Color: color.RGBA{235, 240, 250, 255}}
		areaStyle.Stroke = canvas.Paint{Color: color.RGBA{40, 60, 120, 255}}
		areaStyle.StrokeWidth = 2.0
		renderer.RenderPath(outline, areaStyle, canvas.Identity)
	}

	for _, m := range v.Markers {
		c, ok := r.catalog.Color(m.WasteType)
		if !ok {
			c = UnknownColor
		}
		markerStyle := canvas.DefaultStyle
		markerStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(c)}
		markerStyle.Stroke = canvas.Paint{Color: canvas.Black}
		markerStyle.StrokeWidth = 1.0

		x, y := p.apply(m.Location)
		dot := canvas.Circle(r.MarkerRadius).Translate(x, y)
		renderer.RenderPath(dot, markerStyle, canvas.Identity)
	}
}

// drawLegend lists each waste type present with its color swatch in the
// top-left corner.
func (r *MapRenderer) drawLegend(img draw.Image, v MapView) {
	seen := make(map[string]bool)
	y := 15
	for _, m := range v.Markers {
		if seen[m.WasteType] {
			continue
		}
		seen[m.WasteType] = true

		c, ok := r.catalog.Color(m.WasteType)
		if !ok {
			c = UnknownColor
		}
		swatch := image.Rect(10, y-9, 20, y+1)
		draw.Draw(img, swatch, image.NewUniform(c), image.Point{}, draw.Src)
		drawText(img, 26, y, m.WasteType, color.RGBA{0, 0, 0, 255})
		y += 16
	}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
