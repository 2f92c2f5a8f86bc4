package waste

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"math"

	"github.com/rwcarlsen/goexif/exif"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrEmptyImage is returned for zero-byte uploads or zero-sized images.
	ErrEmptyImage = errors.New("empty image")
	// ErrUnsupportedImage is returned when the upload is not a decodable JPEG, PNG or WebP.
	ErrUnsupportedImage = errors.New("unsupported image")
)

// EXIF orientation tag values that trigger a corrective rotation.
const (
	OrientationNormal    = 1
	OrientationRotate180 = 3
	OrientationRotate270 = 6
	OrientationRotate90  = 8
)

// Preprocessor normalizes uploaded photos before classification: it corrects
// orientation, flattens to opaque RGB and scales the shorter side to Size.
type Preprocessor struct {
	Size int
}

// NewPreprocessor creates a preprocessor for the given short-side target.
func NewPreprocessor(size int) *Preprocessor {
	if size <= 0 {
		size = TargetImageSize
	}
	return &Preprocessor{Size: size}
}

// Decode decodes an uploaded image and reads its EXIF orientation.
// A missing or unreadable EXIF block yields OrientationNormal.
func Decode(data []byte) (image.Image, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("decoding image: %w: %w", ErrUnsupportedImage, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, 0, ErrEmptyImage
	}

	orientation := OrientationNormal
	if format == "jpeg" {
		orientation = readOrientation(data)
	}
	return img, orientation, nil
}

func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return OrientationNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal
	}
	v, err := tag.Int(0)
	if err != nil {
		return OrientationNormal
	}
	return v
}

// NormalizeBytes decodes and normalizes an uploaded image.
func (p *Preprocessor) NormalizeBytes(data []byte) (*image.RGBA, error) {
	img, orientation, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Normalize(img, orientation), nil
}

// Normalize returns a new image; src is not modified.
//
// Orientation 3 rotates 180°, 6 rotates 270° and 8 rotates 90°, all
// counter-clockwise. Other values leave the image as is.
func (p *Preprocessor) Normalize(src image.Image, orientation int) *image.RGBA {
	rgb := toOpaqueRGBA(src)
	switch orientation {
	case OrientationRotate180:
		rgb = rotate180(rgb)
	case OrientationRotate270:
		rgb = rotate270(rgb)
	case OrientationRotate90:
		rgb = rotate90(rgb)
	}
	return scaleShortSide(rgb, p.Size)
}

// toOpaqueRGBA composites src over white into a fresh RGBA with a zero origin.
func toOpaqueRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// rotate90 rotates counter-clockwise by 90°.
func rotate90(src *image.RGBA) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for dy := 0; dy < w; dy++ {
		for dx := 0; dx < h; dx++ {
			dst.SetRGBA(dx, dy, src.RGBAAt(w-1-dy, dx))
		}
	}
	return dst
}

func rotate180(src *image.RGBA) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			dst.SetRGBA(dx, dy, src.RGBAAt(w-1-dx, h-1-dy))
		}
	}
	return dst
}

// rotate270 rotates counter-clockwise by 270°.
func rotate270(src *image.RGBA) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for dy := 0; dy < w; dy++ {
		for dx := 0; dx < h; dx++ {
			dst.SetRGBA(dx, dy, src.RGBAAt(dy, h-1-dx))
		}
	}
	return dst
}

// scaleShortSide resamples with Catmull-Rom so that the shorter side equals
// size, preserving the aspect ratio.
func scaleShortSide(src *image.RGBA, size int) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	var nw, nh int
	if w <= h {
		nw = size
		nh = max(1, int(math.Round(float64(h)*float64(size)/float64(w))))
	} else {
		nh = size
		nw = max(1, int(math.Round(float64(w)*float64(size)/float64(h))))
	}
	return resample(src, nw, nh)
}

func resample(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
