package annoconv

// Geometry primitives tagged with the coordinate space they live in.

import "math"

// Pixel marks absolute image coordinates.
type Pixel struct{}

// Normalized marks coordinates expressed as fractions (0..1) of the image width and height.
type Normalized struct{}

// Space is the set of coordinate space markers. A Point or BBox of one space cannot be used
// where the other is expected; ToPixel and ToNormalized are the only ways across.
type Space interface {
	Pixel | Normalized
}

// Point is a 2D point in coordinate space S.
type Point[S Space] struct {
	X, Y float64
}

// BBox is an axis-aligned box in coordinate space S, stored as its min and max corners (XYXY).
//
// A BBox is not validated on construction: inverted and non-finite boxes are representable so
// that malformed input can be carried through and reported later. Use IsFinite and IsOrdered to
// classify a box.
type BBox[S Space] struct {
	Min, Max Point[S]
}

// PixelBox is a box in absolute pixel coordinates.
type PixelBox = BBox[Pixel]

// NormalizedBox is a box in coordinates relative to the image size.
type NormalizedBox = BBox[Normalized]

// FromXYXY returns the box with corners (xmin, ymin) and (xmax, ymax).
func FromXYXY[S Space](xmin, ymin, xmax, ymax float64) BBox[S] {
	return BBox[S]{Min: Point[S]{xmin, ymin}, Max: Point[S]{xmax, ymax}}
}

// FromXYWH returns the box with top-left corner (x, y) and size w x h.
func FromXYWH[S Space](x, y, w, h float64) BBox[S] {
	return FromXYXY[S](x, y, x+w, y+h)
}

// FromCXCYWH returns the box centred on (cx, cy) with size w x h.
func FromCXCYWH[S Space](cx, cy, w, h float64) BBox[S] {
	return FromXYXY[S](cx-w/2, cy-h/2, cx+w/2, cy+h/2)
}

// XYXY returns the corner coordinates.
func (b BBox[S]) XYXY() (xmin, ymin, xmax, ymax float64) {
	return b.Min.X, b.Min.Y, b.Max.X, b.Max.Y
}

// XYWH returns the top-left corner and the size.
func (b BBox[S]) XYWH() (x, y, w, h float64) {
	return b.Min.X, b.Min.Y, b.Width(), b.Height()
}

// CXCYWH returns the centre and the size.
func (b BBox[S]) CXCYWH() (cx, cy, w, h float64) {
	return (b.Min.X + b.Max.X) / 2, (b.Min.Y + b.Max.Y) / 2, b.Width(), b.Height()
}

// Width is negative for an inverted box.
func (b BBox[S]) Width() float64 {
	return b.Max.X - b.Min.X
}

// Height is negative for an inverted box.
func (b BBox[S]) Height() float64 {
	return b.Max.Y - b.Min.Y
}

// Area is Width * Height, which can be zero or negative for malformed boxes.
func (b BBox[S]) Area() float64 {
	return b.Width() * b.Height()
}

// IsFinite reports whether all four coordinates are finite numbers.
func (b BBox[S]) IsFinite() bool {
	for _, v := range [4]float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// IsOrdered reports whether Min <= Max on both axes.
func (b BBox[S]) IsOrdered() bool {
	return b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y
}

// IoU returns the intersection over union of b and o, in [0, 1].
//
// Non-finite or unordered boxes, and pairs with a zero union, yield 0.
func (b BBox[S]) IoU(o BBox[S]) float64 {
	if !b.IsFinite() || !o.IsFinite() || !b.IsOrdered() || !o.IsOrdered() {
		return 0
	}
	iw := math.Min(b.Max.X, o.Max.X) - math.Max(b.Min.X, o.Min.X)
	ih := math.Min(b.Max.Y, o.Max.Y) - math.Max(b.Min.Y, o.Min.Y)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// PointToNormalized divides p by the image size.
func PointToNormalized(p Point[Pixel], width, height float64) Point[Normalized] {
	return Point[Normalized]{X: p.X / width, Y: p.Y / height}
}

// PointToPixel scales p by the image size.
func PointToPixel(p Point[Normalized], width, height float64) Point[Pixel] {
	return Point[Pixel]{X: p.X * width, Y: p.Y * height}
}

// ToNormalized converts a pixel box to coordinates relative to an image of the given size. A
// zero width or height produces non-finite coordinates; callers check the size first.
func ToNormalized(b PixelBox, width, height float64) NormalizedBox {
	return NormalizedBox{
		Min: PointToNormalized(b.Min, width, height),
		Max: PointToNormalized(b.Max, width, height),
	}
}

// ToPixel converts a normalized box to pixel coordinates for an image of the given size.
func ToPixel(b NormalizedBox, width, height float64) PixelBox {
	return PixelBox{
		Min: PointToPixel(b.Min, width, height),
		Max: PointToPixel(b.Max, width, height),
	}
}
