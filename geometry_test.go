package annoconv

import (
	"math"
	"testing"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) <= eps }

func TestBBoxConstructors(t *testing.T) {
	tests := []struct {
		name                   string
		box                    PixelBox
		xmin, ymin, xmax, ymax float64
	}{
		{"xyxy", FromXYXY[Pixel](1, 2, 3, 4), 1, 2, 3, 4},
		{"xywh", FromXYWH[Pixel](10, 20, 90, 60), 10, 20, 100, 80},
		{"cxcywh", FromCXCYWH[Pixel](10, 5, 8, 4), 6, 3, 14, 7},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			xmin, ymin, xmax, ymax := test.box.XYXY()
			if !near(xmin, test.xmin) || !near(ymin, test.ymin) || !near(xmax, test.xmax) || !near(ymax, test.ymax) {
				t.Errorf("got (%g, %g, %g, %g), want (%g, %g, %g, %g)", xmin, ymin, xmax, ymax,
					test.xmin, test.ymin, test.xmax, test.ymax)
			}
		})
	}
}

func TestBBoxAccessors(t *testing.T) {
	b := FromXYXY[Pixel](10, 20, 100, 80)
	if x, y, w, h := b.XYWH(); x != 10 || y != 20 || w != 90 || h != 60 {
		t.Errorf("XYWH = (%g, %g, %g, %g)", x, y, w, h)
	}
	if cx, cy, w, h := b.CXCYWH(); cx != 55 || cy != 50 || w != 90 || h != 60 {
		t.Errorf("CXCYWH = (%g, %g, %g, %g)", cx, cy, w, h)
	}
	if b.Area() != 5400 {
		t.Errorf("Area = %g, want 5400", b.Area())
	}
}

func TestYOLORowToPixels(t *testing.T) {
	// The row "0 0.5 0.5 0.4 0.4" on a 20x10 image.
	box := ToPixel(FromCXCYWH[Normalized](0.5, 0.5, 0.4, 0.4), 20, 10)
	xmin, ymin, xmax, ymax := box.XYXY()
	if !near(xmin, 6) || !near(ymin, 3) || !near(xmax, 14) || !near(ymax, 7) {
		t.Errorf("got (%g, %g, %g, %g), want (6, 3, 14, 7)", xmin, ymin, xmax, ymax)
	}

	back := ToNormalized(box, 20, 10)
	cx, cy, w, h := back.CXCYWH()
	if !near(cx, 0.5) || !near(cy, 0.5) || !near(w, 0.4) || !near(h, 0.4) {
		t.Errorf("round trip gave (%g, %g, %g, %g)", cx, cy, w, h)
	}
}

func TestIoU(t *testing.T) {
	a := FromXYXY[Pixel](0, 0, 10, 10)
	tests := []struct {
		name string
		b    PixelBox
		want float64
	}{
		{"identical", FromXYXY[Pixel](0, 0, 10, 10), 1},
		{"half overlap", FromXYXY[Pixel](5, 0, 15, 10), 50.0 / 150.0},
		{"disjoint", FromXYXY[Pixel](20, 20, 30, 30), 0},
		{"touching", FromXYXY[Pixel](10, 0, 20, 10), 0},
		{"contained", FromXYXY[Pixel](0, 0, 5, 5), 0.25},
		{"unordered", FromXYXY[Pixel](10, 10, 0, 0), 0},
		{"nan", FromXYXY[Pixel](math.NaN(), 0, 10, 10), 0},
		{"inf", FromXYXY[Pixel](0, 0, math.Inf(1), 10), 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := a.IoU(test.b); !near(got, test.want) {
				t.Errorf("IoU = %g, want %g", got, test.want)
			}
			if got := test.b.IoU(a); !near(got, test.want) {
				t.Errorf("IoU is not symmetric: %g, want %g", got, test.want)
			}
		})
	}

	degenerate := FromXYXY[Pixel](5, 5, 5, 5)
	if got := degenerate.IoU(degenerate); got != 0 {
		t.Errorf("IoU of an empty box = %g, want 0", got)
	}
}
