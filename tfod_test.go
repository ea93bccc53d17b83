package annoconv

import (
	"errors"
	"strings"
	"testing"
)

func TestParseTFOD(t *testing.T) {
	data := "\ufefffilename,width,height,class,xmin,ymin,xmax,ymax\n" +
		"z.jpg,200,100,dog,0.1,0.2,0.5,0.6\n" +
		"a.jpg,640.0,480,cat,0,0,1,1\n" +
		"z.jpg,200,100,cat,0.5,0.5,1,1\n"
	ds, err := ParseTFOD([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Images) != 2 || ds.Images[0].FileName != "a.jpg" || ds.Images[0].Width != 640 {
		t.Errorf("unexpected images %+v", ds.Images)
	}
	if ds.Categories[0].Name != "cat" || ds.Categories[1].Name != "dog" {
		t.Errorf("categories must be in name order: %+v", ds.Categories)
	}

	a := ds.Annotations[0]
	if a.ID != 1 || a.ImageID != 2 || a.CategoryID != 2 {
		t.Errorf("unexpected first annotation %+v", a)
	}
	xmin, ymin, xmax, ymax := a.BBox.XYXY()
	if !near(xmin, 20) || !near(ymin, 20) || !near(xmax, 100) || !near(ymax, 60) {
		t.Errorf("box = (%g, %g, %g, %g), want (20, 20, 100, 60)", xmin, ymin, xmax, ymax)
	}
}

func TestParseTFODInvalid(t *testing.T) {
	header := "filename,width,height,class,xmin,ymin,xmax,ymax\n"
	tests := []struct {
		name string
		data string
		line int
	}{
		{"empty", "", 1},
		{"header", "file,w,h,c,x0,y0,x1,y1\n", 1},
		{"width", header + "a.jpg,wide,10,c,0,0,1,1\n", 2},
		{"coordinate", header + "a.jpg,10,10,c,0,0,1,one\n", 2},
		{"fields", header + "a.jpg,10,10,c,0,0,1\n", 2},
		{"size mismatch", header + "a.jpg,10,10,c,0,0,1,1\na.jpg,20,10,c,0,0,1,1\n", 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseTFOD([]byte(test.data))
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("want a ParseError, got %v", err)
			}
			if parseErr.Line != test.line {
				t.Errorf("line = %d, want %d", parseErr.Line, test.line)
			}
		})
	}
}

func TestEncodeTFOD(t *testing.T) {
	enc, err := EncodeTFOD(testDataset())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(enc), "\n"), "\n")
	want := []string{
		"filename,width,height,class,xmin,ymin,xmax,ymax",
		"b.png,64,48,dog,0.062500,0.125000,0.468750,0.833333",
		"b.png,64,48,cat,0.156250,0.046875,0.937500,0.416667",
		"a.png,32,32,dog,0.000000,0.000000,0.500000,0.500000",
	}
	if !equalStrings(lines, want) {
		t.Errorf("got\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

func TestEncodeTFODDropsUnannotatedImages(t *testing.T) {
	enc, err := EncodeTFOD(testDataset())
	if err != nil {
		t.Fatal(err)
	}
	ds, err := ParseTFOD(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got := imageNames(ds); !equalStrings(got, []string{"a.png", "b.png"}) {
		t.Errorf("images = %v", got)
	}
	if got := categoryNames(ds); !equalStrings(got, []string{"cat", "dog"}) {
		t.Errorf("unused categories must be dropped, got %v", got)
	}
	assertSubset(t, testDataset(), ds, 1e-2)
}
