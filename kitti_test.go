package annoconv

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParseKITTILabels(t *testing.T) {
	data := "Car 0.00 0 -1.58 587.01 173.33 614.12 200.12 1.65 1.67 3.64 -0.65 1.71 46.70 -1.59\n" +
		"\n" +
		"Pedestrian 0.50 1 0.21 10 20 30 40 1.8 0.6 0.8 1 2 3 0.1 0.93\n"
	objects, err := ParseKITTILabels([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 {
		t.Fatalf("got %d objects, want 2", len(objects))
	}
	car := objects[0]
	if car.Type != "Car" || car.Box != [4]float64{587.01, 173.33, 614.12, 200.12} || car.Score != nil {
		t.Errorf("unexpected object %+v", car)
	}
	if car.Dimensions != "1.65 1.67 3.64" || car.Location != "-0.65 1.71 46.70" || car.RotationY != "-1.59" {
		t.Errorf("3D fields not kept verbatim: %+v", car)
	}
	if s := objects[1].Score; s == nil || *s != 0.93 {
		t.Errorf("score = %v, want 0.93", s)
	}
}

func TestParseKITTILabelsInvalid(t *testing.T) {
	for name, data := range map[string]string{
		"short":  "Car 0 0 0 1 2 3 4\n",
		"number": "Car 0.00 0 -1.58 587.01 x 614.12 200.12 1.65 1.67 3.64 -0.65 1.71 46.70 -1.59\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseKITTILabels([]byte(data))
			var parseErr *ParseError
			if !errors.As(err, &parseErr) || parseErr.Line != 1 {
				t.Errorf("want a ParseError on line 1, got %v", err)
			}
		})
	}
}

func TestFromKITTI(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "image_2", "000001.png"), 100, 50)
	writePNG(t, filepath.Join(dir, "image_2", "000002.png"), 10, 10)
	writeTestFile(t, filepath.Join(dir, "label_2", "000001.txt"),
		"Van 0.00 0 0.00 1.00 2.00 30.00 40.00 0.00 0.00 0.00 0.00 0.00 0.00 0.00\n"+
			"Car 0.00 2 0.00 5.50 6.00 7.00 8.00 0.00 0.00 0.00 0.00 0.00 0.00 0.00\n")
	writeTestFile(t, filepath.Join(dir, "label_2", "000003.txt"),
		"Car 0.00 0 0.00 1 1 2 2 0.00 0.00 0.00 0.00 0.00 0.00 0.00\n")

	ds, err := FromKITTI(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := imageNames(ds); !equalStrings(got, []string{"000001.png", "000002.png", "000003.png"}) {
		t.Errorf("images = %v", got)
	}
	if img := ds.Images[0]; img.Width != 100 || img.Height != 50 {
		t.Errorf("size = %dx%d, want 100x50", img.Width, img.Height)
	}
	if img := ds.Images[2]; img.Width != 0 {
		t.Errorf("a label without an image must have no size: %+v", img)
	}
	if ds.Categories[0].Name != "Car" || ds.Categories[1].Name != "Van" {
		t.Errorf("categories must be in name order: %+v", ds.Categories)
	}
	if a := ds.Annotations[1]; a.Attributes[AttrOccluded] != "2" || a.Attributes[kittiAttrDimensions] != "0.00 0.00 0.00" {
		t.Errorf("attributes = %v", a.Attributes)
	}
}

func TestEncodeKITTILabels(t *testing.T) {
	score := 0.5
	categories := map[CategoryID]*Category{1: {ID: 1, Name: "traffic light"}}
	anns := []*Annotation{
		{ID: 1, CategoryID: 1, BBox: FromXYXY[Pixel](1, 2.346, 3, 4)},
		{ID: 2, CategoryID: 1, BBox: FromXYXY[Pixel](0, 0, 1, 1), Confidence: &score,
			Attributes: map[string]string{AttrOccluded: "true", kittiAttrLocation: "1 2 3", kittiAttrAlpha: "bad"}},
	}
	want := "traffic_light 0.00 0 0.00 1.00 2.35 3.00 4.00 0.00 0.00 0.00 0.00 0.00 0.00 0.00\n" +
		"traffic_light 0.00 1 0.00 0.00 0.00 1.00 1.00 0.00 0.00 0.00 1 2 3 0.00 0.5\n"
	if got := string(EncodeKITTILabels(anns, categories)); got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}
}

func TestWriteKITTI(t *testing.T) {
	dir := t.TempDir()
	if err := WriteKITTI(dir, testDataset()); err != nil {
		t.Fatal(err)
	}
	files := readTree(t, dir)
	if got, ok := files["label_2/empty.txt"]; !ok || got != "" {
		t.Errorf("an unannotated image must have an empty label file, got %q (%v)", got, ok)
	}
	if !isDir(filepath.Join(dir, "image_2")) {
		t.Error("image_2 not created")
	}
	want := "dog 0.00 0 0.00 4.00 6.00 30.00 40.00 0.00 0.00 0.00 0.00 0.00 0.00 0.00\n" +
		"cat 0.00 0 0.00 10.00 2.25 60.00 20.00 0.00 0.00 0.00 0.00 0.00 0.00 0.00 0.75\n"
	if got := files["label_2/b.txt"]; got != want {
		t.Errorf("label_2/b.txt:\n%s\nwant\n%s", got, want)
	}
}
