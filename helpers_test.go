package annoconv

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// testDataset returns a small dataset using most IR fields: an unannotated image, an unused
// category, a confidence and attributes.
func testDataset() *Dataset {
	license := LicenseID(1)
	confidence := 0.75
	return &Dataset{
		Info:     DatasetInfo{Name: "pets", Version: "1.0", Year: 2024},
		Licenses: []License{{ID: 1, Name: "CC-BY-4.0", URL: "https://creativecommons.org/licenses/by/4.0/"}},
		Images: []Image{
			{ID: 1, FileName: "b.png", Width: 64, Height: 48},
			{ID: 2, FileName: "a.png", Width: 32, Height: 32, LicenseID: &license, DateCaptured: "2024-01-02"},
			{ID: 3, FileName: "empty.png", Width: 16, Height: 16},
		},
		Categories: []Category{
			{ID: 1, Name: "dog", Supercategory: "animal"},
			{ID: 2, Name: "cat", Supercategory: "animal"},
			{ID: 3, Name: "unused"},
		},
		Annotations: []Annotation{
			{ID: 1, ImageID: 1, CategoryID: 1, BBox: FromXYXY[Pixel](4, 6, 30, 40)},
			{ID: 2, ImageID: 1, CategoryID: 2, BBox: FromXYXY[Pixel](10, 2.25, 60, 20), Confidence: &confidence},
			{ID: 3, ImageID: 2, CategoryID: 1, BBox: FromXYXY[Pixel](0, 0, 16, 16),
				Attributes: map[string]string{AttrOccluded: "1"}},
		},
	}
}

// writePNG writes a blank PNG image of the given size to path.
func writePNG(t testing.TB, path string, width, height int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, width, height))); err != nil {
		t.Fatal("encode:", err)
	}
}

// writeImages writes a blank PNG for every image of ds into dir.
func writeImages(t testing.TB, dir string, ds *Dataset) {
	t.Helper()
	for _, img := range ds.Images {
		writePNG(t, filepath.Join(dir, filepath.FromSlash(img.FileName)), img.Width, img.Height)
	}
}

func writeTestFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// boxTuple is an annotation reduced to the fields that survive every format.
type boxTuple struct {
	file, category         string
	xmin, ymin, xmax, ymax float64
}

func (b boxTuple) String() string {
	return fmt.Sprintf("%s/%s(%g,%g,%g,%g)", b.file, b.category, b.xmin, b.ymin, b.xmax, b.ymax)
}

func tuplesOf(t testing.TB, ds *Dataset) []boxTuple {
	t.Helper()
	images := make(map[ImageID]string, len(ds.Images))
	for _, img := range ds.Images {
		images[img.ID] = img.FileName
	}
	cats := make(map[CategoryID]string, len(ds.Categories))
	for _, c := range ds.Categories {
		cats[c.ID] = c.Name
	}
	tuples := make([]boxTuple, 0, len(ds.Annotations))
	for _, a := range ds.Annotations {
		file, ok := images[a.ImageID]
		if !ok {
			t.Fatalf("annotation %d references missing image %d", a.ID, a.ImageID)
		}
		cat, ok := cats[a.CategoryID]
		if !ok {
			t.Fatalf("annotation %d references missing category %d", a.ID, a.CategoryID)
		}
		xmin, ymin, xmax, ymax := a.BBox.XYXY()
		tuples = append(tuples, boxTuple{file, cat, xmin, ymin, xmax, ymax})
	}
	return tuples
}

func (b boxTuple) near(o boxTuple, eps float64) bool {
	return b.file == o.file && b.category == o.category &&
		math.Abs(b.xmin-o.xmin) <= eps && math.Abs(b.ymin-o.ymin) <= eps &&
		math.Abs(b.xmax-o.xmax) <= eps && math.Abs(b.ymax-o.ymax) <= eps
}

// unmatched greedily matches every tuple of sub to a distinct tuple of full and returns the
// tuples of sub left without a match.
func unmatched(sub, full []boxTuple, eps float64) []boxTuple {
	used := make([]bool, len(full))
	var missing []boxTuple
	for _, s := range sub {
		found := false
		for i, f := range full {
			if !used[i] && s.near(f, eps) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, s)
		}
	}
	return missing
}

// assertSubset fails unless every annotation of got matches one of want within eps.
func assertSubset(t testing.TB, want, got *Dataset, eps float64) {
	t.Helper()
	if missing := unmatched(tuplesOf(t, got), tuplesOf(t, want), eps); len(missing) > 0 {
		t.Errorf("annotations not in the reference: %v", missing)
	}
}

// assertEquivalent fails unless want and got have the same annotations within eps.
func assertEquivalent(t testing.TB, want, got *Dataset, eps float64) {
	t.Helper()
	wantTuples, gotTuples := tuplesOf(t, want), tuplesOf(t, got)
	if len(wantTuples) != len(gotTuples) {
		t.Errorf("want %d annotations, got %d", len(wantTuples), len(gotTuples))
	}
	if missing := unmatched(wantTuples, gotTuples, eps); len(missing) > 0 {
		t.Errorf("missing annotations: %v\ngot: %v", missing, gotTuples)
	}
}

// imageNames returns the sorted image file names of ds.
func imageNames(ds *Dataset) []string {
	names := make([]string, len(ds.Images))
	for i, img := range ds.Images {
		names[i] = img.FileName
	}
	sort.Strings(names)
	return names
}

// categoryNames returns the sorted category names of ds.
func categoryNames(ds *Dataset) []string {
	names := make([]string, len(ds.Categories))
	for i, c := range ds.Categories {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

// readTree returns the contents of all files below root keyed by slash separated relative path.
// Image files are skipped.
func readTree(t testing.TB, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || isImageFile(p) {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
