package annoconv

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

const vocSample = `<annotation>
  <folder>VOC2012</folder>
  <filename>2007_000027.jpg</filename>
  <size><width>486</width><height>500</height><depth>3</depth></size>
  <segmented>0</segmented>
  <object>
    <name>person</name>
    <pose>Frontal</pose>
    <truncated>1</truncated>
    <difficult>0</difficult>
    <bndbox><xmin>174</xmin><ymin>101</ymin><xmax>349.5</xmax><ymax>351</ymax></bndbox>
  </object>
</annotation>
`

func TestFromVOC(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "Annotations", "2007_000027.xml"), vocSample)
	writeTestFile(t, filepath.Join(root, "Annotations", "other.xml"),
		"<annotation><filename>a.jpg</filename><size><width>10</width><height>10</height></size></annotation>")

	ds, err := FromVOC(root)
	if err != nil {
		t.Fatal(err)
	}
	if got := imageNames(ds); !equalStrings(got, []string{"2007_000027.jpg", "a.jpg"}) {
		t.Errorf("images = %v", got)
	}
	img := ds.Images[0]
	if img.ID != 1 || img.Width != 486 || img.Height != 500 {
		t.Errorf("unexpected image %+v", img)
	}
	if img.Attributes[vocAttrFolder] != "VOC2012" || img.Attributes[vocAttrDepth] != "3" {
		t.Errorf("image attributes = %v", img.Attributes)
	}

	if len(ds.Annotations) != 1 {
		t.Fatalf("got %d annotations, want 1", len(ds.Annotations))
	}
	a := ds.Annotations[0]
	if a.Attributes[AttrPose] != "Frontal" || a.Attributes[AttrTruncated] != "1" {
		t.Errorf("annotation attributes = %v", a.Attributes)
	}
	if xmin, _, xmax, _ := a.BBox.XYXY(); xmin != 174 || xmax != 349.5 {
		t.Errorf("fractional coordinates not kept: %g, %g", xmin, xmax)
	}
}

func TestFromVOCDuplicateFilename(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "Annotations", "a.xml"), vocSample)
	writeTestFile(t, filepath.Join(root, "Annotations", "b.xml"), vocSample)

	var parseErr *ParseError
	if _, err := FromVOC(root); !errors.As(err, &parseErr) {
		t.Errorf("want a ParseError, got %v", err)
	}
}

func TestFromVOCInvalid(t *testing.T) {
	tests := map[string]string{
		"no bndbox":  "<annotation><filename>a.jpg</filename><object><name>x</name></object></annotation>",
		"coordinate": strings.Replace(vocSample, "<xmin>174</xmin>", "<xmin>left</xmin>", 1),
		"filename":   "<annotation><size><width>1</width><height>1</height></size></annotation>",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			writeTestFile(t, filepath.Join(root, "a.xml"), data)
			var parseErr *ParseError
			if _, err := FromVOC(root); !errors.As(err, &parseErr) {
				t.Errorf("want a ParseError, got %v", err)
			}
		})
	}
}

func TestFromVOCEmpty(t *testing.T) {
	var layoutErr *LayoutError
	if _, err := FromVOC(t.TempDir()); !errors.As(err, &layoutErr) {
		t.Errorf("want a LayoutError, got %v", err)
	}
}

func TestWriteVOC(t *testing.T) {
	root := t.TempDir()
	if err := WriteVOC(root, testDataset()); err != nil {
		t.Fatal(err)
	}

	files := readTree(t, root)
	for _, name := range []string{"Annotations/a.xml", "Annotations/b.xml", "Annotations/empty.xml", "JPEGImages/README.txt"} {
		if _, ok := files[name]; !ok {
			t.Errorf("%s not written", name)
		}
	}
	a := files["Annotations/a.xml"]
	for _, want := range []string{"<filename>a.png</filename>", "<pose>Unspecified</pose>",
		"<occluded>1</occluded>", "<xmax>16</xmax>", "<depth>3</depth>"} {
		if !strings.Contains(a, want) {
			t.Errorf("a.xml lacks %s:\n%s", want, a)
		}
	}
	if b := files["Annotations/b.xml"]; !strings.Contains(b, "<ymin>2.25</ymin>") {
		t.Errorf("b.xml lacks the fractional coordinate:\n%s", b)
	}
}
