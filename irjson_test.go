package annoconv

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"reflect"
	"testing"
)

func TestIRJSONLossless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ir.json")
	want := testDataset()
	want.Images[0].Attributes = map[string]string{"weather": "rain"}
	if err := WriteIRJSON(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := FromIRJSON(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got\n%+v\nwant\n%+v", got, want)
	}
}

func TestEncodeIRJSONSortsByID(t *testing.T) {
	ds := testDataset()
	ds.Images[0], ds.Images[2] = ds.Images[2], ds.Images[0]
	ds.Annotations[0], ds.Annotations[2] = ds.Annotations[2], ds.Annotations[0]
	enc, err := EncodeIRJSON(ds)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseIRJSON(enc)
	if err != nil {
		t.Fatal(err)
	}
	for i := range got.Images {
		if got.Images[i].ID != ImageID(i+1) {
			t.Errorf("image %d has ID %d", i, got.Images[i].ID)
		}
	}
	for i := range got.Annotations {
		if got.Annotations[i].ID != AnnotationID(i+1) {
			t.Errorf("annotation %d has ID %d", i, got.Annotations[i].ID)
		}
	}
}

func TestParseIRJSONInvalid(t *testing.T) {
	var parseErr *ParseError
	if _, err := ParseIRJSON([]byte(`{"images": {}}`)); !errors.As(err, &parseErr) {
		t.Errorf("want a ParseError, got %v", err)
	}
}

func TestIRJSONNonFinite(t *testing.T) {
	data := strings.Replace(cvatSample, `xtl="10.5"`, `xtl="NaN"`, 1)
	ds, err := ParseCVAT([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	inf := math.Inf(1)
	ds.Annotations[0].Confidence = &inf

	enc, err := EncodeIRJSON(ds)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseIRJSON(enc)
	if err != nil {
		t.Fatal(err)
	}
	a := got.Annotations[0]
	if xmin, _, _, ymax := a.BBox.XYXY(); !math.IsNaN(xmin) || ymax != 200 {
		t.Errorf("unexpected box %+v", a.BBox)
	}
	if a.Confidence == nil || !math.IsInf(*a.Confidence, 1) {
		t.Errorf("confidence = %v, want +Inf", a.Confidence)
	}

	if _, err := ParseIRJSON([]byte(`{"annotations": [{"bbox": {"xmin": "nope"}}]}`)); err == nil {
		t.Error("a string that is not a non-finite number must be rejected")
	}
}
