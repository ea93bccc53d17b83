package annoconv

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// issueCodes returns the codes of the issues with severity s, in report order.
func issueCodes(r ConversionReport, s Severity) []string {
	var codes []string
	for _, i := range r.Issues {
		if i.Severity == s {
			codes = append(codes, i.Code)
		}
	}
	return codes
}

func fieldCount(t *testing.T, r ConversionReport, field string) FieldCount {
	t.Helper()
	for _, c := range r.Counts {
		if c.Field == field {
			return c
		}
	}
	t.Fatalf("no count for %q", field)
	return FieldCount{}
}

func TestAnalyzeIRJSONIsLossless(t *testing.T) {
	r := AnalyzeConversion(testDataset(), COCO, IRJSON)
	if r.Lossiness != Lossless || r.HasWarnings() {
		t.Errorf("IR JSON must be lossless, got %v with %v", r.Lossiness, issueCodes(r, Warning))
	}
	if r.Err() != nil {
		t.Errorf("Err = %v, want nil", r.Err())
	}
	for _, c := range r.Counts {
		if c.Input != c.Output {
			t.Errorf("%s: %d in, %d out", c.Field, c.Input, c.Output)
		}
	}
}

func TestAnalyzeCOCO(t *testing.T) {
	ds := testDataset()
	r := AnalyzeConversion(ds, IRJSON, COCO)
	if r.Lossiness != Conditional {
		t.Errorf("lossiness = %v, want conditional", r.Lossiness)
	}
	want := []string{"info-dropped", "annotation-attributes-dropped"}
	if got := issueCodes(r, Warning); !reflect.DeepEqual(got, want) {
		t.Errorf("warnings = %v, want %v", got, want)
	}
	if c := fieldCount(t, r, "info"); c.Input != 3 || c.Output != 2 {
		t.Errorf("info count = %+v", c)
	}

	// Without a name and foreign attributes nothing is lost.
	ds.Info.Name = ""
	ds.Annotations[2].Attributes = map[string]string{AttrIsCrowd: "0"}
	if r := AnalyzeConversion(ds, IRJSON, COCO); r.HasWarnings() {
		t.Errorf("unexpected warnings %v", issueCodes(r, Warning))
	}
}

func TestAnalyzeTFOD(t *testing.T) {
	r := AnalyzeConversion(testDataset(), COCO, TFOD)
	if r.Lossiness != Lossy {
		t.Errorf("lossiness = %v, want lossy", r.Lossiness)
	}
	want := []string{
		"info-dropped",
		"licenses-dropped",
		"unannotated-images-dropped",
		"image-license-dropped",
		"image-date-dropped",
		"unused-categories-dropped",
		"supercategory-dropped",
		"confidence-dropped",
		"annotation-attributes-dropped",
	}
	if got := issueCodes(r, Warning); !reflect.DeepEqual(got, want) {
		t.Errorf("warnings = %v, want %v", got, want)
	}
	if c := fieldCount(t, r, "images"); c.Input != 3 || c.Output != 2 {
		t.Errorf("images count = %+v", c)
	}
	if c := fieldCount(t, r, "categories"); c.Input != 3 || c.Output != 2 {
		t.Errorf("categories count = %+v", c)
	}

	infos := issueCodes(r, Info)
	for _, code := range []string{"source-ids", "read-ids", "write-order"} {
		found := false
		for _, c := range infos {
			found = found || c == code
		}
		if !found {
			t.Errorf("missing info note %q in %v", code, infos)
		}
	}

	err := r.Err()
	if !errors.Is(err, ErrLossyConversion) {
		t.Fatalf("Err = %v, want ErrLossyConversion", err)
	}
	if !strings.Contains(err.Error(), "coco to tfod") {
		t.Errorf("unexpected message %q", err)
	}
}

func TestAnalyzeMissingImageSize(t *testing.T) {
	ds := testDataset()
	ds.Images[0].Width = 0
	for _, to := range []Format{YOLO, TFOD, LabelStudio, TFRecord} {
		r := AnalyzeConversion(ds, IRJSON, to)
		found := false
		for _, i := range r.Issues {
			found = found || (i.Code == "missing-image-size" && i.Count == 1)
		}
		if !found {
			t.Errorf("%v: no missing-image-size warning in %v", to, issueCodes(r, Warning))
		}
	}
}

func TestAnalyzeDoesNotModify(t *testing.T) {
	ds := testDataset()
	for _, to := range Formats() {
		AnalyzeConversion(ds, IRJSON, to)
	}
	if !reflect.DeepEqual(ds, testDataset()) {
		t.Error("the dataset was modified")
	}
}

func TestAnalyzeUnknownTarget(t *testing.T) {
	r := AnalyzeConversion(testDataset(), COCO, Unknown)
	if got := issueCodes(r, Warning); !reflect.DeepEqual(got, []string{"unsupported-target"}) {
		t.Errorf("warnings = %v", got)
	}
}

func TestConversionReportJSON(t *testing.T) {
	enc, err := json.Marshal(AnalyzeConversion(testDataset(), COCO, TFOD))
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		From      string `json:"from"`
		Lossiness string `json:"lossiness"`
		Issues    []struct {
			Severity string `json:"severity"`
		} `json:"issues"`
	}
	if err := json.Unmarshal(enc, &out); err != nil {
		t.Fatal(err)
	}
	if out.From != "coco" || out.Lossiness != "lossy" || out.Issues[0].Severity != "warning" {
		t.Errorf("unexpected JSON %s", enc)
	}
}
