package annoconv

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"coco", COCO},
		{" COCO ", COCO},
		{"ir", IRJSON},
		{"ir-json", IRJSON},
		{"pascal-voc", VOC},
		{"label-studio", LabelStudio},
		{"ls", LabelStudio},
		{"imagefolder", HF},
		{"parquet", HFParquet},
		{"kitti", KITTI},
		{"tfrecord", TFRecord},
	}
	for _, test := range tests {
		got, err := ParseFormat(test.in)
		if err != nil {
			t.Errorf("ParseFormat(%q): %v", test.in, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", test.in, got, test.want)
		}
	}

	_, err := ParseFormat("csv-ish")
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Errorf("want an UnsupportedFormatError, got %v", err)
	}
}

func TestFormatNames(t *testing.T) {
	for _, f := range Formats() {
		got, err := ParseFormat(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %v, %v", f.String(), got, err)
		}
		if !f.CanWrite() {
			t.Errorf("%v has no writer", f)
		}
		if f.CanRead() == (f == TFRecord) {
			t.Errorf("%v: CanRead = %v", f, f.CanRead())
		}
	}
	if Unknown.CanRead() || Unknown.CanWrite() {
		t.Error("the unknown format must have neither a reader nor a writer")
	}
}

// roundTripCase describes where a format writes and what must exist before it can be read back.
type roundTripCase struct {
	format  Format
	target  string // Relative to the test directory.
	eps     float64
	prepare func(t *testing.T, target string, ds *Dataset)
}

var roundTripCases = []roundTripCase{
	{format: IRJSON, target: "dataset.json", eps: 1e-10},
	{format: COCO, target: "coco.json", eps: 1e-10},
	{format: YOLO, target: "yolo", eps: 1e-6 * 64, prepare: func(t *testing.T, target string, ds *Dataset) {
		writeImages(t, filepath.Join(target, "images"), ds)
	}},
	{format: VOC, target: "voc", eps: 1e-10},
	{format: CVAT, target: "annotations.xml", eps: 1e-10},
	{format: TFOD, target: "labels.csv", eps: 1e-2},
	{format: LabelStudio, target: "tasks.json", eps: 1e-4},
	{format: HF, target: "hf", eps: 1e-10},
	{format: HFParquet, target: "parquet", eps: 1e-10},
	{format: KITTI, target: "kitti", eps: 5e-3, prepare: func(t *testing.T, target string, ds *Dataset) {
		writeImages(t, filepath.Join(target, "image_2"), ds)
	}},
}

// writeAndRead writes ds as the case's format below dir and reads it back.
func (c roundTripCase) writeAndRead(t *testing.T, dir string, ds *Dataset) (string, *Dataset) {
	t.Helper()
	target := filepath.Join(dir, c.target)
	if err := Write(c.format, target, ds, Options{}); err != nil {
		t.Fatalf("write %v: %v", c.format, err)
	}
	if c.prepare != nil {
		c.prepare(t, target, ds)
	}
	got, err := Read(c.format, target, Options{})
	if err != nil {
		t.Fatalf("read %v: %v", c.format, err)
	}
	return target, got
}

func TestRoundTrip(t *testing.T) {
	for _, c := range roundTripCases {
		t.Run(c.format.String(), func(t *testing.T) {
			want := testDataset()
			_, got := c.writeAndRead(t, t.TempDir(), want)
			assertEquivalent(t, want, got, c.eps)
		})
	}
}

// TestIdempotence checks that a dataset read back from a format writes to identical bytes every
// time.
func TestIdempotence(t *testing.T) {
	snapshot := func(t *testing.T, target string) map[string]string {
		if isDir(target) {
			return readTree(t, target)
		}
		data, err := readFile(target)
		if err != nil {
			t.Fatal(err)
		}
		return map[string]string{"": string(data)}
	}

	for _, c := range roundTripCases {
		t.Run(c.format.String(), func(t *testing.T) {
			_, first := c.writeAndRead(t, t.TempDir(), testDataset())
			second, again := c.writeAndRead(t, t.TempDir(), first)
			third, _ := c.writeAndRead(t, t.TempDir(), again)

			want, got := snapshot(t, second), snapshot(t, third)
			if len(want) == 0 {
				t.Fatal("nothing was written")
			}
			if len(want) != len(got) {
				t.Fatalf("wrote %d files, then %d", len(want), len(got))
			}
			for name, content := range want {
				if got[name] != content {
					t.Errorf("%q differs:\n%s\nthen:\n%s", name, content, got[name])
				}
			}
		})
	}
}

func TestReadUnsupported(t *testing.T) {
	var unsupported *UnsupportedFormatError
	if _, err := Read(TFRecord, t.TempDir(), Options{}); !errors.As(err, &unsupported) {
		t.Errorf("reading TFRecord: want an UnsupportedFormatError, got %v", err)
	}
	if err := Write(Unknown, t.TempDir(), testDataset(), Options{}); !errors.As(err, &unsupported) {
		t.Errorf("writing an unknown format: want an UnsupportedFormatError, got %v", err)
	}
}

func TestDanglingReference(t *testing.T) {
	for _, c := range roundTripCases {
		if c.format == IRJSON {
			continue // Stores references verbatim.
		}
		t.Run(c.format.String(), func(t *testing.T) {
			ds := testDataset()
			ds.Annotations[0].CategoryID = 42

			err := Write(c.format, filepath.Join(t.TempDir(), c.target), ds, Options{})
			var writeErr *WriteError
			if !errors.As(err, &writeErr) {
				t.Errorf("want a WriteError, got %v", err)
			}
		})
	}
}
