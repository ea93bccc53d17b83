package annoconv

import (
	"strings"
)

// Format is an annotation interchange format.
type Format int

// The known formats.
const (
	Unknown     Format = iota // If an unknown format is specified.
	IRJSON                    // The IR's own JSON form.
	COCO                      // COCO JSON.
	YOLO                      // YOLO directory with data.yaml.
	VOC                       // Pascal VOC XML directory.
	CVAT                      // CVAT for images XML 1.1.
	TFOD                      // TensorFlow Object Detection CSV.
	LabelStudio               // Label Studio JSON export.
	HF                        // Hugging Face ImageFolder metadata.jsonl.
	HFParquet                 // Hugging Face Parquet shards.
	KITTI                     // KITTI object label directory.
	TFRecord                  // TensorFlow Object Detection TFRecord (write only).
)

var formatNames = map[Format]string{
	IRJSON:      "ir",
	COCO:        "coco",
	YOLO:        "yolo",
	VOC:         "voc",
	CVAT:        "cvat",
	TFOD:        "tfod",
	LabelStudio: "label-studio",
	HF:          "hf",
	HFParquet:   "hf-parquet",
	KITTI:       "kitti",
	TFRecord:    "tfrecord",
}

var formatAliases = map[string]Format{
	"ir-json":     IRJSON,
	"pascal-voc":  VOC,
	"tfod-csv":    TFOD,
	"labelstudio": LabelStudio,
	"ls":          LabelStudio,
	"hf-jsonl":    HF,
	"imagefolder": HF,
	"parquet":     HFParquet,
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// Formats returns all known formats in declaration order.
func Formats() []Format {
	return []Format{IRJSON, COCO, YOLO, VOC, CVAT, TFOD, LabelStudio, HF, HFParquet, KITTI, TFRecord}
}

// ParseFormat returns the format with the given name or alias.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	if f, ok := formatAliases[name]; ok {
		return f, nil
	}
	return Unknown, &UnsupportedFormatError{Name: s}
}

// CanRead reports whether the format has a reader.
func (f Format) CanRead() bool {
	return f != Unknown && f != TFRecord && formatNames[f] != ""
}

// CanWrite reports whether the format has a writer.
func (f Format) CanWrite() bool {
	return f != Unknown && formatNames[f] != ""
}

// Options holds the per-format options. Formats ignore the options of other formats.
type Options struct {
	HF       HFOptions
	TFRecord TFRecordOptions
}

// Read reads the dataset at path, which is a file or a directory depending on the format.
func Read(f Format, path string, opts Options) (*Dataset, error) {
	switch f {
	case IRJSON:
		return FromIRJSON(path)
	case COCO:
		return FromCOCO(path)
	case YOLO:
		return FromYOLO(path)
	case VOC:
		return FromVOC(path)
	case CVAT:
		return FromCVAT(path)
	case TFOD:
		return FromTFOD(path)
	case LabelStudio:
		return FromLabelStudio(path)
	case HF, HFParquet:
		return FromHF(path, opts.HF)
	case KITTI:
		return FromKITTI(path)
	case TFRecord:
		return nil, &UnsupportedFormatError{Name: f.String(), Msg: "no reader"}
	}
	return nil, &UnsupportedFormatError{Name: f.String()}
}

// Write writes ds to path, which is a file or a directory depending on the format.
func Write(f Format, path string, ds *Dataset, opts Options) error {
	switch f {
	case IRJSON:
		return WriteIRJSON(path, ds)
	case COCO:
		return WriteCOCO(path, ds)
	case YOLO:
		return WriteYOLO(path, ds)
	case VOC:
		return WriteVOC(path, ds)
	case CVAT:
		return WriteCVAT(path, ds)
	case TFOD:
		return WriteTFOD(path, ds)
	case LabelStudio:
		return WriteLabelStudio(path, ds)
	case HF:
		return WriteHF(path, ds, opts.HF)
	case HFParquet:
		return WriteHFParquet(path, ds, opts.HF)
	case KITTI:
		return WriteKITTI(path, ds)
	case TFRecord:
		return WriteTFRecord(path, ds, opts.TFRecord)
	}
	return &UnsupportedFormatError{Name: f.String()}
}
