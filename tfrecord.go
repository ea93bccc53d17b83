package annoconv

// TFRecord object detection specific functionality.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/scanner"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// TFFeatureMap maps feature names to their values. Values must be convertible to
// tensorflow.Feature.
type TFFeatureMap map[string]interface{}

// TFRecordOptions configures the TFRecord writer.
type TFRecordOptions struct {
	LabelMapPath string // Defaults to label_map.pbtxt next to the record file.
	NumShards    int    // Values below 2 write a single file without shard suffix.
}

const tfRecordDefaultName = "annotations.record"

// tfImageFormat returns the image/format value for a file name.
func tfImageFormat(fileName string) string {
	_, ext := splitExt(fileName)
	if ext == "jpg" {
		return "jpeg"
	}
	return ext
}

// tfRecordLabels assigns label IDs by category name. Names in the existing label map keep their
// IDs, new names get the IDs following the largest one in category ID order. It returns the full
// label map and the label of every category.
func tfRecordLabels(ds *Dataset, existing map[string]int64) (map[string]int64, map[CategoryID]int64) {
	labelMap := make(map[string]int64, len(existing)+len(ds.Categories))
	nextID := int64(1)
	for name, id := range existing {
		labelMap[name] = id
		if id >= nextID {
			nextID = id + 1
		}
	}

	cats := categoriesByID(ds)
	labels := make(map[CategoryID]int64, len(cats))
	for _, c := range cats {
		id, ok := labelMap[c.Name]
		if !ok {
			id = nextID
			nextID++
			labelMap[c.Name] = id
		}
		labels[c.ID] = id
	}
	return labelMap, labels
}

// toTFRecord converts the intermediate representation for a single image to the TFRecord feature
// map. Boxes are normalized by the image size; the encoded image is not included.
func toTFRecord(img *Image, anns []*Annotation, idx *datasetIndex, labels map[CategoryID]int64) (TFFeatureMap, error) {
	if len(anns) > 0 && (img.Width <= 0 || img.Height <= 0) {
		return nil, writeErrorf(TFRecord, "", nil, "image %q has no size, cannot normalize its boxes", img.FileName)
	}

	// Prepare the feature map for the per file data.
	f := make(TFFeatureMap, 16)
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["image/filename"] = img.FileName
	f["image/source_id"] = strconv.FormatInt(int64(img.ID), 10)
	f["image/format"] = tfImageFormat(img.FileName)

	// Prepare the per label data.
	numLabels := len(anns)
	xmins := make([]float32, numLabels)
	ymins := make([]float32, numLabels)
	xmaxs := make([]float32, numLabels)
	ymaxs := make([]float32, numLabels)
	classes := make([]string, numLabels)
	classIDs := make([]int64, numLabels)
	for i, a := range anns {
		box := ToNormalized(a.BBox, float64(img.Width), float64(img.Height))
		xmin, ymin, xmax, ymax := box.XYXY()
		xmins[i] = float32(xmin)
		ymins[i] = float32(ymin)
		xmaxs[i] = float32(xmax)
		ymaxs[i] = float32(ymax)
		classes[i] = idx.categories[a.CategoryID].Name
		classIDs[i] = labels[a.CategoryID]
	}
	f["image/object/bbox/xmin"] = xmins
	f["image/object/bbox/ymin"] = ymins
	f["image/object/bbox/xmax"] = xmaxs
	f["image/object/bbox/ymax"] = ymaxs
	f["image/object/class/text"] = classes
	f["image/object/class/label"] = classIDs

	return f, nil
}

// WriteCustomTFRecord works like WriteTFRecord, except that it allows for the TFFeatureMap to be
// customised.
//
// Before generating a tensorflow.Example for each image, the image and the TFFeatureMap
// containing the default conversion are passed to customiseFeature, which may modify the feature
// map to its liking, as long as all of its values can be converted to tensorflow.Feature.
func WriteCustomTFRecord(recordFilePath string, ds *Dataset, opts TFRecordOptions,
		customiseFeature func(img *Image, m TFFeatureMap)) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = writeErrorf(TFRecord, recordFilePath, nil, "conversion to TensorFlow Example failed: %v", e)
		}
	}()

	idx, err := indexDataset(ds, TFRecord)
	if err != nil {
		return err
	}
	if isDir(recordFilePath) {
		recordFilePath = filepath.Join(recordFilePath, tfRecordDefaultName)
	}
	labelMapPath := opts.LabelMapPath
	if labelMapPath == "" {
		labelMapPath = filepath.Join(filepath.Dir(recordFilePath), "label_map.pbtxt")
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = 1
	}

	existing, err := loadTFRecordLabelMap(labelMapPath)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Printf("Label map loaded from %q", labelMapPath)
	} else {
		log.Print("Creating a new label map")
	}
	labelMap, labels := tfRecordLabels(ds, existing)
	images := imagesByName(ds)
	shardPaths := tfRecordShardPaths(recordFilePath, numShards)
	shardSize := (len(images) + numShards - 1) / numShards
	log.Printf("Writing %d examples to %d shard(s)", len(images), numShards)

	// Convert and serialise one shard at a time. Every shard file is written, even if empty.
	for shardIdx := 0; shardIdx < numShards; shardIdx++ {
		var b bytes.Buffer
		for i := shardIdx * shardSize; i < (shardIdx+1)*shardSize && i < len(images); i++ {
			img := images[i]
			f, err := toTFRecord(img, idx.byImage[img.ID], idx, labels)
			if err != nil {
				return err
			}
			if customiseFeature != nil {
				customiseFeature(img, f)
			}
			if err := writeTFRecordExample(&b, example.New(f)); err != nil {
				return writeErrorf(TFRecord, recordFilePath, err, "failed to write the example for %q", img.FileName)
			}
		}

		if err := writeFile(shardPaths[shardIdx], b.Bytes()); err != nil {
			return err
		}
	}

	return writeFile(labelMapPath, encodeTFRecordLabelMap(labelMap))
}

// WriteTFRecord does the conversion, serialisation and file write for ds to one or more TFRecord
// files stored under recordFilePath (with suffixes added when opts.NumShards>1), one example per
// image sorted by file name.
//
// The label map at opts.LabelMapPath is extended with the dataset's categories, or created if it
// does not exist. Existing label IDs are kept.
func WriteTFRecord(recordFilePath string, ds *Dataset, opts TFRecordOptions) error {
	return WriteCustomTFRecord(recordFilePath, ds, opts, nil)
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// encodeTFRecordLabelMap formats the label map as a StringIntLabelMap prototxt sorted by ID.
func encodeTFRecordLabelMap(labelMap map[string]int64) []byte {
	names := make([]string, 0, len(labelMap))
	for name := range labelMap {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if labelMap[names[i]] != labelMap[names[j]] {
			return labelMap[names[i]] < labelMap[names[j]]
		}
		return names[i] < names[j]
	})

	var b bytes.Buffer
	for _, name := range names {
		fmt.Fprintf(&b, "item {\n  id: %d\n  name: %s\n}\n", labelMap[name], strconv.Quote(name))
	}
	return b.Bytes()
}

// loadTFRecordLabelMap reads the label map at path. It returns nil without error if the file does
// not exist.
func loadTFRecordLabelMap(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	labelMap, err := parseTFRecordLabelMap(data)
	return labelMap, withPath(err, path)
}

// parseTFRecordLabelMap parses the items of a StringIntLabelMap prototxt. Fields other than id
// and name are skipped.
func parseTFRecordLabelMap(data []byte) (map[string]int64, error) {
	var s scanner.Scanner
	s.Init(bytes.NewReader(data))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	var scanErr string
	s.Error = func(_ *scanner.Scanner, msg string) {
		if scanErr == "" {
			scanErr = msg
		}
	}

	// Comments run from '#' to the end of the line.
	next := func() rune {
		for {
			tok := s.Scan()
			if tok != '#' {
				return tok
			}
			for ch := s.Peek(); ch != '\n' && ch != scanner.EOF; ch = s.Peek() {
				s.Next()
			}
		}
	}
	fail := func(format string, args ...interface{}) error {
		return parseErrorf(TFRecord, "", s.Position.Line, "label map: "+format, args...)
	}

	labelMap := make(map[string]int64)
	for tok := next(); tok != scanner.EOF; tok = next() {
		if tok != scanner.Ident || s.TokenText() != "item" {
			return nil, fail("expected item, found %q", s.TokenText())
		}
		if tok = next(); tok == ':' {
			tok = next()
		}
		if tok != '{' {
			return nil, fail("expected {, found %q", s.TokenText())
		}

		var id int64
		var name string
		hasID, hasName := false, false
		for tok = next(); tok != '}'; tok = next() {
			if tok != scanner.Ident {
				return nil, fail("expected a field name, found %q", s.TokenText())
			}
			field := s.TokenText()
			if next() != ':' {
				return nil, fail("expected : after %s", field)
			}
			tok = next()
			sign := ""
			if tok == '-' {
				sign, tok = "-", next()
			}
			value := sign + s.TokenText()
			switch {
			case field == "id" && tok == scanner.Int:
				v, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return nil, fail("invalid id %q", value)
				}
				id, hasID = v, true
			case field == "name" && tok == scanner.String:
				v, err := strconv.Unquote(value)
				if err != nil {
					return nil, fail("invalid name %s", value)
				}
				name, hasName = v, true
			case field == "id" || field == "name":
				return nil, fail("invalid %s %q", field, value)
			case tok != scanner.Int && tok != scanner.Float && tok != scanner.String && tok != scanner.Ident:
				return nil, fail("invalid value for %s", field)
			}
		}
		if !hasID || !hasName {
			return nil, fail("item without id or name")
		}
		labelMap[name] = id
	}
	if scanErr != "" {
		return nil, fail("%s", scanErr)
	}
	return labelMap, nil
}

// tfRecordShardPaths returns the files WriteTFRecord creates for recordFilePath.
func tfRecordShardPaths(recordFilePath string, numShards int) []string {
	if numShards <= 1 {
		return []string{recordFilePath}
	}
	paths := make([]string, numShards)
	for i := range paths {
		paths[i] = recordFilePath + fmt.Sprintf("-%05d-of-%05d", i, numShards)
	}
	return paths
}
