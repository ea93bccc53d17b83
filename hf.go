package annoconv

// Hugging Face ImageFolder specific functionality.
//
// Layouts read:
//
//	<dir>/metadata.jsonl
//	<dir>/<split>/metadata.jsonl
//	<dir>/[data/]<split>-00000-of-00001.parquet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// HFBBoxFormat is the box encoding used in objects.bbox.
type HFBBoxFormat int

const (
	HFBBoxXYWH HFBBoxFormat = iota // [x, y, width, height], the COCO style used by most datasets.
	HFBBoxXYXY                     // [xmin, ymin, xmax, ymax].
)

func (b HFBBoxFormat) String() string {
	if b == HFBBoxXYXY {
		return "xyxy"
	}
	return "xywh"
}

// ParseHFBBoxFormat parses "xywh" or "xyxy".
func ParseHFBBoxFormat(s string) (HFBBoxFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "xywh", "coco":
		return HFBBoxXYWH, nil
	case "xyxy", "voc":
		return HFBBoxXYXY, nil
	}
	return HFBBoxXYWH, fmt.Errorf("unknown bbox format %q, expected xywh or xyxy", s)
}

// HFOptions configures reading and writing the Hugging Face formats.
type HFOptions struct {
	BBoxFormat HFBBoxFormat
	Split      string // Split to read or write, e.g. "train". Empty means the root or the only split.
}

// HFCategory is an objects.categories entry. Datasets store either class names or ClassLabel
// indices; indices are kept as their decimal string.
type HFCategory string

// UnmarshalJSON accepts a JSON string or an integer.
func (c *HFCategory) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = HFCategory(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	i, err := n.Int64()
	if err != nil {
		return fmt.Errorf("category %s is neither a string nor an integer", n)
	}
	*c = HFCategory(strconv.FormatInt(i, 10))
	return nil
}

// HFObjects is the "objects" column.
type HFObjects struct {
	BBox       [][]float64  `json:"bbox"`
	Categories []HFCategory `json:"categories"`
	Category   []HFCategory `json:"category,omitempty"`
}

// HFRecord is one metadata.jsonl row.
type HFRecord struct {
	FileName string     `json:"file_name"`
	Width    *int       `json:"width,omitempty"`
	Height   *int       `json:"height,omitempty"`
	Objects  *HFObjects `json:"objects,omitempty"`
}

const hfMetadataFile = "metadata.jsonl"

// hfRow is a metadata row in the shape shared by the JSONL and the Parquet readers.
type hfRow struct {
	line          int // 1-based line or row number.
	fileName      string
	width, height int
	imageBytes    []byte
	bboxes        [][]float64
	categories    []string
}

// FromHF reads a Hugging Face ImageFolder dataset. path is a metadata.jsonl file, a .parquet
// shard, or a directory in one of the layouts above. Without opts.Split, a directory must hold
// root metadata or exactly one split.
func FromHF(path string, opts HFOptions) (*Dataset, error) {
	if isFile(path) {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jsonl", ".json":
			return fromHFJSONL(path, opts)
		case ".parquet":
			return fromHFParquet([]string{path}, filepath.Dir(path), opts)
		}
		return nil, &LayoutError{Format: HF, Path: path, Msg: "expected a .jsonl or .parquet file"}
	}
	if !isDir(path) {
		return nil, &IOError{Path: path, Err: os.ErrNotExist}
	}

	// Root or requested split metadata.
	if opts.Split == "" {
		if p := filepath.Join(path, hfMetadataFile); isFile(p) {
			return fromHFJSONL(p, opts)
		}
	} else if p := filepath.Join(path, opts.Split, hfMetadataFile); isFile(p) {
		return fromHFJSONL(p, opts)
	}

	// Parquet shards.
	shards, err := hfParquetShards(path, opts.Split)
	if err != nil {
		return nil, err
	}
	if len(shards) > 0 {
		return fromHFParquet(shards, path, opts)
	}

	// Split discovery.
	splits, err := hfSplitDirs(path)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Split != "":
		return nil, &LayoutError{Format: HF, Path: path,
			Msg: fmt.Sprintf("split %q not found, available splits: %s", opts.Split, strings.Join(splits, ", "))}
	case len(splits) == 1:
		log.Printf("Using split %q of %q", splits[0], path)
		opts.Split = ""
		return FromHF(filepath.Join(path, splits[0]), opts)
	case len(splits) > 1:
		return nil, &LayoutError{Format: HF, Path: path,
			Msg: fmt.Sprintf("several splits (%s), choose one", strings.Join(splits, ", "))}
	}
	return nil, &LayoutError{Format: HF, Path: path, Msg: "no " + hfMetadataFile + " or parquet shards"}
}

// hfSplitDirs returns the sorted names of the subdirectories of dir that contain metadata or
// parquet shards.
func hfSplitDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &IOError{Path: dir, Err: err}
	}
	var splits []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		if isFile(filepath.Join(sub, hfMetadataFile)) {
			splits = append(splits, e.Name())
			continue
		}
		if shards, err := filesByExtInDir(sub, ".parquet"); err == nil && len(shards) > 0 {
			splits = append(splits, e.Name())
		}
	}
	sort.Strings(splits)
	return splits, nil
}

func fromHFJSONL(path string, opts HFOptions) (*Dataset, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := ParseHFJSONL(data, filepath.Dir(path), opts)
	return ds, withPath(err, path)
}

// ParseHFJSONL parses metadata.jsonl rows. Images get IDs in row order and categories in order of
// first appearance. Missing image sizes are read from the image headers under baseDir; an empty
// baseDir disables this.
func ParseHFJSONL(data []byte, baseDir string, opts HFOptions) (*Dataset, error) {
	var rows []hfRow
	for i, line := range splitLines(data) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec HFRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, &ParseError{Format: HF, Line: i + 1, Msg: "invalid JSON", Err: err}
		}
		if rec.FileName == "" {
			return nil, parseErrorf(HF, "", i+1, "missing file_name")
		}

		row := hfRow{line: i + 1, fileName: rec.FileName}
		if rec.Width != nil {
			row.width = *rec.Width
		}
		if rec.Height != nil {
			row.height = *rec.Height
		}
		if o := rec.Objects; o != nil {
			cats := o.Categories
			if len(cats) == 0 {
				cats = o.Category
			}
			row.bboxes = o.BBox
			row.categories = make([]string, len(cats))
			for j, c := range cats {
				row.categories[j] = string(c)
			}
		}
		rows = append(rows, row)
	}

	return hfDataset(HF, rows, nil, baseDir, opts)
}

// hfDataset converts normalized rows. Categories named in classNames get the IDs 1..n in that
// order, further categories follow in order of first appearance.
func hfDataset(f Format, rows []hfRow, classNames []string, baseDir string, opts HFOptions) (*Dataset, error) {
	ds := &Dataset{Images: make([]Image, 0, len(rows))}
	catIDs := make(map[string]CategoryID, len(classNames))
	category := func(name string) CategoryID {
		id, ok := catIDs[name]
		if !ok {
			id = CategoryID(len(ds.Categories) + 1)
			catIDs[name] = id
			ds.Categories = append(ds.Categories, Category{ID: id, Name: name})
		}
		return id
	}
	for _, n := range classNames {
		category(n)
	}

	for i, row := range rows {
		if len(row.bboxes) != len(row.categories) {
			return nil, parseErrorf(f, "", row.line, "%d boxes but %d categories", len(row.bboxes), len(row.categories))
		}
		img := Image{ID: ImageID(i + 1), FileName: row.fileName, Width: row.width, Height: row.height}
		if img.Width <= 0 || img.Height <= 0 {
			img.Width, img.Height = hfSniffSize(row, baseDir)
		}
		ds.Images = append(ds.Images, img)

		for j, b := range row.bboxes {
			if len(b) != 4 {
				return nil, parseErrorf(f, "", row.line, "box %d has %d values, expected 4", j, len(b))
			}
			box := FromXYWH[Pixel](b[0], b[1], b[2], b[3])
			if opts.BBoxFormat == HFBBoxXYXY {
				box = FromXYXY[Pixel](b[0], b[1], b[2], b[3])
			}
			ds.Annotations = append(ds.Annotations, Annotation{
				ID:         AnnotationID(len(ds.Annotations) + 1),
				ImageID:    img.ID,
				CategoryID: category(row.categories[j]),
				BBox:       box,
			})
		}
	}

	return ds, nil
}

// hfSniffSize returns the image size from the embedded bytes or the image file, or zeros.
func hfSniffSize(row hfRow, baseDir string) (width, height int) {
	var err error
	switch {
	case len(row.imageBytes) > 0:
		width, height, err = decodeImageSizeBytes(row.imageBytes)
	case baseDir != "":
		width, height, err = decodeImageSize(filepath.Join(baseDir, filepath.FromSlash(row.fileName)))
	default:
		return 0, 0
	}
	if err != nil {
		log.Printf("Cannot determine the size of %q: %v", row.fileName, err)
		return 0, 0
	}
	return width, height
}

// hfRowsOf returns the images sorted by file name, each with its annotations.
func hfRowsOf(f Format, ds *Dataset) ([]*Image, [][]*Annotation, *datasetIndex, error) {
	idx, err := indexDataset(ds, f)
	if err != nil {
		return nil, nil, nil, err
	}
	images := imagesByName(ds)
	anns := make([][]*Annotation, len(images))
	for i, img := range images {
		anns[i] = idx.byImage[img.ID]
	}
	return images, anns, idx, nil
}

// hfBox encodes a box in the given format.
func hfBox(b PixelBox, format HFBBoxFormat) []float64 {
	if format == HFBBoxXYXY {
		xmin, ymin, xmax, ymax := b.XYXY()
		return []float64{xmin, ymin, xmax, ymax}
	}
	x, y, w, h := b.XYWH()
	return []float64{x, y, w, h}
}

// EncodeHFJSONL encodes ds as metadata.jsonl, one row per image sorted by file name.
func EncodeHFJSONL(ds *Dataset, opts HFOptions) ([]byte, error) {
	images, anns, idx, err := hfRowsOf(HF, ds)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	for i, img := range images {
		rec := HFRecord{
			FileName: img.FileName,
			Objects: &HFObjects{
				BBox:       make([][]float64, 0, len(anns[i])),
				Categories: make([]HFCategory, 0, len(anns[i])),
			},
		}
		if img.Width > 0 && img.Height > 0 {
			w, h := img.Width, img.Height
			rec.Width, rec.Height = &w, &h
		}
		for _, a := range anns[i] {
			rec.Objects.BBox = append(rec.Objects.BBox, hfBox(a.BBox, opts.BBoxFormat))
			rec.Objects.Categories = append(rec.Objects.Categories, HFCategory(idx.categories[a.CategoryID].Name))
		}
		enc, err := json.Marshal(rec)
		if err != nil {
			return nil, writeErrorf(HF, "", err, "image %q", img.FileName)
		}
		b.Write(enc)
		b.WriteByte('\n')
	}

	return b.Bytes(), nil
}

// WriteHF writes ds as metadata.jsonl. path is the .jsonl file, or a directory in which
// [<split>/]metadata.jsonl is written.
func WriteHF(path string, ds *Dataset, opts HFOptions) error {
	if !strings.EqualFold(filepath.Ext(path), ".jsonl") {
		path = filepath.Join(path, opts.Split, hfMetadataFile)
	}
	enc, err := EncodeHFJSONL(ds, opts)
	if err != nil {
		return err
	}
	return writeFile(path, enc)
}
