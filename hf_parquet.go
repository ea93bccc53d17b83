package annoconv

// Hugging Face Parquet shard specific functionality.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// hfParquetImage is the HF Image feature: encoded bytes and/or a path.
type hfParquetImage struct {
	Bytes []byte `parquet:"bytes,optional"`
	Path  string `parquet:"path,optional"`
}

// hfParquetObjects is the objects Sequence feature with ClassLabel category indices.
type hfParquetObjects struct {
	BBox     [][]float64 `parquet:"bbox,list"`
	Category []int64     `parquet:"category,list"`
}

// hfParquetRow is the row schema read and written. Columns missing from a file read as zero
// values; some datasets store bboxes and categories as top level columns.
type hfParquetRow struct {
	FileName   string            `parquet:"file_name,optional"`
	Image      *hfParquetImage   `parquet:"image,optional"`
	Width      *int64            `parquet:"width,optional"`
	Height     *int64            `parquet:"height,optional"`
	Objects    *hfParquetObjects `parquet:"objects,optional"`
	BBoxes     [][]float64       `parquet:"bboxes,list"`
	Categories []int64           `parquet:"categories,list"`
}

// hfMetadataKey is the key/value metadata entry holding the datasets features.
const hfMetadataKey = "huggingface"

// hfParquetShards returns the sorted .parquet files in dir, dir/data and dir/<split>, keeping
// only those of split if it is set. Without a split, the shards must belong to a single split.
func hfParquetShards(dir, split string) ([]string, error) {
	type shardDir struct{ path, split string }
	dirs := []shardDir{{dir, filepath.Base(dir)}, {filepath.Join(dir, "data"), filepath.Base(dir)}}
	if split != "" {
		dirs = append(dirs, shardDir{filepath.Join(dir, split), split})
	}

	var shards []string
	bySplit := make(map[string]bool)
	for _, d := range dirs {
		if !isDir(d.path) {
			continue
		}
		files, err := filesByExtInDir(d.path, ".parquet")
		if err != nil {
			return nil, err
		}
		for _, name := range files {
			s, ok := hfShardSplit(name)
			if !ok {
				s = d.split
			}
			if split != "" && s != split {
				continue
			}
			bySplit[s] = true
			shards = append(shards, filepath.Join(d.path, name))
		}
	}
	if len(bySplit) > 1 {
		splits := make([]string, 0, len(bySplit))
		for s := range bySplit {
			splits = append(splits, s)
		}
		sort.Strings(splits)
		return nil, &LayoutError{Format: HFParquet, Path: dir,
			Msg: fmt.Sprintf("shards of several splits (%s), choose one", strings.Join(splits, ", "))}
	}
	return shards, nil
}

// hfShardName matches shard names such as "train-00000-of-00002.parquet".
var hfShardName = regexp.MustCompile(`^(.+)-[0-9]{5}-of-[0-9]{5}$`)

// hfShardSplit returns the split named by a shard file name. Shards named otherwise, such as
// "0000.parquet", belong to the split of their directory.
func hfShardSplit(name string) (string, bool) {
	stem, _ := splitExt(name)
	m := hfShardName.FindStringSubmatch(stem)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// fromHFParquet reads the shards in order. Image IDs follow row order across all shards.
func fromHFParquet(shards []string, baseDir string, opts HFOptions) (*Dataset, error) {
	log.Printf("Reading %d parquet shard(s)", len(shards))
	var rows []hfRow
	var classNames []string
	for _, p := range shards {
		data, err := readFile(p)
		if err != nil {
			return nil, err
		}
		shardRows, names, err := ParseHFParquet(data)
		if err != nil {
			return nil, withPath(err, p)
		}
		if classNames == nil {
			classNames = names
		}
		for i := range shardRows {
			shardRows[i].line += len(rows)
		}
		rows = append(rows, shardRows...)
	}

	ds, err := hfDataset(HFParquet, rows, classNames, baseDir, opts)
	if err != nil {
		return nil, withPath(err, shards[0])
	}
	return ds, nil
}

// ParseHFParquet decodes a Parquet shard into rows in the JSONL shape, together with the
// ClassLabel names found in the file metadata.
func ParseHFParquet(data []byte) (rows []hfRow, classNames []string, err error) {
	// parquet-go panics on some corrupt files.
	defer func() {
		if r := recover(); r != nil {
			rows, classNames = nil, nil
			err = parseErrorf(HFParquet, "", 0, "corrupt parquet file: %v", r)
		}
	}()

	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, &ParseError{Format: HFParquet, Msg: "invalid parquet file", Err: err}
	}
	if meta, ok := f.Lookup(hfMetadataKey); ok {
		classNames = hfClassLabelNames([]byte(meta))
	}

	records, err := parquet.Read[hfParquetRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, &ParseError{Format: HFParquet, Msg: "cannot read rows", Err: err}
	}

	rows = make([]hfRow, len(records))
	for i, rec := range records {
		row := hfRow{line: i + 1, fileName: rec.FileName}
		if rec.Image != nil {
			if row.fileName == "" {
				row.fileName = rec.Image.Path
			}
			row.imageBytes = rec.Image.Bytes
		}
		if row.fileName == "" {
			return nil, nil, parseErrorf(HFParquet, "", i+1, "row has neither file_name nor image.path")
		}
		if rec.Width != nil {
			row.width = int(*rec.Width)
		}
		if rec.Height != nil {
			row.height = int(*rec.Height)
		}

		bboxes, cats := rec.BBoxes, rec.Categories
		if rec.Objects != nil && (len(rec.Objects.BBox) > 0 || len(rec.Objects.Category) > 0) {
			bboxes, cats = rec.Objects.BBox, rec.Objects.Category
		}
		row.bboxes = bboxes
		row.categories = make([]string, len(cats))
		for j, c := range cats {
			if c >= 0 && c < int64(len(classNames)) {
				row.categories[j] = classNames[c]
			} else {
				row.categories[j] = strconv.FormatInt(c, 10)
			}
		}
		rows[i] = row
	}

	return rows, classNames, nil
}

// hfClassLabelNames returns the names of the first ClassLabel feature found in the huggingface
// metadata, or nil.
func hfClassLabelNames(meta []byte) []string {
	var v interface{}
	if err := json.Unmarshal(meta, &v); err != nil {
		log.Printf("Ignoring invalid %q parquet metadata: %v", hfMetadataKey, err)
		return nil
	}
	var find func(v interface{}, depth int) []string
	find = func(v interface{}, depth int) []string {
		if depth > 32 {
			return nil
		}
		switch t := v.(type) {
		case map[string]interface{}:
			if t["_type"] == "ClassLabel" {
				if list, ok := t["names"].([]interface{}); ok {
					names := make([]string, 0, len(list))
					for _, n := range list {
						s, _ := n.(string)
						names = append(names, s)
					}
					return names
				}
			}
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if names := find(t[k], depth+1); names != nil {
					return names
				}
			}
		case []interface{}:
			for _, e := range t {
				if names := find(e, depth+1); names != nil {
					return names
				}
			}
		}
		return nil
	}
	return find(v, 0)
}

// hfFeatures returns the huggingface metadata for the written schema.
func hfFeatures(names []string) (string, error) {
	sequence := func(feature interface{}, length int) map[string]interface{} {
		return map[string]interface{}{"_type": "Sequence", "feature": feature, "length": length}
	}
	value := func(dtype string) map[string]interface{} {
		return map[string]interface{}{"_type": "Value", "dtype": dtype}
	}
	features := map[string]interface{}{
		"file_name": value("string"),
		"image":     map[string]interface{}{"_type": "Image"},
		"width":     value("int64"),
		"height":    value("int64"),
		"objects": map[string]interface{}{
			"bbox":     sequence(sequence(value("float64"), 4), -1),
			"category": sequence(map[string]interface{}{"_type": "ClassLabel", "names": names}, -1),
		},
	}
	enc, err := json.Marshal(map[string]interface{}{"info": map[string]interface{}{"features": features}})
	return string(enc), err
}

// EncodeHFParquet encodes ds as a single Parquet shard, one row per image sorted by file name.
// Category indices follow category ID order and the names are stored as a ClassLabel feature.
func EncodeHFParquet(ds *Dataset, opts HFOptions) ([]byte, error) {
	images, anns, _, err := hfRowsOf(HFParquet, ds)
	if err != nil {
		return nil, err
	}

	cats := categoriesByID(ds)
	names := make([]string, len(cats))
	index := make(map[CategoryID]int64, len(cats))
	for i, c := range cats {
		names[i] = c.Name
		index[c.ID] = int64(i)
	}

	rows := make([]hfParquetRow, len(images))
	for i, img := range images {
		objects := &hfParquetObjects{
			BBox:     make([][]float64, 0, len(anns[i])),
			Category: make([]int64, 0, len(anns[i])),
		}
		for _, a := range anns[i] {
			objects.BBox = append(objects.BBox, hfBox(a.BBox, opts.BBoxFormat))
			objects.Category = append(objects.Category, index[a.CategoryID])
		}
		rows[i] = hfParquetRow{
			FileName: img.FileName,
			Image:    &hfParquetImage{Path: img.FileName},
			Objects:  objects,
		}
		if img.Width > 0 && img.Height > 0 {
			w, h := int64(img.Width), int64(img.Height)
			rows[i].Width, rows[i].Height = &w, &h
		}
	}

	meta, err := hfFeatures(names)
	if err != nil {
		return nil, &WriteError{Format: HFParquet, Msg: "cannot encode features", Err: err}
	}
	var b bytes.Buffer
	if err := parquet.Write(&b, rows, parquet.KeyValueMetadata(hfMetadataKey, meta)); err != nil {
		return nil, &WriteError{Format: HFParquet, Msg: "cannot encode parquet", Err: err}
	}
	return b.Bytes(), nil
}

// WriteHFParquet writes ds as a Parquet shard. path is the .parquet file, or a directory in which
// data/<split>-00000-of-00001.parquet is written (split "train" if unset).
func WriteHFParquet(path string, ds *Dataset, opts HFOptions) error {
	if !strings.EqualFold(filepath.Ext(path), ".parquet") {
		split := opts.Split
		if split == "" {
			split = "train"
		}
		path = filepath.Join(path, "data", split+"-00000-of-00001.parquet")
	}
	enc, err := EncodeHFParquet(ds, opts)
	if err != nil {
		return err
	}
	return writeFile(path, enc)
}
