package annoconv

// YOLO specific functionality.
//
// Layout:
//
//	<root>/data.yaml          class names ("names" list or index map)
//	<root>/classes.txt        fallback class names, one per line
//	<root>/images/**/<stem>.<ext>
//	<root>/labels/**/<stem>.txt

import (
	"fmt"
	"io/fs"
	"log"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// YOLOLabel is a single row of a YOLO label file. The box is normalized centre and size.
type YOLOLabel struct {
	Class      int
	CX, CY     float64
	W, H       float64
	Confidence *float64 // Optional sixth column written by detectors.
}

// yoloDataConfig is the data.yaml written by WriteYOLO.
type yoloDataConfig struct {
	Path  string   `yaml:"path"`
	Train string   `yaml:"train"`
	Val   string   `yaml:"val"`
	NC    int      `yaml:"nc"`
	Names []string `yaml:"names"`
}

const yoloPrecision = 6 // Decimals written for normalized coordinates.

// ParseYOLOLabels parses the rows of a YOLO label file. Blank lines are skipped. Rows with
// more than six values are segmentation or pose labels and are rejected.
func ParseYOLOLabels(data []byte) ([]YOLOLabel, error) {
	lines := splitLines(data)
	labels := make([]YOLOLabel, 0, len(lines))
	for i, line := range lines {
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) > 6 {
			return nil, parseErrorf(YOLO, "", i+1,
				"row has %d values; segmentation and pose labels are not supported", len(tokens))
		}
		if len(tokens) < 5 {
			return nil, parseErrorf(YOLO, "", i+1, "row has %d values, expected 5", len(tokens))
		}

		class, err := strconv.Atoi(tokens[0])
		if err != nil || class < 0 {
			return nil, parseErrorf(YOLO, "", i+1, "invalid class index %q", tokens[0])
		}
		var values [5]float64
		for j := 1; j < len(tokens); j++ {
			if values[j-1], err = strconv.ParseFloat(tokens[j], 64); err != nil {
				return nil, parseErrorf(YOLO, "", i+1, "invalid number %q", tokens[j])
			}
		}

		label := YOLOLabel{Class: class, CX: values[0], CY: values[1], W: values[2], H: values[3]}
		if len(tokens) == 6 {
			label.Confidence = float64Ptr(values[4])
		}
		labels = append(labels, label)
	}

	return labels, nil
}

// ParseYOLODataYAML returns the class names declared in data.yaml, keyed by class index. The
// "names" key may be a list or an index to name map. A nil map is returned if there is no
// "names" key.
func ParseYOLODataYAML(data []byte) (map[int]string, error) {
	var config struct {
		Names yaml.Node `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &ParseError{Format: YOLO, Msg: "invalid data.yaml", Err: err}
	}

	node := config.Names
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
		names := make(map[int]string, len(node.Content))
		for i, n := range node.Content {
			if n.Kind != yaml.ScalarNode {
				return nil, parseErrorf(YOLO, "", n.Line, "class name %d is not a string", i)
			}
			names[i] = n.Value
		}
		return names, nil
	case yaml.MappingNode:
		names := make(map[int]string, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			idx, err := strconv.Atoi(k.Value)
			if err != nil || idx < 0 {
				return nil, parseErrorf(YOLO, "", k.Line, "invalid class index %q", k.Value)
			}
			if v.Kind != yaml.ScalarNode {
				return nil, parseErrorf(YOLO, "", v.Line, "class name %d is not a string", idx)
			}
			if _, dup := names[idx]; dup {
				return nil, parseErrorf(YOLO, "", k.Line, "duplicate class index %d", idx)
			}
			names[idx] = v.Value
		}
		return names, nil
	}
	return nil, parseErrorf(YOLO, "", node.Line, "\"names\" must be a list or a map")
}

// parseYOLOClassesTxt returns the class names of a classes.txt file, one per line.
func parseYOLOClassesTxt(data []byte) map[int]string {
	lines := splitLines(data)
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	names := make(map[int]string, len(lines))
	for i, line := range lines {
		names[i] = strings.TrimSpace(line)
	}
	return names
}

// readYOLOClassNames loads the class names from data.yaml, falling back to classes.txt. A nil
// map means the names must be inferred from the labels.
func readYOLOClassNames(root string) (map[int]string, error) {
	for _, name := range []string{"data.yaml", "data.yml"} {
		p := filepath.Join(root, name)
		if !isFile(p) {
			continue
		}
		data, err := readFile(p)
		if err != nil {
			return nil, err
		}
		names, err := ParseYOLODataYAML(data)
		if err != nil {
			return nil, withPath(err, p)
		}
		if names != nil {
			return names, nil
		}
	}

	p := filepath.Join(root, "classes.txt")
	if !isFile(p) {
		return nil, nil
	}
	data, err := readFile(p)
	if err != nil {
		return nil, err
	}
	return parseYOLOClassesTxt(data), nil
}

// walkRelFiles returns the slash separated paths, relative to dir, of the regular files below
// dir for which keep returns true, sorted lexicographically.
func walkRelFiles(dir string, keep func(name string) bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !keep(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, &IOError{Path: dir, Err: err}
	}
	sort.Strings(files)
	return files, nil
}

// FromYOLO reads a YOLO dataset from the directory root.
//
// Images are found recursively under images/ and get IDs in lexicographic order of their
// relative path. Each image is matched to labels/<stem>.txt; if several images share a stem, the
// one with the highest priority extension (see imageExtensions) gets the labels. Category IDs
// are the class indices. Annotation IDs follow label file order, then line order.
func FromYOLO(root string) (*Dataset, error) {
	imageDir := filepath.Join(root, "images")
	labelDir := filepath.Join(root, "labels")
	if !isDir(imageDir) {
		return nil, &LayoutError{Format: YOLO, Path: root, Msg: "missing images/ directory"}
	}
	if !isDir(labelDir) {
		return nil, &LayoutError{Format: YOLO, Path: root, Msg: "missing labels/ directory"}
	}

	names, err := readYOLOClassNames(root)
	if err != nil {
		return nil, err
	}

	imageFiles, err := walkRelFiles(imageDir, isImageFile)
	if err != nil {
		return nil, err
	}
	log.Printf("Parsing YOLO labels for %d images", len(imageFiles))

	// Pick the image that owns each label stem.
	owner := make(map[string]string, len(imageFiles))
	for _, rel := range imageFiles {
		stem, ext := splitExt(rel)
		if cur, ok := owner[stem]; ok {
			_, curExt := splitExt(cur)
			if extensionPriority(curExt) <= extensionPriority(ext) {
				continue
			}
		}
		owner[stem] = rel
	}

	ds := &Dataset{
		Images: make([]Image, 0, len(imageFiles)),
	}
	observed := make(map[int]bool)
	nextAnnotationID := AnnotationID(1)
	for i, rel := range imageFiles {
		imagePath := filepath.Join(imageDir, filepath.FromSlash(rel))
		width, height, err := decodeImageSize(imagePath)
		if err != nil {
			return nil, &ParseError{Format: YOLO, Path: imagePath, Msg: "cannot read image size", Err: err}
		}
		img := Image{ID: ImageID(i + 1), FileName: rel, Width: width, Height: height}
		ds.Images = append(ds.Images, img)

		stem, _ := splitExt(rel)
		if owner[stem] != rel {
			log.Printf("Image %q shares its label file with %q, leaving it unannotated", rel, owner[stem])
			continue
		}
		labelPath := filepath.Join(labelDir, filepath.FromSlash(stem)+".txt")
		if !isFile(labelPath) {
			continue
		}
		data, err := readFile(labelPath)
		if err != nil {
			return nil, err
		}
		labels, err := ParseYOLOLabels(data)
		if err != nil {
			return nil, withPath(err, labelPath)
		}

		for j, l := range labels {
			if names != nil {
				if _, ok := names[l.Class]; !ok {
					return nil, parseErrorf(YOLO, labelPath, 0,
						"label %d: class index %d is not declared", j+1, l.Class)
				}
			}
			observed[l.Class] = true
			box := FromCXCYWH[Normalized](l.CX, l.CY, l.W, l.H)
			ds.Annotations = append(ds.Annotations, Annotation{
				ID:         nextAnnotationID,
				ImageID:    img.ID,
				CategoryID: CategoryID(l.Class),
				BBox:       ToPixel(box, float64(width), float64(height)),
				Confidence: l.Confidence,
			})
			nextAnnotationID++
		}
	}

	// Report label files that match no image.
	labelFiles, err := walkRelFiles(labelDir, func(name string) bool {
		return strings.EqualFold(filepath.Ext(name), ".txt")
	})
	if err != nil {
		return nil, err
	}
	for _, rel := range labelFiles {
		stem, _ := splitExt(rel)
		if _, ok := owner[stem]; !ok {
			log.Printf("No corresponding image file, skipping %q", path.Join("labels", rel))
		}
	}

	// Categories.
	var indices []int
	if names != nil {
		for k := range names {
			indices = append(indices, k)
		}
	} else {
		for k := range observed {
			indices = append(indices, k)
		}
	}
	sort.Ints(indices)
	ds.Categories = make([]Category, len(indices))
	for i, k := range indices {
		name, ok := names[k]
		if !ok || name == "" {
			name = fmt.Sprintf("class_%d", k)
		}
		ds.Categories[i] = Category{ID: CategoryID(k), Name: name}
	}

	return ds, nil
}

// yoloLabelStem returns the label file stem for an image file name, rejecting names that would
// escape the labels directory.
func yoloLabelStem(fileName string) (string, error) {
	clean := path.Clean(filepath.ToSlash(fileName))
	if clean == "." || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("image file name %q is not a relative path", fileName)
	}
	stem, _ := splitExt(clean)
	return stem, nil
}

// WriteYOLO writes ds as a YOLO dataset to the directory root.
//
// Class indices are assigned densely in category ID order and the names written to data.yaml.
// One label file is written per image, sorted by file name, with an empty file for images
// without annotations. Image files are not copied; images/ is created empty.
func WriteYOLO(root string, ds *Dataset) error {
	idx, err := indexDataset(ds, YOLO)
	if err != nil {
		return err
	}

	cats := categoriesByID(ds)
	classIndex := make(map[CategoryID]int, len(cats))
	config := yoloDataConfig{Path: ".", Train: "images", Val: "images", NC: len(cats),
		Names: make([]string, len(cats))}
	for i, c := range cats {
		classIndex[c.ID] = i
		config.Names[i] = c.Name
	}
	enc, err := yaml.Marshal(config)
	if err != nil {
		return writeErrorf(YOLO, root, err, "cannot encode data.yaml")
	}
	if err := writeFile(filepath.Join(root, "data.yaml"), enc); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(root, "images")); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(root, "labels")); err != nil {
		return err
	}

	written := make(map[string]string, len(ds.Images))
	for _, img := range imagesByName(ds) {
		stem, err := yoloLabelStem(img.FileName)
		if err != nil {
			return writeErrorf(YOLO, root, err, "image %d", img.ID)
		}
		if other, ok := written[stem]; ok {
			return writeErrorf(YOLO, root, nil, "images %q and %q map to the same label file", other, img.FileName)
		}
		written[stem] = img.FileName

		anns := idx.byImage[img.ID]
		if len(anns) > 0 && (img.Width <= 0 || img.Height <= 0) {
			return writeErrorf(YOLO, root, nil, "image %q has no size, cannot normalize its boxes", img.FileName)
		}

		var b strings.Builder
		for _, a := range anns {
			box := ToNormalized(a.BBox, float64(img.Width), float64(img.Height))
			cx, cy, w, h := box.CXCYWH()
			fmt.Fprintf(&b, "%d %.*f %.*f %.*f %.*f\n", classIndex[a.CategoryID],
				yoloPrecision, cx, yoloPrecision, cy, yoloPrecision, w, yoloPrecision, h)
		}

		labelPath := filepath.Join(root, "labels", filepath.FromSlash(stem)+".txt")
		if err := writeFile(labelPath, []byte(b.String())); err != nil {
			return err
		}
	}

	return nil
}
