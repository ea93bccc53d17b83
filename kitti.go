package annoconv

// KITTI specific functionality.
//
// Layout:
//
//	<dir>/label_2/<stem>.txt   one file per image
//	<dir>/image_2/<stem>.<ext> images (never copied)

import (
	"bytes"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// KITTIObject is a single object row of a KITTI label file. The 3D fields are kept verbatim.
type KITTIObject struct {
	Type       string
	Truncated  string
	Occluded   string
	Alpha      string
	Box        [4]float64 // left, top, right, bottom in pixels
	Dimensions string     // "height width length"
	Location   string     // "x y z"
	RotationY  string
	Score      *float64 // Optional, linear confidence value. No fixed range.
}

// Annotation attributes carried by KITTI, besides truncated and occluded.
const (
	kittiAttrAlpha      = "alpha"
	kittiAttrDimensions = "dimensions"
	kittiAttrLocation   = "location"
	kittiAttrRotationY  = "rotation_y"
)

// parseKITTIObject parses the line of values for a single object.
func parseKITTIObject(line string) (KITTIObject, error) {
	tokens := strings.Fields(line)
	if len(tokens) != 15 && len(tokens) != 16 {
		return KITTIObject{}, fmt.Errorf("expected 15 or 16 values, found %d", len(tokens))
	}
	for i := 1; i < len(tokens); i++ {
		if _, err := strconv.ParseFloat(tokens[i], 64); err != nil {
			return KITTIObject{}, fmt.Errorf("value %d: %q is not a number", i+1, tokens[i])
		}
	}

	o := KITTIObject{
		Type:       tokens[0],
		Truncated:  tokens[1],
		Occluded:   tokens[2],
		Alpha:      tokens[3],
		Dimensions: strings.Join(tokens[8:11], " "),
		Location:   strings.Join(tokens[11:14], " "),
		RotationY:  tokens[14],
	}
	for i := range o.Box {
		o.Box[i], _ = strconv.ParseFloat(tokens[4+i], 64)
	}
	if len(tokens) == 16 {
		score, _ := strconv.ParseFloat(tokens[15], 64)
		o.Score = &score
	}
	return o, nil
}

// ParseKITTILabels parses the rows of one KITTI label file. Blank lines are skipped.
func ParseKITTILabels(data []byte) ([]KITTIObject, error) {
	var objects []KITTIObject
	for i, line := range splitLines(data) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		o, err := parseKITTIObject(line)
		if err != nil {
			return nil, &ParseError{Format: KITTI, Line: i + 1, Msg: "invalid row", Err: err}
		}
		objects = append(objects, o)
	}
	return objects, nil
}

// kittiDirs returns the label and image directories for dir: dir/label_2 and dir/image_2 if they
// exist, otherwise dir itself for the labels.
func kittiDirs(dir string) (labelDir, imageDir string) {
	labelDir = filepath.Join(dir, "label_2")
	if !isDir(labelDir) {
		labelDir = dir
	}
	imageDir = filepath.Join(dir, "image_2")
	if !isDir(imageDir) {
		imageDir = ""
	}
	return labelDir, imageDir
}

// FromKITTI reads and parses the KITTI labels under dir and matches them to the images in
// dir/image_2 by stem.
//
// Every image in image_2 is part of the dataset, with its size read from the image header. A
// label file without an image is kept with a ".png" file name and no size. Images get IDs in
// lexicographic file name order, categories in lexicographic type order, annotations follow
// image order, then row order.
func FromKITTI(dir string) (*Dataset, error) {
	if !isDir(dir) {
		return nil, &LayoutError{Format: KITTI, Path: dir, Msg: "not a directory"}
	}
	labelDir, imageDir := kittiDirs(dir)
	labelFiles, err := filesByExtInDir(labelDir, ".txt")
	if err != nil {
		return nil, err
	}
	log.Printf("Parsing KITTI labels for %d files", len(labelFiles))

	// Map the image stems to the file with the preferred extension.
	imagesByStem := make(map[string]string)
	if imageDir != "" {
		imageFiles, err := filesByExtInDir(imageDir, "")
		if err != nil {
			return nil, err
		}
		for _, name := range imageFiles {
			if !isImageFile(name) {
				continue
			}
			stem, ext := splitExt(name)
			if prev, ok := imagesByStem[stem]; ok {
				if _, prevExt := splitExt(prev); extensionPriority(prevExt) <= extensionPriority(ext) {
					continue
				}
			}
			imagesByStem[stem] = name
		}
	}

	// Read the label files.
	objectsByImage := make(map[string][]KITTIObject, len(labelFiles))
	var typeNames []string
	for _, name := range labelFiles {
		p := filepath.Join(labelDir, name)
		data, err := readFile(p)
		if err != nil {
			return nil, err
		}
		objects, err := ParseKITTILabels(data)
		if err != nil {
			return nil, withPath(err, p)
		}

		stem, _ := splitExt(name)
		imageName, found := imagesByStem[stem]
		if !found {
			log.Printf("Could not find the corresponding image file for %q", p)
			imageName = stem + ".png"
			imagesByStem[stem] = imageName
		}
		objectsByImage[imageName] = objects
		for _, o := range objects {
			typeNames = append(typeNames, o.Type)
		}
	}

	imageNames := make([]string, 0, len(imagesByStem))
	for _, name := range imagesByStem {
		imageNames = append(imageNames, name)
	}
	sortedImages, imageIDs := nameIDs(imageNames)
	sortedTypes, typeIDs := nameIDs(typeNames)
	ds := &Dataset{
		Images:     make([]Image, 0, len(sortedImages)),
		Categories: categoriesFromNames(sortedTypes),
	}
	for _, name := range sortedImages {
		img := Image{ID: ImageID(imageIDs[name]), FileName: name}
		if imageDir != "" && isFile(filepath.Join(imageDir, name)) {
			w, h, err := decodeImageSize(filepath.Join(imageDir, name))
			if err != nil {
				log.Printf("Failed to decode the image size of %q: %v", name, err)
			} else {
				img.Width, img.Height = w, h
			}
		}
		ds.Images = append(ds.Images, img)

		for _, o := range objectsByImage[name] {
			a := Annotation{
				ID:         AnnotationID(len(ds.Annotations) + 1),
				ImageID:    img.ID,
				CategoryID: CategoryID(typeIDs[o.Type]),
				BBox:       FromXYXY[Pixel](o.Box[0], o.Box[1], o.Box[2], o.Box[3]),
				Confidence: o.Score,
			}
			a.Attributes = map[string]string{
				AttrTruncated:       o.Truncated,
				AttrOccluded:        o.Occluded,
				kittiAttrAlpha:      o.Alpha,
				kittiAttrDimensions: o.Dimensions,
				kittiAttrLocation:   o.Location,
				kittiAttrRotationY:  o.RotationY,
			}
			ds.Annotations = append(ds.Annotations, a)
		}
	}

	return ds, nil
}

// kittiField returns v if it consists of n numbers separated by spaces, and def otherwise.
func kittiField(v string, n int, def string) string {
	tokens := strings.Fields(v)
	if len(tokens) != n {
		return def
	}
	for _, t := range tokens {
		if _, err := strconv.ParseFloat(t, 64); err != nil {
			return def
		}
	}
	return strings.Join(tokens, " ")
}

// kittiType returns the category name with white space replaced by underscores.
func kittiType(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
}

// EncodeKITTILabels encodes the annotations of one image as a KITTI label file. Missing 3D
// fields are written as zeros and the score only when a confidence is set.
func EncodeKITTILabels(annotations []*Annotation, categories map[CategoryID]*Category) []byte {
	var b bytes.Buffer
	for _, a := range annotations {
		xmin, ymin, xmax, ymax := a.BBox.XYXY()
		fmt.Fprintf(&b, "%s %s %s %s %.2f %.2f %.2f %.2f %s %s %s",
			kittiType(categories[a.CategoryID].Name),
			kittiField(a.Attributes[AttrTruncated], 1, "0.00"),
			kittiField(normalizeBool(a.Attributes[AttrOccluded]), 1, "0"),
			kittiField(a.Attributes[kittiAttrAlpha], 1, "0.00"),
			xmin, ymin, xmax, ymax,
			kittiField(a.Attributes[kittiAttrDimensions], 3, "0.00 0.00 0.00"),
			kittiField(a.Attributes[kittiAttrLocation], 3, "0.00 0.00 0.00"),
			kittiField(a.Attributes[kittiAttrRotationY], 1, "0.00"))
		if a.Confidence != nil {
			b.WriteString(" " + formatFloat(*a.Confidence))
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// WriteKITTI writes ds to dir/label_2, one file per image sorted by file name (empty for images
// without annotations), and creates dir/image_2 for the images.
func WriteKITTI(dir string, ds *Dataset) error {
	idx, err := indexDataset(ds, KITTI)
	if err != nil {
		return err
	}

	renamed := make(map[string]bool)
	for _, c := range ds.Categories {
		if t := kittiType(c.Name); t != c.Name && !renamed[c.Name] && idx.usage[c.ID] > 0 {
			log.Printf("Writing category %q as %q", c.Name, t)
			renamed[c.Name] = true
		}
	}

	labelDir := filepath.Join(dir, "label_2")
	if err := ensureDir(labelDir); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(dir, "image_2")); err != nil {
		return err
	}

	written := make(map[string]string, len(ds.Images))
	for _, img := range imagesByName(ds) {
		// Use the image file name with .txt extension as label file name.
		stem, _ := splitExt(path.Base(filepath.ToSlash(img.FileName)))
		name := stem + ".txt"
		if other, ok := written[name]; ok {
			return writeErrorf(KITTI, dir, nil, "images %q and %q map to the same file %q",
				other, img.FileName, name)
		}
		written[name] = img.FileName

		if err := writeFile(filepath.Join(labelDir, name), EncodeKITTILabels(idx.byImage[img.ID], idx.categories)); err != nil {
			return err
		}
	}

	return nil
}
