package annoconv

// Pascal VOC specific functionality.
//
// Layout:
//
//	<root>/Annotations/<stem>.xml   one file per image
//	<root>/JPEGImages/              images (never copied)

import (
	"bytes"
	"encoding/xml"
	"log"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// VOCBndBox is an object bounding box in pixels. Values are kept as text so that both integer
// and fractional coordinates are accepted.
type VOCBndBox struct {
	XMin string `xml:"xmin"`
	YMin string `xml:"ymin"`
	XMax string `xml:"xmax"`
	YMax string `xml:"ymax"`
}

// VOCObject is an <object> element.
type VOCObject struct {
	Name      string     `xml:"name"`
	Pose      string     `xml:"pose,omitempty"`
	Truncated string     `xml:"truncated,omitempty"`
	Difficult string     `xml:"difficult,omitempty"`
	Occluded  string     `xml:"occluded,omitempty"`
	BndBox    *VOCBndBox `xml:"bndbox"`
}

// VOCSize is the <size> element.
type VOCSize struct {
	Width  int    `xml:"width"`
	Height int    `xml:"height"`
	Depth  string `xml:"depth,omitempty"`
}

// VOCAnnotation is the root <annotation> element of a VOC XML file.
type VOCAnnotation struct {
	XMLName   xml.Name    `xml:"annotation"`
	Folder    string      `xml:"folder,omitempty"`
	Filename  string      `xml:"filename"`
	Size      *VOCSize    `xml:"size"`
	Segmented string      `xml:"segmented,omitempty"`
	Objects   []VOCObject `xml:"object"`
}

// Image attributes carried by VOC.
const (
	vocAttrFolder    = "folder"
	vocAttrDepth     = "depth"
	vocAttrSegmented = "segmented"
)

const vocReadme = "Images are not copied by the converter. Place the image files here.\n"

// ParseVOCXML parses a single VOC annotation file.
func ParseVOCXML(data []byte) (VOCAnnotation, error) {
	var ann VOCAnnotation
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&ann); err != nil {
		return VOCAnnotation{}, &ParseError{Format: VOC, Msg: "invalid XML", Err: err}
	}
	if strings.TrimSpace(ann.Filename) == "" {
		return VOCAnnotation{}, parseErrorf(VOC, "", 0, "missing <filename>")
	}
	return ann, nil
}

// FromVOC reads a VOC dataset from the directory root, or from root/Annotations if root has no
// Annotations subdirectory.
//
// Only the XML files directly inside the annotation directory are read. Images get IDs in
// lexicographic order of <filename>; categories in lexicographic order of name; annotations
// follow image order, then object order. Two files with the same <filename> is an error.
func FromVOC(root string) (*Dataset, error) {
	annDir := filepath.Join(root, "Annotations")
	if !isDir(annDir) {
		if !isDir(root) {
			return nil, &LayoutError{Format: VOC, Path: root, Msg: "not a directory"}
		}
		annDir = root
	}

	files, err := filesByExtInDir(annDir, ".xml")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &LayoutError{Format: VOC, Path: annDir, Msg: "no .xml annotation files"}
	}
	log.Printf("Parsing VOC labels for %d files", len(files))

	// Parse all files, keyed by image file name.
	parsed := make(map[string]VOCAnnotation, len(files))
	sources := make(map[string]string, len(files))
	fileNames := make([]string, 0, len(files))
	var classNames []string
	for _, name := range files {
		p := filepath.Join(annDir, name)
		data, err := readFile(p)
		if err != nil {
			return nil, err
		}
		ann, err := ParseVOCXML(data)
		if err != nil {
			return nil, withPath(err, p)
		}
		if prev, dup := sources[ann.Filename]; dup {
			return nil, parseErrorf(VOC, p, 0, "duplicate <filename> %q, also declared in %q",
				ann.Filename, prev)
		}
		sources[ann.Filename] = p
		parsed[ann.Filename] = ann
		fileNames = append(fileNames, ann.Filename)
		for _, o := range ann.Objects {
			classNames = append(classNames, o.Name)
		}
	}

	sortedFiles, imageIDs := nameIDs(fileNames)
	sortedClasses, classIDs := nameIDs(classNames)
	ds := &Dataset{
		Images:     make([]Image, 0, len(sortedFiles)),
		Categories: categoriesFromNames(sortedClasses),
	}
	nextAnnotationID := AnnotationID(1)
	for _, fileName := range sortedFiles {
		ann := parsed[fileName]
		img := Image{ID: ImageID(imageIDs[fileName]), FileName: fileName}
		if ann.Size != nil {
			img.Width, img.Height = ann.Size.Width, ann.Size.Height
			if ann.Size.Depth != "" {
				img.Attributes = setAttr(img.Attributes, vocAttrDepth, ann.Size.Depth)
			}
		}
		if ann.Folder != "" {
			img.Attributes = setAttr(img.Attributes, vocAttrFolder, ann.Folder)
		}
		if ann.Segmented != "" {
			img.Attributes = setAttr(img.Attributes, vocAttrSegmented, ann.Segmented)
		}
		ds.Images = append(ds.Images, img)

		for i, o := range ann.Objects {
			if o.BndBox == nil {
				return nil, parseErrorf(VOC, sources[fileName], 0, "object %d (%q) has no <bndbox>", i+1, o.Name)
			}
			var coords [4]float64
			for j, s := range [4]string{o.BndBox.XMin, o.BndBox.YMin, o.BndBox.XMax, o.BndBox.YMax} {
				v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if err != nil {
					return nil, parseErrorf(VOC, sources[fileName], 0,
						"object %d (%q): invalid coordinate %q", i+1, o.Name, s)
				}
				coords[j] = v
			}

			a := Annotation{
				ID:         nextAnnotationID,
				ImageID:    img.ID,
				CategoryID: CategoryID(classIDs[o.Name]),
				BBox:       FromXYXY[Pixel](coords[0], coords[1], coords[2], coords[3]),
			}
			for _, kv := range [][2]string{
				{AttrPose, o.Pose}, {AttrTruncated, o.Truncated},
				{AttrDifficult, o.Difficult}, {AttrOccluded, o.Occluded},
			} {
				if v := strings.TrimSpace(kv[1]); v != "" {
					a.Attributes = setAttr(a.Attributes, kv[0], v)
				}
			}
			ds.Annotations = append(ds.Annotations, a)
			nextAnnotationID++
		}
	}

	return ds, nil
}

// ToVOC converts the intermediate representation to one VOCAnnotation per image, sorted by
// image file name. Images without annotations are kept.
func ToVOC(ds *Dataset) ([]VOCAnnotation, error) {
	idx, err := indexDataset(ds, VOC)
	if err != nil {
		return nil, err
	}

	vocData := make([]VOCAnnotation, 0, len(ds.Images))
	for _, img := range imagesByName(ds) {
		vocFile := VOCAnnotation{
			Folder:    img.Attributes[vocAttrFolder],
			Filename:  img.FileName,
			Size:      &VOCSize{Width: img.Width, Height: img.Height, Depth: img.Attributes[vocAttrDepth]},
			Segmented: normalizeBool(img.Attributes[vocAttrSegmented]),
			Objects:   make([]VOCObject, 0, len(idx.byImage[img.ID])),
		}
		if vocFile.Size.Depth == "" {
			vocFile.Size.Depth = "3"
		}
		for _, a := range idx.byImage[img.ID] {
			xmin, ymin, xmax, ymax := a.BBox.XYXY()
			pose := a.Attributes[AttrPose]
			if pose == "" {
				pose = "Unspecified"
			}
			vocFile.Objects = append(vocFile.Objects, VOCObject{
				Name:      idx.categories[a.CategoryID].Name,
				Pose:      pose,
				Truncated: normalizeBool(a.Attributes[AttrTruncated]),
				Difficult: normalizeBool(a.Attributes[AttrDifficult]),
				Occluded:  normalizeBool(a.Attributes[AttrOccluded]),
				BndBox: &VOCBndBox{
					XMin: formatFloat(xmin),
					YMin: formatFloat(ymin),
					XMax: formatFloat(xmax),
					YMax: formatFloat(ymax),
				},
			})
		}
		vocData = append(vocData, vocFile)
	}

	return vocData, nil
}

// vocXMLName returns the annotation file name for an image file name.
func vocXMLName(fileName string) string {
	stem, _ := splitExt(path.Base(filepath.ToSlash(fileName)))
	return stem + ".xml"
}

// WriteVOC writes ds as a VOC dataset to the directory root: one Annotations/<stem>.xml per
// image and a placeholder README in JPEGImages/.
func WriteVOC(root string, ds *Dataset) error {
	vocData, err := ToVOC(ds)
	if err != nil {
		return err
	}

	annDir := filepath.Join(root, "Annotations")
	if err := ensureDir(annDir); err != nil {
		return err
	}
	written := make(map[string]string, len(vocData))
	for _, vocFile := range vocData {
		name := vocXMLName(vocFile.Filename)
		if other, ok := written[name]; ok {
			return writeErrorf(VOC, root, nil, "images %q and %q map to the same file %q",
				other, vocFile.Filename, name)
		}
		written[name] = vocFile.Filename

		enc, err := xml.MarshalIndent(vocFile, "", "  ")
		if err != nil {
			return writeErrorf(VOC, name, err, "cannot encode XML")
		}
		if err := writeFile(filepath.Join(annDir, name), append(enc, '\n')); err != nil {
			return err
		}
	}

	return writeFile(filepath.Join(root, "JPEGImages", "README.txt"), []byte(vocReadme))
}
