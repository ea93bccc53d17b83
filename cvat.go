package annoconv

// CVAT for images 1.1 XML specific functionality.

import (
	"bytes"
	"encoding/xml"
	"log"
	"path/filepath"
	"strings"
)

// CVATAttribute is an <attribute name="..."> element of a box.
type CVATAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// CVATBox is a <box> element.
type CVATBox struct {
	Label      string          `xml:"label,attr"`
	XTL        float64         `xml:"xtl,attr"`
	YTL        float64         `xml:"ytl,attr"`
	XBR        float64         `xml:"xbr,attr"`
	YBR        float64         `xml:"ybr,attr"`
	Occluded   string          `xml:"occluded,attr,omitempty"`
	ZOrder     string          `xml:"z_order,attr,omitempty"`
	Source     string          `xml:"source,attr,omitempty"`
	Attributes []CVATAttribute `xml:"attribute"`
}

// cvatElement captures any child element that is not a box.
type cvatElement struct {
	XMLName xml.Name
}

// CVATImage is an <image> element.
type CVATImage struct {
	ID     int64         `xml:"id,attr"`
	Name   string        `xml:"name,attr"`
	Width  int           `xml:"width,attr"`
	Height int           `xml:"height,attr"`
	Boxes  []CVATBox     `xml:"box"`
	Other  []cvatElement `xml:",any"`
}

// CVATLabel is a <label> in the task meta data.
type CVATLabel struct {
	Name string `xml:"name"`
	Type string `xml:"type,omitempty"`
}

// CVATTask is the <task> meta data.
type CVATTask struct {
	Name   string      `xml:"name,omitempty"`
	Size   int         `xml:"size"`
	Mode   string      `xml:"mode,omitempty"`
	Labels []CVATLabel `xml:"labels>label"`
}

// CVATMeta is the <meta> element.
type CVATMeta struct {
	Task    *CVATTask `xml:"task"`
	Project *CVATTask `xml:"project"`
}

// CVATAnnotations is the root <annotations> element.
type CVATAnnotations struct {
	XMLName xml.Name      `xml:"annotations"`
	Version string        `xml:"version"`
	Meta    *CVATMeta     `xml:"meta"`
	Images  []CVATImage   `xml:"image"`
	Tracks  []cvatElement `xml:"track"`
}

// Box attributes that are XML attributes rather than <attribute> children.
const (
	cvatAttrZOrder = "z_order"
	cvatAttrSource = "source"
)

// FromCVAT reads a CVAT XML file at path, or path/annotations.xml if path is a directory.
func FromCVAT(path string) (*Dataset, error) {
	if isDir(path) {
		path = filepath.Join(path, "annotations.xml")
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := ParseCVAT(data)
	return ds, withPath(err, path)
}

// ParseCVAT parses CVAT for images XML.
//
// Images get IDs in lexicographic order of their name attribute. Categories are the declared
// task labels together with all referenced labels, with IDs in lexicographic name order. If labels
// are declared, a box with an undeclared label is an error. Shapes other than boxes, and tracks,
// are rejected.
func ParseCVAT(data []byte) (*Dataset, error) {
	var cvatData CVATAnnotations
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&cvatData); err != nil {
		return nil, &ParseError{Format: CVAT, Msg: "invalid XML", Err: err}
	}
	if len(cvatData.Tracks) > 0 {
		return nil, parseErrorf(CVAT, "", 0, "tracks are not supported, export as CVAT for images")
	}

	var task *CVATTask
	if m := cvatData.Meta; m != nil {
		task = m.Task
		if task == nil {
			task = m.Project
		}
	}
	declared := make(map[string]bool)
	var labelNames []string
	if task != nil {
		for _, l := range task.Labels {
			declared[l.Name] = true
			labelNames = append(labelNames, l.Name)
		}
	}

	imageNames := make([]string, 0, len(cvatData.Images))
	byName := make(map[string]*CVATImage, len(cvatData.Images))
	for i := range cvatData.Images {
		im := &cvatData.Images[i]
		if _, dup := byName[im.Name]; dup {
			return nil, parseErrorf(CVAT, "", 0, "duplicate image name %q", im.Name)
		}
		for _, e := range im.Other {
			// Image level tags carry no geometry.
			if e.XMLName.Local == "tag" {
				log.Printf("Ignoring <tag> of image %q", im.Name)
				continue
			}
			return nil, parseErrorf(CVAT, "", 0, "image %q: <%s> shapes are not supported",
				im.Name, e.XMLName.Local)
		}
		byName[im.Name] = im
		imageNames = append(imageNames, im.Name)
		for _, b := range im.Boxes {
			if len(declared) > 0 && !declared[b.Label] {
				return nil, parseErrorf(CVAT, "", 0, "image %q: box label %q is not declared", im.Name, b.Label)
			}
			labelNames = append(labelNames, b.Label)
		}
	}

	sortedImages, imageIDs := nameIDs(imageNames)
	sortedLabels, labelIDs := nameIDs(labelNames)
	ds := &Dataset{
		Images:     make([]Image, 0, len(sortedImages)),
		Categories: categoriesFromNames(sortedLabels),
	}
	if task != nil {
		ds.Info.Name = task.Name
	}
	nextAnnotationID := AnnotationID(1)
	for _, name := range sortedImages {
		im := byName[name]
		img := Image{ID: ImageID(imageIDs[name]), FileName: name, Width: im.Width, Height: im.Height}
		ds.Images = append(ds.Images, img)

		for _, b := range im.Boxes {
			a := Annotation{
				ID:         nextAnnotationID,
				ImageID:    img.ID,
				CategoryID: CategoryID(labelIDs[b.Label]),
				BBox:       FromXYXY[Pixel](b.XTL, b.YTL, b.XBR, b.YBR),
			}
			if b.Occluded != "" {
				a.Attributes = setAttr(a.Attributes, AttrOccluded, b.Occluded)
			}
			if b.ZOrder != "" {
				a.Attributes = setAttr(a.Attributes, cvatAttrZOrder, b.ZOrder)
			}
			if b.Source != "" {
				a.Attributes = setAttr(a.Attributes, cvatAttrSource, b.Source)
			}
			for _, attr := range b.Attributes {
				a.Attributes = setAttr(a.Attributes, attr.Name, attr.Value)
			}
			ds.Annotations = append(ds.Annotations, a)
			nextAnnotationID++
		}
	}

	return ds, nil
}

// ToCVAT converts the intermediate representation to CVAT for images. Images are sorted by name
// and only labels used by at least one box are declared.
func ToCVAT(ds *Dataset) (CVATAnnotations, error) {
	idx, err := indexDataset(ds, CVAT)
	if err != nil {
		return CVATAnnotations{}, err
	}

	// Declare the used labels in name order.
	var used []string
	for id, n := range idx.usage {
		if n > 0 {
			used = append(used, idx.categories[id].Name)
		}
	}
	usedNames, _ := nameIDs(used)
	task := &CVATTask{
		Name:   ds.Info.Name,
		Size:   len(ds.Images),
		Mode:   "annotation",
		Labels: make([]CVATLabel, len(usedNames)),
	}
	for i, n := range usedNames {
		task.Labels[i] = CVATLabel{Name: n, Type: "rectangle"}
	}

	cvatData := CVATAnnotations{
		Version: "1.1",
		Meta:    &CVATMeta{Task: task},
		Images:  make([]CVATImage, 0, len(ds.Images)),
	}
	for i, img := range imagesByName(ds) {
		cvatImage := CVATImage{
			ID:     int64(i),
			Name:   img.FileName,
			Width:  img.Width,
			Height: img.Height,
			Boxes:  make([]CVATBox, 0, len(idx.byImage[img.ID])),
		}
		for _, a := range idx.byImage[img.ID] {
			xmin, ymin, xmax, ymax := a.BBox.XYXY()
			box := CVATBox{
				Label:    idx.categories[a.CategoryID].Name,
				XTL:      xmin,
				YTL:      ymin,
				XBR:      xmax,
				YBR:      ymax,
				Occluded: normalizeBool(a.Attributes[AttrOccluded]),
				ZOrder:   a.Attributes[cvatAttrZOrder],
				Source:   a.Attributes[cvatAttrSource],
			}
			if box.ZOrder == "" {
				box.ZOrder = "0"
			}
			if box.Source == "" {
				box.Source = "manual"
			}
			for _, k := range sortedKeys(a.Attributes) {
				switch k {
				case AttrOccluded, cvatAttrZOrder, cvatAttrSource:
					continue
				}
				box.Attributes = append(box.Attributes, CVATAttribute{Name: k, Value: a.Attributes[k]})
			}
			cvatImage.Boxes = append(cvatImage.Boxes, box)
		}
		cvatData.Images = append(cvatData.Images, cvatImage)
	}

	return cvatData, nil
}

// EncodeCVAT encodes ds as CVAT for images XML.
func EncodeCVAT(ds *Dataset) ([]byte, error) {
	cvatData, err := ToCVAT(ds)
	if err != nil {
		return nil, err
	}
	enc, err := xml.MarshalIndent(cvatData, "", "  ")
	if err != nil {
		return nil, &WriteError{Format: CVAT, Msg: "cannot encode XML", Err: err}
	}
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.Write(enc)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// WriteCVAT writes ds as CVAT XML to path, or to path/annotations.xml if path is an existing
// directory or has no .xml extension.
func WriteCVAT(path string, ds *Dataset) error {
	if isDir(path) || !strings.EqualFold(filepath.Ext(path), ".xml") {
		path = filepath.Join(path, "annotations.xml")
	}
	enc, err := EncodeCVAT(ds)
	if err != nil {
		return err
	}
	return writeFile(path, enc)
}

