package annoconv

// The IR's own JSON form. It carries every field of Dataset and is lossless by construction.

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// irFloat is a float64 that encodes NaN and the infinities as JSON strings.
type irFloat float64

func (f irFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(v)
}

func (f *irFloat) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '"' {
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = irFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "NaN":
		*f = irFloat(math.NaN())
	case "Infinity":
		*f = irFloat(math.Inf(1))
	case "-Infinity":
		*f = irFloat(math.Inf(-1))
	default:
		return fmt.Errorf("invalid number %q", s)
	}
	return nil
}

type irInfo struct {
	Name        string `json:"name,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Year        int    `json:"year,omitempty"`
	Contributor string `json:"contributor,omitempty"`
	DateCreated string `json:"date_created,omitempty"`
}

type irLicense struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type irImage struct {
	ID           int64             `json:"id"`
	FileName     string            `json:"file_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	LicenseID    *int64            `json:"license_id,omitempty"`
	DateCaptured string            `json:"date_captured,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

type irCategory struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

type irBBox struct {
	XMin irFloat `json:"xmin"`
	YMin irFloat `json:"ymin"`
	XMax irFloat `json:"xmax"`
	YMax irFloat `json:"ymax"`
}

type irAnnotation struct {
	ID         int64             `json:"id"`
	ImageID    int64             `json:"image_id"`
	CategoryID int64             `json:"category_id"`
	BBox       irBBox            `json:"bbox"`
	Confidence *irFloat          `json:"confidence,omitempty"`
	Attributes map[string]string `json:"attributes"`
}

type irDocument struct {
	Info        irInfo         `json:"info"`
	Licenses    []irLicense    `json:"licenses"`
	Images      []irImage      `json:"images"`
	Categories  []irCategory   `json:"categories"`
	Annotations []irAnnotation `json:"annotations"`
}

// FromIRJSON reads a dataset in IR JSON form from the file at path.
func FromIRJSON(path string) (*Dataset, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := ParseIRJSON(data)
	return ds, withPath(err, path)
}

// ParseIRJSON parses a dataset in IR JSON form.
func ParseIRJSON(data []byte) (*Dataset, error) {
	var doc irDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Format: IRJSON, Msg: "invalid JSON", Err: err}
	}

	ds := &Dataset{
		Info:        DatasetInfo(doc.Info),
		Licenses:    make([]License, len(doc.Licenses)),
		Images:      make([]Image, len(doc.Images)),
		Categories:  make([]Category, len(doc.Categories)),
		Annotations: make([]Annotation, len(doc.Annotations)),
	}
	for i, l := range doc.Licenses {
		ds.Licenses[i] = License{ID: LicenseID(l.ID), Name: l.Name, URL: l.URL}
	}
	for i, im := range doc.Images {
		img := Image{
			ID:           ImageID(im.ID),
			FileName:     im.FileName,
			Width:        im.Width,
			Height:       im.Height,
			DateCaptured: im.DateCaptured,
		}
		if im.LicenseID != nil {
			id := LicenseID(*im.LicenseID)
			img.LicenseID = &id
		}
		if len(im.Attributes) > 0 {
			img.Attributes = im.Attributes
		}
		ds.Images[i] = img
	}
	for i, c := range doc.Categories {
		ds.Categories[i] = Category{ID: CategoryID(c.ID), Name: c.Name, Supercategory: c.Supercategory}
	}
	for i, a := range doc.Annotations {
		ann := Annotation{
			ID:         AnnotationID(a.ID),
			ImageID:    ImageID(a.ImageID),
			CategoryID: CategoryID(a.CategoryID),
			BBox: FromXYXY[Pixel](float64(a.BBox.XMin), float64(a.BBox.YMin),
				float64(a.BBox.XMax), float64(a.BBox.YMax)),
		}
		if a.Confidence != nil {
			c := float64(*a.Confidence)
			ann.Confidence = &c
		}
		if len(a.Attributes) > 0 {
			ann.Attributes = a.Attributes
		}
		ds.Annotations[i] = ann
	}

	return ds, nil
}

// EncodeIRJSON encodes ds in IR JSON form. All collections are emitted sorted by ID.
func EncodeIRJSON(ds *Dataset) ([]byte, error) {
	if ds == nil {
		return nil, &WriteError{Format: IRJSON, Msg: "nil dataset"}
	}

	doc := irDocument{
		Info:        irInfo(ds.Info),
		Licenses:    make([]irLicense, 0, len(ds.Licenses)),
		Images:      make([]irImage, 0, len(ds.Images)),
		Categories:  make([]irCategory, 0, len(ds.Categories)),
		Annotations: make([]irAnnotation, 0, len(ds.Annotations)),
	}
	for _, l := range ds.Licenses {
		doc.Licenses = append(doc.Licenses, irLicense{ID: int64(l.ID), Name: l.Name, URL: l.URL})
	}
	sort.SliceStable(doc.Licenses, func(i, j int) bool { return doc.Licenses[i].ID < doc.Licenses[j].ID })
	for _, im := range imagesByID(ds) {
		img := irImage{
			ID:           int64(im.ID),
			FileName:     im.FileName,
			Width:        im.Width,
			Height:       im.Height,
			DateCaptured: im.DateCaptured,
			Attributes:   im.Attributes,
		}
		if im.LicenseID != nil {
			id := int64(*im.LicenseID)
			img.LicenseID = &id
		}
		doc.Images = append(doc.Images, img)
	}
	for _, c := range categoriesByID(ds) {
		doc.Categories = append(doc.Categories,
			irCategory{ID: int64(c.ID), Name: c.Name, Supercategory: c.Supercategory})
	}
	for _, a := range annotationsByID(ds) {
		attrs := a.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		xmin, ymin, xmax, ymax := a.BBox.XYXY()
		ann := irAnnotation{
			ID:         int64(a.ID),
			ImageID:    int64(a.ImageID),
			CategoryID: int64(a.CategoryID),
			BBox:       irBBox{XMin: irFloat(xmin), YMin: irFloat(ymin), XMax: irFloat(xmax), YMax: irFloat(ymax)},
			Attributes: attrs,
		}
		if a.Confidence != nil {
			c := irFloat(*a.Confidence)
			ann.Confidence = &c
		}
		doc.Annotations = append(doc.Annotations, ann)
	}

	enc, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, &WriteError{Format: IRJSON, Msg: "cannot encode JSON", Err: err}
	}
	return append(enc, '\n'), nil
}

// WriteIRJSON writes ds in IR JSON form to the file at path.
func WriteIRJSON(path string, ds *Dataset) error {
	enc, err := EncodeIRJSON(ds)
	if err != nil {
		return err
	}
	return writeFile(path, enc)
}
