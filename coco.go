package annoconv

// COCO specific functionality.

import (
	"encoding/json"
	"sort"
	"strconv"
)

// COCOInfo is the COCO "info" object. COCO has no dataset name.
type COCOInfo struct {
	Year        int    `json:"year,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Contributor string `json:"contributor,omitempty"`
	URL         string `json:"url,omitempty"`
	DateCreated string `json:"date_created,omitempty"`
}

// COCOLicense is an entry of "licenses".
type COCOLicense struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// COCOImage is an entry of "images".
type COCOImage struct {
	ID           int64  `json:"id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileName     string `json:"file_name"`
	License      *int64 `json:"license,omitempty"`
	DateCaptured string `json:"date_captured,omitempty"`
}

// COCOCategory is an entry of "categories".
type COCOCategory struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// COCOAnnotation is an entry of "annotations". BBox is [x, y, width, height] in pixels.
type COCOAnnotation struct {
	ID           int64           `json:"id"`
	ImageID      int64           `json:"image_id"`
	CategoryID   int64           `json:"category_id"`
	BBox         []float64       `json:"bbox"`
	Area         *float64        `json:"area,omitempty"`
	IsCrowd      *int            `json:"iscrowd,omitempty"`
	Score        *float64        `json:"score,omitempty"`
	Segmentation json.RawMessage `json:"segmentation,omitempty"`
}

// COCOFile is a COCO object detection annotation file.
type COCOFile struct {
	Info        *COCOInfo        `json:"info,omitempty"`
	Licenses    []COCOLicense    `json:"licenses"`
	Images      []COCOImage      `json:"images"`
	Annotations []COCOAnnotation `json:"annotations"`
	Categories  []COCOCategory   `json:"categories"`
}

// FromCOCO reads and parses the COCO annotation file at path.
func FromCOCO(path string) (*Dataset, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := ParseCOCO(data)
	return ds, withPath(err, path)
}

// ParseCOCO parses COCO JSON. Source IDs are preserved; area and iscrowd become annotation
// attributes and score becomes the confidence.
func ParseCOCO(data []byte) (*Dataset, error) {
	var cocoData COCOFile
	if err := json.Unmarshal(data, &cocoData); err != nil {
		return nil, &ParseError{Format: COCO, Msg: "invalid JSON", Err: err}
	}

	ds := &Dataset{
		Licenses:    make([]License, 0, len(cocoData.Licenses)),
		Images:      make([]Image, 0, len(cocoData.Images)),
		Categories:  make([]Category, 0, len(cocoData.Categories)),
		Annotations: make([]Annotation, 0, len(cocoData.Annotations)),
	}
	if info := cocoData.Info; info != nil {
		ds.Info = DatasetInfo{
			Version:     info.Version,
			Description: info.Description,
			URL:         info.URL,
			Year:        info.Year,
			Contributor: info.Contributor,
			DateCreated: info.DateCreated,
		}
	}
	for _, l := range cocoData.Licenses {
		ds.Licenses = append(ds.Licenses, License{ID: LicenseID(l.ID), Name: l.Name, URL: l.URL})
	}
	for _, im := range cocoData.Images {
		img := Image{
			ID:           ImageID(im.ID),
			FileName:     im.FileName,
			Width:        im.Width,
			Height:       im.Height,
			DateCaptured: im.DateCaptured,
		}
		if im.License != nil {
			id := LicenseID(*im.License)
			img.LicenseID = &id
		}
		ds.Images = append(ds.Images, img)
	}
	for _, c := range cocoData.Categories {
		ds.Categories = append(ds.Categories,
			Category{ID: CategoryID(c.ID), Name: c.Name, Supercategory: c.Supercategory})
	}
	for i, a := range cocoData.Annotations {
		if len(a.BBox) != 4 {
			return nil, parseErrorf(COCO, "", 0,
				"annotation %d (index %d): bbox has %d values, expected 4", a.ID, i, len(a.BBox))
		}
		ann := Annotation{
			ID:         AnnotationID(a.ID),
			ImageID:    ImageID(a.ImageID),
			CategoryID: CategoryID(a.CategoryID),
			BBox:       FromXYWH[Pixel](a.BBox[0], a.BBox[1], a.BBox[2], a.BBox[3]),
			Confidence: a.Score,
		}
		if a.Area != nil {
			ann.Attributes = setAttr(ann.Attributes, AttrArea, formatFloat(*a.Area))
		}
		if a.IsCrowd != nil {
			ann.Attributes = setAttr(ann.Attributes, AttrIsCrowd, strconv.Itoa(*a.IsCrowd))
		}
		ds.Annotations = append(ds.Annotations, ann)
	}

	return ds, nil
}

// ToCOCO converts the intermediate representation to COCO format. Images, categories and
// annotations are sorted by ID.
func ToCOCO(ds *Dataset) (COCOFile, error) {
	if _, err := indexDataset(ds, COCO); err != nil {
		return COCOFile{}, err
	}

	cocoData := COCOFile{
		Licenses:    make([]COCOLicense, 0, len(ds.Licenses)),
		Images:      make([]COCOImage, 0, len(ds.Images)),
		Annotations: make([]COCOAnnotation, 0, len(ds.Annotations)),
		Categories:  make([]COCOCategory, 0, len(ds.Categories)),
	}
	if !ds.Info.IsZero() {
		cocoData.Info = &COCOInfo{
			Year:        ds.Info.Year,
			Version:     ds.Info.Version,
			Description: ds.Info.Description,
			Contributor: ds.Info.Contributor,
			URL:         ds.Info.URL,
			DateCreated: ds.Info.DateCreated,
		}
		if *cocoData.Info == (COCOInfo{}) {
			cocoData.Info = nil // Only the name was set.
		}
	}
	for _, l := range ds.Licenses {
		cocoData.Licenses = append(cocoData.Licenses, COCOLicense{ID: int64(l.ID), Name: l.Name, URL: l.URL})
	}
	sort.SliceStable(cocoData.Licenses, func(i, j int) bool {
		return cocoData.Licenses[i].ID < cocoData.Licenses[j].ID
	})
	for _, im := range imagesByID(ds) {
		img := COCOImage{
			ID:           int64(im.ID),
			Width:        im.Width,
			Height:       im.Height,
			FileName:     im.FileName,
			DateCaptured: im.DateCaptured,
		}
		if im.LicenseID != nil {
			id := int64(*im.LicenseID)
			img.License = &id
		}
		cocoData.Images = append(cocoData.Images, img)
	}
	for _, c := range categoriesByID(ds) {
		cocoData.Categories = append(cocoData.Categories,
			COCOCategory{ID: int64(c.ID), Name: c.Name, Supercategory: c.Supercategory})
	}
	for _, a := range annotationsByID(ds) {
		x, y, w, h := a.BBox.XYWH()
		cocoLabel := COCOAnnotation{
			ID:         int64(a.ID),
			ImageID:    int64(a.ImageID),
			CategoryID: int64(a.CategoryID),
			BBox:       []float64{x, y, w, h},
			Score:      a.Confidence,
		}

		// COCO requires area and iscrowd; fall back to the box area and "not a crowd".
		area := a.BBox.Area()
		if v, err := strconv.ParseFloat(a.Attributes[AttrArea], 64); err == nil {
			area = v
		}
		cocoLabel.Area = &area
		isCrowd := 0
		if v, err := strconv.Atoi(a.Attributes[AttrIsCrowd]); err == nil {
			isCrowd = v
		}
		cocoLabel.IsCrowd = &isCrowd

		cocoData.Annotations = append(cocoData.Annotations, cocoLabel)
	}

	return cocoData, nil
}

// EncodeCOCO encodes ds as COCO JSON.
func EncodeCOCO(ds *Dataset) ([]byte, error) {
	cocoData, err := ToCOCO(ds)
	if err != nil {
		return nil, err
	}
	enc, err := json.MarshalIndent(cocoData, "", "  ")
	if err != nil {
		return nil, &WriteError{Format: COCO, Msg: "cannot encode JSON", Err: err}
	}
	return append(enc, '\n'), nil
}

// WriteCOCO writes ds as COCO JSON to the file at path.
func WriteCOCO(path string, ds *Dataset) error {
	enc, err := EncodeCOCO(ds)
	if err != nil {
		return err
	}
	return writeFile(path, enc)
}
