package annoconv

// TensorFlow Object Detection CSV specific functionality.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
)

// tfodHeader is the required CSV header.
var tfodHeader = []string{"filename", "width", "height", "class", "xmin", "ymin", "xmax", "ymax"}

const tfodPrecision = 6 // Decimals written for normalized coordinates.

// TFODRow is one CSV row: a single box with normalized corner coordinates.
type TFODRow struct {
	Filename               string
	Width, Height          int
	Class                  string
	XMin, YMin, XMax, YMax float64
}

// FromTFOD reads and parses the TFOD CSV file at path.
func FromTFOD(path string) (*Dataset, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := ParseTFOD(data)
	return ds, withPath(err, path)
}

// ParseTFODRows parses the CSV rows, checking the header.
func ParseTFODRows(data []byte) ([]TFODRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(tfodHeader)
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, parseErrorf(TFOD, "", 1, "missing header")
	} else if err != nil {
		return nil, &ParseError{Format: TFOD, Line: 1, Msg: "invalid CSV", Err: err}
	}
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) != tfodHeader[i] {
			return nil, parseErrorf(TFOD, "", 1, "unexpected header %q, expected %q",
				strings.Join(header, ","), strings.Join(tfodHeader, ","))
		}
	}

	var rows []TFODRow
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				line = csvErr.Line
			}
			return nil, &ParseError{Format: TFOD, Line: line, Msg: "invalid CSV", Err: err}
		}
		line, _ := r.FieldPos(0)

		row := TFODRow{Filename: record[0], Class: record[3]}
		if row.Width, err = parseCSVInt(record[1]); err != nil {
			return nil, parseErrorf(TFOD, "", line, "invalid width %q", record[1])
		}
		if row.Height, err = parseCSVInt(record[2]); err != nil {
			return nil, parseErrorf(TFOD, "", line, "invalid height %q", record[2])
		}
		coords := [4]*float64{&row.XMin, &row.YMin, &row.XMax, &row.YMax}
		for i, c := range coords {
			s := strings.TrimSpace(record[4+i])
			if *c, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, parseErrorf(TFOD, "", line, "invalid %s %q", tfodHeader[4+i], s)
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// parseCSVInt parses an integer, also accepting integral values written as floats ("640.0").
func parseCSVInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, strconv.ErrSyntax
	}
	return int(f), nil
}

// ParseTFOD parses TFOD CSV. Images get IDs in lexicographic filename order, categories in
// lexicographic class name order, and annotations in row order.
func ParseTFOD(data []byte) (*Dataset, error) {
	rows, err := ParseTFODRows(data)
	if err != nil {
		return nil, err
	}

	fileNames := make([]string, len(rows))
	classNames := make([]string, len(rows))
	for i, row := range rows {
		fileNames[i] = row.Filename
		classNames[i] = row.Class
	}
	sortedFiles, imageIDs := nameIDs(fileNames)
	sortedClasses, classIDs := nameIDs(classNames)

	ds := &Dataset{
		Images:      make([]Image, len(sortedFiles)),
		Categories:  categoriesFromNames(sortedClasses),
		Annotations: make([]Annotation, len(rows)),
	}
	seen := make([]bool, len(sortedFiles))
	for i, row := range rows {
		id := imageIDs[row.Filename]
		img := &ds.Images[id-1]
		if !seen[id-1] {
			*img = Image{ID: ImageID(id), FileName: row.Filename, Width: row.Width, Height: row.Height}
			seen[id-1] = true
		} else if img.Width != row.Width || img.Height != row.Height {
			return nil, parseErrorf(TFOD, "", i+2, "image %q has size %dx%d, earlier rows say %dx%d",
				row.Filename, row.Width, row.Height, img.Width, img.Height)
		}

		box := FromXYXY[Normalized](row.XMin, row.YMin, row.XMax, row.YMax)
		ds.Annotations[i] = Annotation{
			ID:         AnnotationID(i + 1),
			ImageID:    ImageID(id),
			CategoryID: CategoryID(classIDs[row.Class]),
			BBox:       ToPixel(box, float64(row.Width), float64(row.Height)),
		}
	}

	return ds, nil
}

// ToTFOD converts the intermediate representation to TFOD rows sorted by annotation ID. Images
// without annotations have no row and are dropped.
func ToTFOD(ds *Dataset) ([]TFODRow, error) {
	idx, err := indexDataset(ds, TFOD)
	if err != nil {
		return nil, err
	}

	rows := make([]TFODRow, 0, len(ds.Annotations))
	for _, a := range annotationsByID(ds) {
		img := idx.images[a.ImageID]
		if img.Width <= 0 || img.Height <= 0 {
			return nil, writeErrorf(TFOD, "", nil, "image %q has no size, cannot normalize its boxes", img.FileName)
		}
		box := ToNormalized(a.BBox, float64(img.Width), float64(img.Height))
		xmin, ymin, xmax, ymax := box.XYXY()
		rows = append(rows, TFODRow{
			Filename: img.FileName,
			Width:    img.Width,
			Height:   img.Height,
			Class:    idx.categories[a.CategoryID].Name,
			XMin:     xmin,
			YMin:     ymin,
			XMax:     xmax,
			YMax:     ymax,
		})
	}

	return rows, nil
}

// EncodeTFOD encodes ds as TFOD CSV.
func EncodeTFOD(ds *Dataset) ([]byte, error) {
	rows, err := ToTFOD(ds)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	w := csv.NewWriter(&b)
	if err := w.Write(tfodHeader); err != nil {
		return nil, &WriteError{Format: TFOD, Msg: "cannot encode CSV", Err: err}
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', tfodPrecision, 64) }
	for _, row := range rows {
		record := []string{
			row.Filename,
			strconv.Itoa(row.Width),
			strconv.Itoa(row.Height),
			row.Class,
			format(row.XMin),
			format(row.YMin),
			format(row.XMax),
			format(row.YMax),
		}
		if err := w.Write(record); err != nil {
			return nil, &WriteError{Format: TFOD, Msg: "cannot encode CSV", Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, &WriteError{Format: TFOD, Msg: "cannot encode CSV", Err: err}
	}

	return b.Bytes(), nil
}

// WriteTFOD writes ds as TFOD CSV to the file at path.
func WriteTFOD(path string, ds *Dataset) error {
	enc, err := EncodeTFOD(ds)
	if err != nil {
		return err
	}
	return writeFile(path, enc)
}
