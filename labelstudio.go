package annoconv

// Label Studio JSON export specific functionality.

import (
	"encoding/json"
	"math"
	"strconv"
)

// LabelStudioValue is the "value" of a rectangle result. Coordinates are percentages (0-100)
// of the original image size; rotation is in degrees, clockwise around the top-left corner.
type LabelStudioValue struct {
	X               float64  `json:"x"`
	Y               float64  `json:"y"`
	Width           float64  `json:"width"`
	Height          float64  `json:"height"`
	Rotation        float64  `json:"rotation"`
	RectangleLabels []string `json:"rectanglelabels,omitempty"`
}

// LabelStudioResult is one region of an annotation.
type LabelStudioResult struct {
	ID             string          `json:"id,omitempty"`
	Type           string          `json:"type"`
	FromName       string          `json:"from_name,omitempty"`
	ToName         string          `json:"to_name,omitempty"`
	OriginalWidth  int             `json:"original_width,omitempty"`
	OriginalHeight int             `json:"original_height,omitempty"`
	ImageRotation  float64         `json:"image_rotation"`
	Score          *float64        `json:"score,omitempty"`
	Value          json.RawMessage `json:"value"`
}

// LabelStudioAnnotation is one annotation (or prediction) set of a task.
type LabelStudioAnnotation struct {
	ID           int64               `json:"id,omitempty"`
	WasCancelled bool                `json:"was_cancelled,omitempty"`
	Result       []LabelStudioResult `json:"result"`
}

// LabelStudioData is the task "data" object.
type LabelStudioData struct {
	Image  string `json:"image"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// LabelStudioTask is one exported task.
type LabelStudioTask struct {
	ID          int64                   `json:"id"`
	Data        LabelStudioData         `json:"data"`
	Annotations []LabelStudioAnnotation `json:"annotations"`
	Predictions []LabelStudioAnnotation `json:"predictions,omitempty"`
}

// Result types that carry no geometry and are skipped when reading.
var labelStudioNonGeometric = map[string]bool{
	"choices":  true,
	"textarea": true,
	"taxonomy": true,
	"rating":   true,
	"number":   true,
	"datetime": true,
	"pairwise": true,
	"ranker":   true,
}

const (
	labelStudioRect      = "rectanglelabels"
	labelStudioPrecision = 8 // Decimals kept for percentages.
)

// FromLabelStudio reads and parses the Label Studio JSON export at path.
func FromLabelStudio(path string) (*Dataset, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := ParseLabelStudio(data)
	return ds, withPath(err, path)
}

// ParseLabelStudio parses a Label Studio JSON export (a list of tasks).
//
// Images get IDs in task order; categories in lexicographic label order; annotations follow
// task order, then result order. Predictions are read only for tasks without a completed
// annotation. Rotated rectangles are stored as the axis-aligned envelope of
// the rotated rectangle, with the angle kept in the "rotation" attribute.
func ParseLabelStudio(data []byte) (*Dataset, error) {
	var tasks []LabelStudioTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, &ParseError{Format: LabelStudio, Msg: "invalid JSON", Err: err}
	}

	type region struct {
		imageID ImageID
		label   string
		box     PixelBox
		score   *float64
		angle   float64
	}
	var regions []region
	var labels []string
	ds := &Dataset{Images: make([]Image, 0, len(tasks))}
	for i, task := range tasks {
		img := Image{
			ID:       ImageID(i + 1),
			FileName: task.Data.Image,
			Width:    task.Data.Width,
			Height:   task.Data.Height,
		}

		// Predictions are pre-annotations of the same objects, used only for unlabeled tasks.
		var results []LabelStudioResult
		annotated := false
		for _, a := range task.Annotations {
			if !a.WasCancelled {
				annotated = true
				results = append(results, a.Result...)
			}
		}
		if !annotated {
			for _, p := range task.Predictions {
				results = append(results, p.Result...)
			}
		}

		for j, r := range results {
			if labelStudioNonGeometric[r.Type] {
				continue
			}
			if r.Type != labelStudioRect {
				return nil, parseErrorf(LabelStudio, "", 0, "task %d, result %d: %q results are not supported",
					task.ID, j, r.Type)
			}
			var v LabelStudioValue
			if err := json.Unmarshal(r.Value, &v); err != nil {
				return nil, &ParseError{Format: LabelStudio,
					Msg: "task " + strconv.FormatInt(task.ID, 10) + ": invalid result value", Err: err}
			}
			if len(v.RectangleLabels) == 0 {
				return nil, parseErrorf(LabelStudio, "", 0, "task %d, result %d: no rectangle label", task.ID, j)
			}

			if img.Width == 0 && img.Height == 0 {
				img.Width, img.Height = r.OriginalWidth, r.OriginalHeight
			}
			if r.OriginalWidth > 0 && r.OriginalHeight > 0 &&
					(r.OriginalWidth != img.Width || r.OriginalHeight != img.Height) {
				return nil, parseErrorf(LabelStudio, "", 0, "task %d: results disagree on the image size", task.ID)
			}
			if img.Width <= 0 || img.Height <= 0 {
				return nil, parseErrorf(LabelStudio, "", 0, "task %d: unknown image size", task.ID)
			}

			regions = append(regions, region{
				imageID: img.ID,
				label:   v.RectangleLabels[0],
				box:     labelStudioEnvelope(v, float64(img.Width), float64(img.Height)),
				score:   r.Score,
				angle:   v.Rotation,
			})
			labels = append(labels, v.RectangleLabels[0])
		}
		ds.Images = append(ds.Images, img)
	}

	sortedLabels, labelIDs := nameIDs(labels)
	ds.Categories = categoriesFromNames(sortedLabels)
	ds.Annotations = make([]Annotation, len(regions))
	for i, r := range regions {
		a := Annotation{
			ID:         AnnotationID(i + 1),
			ImageID:    r.imageID,
			CategoryID: CategoryID(labelIDs[r.label]),
			BBox:       r.box,
			Confidence: r.score,
		}
		if r.angle != 0 {
			a.Attributes = setAttr(a.Attributes, AttrRotation, formatFloat(r.angle))
		}
		ds.Annotations[i] = a
	}

	return ds, nil
}

// labelStudioEnvelope returns the pixel box enclosing the (possibly rotated) rectangle.
func labelStudioEnvelope(v LabelStudioValue, width, height float64) PixelBox {
	x := v.X / 100 * width
	y := v.Y / 100 * height
	w := v.Width / 100 * width
	h := v.Height / 100 * height
	if v.Rotation == 0 {
		return FromXYWH[Pixel](x, y, w, h)
	}

	sin, cos := math.Sincos(v.Rotation * math.Pi / 180)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{{0, 0}, {w, 0}, {w, h}, {0, h}} {
		px := x + c[0]*cos - c[1]*sin
		py := y + c[0]*sin + c[1]*cos
		minX, maxX = math.Min(minX, px), math.Max(maxX, px)
		minY, maxY = math.Min(minY, py), math.Max(maxY, py)
	}
	return FromXYXY[Pixel](minX, minY, maxX, maxY)
}

// ToLabelStudio converts the intermediate representation to Label Studio tasks, one per image
// sorted by file name. Boxes are written unrotated; confidences become result scores.
func ToLabelStudio(ds *Dataset) ([]LabelStudioTask, error) {
	idx, err := indexDataset(ds, LabelStudio)
	if err != nil {
		return nil, err
	}

	percent := func(v, size float64) float64 { return roundTo(v/size*100, labelStudioPrecision) }
	tasks := make([]LabelStudioTask, 0, len(ds.Images))
	for i, img := range imagesByName(ds) {
		task := LabelStudioTask{
			ID:   int64(i + 1),
			Data: LabelStudioData{Image: img.FileName, Width: img.Width, Height: img.Height},
		}
		anns := idx.byImage[img.ID]
		if len(anns) > 0 && (img.Width <= 0 || img.Height <= 0) {
			return nil, writeErrorf(LabelStudio, "", nil, "image %q has no size, cannot compute percentages",
				img.FileName)
		}

		result := make([]LabelStudioResult, 0, len(anns))
		for _, a := range anns {
			x, y, w, h := a.BBox.XYWH()
			value, err := json.Marshal(LabelStudioValue{
				X:               percent(x, float64(img.Width)),
				Y:               percent(y, float64(img.Height)),
				Width:           percent(w, float64(img.Width)),
				Height:          percent(h, float64(img.Height)),
				RectangleLabels: []string{idx.categories[a.CategoryID].Name},
			})
			if err != nil {
				return nil, writeErrorf(LabelStudio, "", err, "annotation %d", a.ID)
			}
			result = append(result, LabelStudioResult{
				ID:             "a" + strconv.FormatInt(int64(a.ID), 10),
				Type:           labelStudioRect,
				FromName:       "label",
				ToName:         "image",
				OriginalWidth:  img.Width,
				OriginalHeight: img.Height,
				Score:          a.Confidence,
				Value:          value,
			})
		}
		task.Annotations = []LabelStudioAnnotation{{ID: int64(i + 1), Result: result}}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// EncodeLabelStudio encodes ds as a Label Studio JSON export.
func EncodeLabelStudio(ds *Dataset) ([]byte, error) {
	tasks, err := ToLabelStudio(ds)
	if err != nil {
		return nil, err
	}
	enc, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return nil, &WriteError{Format: LabelStudio, Msg: "cannot encode JSON", Err: err}
	}
	return append(enc, '\n'), nil
}

// WriteLabelStudio writes ds as a Label Studio JSON export to the file at path.
func WriteLabelStudio(path string, ds *Dataset) error {
	enc, err := EncodeLabelStudio(ds)
	if err != nil {
		return err
	}
	return writeFile(path, enc)
}
