package annoconv

// Prediction of the information a conversion loses.

import (
	"fmt"
	"sort"
	"strings"
)

// Severity classifies a conversion issue.
type Severity int

const (
	Warning Severity = iota // Information present in the source is lost.
	Info                    // A deterministic policy is applied; nothing is lost.
)

func (s Severity) String() string {
	if s == Info {
		return "info"
	}
	return "warning"
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Lossiness classifies what a target format can represent relative to the IR.
type Lossiness int

const (
	Lossless    Lossiness = iota // Everything is kept.
	Conditional                  // Loss depends on which optional fields the dataset uses.
	Lossy                        // The format structurally cannot carry parts of the IR.
)

func (l Lossiness) String() string {
	switch l {
	case Lossless:
		return "lossless"
	case Conditional:
		return "conditional"
	}
	return "lossy"
}

// MarshalText implements encoding.TextMarshaler.
func (l Lossiness) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Issue is a predicted loss or an applied policy.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Count    int      `json:"count,omitempty"` // Number of affected entities, if countable.
}

// FieldCount is the number of entities in a field group that carry a value, before and after
// the conversion.
type FieldCount struct {
	Field  string `json:"field"`
	Input  int    `json:"input"`
	Output int    `json:"output"`
}

// ConversionReport is the result of AnalyzeConversion.
type ConversionReport struct {
	From      Format       `json:"-"`
	To        Format       `json:"-"`
	FromName  string       `json:"from"`
	ToName    string       `json:"to"`
	Lossiness Lossiness    `json:"lossiness"`
	Counts    []FieldCount `json:"counts"`
	Issues    []Issue      `json:"issues"`
}

// HasWarnings reports whether the conversion loses information.
func (r ConversionReport) HasWarnings() bool {
	for _, i := range r.Issues {
		if i.Severity == Warning {
			return true
		}
	}
	return false
}

// Warnings returns the warning issues.
func (r ConversionReport) Warnings() []Issue {
	var warnings []Issue
	for _, i := range r.Issues {
		if i.Severity == Warning {
			warnings = append(warnings, i)
		}
	}
	return warnings
}

// Err returns an error wrapping ErrLossyConversion that lists the warnings, or nil.
func (r ConversionReport) Err() error {
	warnings := r.Warnings()
	if len(warnings) == 0 {
		return nil
	}
	codes := make([]string, len(warnings))
	for i, w := range warnings {
		codes[i] = w.Code
	}
	return fmt.Errorf("%w: %s to %s: %s", ErrLossyConversion, r.From, r.To, strings.Join(codes, ", "))
}

// String formats the report for humans, one line per issue.
func (r ConversionReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s to %s: %s\n", r.From, r.To, r.Lossiness)
	for _, c := range r.Counts {
		fmt.Fprintf(&b, "  %-24s %6d -> %d\n", c.Field, c.Input, c.Output)
	}
	for _, i := range r.Issues {
		fmt.Fprintf(&b, "  %s: %s: %s\n", i.Severity, i.Code, i.Message)
	}
	return b.String()
}

// keySet returns a predicate matching the given keys.
func keySet(keys ...string) func(string) bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return func(k string) bool { return set[k] }
}

func keepAll(string) bool { return true }

// formatCaps describes what a writer keeps and the policies of the matching reader. A nil
// predicate keeps nothing.
type formatCaps struct {
	lossiness        Lossiness
	info             func(field string) bool
	licenses         bool
	imageLicense     bool
	imageDate        bool
	imageAttrs       func(key string) bool
	supercategory    bool
	confidence       bool
	annotationAttrs  func(key string) bool
	unannotated      bool // Images without annotations are kept.
	unusedCategories bool // Categories without annotations are kept.
	needsImageSize   bool // Annotated images must have a size.
	sizeFromImages   bool // The reader takes image sizes from the image files.
	readIDs          string
	writeOrder       string
}

var formatCapabilities = map[Format]formatCaps{
	IRJSON: {
		lossiness: Lossless, info: keepAll, licenses: true, imageLicense: true, imageDate: true,
		imageAttrs: keepAll, supercategory: true, confidence: true, annotationAttrs: keepAll,
		unannotated: true, unusedCategories: true,
		readIDs:    "the IR JSON reader preserves all IDs",
		writeOrder: "the IR JSON writer sorts images, categories and annotations by ID",
	},
	COCO: {
		lossiness: Conditional, info: func(f string) bool { return f != "name" }, licenses: true,
		imageLicense: true, imageDate: true, supercategory: true, confidence: true,
		annotationAttrs: keySet(AttrArea, AttrIsCrowd), unannotated: true, unusedCategories: true,
		readIDs:    "the COCO reader preserves the source IDs",
		writeOrder: "the COCO writer sorts images, categories and annotations by ID",
	},
	YOLO: {
		lossiness: Lossy, unannotated: true, unusedCategories: true, needsImageSize: true,
		sizeFromImages: true,
		readIDs: "the YOLO reader assigns image IDs by relative path order and uses the class " +
			"indices as category IDs",
		writeOrder: "the YOLO writer emits one label file per image sorted by file name, with 6 decimals",
	},
	VOC: {
		lossiness: Lossy, imageAttrs: keySet(vocAttrFolder, vocAttrDepth, vocAttrSegmented),
		annotationAttrs: keySet(AttrPose, AttrTruncated, AttrDifficult, AttrOccluded), unannotated: true,
		readIDs:    "the VOC reader assigns IDs by lexicographic file name and category name order",
		writeOrder: "the VOC writer emits one XML file per image sorted by file name",
	},
	CVAT: {
		lossiness: Lossy, info: keySet("name"), annotationAttrs: keepAll, unannotated: true,
		readIDs:    "the CVAT reader assigns IDs by lexicographic image and label name order",
		writeOrder: "the CVAT writer sorts images by name and declares only used labels",
	},
	TFOD: {
		lossiness: Lossy, needsImageSize: true,
		readIDs:    "the TFOD reader assigns IDs by lexicographic filename and class name order",
		writeOrder: "the TFOD writer emits rows sorted by annotation ID, with 6 decimals",
	},
	LabelStudio: {
		lossiness: Lossy, confidence: true, unannotated: true, needsImageSize: true,
		readIDs:    "the Label Studio reader assigns image IDs in task order and category IDs by label name order",
		writeOrder: "the Label Studio writer emits one task per image sorted by file name",
	},
	HF: {
		lossiness: Lossy, unannotated: true,
		readIDs:    "the Hugging Face reader assigns image IDs in row order and category IDs by first appearance",
		writeOrder: "the Hugging Face writer emits one row per image sorted by file name",
	},
	HFParquet: {
		lossiness: Lossy, unannotated: true, unusedCategories: true,
		readIDs:    "the Hugging Face Parquet reader assigns image IDs in row order and category IDs in ClassLabel order",
		writeOrder: "the Hugging Face Parquet writer emits one row per image sorted by file name",
	},
	KITTI: {
		lossiness: Lossy, confidence: true, unannotated: true, sizeFromImages: true,
		annotationAttrs: keySet(AttrTruncated, AttrOccluded, kittiAttrAlpha, kittiAttrDimensions,
			kittiAttrLocation, kittiAttrRotationY),
		readIDs:    "the KITTI reader assigns IDs by lexicographic image file name and type order",
		writeOrder: "the KITTI writer emits one label file per image sorted by file name, with 2 decimals",
	},
	TFRecord: {
		lossiness: Lossy, unannotated: true, unusedCategories: true, needsImageSize: true,
		writeOrder: "the TFRecord writer emits one example per image sorted by file name; label IDs follow an " +
			"existing label map, new categories get the next IDs in category ID order",
	},
}

// AnalyzeConversion predicts what writing ds, read from format from, as format to loses. It
// never modifies ds.
func AnalyzeConversion(ds *Dataset, from, to Format) ConversionReport {
	r := ConversionReport{From: from, To: to, FromName: from.String(), ToName: to.String()}
	caps, ok := formatCapabilities[to]
	if !ok {
		r.Lossiness = Lossy
		r.Issues = append(r.Issues, Issue{Severity: Warning, Code: "unsupported-target",
			Message: fmt.Sprintf("format %q has no writer", to)})
		return r
	}
	r.Lossiness = caps.lossiness
	if ds == nil {
		ds = &Dataset{}
	}

	warn := func(code string, count int, format string, args ...interface{}) {
		if count > 0 {
			r.Issues = append(r.Issues, Issue{Severity: Warning, Code: code, Count: count,
				Message: fmt.Sprintf(format, args...)})
		}
	}
	note := func(code, msg string) {
		r.Issues = append(r.Issues, Issue{Severity: Info, Code: code, Message: msg})
	}
	count := func(field string, in, out int) {
		r.Counts = append(r.Counts, FieldCount{Field: field, Input: in, Output: out})
	}
	keeps := func(pred func(string) bool, key string) bool { return pred != nil && pred(key) }

	// Dataset info.
	var kept, dropped []string
	for _, f := range ds.Info.fieldNames() {
		if keeps(caps.info, f) {
			kept = append(kept, f)
		} else {
			dropped = append(dropped, f)
		}
	}
	count("info", len(kept)+len(dropped), len(kept))
	warn("info-dropped", len(dropped), "dataset info fields are dropped: %s", strings.Join(dropped, ", "))

	// Licenses.
	licenses := 0
	if caps.licenses {
		licenses = len(ds.Licenses)
	}
	count("licenses", len(ds.Licenses), licenses)
	warn("licenses-dropped", len(ds.Licenses)-licenses, "%d licenses are dropped", len(ds.Licenses)-licenses)

	// Images.
	annotated := make(map[ImageID]bool, len(ds.Images))
	used := make(map[CategoryID]bool, len(ds.Categories))
	for _, a := range ds.Annotations {
		annotated[a.ImageID] = true
		used[a.CategoryID] = true
	}
	var unannotated, withLicense, withDate, withAttrs, droppedImageAttrs, missingSize int
	droppedImageKeys := make(map[string]bool)
	for _, img := range ds.Images {
		if !annotated[img.ID] {
			unannotated++
		} else if img.Width <= 0 || img.Height <= 0 {
			missingSize++
		}
		if img.LicenseID != nil {
			withLicense++
		}
		if img.DateCaptured != "" {
			withDate++
		}
		if len(img.Attributes) > 0 {
			withAttrs++
		}
		lost := false
		for k := range img.Attributes {
			if !keeps(caps.imageAttrs, k) {
				droppedImageKeys[k] = true
				lost = true
			}
		}
		if lost {
			droppedImageAttrs++
		}
	}
	images := len(ds.Images)
	if !caps.unannotated {
		images -= unannotated
	}
	count("images", len(ds.Images), images)
	if !caps.unannotated {
		warn("unannotated-images-dropped", unannotated, "%d images without annotations are dropped", unannotated)
	}
	outLicense, outDate := 0, 0
	if caps.imageLicense {
		outLicense = withLicense
	}
	if caps.imageDate {
		outDate = withDate
	}
	count("image.license_id", withLicense, outLicense)
	warn("image-license-dropped", withLicense-outLicense, "%d image license references are dropped",
		withLicense-outLicense)
	count("image.date_captured", withDate, outDate)
	warn("image-date-dropped", withDate-outDate, "%d image capture dates are dropped", withDate-outDate)
	count("image.attributes", withAttrs, withAttrs-droppedImageAttrs)
	warn("image-attributes-dropped", droppedImageAttrs, "image attributes are dropped from %d images: %s",
		droppedImageAttrs, strings.Join(setKeys(droppedImageKeys), ", "))
	if caps.needsImageSize {
		warn("missing-image-size", missingSize, "%d annotated images have no size and cannot be written",
			missingSize)
	}
	if caps.sizeFromImages {
		note("image-size-from-files", fmt.Sprintf("the %s format does not store image sizes, the reader "+
			"takes them from the image files", to))
	}

	// Categories.
	var unused, withSuper int
	for _, c := range ds.Categories {
		if !used[c.ID] {
			unused++
		}
		if c.Supercategory != "" {
			withSuper++
		}
	}
	categories := len(ds.Categories)
	if !caps.unusedCategories {
		categories -= unused
	}
	count("categories", len(ds.Categories), categories)
	if !caps.unusedCategories {
		warn("unused-categories-dropped", unused, "%d categories without annotations are dropped", unused)
	}
	outSuper := 0
	if caps.supercategory {
		outSuper = withSuper
	}
	count("category.supercategory", withSuper, outSuper)
	warn("supercategory-dropped", withSuper-outSuper, "%d supercategories are dropped", withSuper-outSuper)

	// Annotations.
	var withConfidence, withAnnAttrs, droppedAnnAttrs, rotated int
	droppedAnnKeys := make(map[string]bool)
	for _, a := range ds.Annotations {
		if a.Confidence != nil {
			withConfidence++
		}
		if len(a.Attributes) > 0 {
			withAnnAttrs++
		}
		if _, ok := a.Attributes[AttrRotation]; ok {
			rotated++
		}
		lost := false
		for k := range a.Attributes {
			if !keeps(caps.annotationAttrs, k) {
				droppedAnnKeys[k] = true
				lost = true
			}
		}
		if lost {
			droppedAnnAttrs++
		}
	}
	count("annotations", len(ds.Annotations), len(ds.Annotations))
	outConfidence := 0
	if caps.confidence {
		outConfidence = withConfidence
	}
	count("annotation.confidence", withConfidence, outConfidence)
	warn("confidence-dropped", withConfidence-outConfidence, "%d annotation confidences are dropped",
		withConfidence-outConfidence)
	count("annotation.attributes", withAnnAttrs, withAnnAttrs-droppedAnnAttrs)
	warn("annotation-attributes-dropped", droppedAnnAttrs, "annotation attributes are dropped from %d "+
		"annotations: %s", droppedAnnAttrs, strings.Join(setKeys(droppedAnnKeys), ", "))
	if rotated > 0 {
		r.Issues = append(r.Issues, Issue{Severity: Info, Code: "rotation-envelope", Count: rotated,
			Message: fmt.Sprintf("%d boxes are axis-aligned envelopes of rotated rectangles, the angle is "+
				"only kept in the %q attribute", rotated, AttrRotation)})
	}

	// Policies.
	if c, ok := formatCapabilities[from]; ok && c.readIDs != "" && from != to {
		note("source-ids", c.readIDs)
	}
	if caps.readIDs != "" {
		note("read-ids", caps.readIDs)
	}
	note("write-order", caps.writeOrder)

	return r
}

// setKeys returns the keys of set in lexicographic order.
func setKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
