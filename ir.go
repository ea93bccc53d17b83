package annoconv

// The intermediate annotation metadata representation.

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Keys for annotation attributes shared by several formats.
const (
	AttrArea      = "area"      // COCO area, decimal.
	AttrIsCrowd   = "iscrowd"   // COCO crowd flag, "0" or "1".
	AttrOccluded  = "occluded"  // VOC, CVAT, KITTI.
	AttrTruncated = "truncated" // VOC, KITTI.
	AttrDifficult = "difficult" // VOC.
	AttrPose      = "pose"      // VOC.
	AttrRotation  = "rotation"  // Label Studio rotation in degrees; the bbox is its envelope.
)

// Dataset is the canonical representation every format is read into and written from.
//
// A Dataset is treated as an immutable value once it has been handed to a writer or to the
// analyzer. Uniqueness of IDs and the integrity of references are not enforced here; writers
// report dangling references.
type Dataset struct {
	Info        DatasetInfo
	Licenses    []License
	Images      []Image
	Categories  []Category
	Annotations []Annotation
}

// DatasetInfo is dataset level metadata. Empty strings and a zero Year mean absent.
type DatasetInfo struct {
	Name        string
	Version     string
	Description string
	URL         string
	Year        int
	Contributor string
	DateCreated string
}

// License is an image license.
type License struct {
	ID   LicenseID
	Name string
	URL  string
}

// Image is the metadata of an annotated image. The pixel data is never loaded.
type Image struct {
	ID           ImageID
	FileName     string
	Width        int
	Height       int
	LicenseID    *LicenseID
	DateCaptured string
	Attributes   map[string]string
}

// Category is an object class.
type Category struct {
	ID            CategoryID
	Name          string
	Supercategory string
}

// Annotation is a single object bounding box.
type Annotation struct {
	ID         AnnotationID
	ImageID    ImageID
	CategoryID CategoryID
	BBox       PixelBox
	Confidence *float64          // Optional, in [0, 1] by convention.
	Attributes map[string]string // Format specific extras.
}

// IsZero reports whether no info field is set.
func (info DatasetInfo) IsZero() bool {
	return info == DatasetInfo{}
}

// fieldNames returns the names of the set info fields, in declaration order.
func (info DatasetInfo) fieldNames() []string {
	var names []string
	add := func(name string, set bool) {
		if set {
			names = append(names, name)
		}
	}
	add("name", info.Name != "")
	add("version", info.Version != "")
	add("description", info.Description != "")
	add("url", info.URL != "")
	add("year", info.Year != 0)
	add("contributor", info.Contributor != "")
	add("date_created", info.DateCreated != "")
	return names
}

// datasetIndex provides lookups into a Dataset whose references have been checked.
type datasetIndex struct {
	images     map[ImageID]*Image
	categories map[CategoryID]*Category
	byImage    map[ImageID][]*Annotation // Sorted by annotation ID.
	usage      map[CategoryID]int        // Number of annotations per category.
}

// indexDataset builds a datasetIndex and fails with a WriteError if an annotation references a
// missing image or category.
func indexDataset(ds *Dataset, f Format) (*datasetIndex, error) {
	if ds == nil {
		return nil, &WriteError{Format: f, Msg: "nil dataset"}
	}

	idx := &datasetIndex{
		images:     make(map[ImageID]*Image, len(ds.Images)),
		categories: make(map[CategoryID]*Category, len(ds.Categories)),
		byImage:    make(map[ImageID][]*Annotation, len(ds.Images)),
		usage:      make(map[CategoryID]int, len(ds.Categories)),
	}
	for i := range ds.Images {
		idx.images[ds.Images[i].ID] = &ds.Images[i]
	}
	for i := range ds.Categories {
		idx.categories[ds.Categories[i].ID] = &ds.Categories[i]
	}
	for i := range ds.Annotations {
		a := &ds.Annotations[i]
		if _, ok := idx.images[a.ImageID]; !ok {
			return nil, &WriteError{Format: f,
				Msg: fmt.Sprintf("annotation %d references missing image %d", a.ID, a.ImageID)}
		}
		if _, ok := idx.categories[a.CategoryID]; !ok {
			return nil, &WriteError{Format: f,
				Msg: fmt.Sprintf("annotation %d references missing category %d", a.ID, a.CategoryID)}
		}
		idx.byImage[a.ImageID] = append(idx.byImage[a.ImageID], a)
		idx.usage[a.CategoryID]++
	}
	for _, anns := range idx.byImage {
		sort.SliceStable(anns, func(i, j int) bool { return anns[i].ID < anns[j].ID })
	}

	return idx, nil
}

// imagesByName returns pointers to the images sorted by file name, then ID.
func imagesByName(ds *Dataset) []*Image {
	images := make([]*Image, len(ds.Images))
	for i := range ds.Images {
		images[i] = &ds.Images[i]
	}
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].FileName != images[j].FileName {
			return images[i].FileName < images[j].FileName
		}
		return images[i].ID < images[j].ID
	})
	return images
}

// imagesByID returns pointers to the images sorted by ID.
func imagesByID(ds *Dataset) []*Image {
	images := make([]*Image, len(ds.Images))
	for i := range ds.Images {
		images[i] = &ds.Images[i]
	}
	sort.SliceStable(images, func(i, j int) bool { return images[i].ID < images[j].ID })
	return images
}

// categoriesByID returns pointers to the categories sorted by ID.
func categoriesByID(ds *Dataset) []*Category {
	cats := make([]*Category, len(ds.Categories))
	for i := range ds.Categories {
		cats[i] = &ds.Categories[i]
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].ID < cats[j].ID })
	return cats
}

// annotationsByID returns pointers to the annotations sorted by ID.
func annotationsByID(ds *Dataset) []*Annotation {
	anns := make([]*Annotation, len(ds.Annotations))
	for i := range ds.Annotations {
		anns[i] = &ds.Annotations[i]
	}
	sort.SliceStable(anns, func(i, j int) bool { return anns[i].ID < anns[j].ID })
	return anns
}

// nameIDs assigns 1-based IDs to the distinct names in lexicographic order. It returns the
// sorted names and the mapping.
func nameIDs(names []string) ([]string, map[string]int64) {
	ids := make(map[string]int64, len(names))
	for _, n := range names {
		ids[n] = 0
	}
	sorted := make([]string, 0, len(ids))
	for n := range ids {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	for i, n := range sorted {
		ids[n] = int64(i + 1)
	}
	return sorted, ids
}

// categoriesFromNames returns categories for the sorted names with IDs 1..n.
func categoriesFromNames(sorted []string) []Category {
	cats := make([]Category, len(sorted))
	for i, n := range sorted {
		cats[i] = Category{ID: CategoryID(i + 1), Name: n}
	}
	return cats
}

// sortedKeys returns the keys of m in lexicographic order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// setAttr sets attrs[k] = v, allocating the map when needed, and returns it.
func setAttr(attrs map[string]string, k, v string) map[string]string {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	attrs[k] = v
	return attrs
}

// formatFloat formats v with the minimal number of digits that round-trips.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// roundTo rounds v to the given number of decimals. Non-finite values are returned unchanged.
func roundTo(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

// normalizeBool maps the common spellings of a boolean flag to "1" or "0". Other values are
// returned unchanged.
func normalizeBool(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return "1"
	case "0", "false", "no", "n", "":
		return "0"
	}
	return v
}

// float64Ptr returns a pointer to a copy of v.
func float64Ptr(v float64) *float64 {
	return &v
}
