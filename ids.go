package annoconv

// Identifiers are distinct types so that an image ID cannot be passed where a category ID is
// expected. Converting between them requires an explicit conversion through int64.

// ImageID identifies an Image within a Dataset.
type ImageID int64

// CategoryID identifies a Category within a Dataset.
type CategoryID int64

// AnnotationID identifies an Annotation within a Dataset.
type AnnotationID int64

// LicenseID identifies a License within a Dataset.
type LicenseID int64
