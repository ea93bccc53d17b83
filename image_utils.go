package annoconv

import (
	"bytes"
	"image"
	_ "image/gif"  // Register the GIF header decoder.
	_ "image/jpeg" // Register the JPEG header decoder.
	_ "image/png"  // Register the PNG header decoder.
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // Register the BMP header decoder.
	_ "golang.org/x/image/tiff" // Register the TIFF header decoder.
	_ "golang.org/x/image/webp" // Register the WebP header decoder.
)

// imageExtensions lists the image file extensions that are recognised, in the priority order
// used to pick one image when several share a stem.
var imageExtensions = []string{"jpg", "jpeg", "png", "bmp", "webp", "tif", "tiff", "gif"}

// extensionPriority returns the rank of ext in imageExtensions, or -1 if it is not an image
// extension.
func extensionPriority(ext string) int {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for i, e := range imageExtensions {
		if e == ext {
			return i
		}
	}
	return -1
}

// isImageFile reports whether name has a recognised image extension.
func isImageFile(name string) bool {
	return extensionPriority(filepath.Ext(name)) >= 0
}

// decodeImageSize opens the file at path and returns the width and height from its header.
// Only the header is read, the pixel data is never decoded.
func decodeImageSize(path string) (width, height int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, &IOError{Path: path, Err: err}
	}
	defer file.Close()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, err
	}
	return config.Width, config.Height, nil
}

// decodeImageSizeBytes returns the width and height from the header of an encoded image.
func decodeImageSizeBytes(data []byte) (width, height int, err error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return config.Width, config.Height, nil
}
