package imgutil

import "os"

// Classifier recognizes images the shrink service can compress. It looks at
// file content only; extensions are ignored.
type Classifier struct{}

// IsRecognizedImage reports whether path is a regular file holding a PNG,
// JPEG or WebP image. Unreadable files are not recognized.
func (Classifier) IsRecognizedImage(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	kind, err := SniffFile(path)
	if err != nil {
		return false
	}
	return kind.Compressible()
}
