package imgutil

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
)

// Description is an offline summary of an image file.
type Description struct {
	Path string
	Kind Kind
	// MIME is the detected media type, which may name a non-image type.
	MIME string
	Size int64
	// Width and Height are zero when the decoder cannot read the header.
	Width    int
	Height   int
	Metadata []MetadataCategory
}

// Compressible reports whether the shrink service would accept the file.
func (d Description) Compressible() bool {
	return d.Kind.Compressible()
}

// Describe reads path and reports its format, dimensions and embedded
// metadata categories. Malformed metadata is skipped, not reported as an
// error.
func Describe(path string) (Description, error) {
	desc := Description{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return desc, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return desc, err
	}
	if !info.Mode().IsRegular() {
		return desc, fmt.Errorf("%s is not a regular file", path)
	}
	desc.Size = info.Size()

	desc.Kind, err = SniffReader(f)
	if err != nil && err != ErrHeaderTooShort {
		return desc, fmt.Errorf("sniff %s: %w", path, err)
	}
	if mime, err := DetectMIME(path); err == nil {
		desc.MIME = mime
	} else {
		desc.MIME = desc.Kind.MIME()
	}
	if desc.Kind == KindUnknown {
		return desc, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return desc, err
	}
	if cfg, _, err := image.DecodeConfig(f); err == nil {
		desc.Width = cfg.Width
		desc.Height = cfg.Height
	}

	set := metadataSet{}
	_ = collectExif(f, set)
	if desc.Kind == KindPNG {
		_ = collectPNGText(f, set)
	}
	desc.Metadata = set.categories()
	return desc, nil
}
