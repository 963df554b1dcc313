package imgutil

import (
	"errors"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// Kind identifies an image type by content.
type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindPNG
	KindTIFF
	KindWebP
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindTIFF:
		return "tiff"
	case KindWebP:
		return "webp"
	default:
		return "unknown"
	}
}

// MIME returns the media type for k, or "" for KindUnknown.
func (k Kind) MIME() string {
	switch k {
	case KindJPEG:
		return "image/jpeg"
	case KindPNG:
		return "image/png"
	case KindTIFF:
		return "image/tiff"
	case KindWebP:
		return "image/webp"
	default:
		return ""
	}
}

// Compressible reports whether the shrink service accepts this kind.
func (k Kind) Compressible() bool {
	return k == KindJPEG || k == KindPNG || k == KindWebP
}

const (
	minHeaderLen = 8
	sniffLen     = 12
)

var (
	pngSig    = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	jpegSig   = []byte{0xff, 0xd8, 0xff}
	tiffSigLE = []byte{0x49, 0x49, 0x2a, 0x00}
	tiffSigBE = []byte{0x4d, 0x4d, 0x00, 0x2a}
	riffSig   = []byte("RIFF")
	webpSig   = []byte("WEBP")
)

// ErrHeaderTooShort is returned when fewer than 8 bytes are available.
var ErrHeaderTooShort = errors.New("header too short")

// DetectHeader inspects the leading bytes of a file for known signatures.
// WebP needs 12 bytes; the other formats need 8.
func DetectHeader(header []byte) (Kind, error) {
	if len(header) < minHeaderLen {
		return KindUnknown, ErrHeaderTooShort
	}

	if hasPrefix(header, jpegSig) {
		return KindJPEG, nil
	}
	if hasPrefix(header, pngSig) {
		return KindPNG, nil
	}
	if hasPrefix(header, tiffSigLE) || hasPrefix(header, tiffSigBE) {
		return KindTIFF, nil
	}
	if len(header) >= sniffLen && hasPrefix(header, riffSig) && hasPrefix(header[8:], webpSig) {
		return KindWebP, nil
	}

	return KindUnknown, nil
}

// SniffFile reads the head of a file to determine its type.
func SniffFile(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, err
	}
	defer f.Close()

	return SniffReader(f)
}

// SniffReader reads up to 12 bytes from r and determines its type. Content
// the signature table misses is passed to mimetype as a second opinion.
func SniffReader(r io.Reader) (Kind, error) {
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return KindUnknown, err
	}
	header = header[:n]

	kind, err := DetectHeader(header)
	if err != nil || kind != KindUnknown {
		return kind, err
	}
	return kindFromMIME(mimetype.Detect(header).String()), nil
}

// DetectMIME returns the content type of the file at path as reported by
// mimetype, e.g. "image/png" or "text/plain; charset=utf-8".
func DetectMIME(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

func kindFromMIME(mime string) Kind {
	switch mime {
	case "image/jpeg":
		return KindJPEG
	case "image/png":
		return KindPNG
	case "image/tiff":
		return KindTIFF
	case "image/webp":
		return KindWebP
	default:
		return KindUnknown
	}
}

func hasPrefix(buf, prefix []byte) bool {
	if len(buf) < len(prefix) {
		return false
	}
	for i := range prefix {
		if buf[i] != prefix[i] {
			return false
		}
	}
	return true
}
