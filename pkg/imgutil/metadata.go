package imgutil

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

// Metadata categories reported by Describe.
const (
	CategoryLocation  = "Location"
	CategoryDevice    = "Device Model"
	CategoryTimestamp = "Timestamp"
	CategorySerial    = "Serial Number"
	CategoryText      = "Text"
)

var categoryOrder = []string{CategoryLocation, CategoryDevice, CategoryTimestamp, CategorySerial, CategoryText}

// MetadataCategory groups embedded metadata entries as "Name: value".
type MetadataCategory struct {
	Name   string
	Values []string
}

type metadataSet map[string][]string

func (m metadataSet) add(category, name, value string) {
	entry := name
	if value != "" {
		entry = name + ": " + value
	}
	for _, existing := range m[category] {
		if existing == entry {
			return
		}
	}
	m[category] = append(m[category], entry)
}

func (m metadataSet) categories() []MetadataCategory {
	var out []MetadataCategory
	for _, name := range categoryOrder {
		if values := m[name]; len(values) > 0 {
			out = append(out, MetadataCategory{Name: name, Values: values})
		}
	}
	return out
}

func collectExif(rs io.ReadSeeker, set metadataSet) error {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return err
	}

	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(rs, nil, true)
	if err != nil {
		if isNoExif(err) {
			return nil
		}
		return err
	}

	for _, tag := range tags {
		name := tag.TagName
		value := strings.TrimSpace(tag.Formatted)
		switch {
		case strings.HasPrefix(name, "GPS") || strings.Contains(tag.IfdPath, "GPS"):
			set.add(CategoryLocation, name, value)
		case name == "Make" || name == "Model" || name == "CameraModelName":
			set.add(CategoryDevice, name, value)
		case name == "DateTimeOriginal" || name == "DateTimeDigitized" || name == "DateTime":
			set.add(CategoryTimestamp, name, value)
		case strings.Contains(strings.ToLower(name), "serial"):
			set.add(CategorySerial, name, value)
		}
	}
	return nil
}

func isNoExif(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "no exif")
}

// collectPNGText walks the chunk list for text and tIME chunks.
func collectPNGText(rs io.ReadSeeker, set metadataSet) error {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return err
	}

	br := bufio.NewReader(rs)
	sig := make([]byte, len(pngSig))
	if _, err := io.ReadFull(br, sig); err != nil {
		return err
	}
	if !hasPrefix(sig, pngSig) {
		return errors.New("invalid PNG signature")
	}

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		length := binary.BigEndian.Uint32(header[:4])
		chunk := string(header[4:])

		switch chunk {
		case "tEXt", "zTXt", "iTXt":
			data := make([]byte, length)
			if _, err := io.ReadFull(br, data); err != nil {
				return err
			}
			if _, err := io.CopyN(io.Discard, br, 4); err != nil {
				return err
			}
			key, value := splitPNGText(chunk, data)
			if key != "" {
				set.add(pngTextCategory(key), key, value)
			}
		case "tIME":
			data := make([]byte, length)
			if _, err := io.ReadFull(br, data); err != nil {
				return err
			}
			if _, err := io.CopyN(io.Discard, br, 4); err != nil {
				return err
			}
			set.add(CategoryTimestamp, "tIME", formatPNGTime(data))
		default:
			if _, err := io.CopyN(io.Discard, br, int64(length)+4); err != nil {
				return err
			}
		}

		if chunk == "IEND" {
			return nil
		}
	}
}

// splitPNGText returns the keyword and, for uncompressed tEXt, the text.
func splitPNGText(chunk string, data []byte) (string, string) {
	idx := indexByte(data, 0)
	if idx <= 0 {
		return "", ""
	}
	key := string(data[:idx])
	if chunk != "tEXt" {
		return key, ""
	}
	return key, strings.TrimSpace(string(data[idx+1:]))
}

func pngTextCategory(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "gps") || strings.Contains(lower, "latitude") || strings.Contains(lower, "longitude"):
		return CategoryLocation
	case strings.Contains(lower, "model") || strings.Contains(lower, "make"):
		return CategoryDevice
	case strings.Contains(lower, "date") || strings.Contains(lower, "time"):
		return CategoryTimestamp
	default:
		return CategoryText
	}
}

func formatPNGTime(data []byte) string {
	if len(data) != 7 {
		return ""
	}
	year := binary.BigEndian.Uint16(data[:2])
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", year, data[2], data[3], data[4], data[5], data[6])
}

func indexByte(data []byte, b byte) int {
	for i, v := range data {
		if v == b {
			return i
		}
	}
	return -1
}
