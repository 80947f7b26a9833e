// Package imagefmt implements image-type detection by byte-prefix magic
// number inspection and the stateful progressive-JPEG scan-marker scanner
// (spec.md §6), both grounded in the teacher's byte-prefix dispatch style
// in common/rangeGetter.go (inspecting a short leading slice of a stream
// before deciding how to handle the rest of it).
package imagefmt

import (
	"bytes"

	"github.com/loadkit/imagepipeline/imgdata"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	gifMagic  = []byte{0x47, 0x49, 0x46}
	webpRIFF  = []byte{0x52, 0x49, 0x46, 0x46}
	webpWEBP  = []byte{0x57, 0x45, 0x42, 0x50}
	ftypBox   = []byte{0x66, 0x74, 0x79, 0x70} // "ftyp"
)

// Detect inspects the leading bytes of buf and reports the image format
// they identify, or FormatUnknown if buf is too short or matches none of
// the known magic numbers.
func Detect(buf []byte) imgdata.Format {
	switch {
	case bytes.HasPrefix(buf, jpegMagic):
		return imgdata.FormatJPEG
	case bytes.HasPrefix(buf, pngMagic):
		return imgdata.FormatPNG
	case bytes.HasPrefix(buf, gifMagic):
		return imgdata.FormatGIF
	case len(buf) >= 12 && bytes.HasPrefix(buf, webpRIFF) && bytes.Equal(buf[8:12], webpWEBP):
		return imgdata.FormatWebP
	case len(buf) >= 8 && bytes.Equal(buf[4:8], ftypBox):
		return imgdata.FormatHEIC
	default:
		return imgdata.FormatUnknown
	}
}
