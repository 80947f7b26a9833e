// Package imgdata holds the value types that flow through the pipeline's
// jobs once bytes have been decoded: the decoded image container, the
// processor transform signature, and the small enums (Format, CacheType)
// tagging a container's provenance. It intentionally knows nothing about
// Request or Key algebra (package request) so that request can depend on
// imgdata without a cycle.
package imgdata

import "context"

// Format is the sniffed or declared encoding of a container's bytes. The
// pipeline passes it to decoders in DecodeContext.Format; no decoder in this
// module switches to progressive-JPEG scan counting or single-preview GIF
// handling based on it.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
	FormatWebP
	FormatHEIC
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	case FormatWebP:
		return "webp"
	case FormatHEIC:
		return "heic"
	default:
		return "unknown"
	}
}

// CacheType tags where an ImageResponse's container was served from, or
// CacheNone if it was freshly produced by the pipeline.
type CacheType uint8

const (
	CacheNone CacheType = iota
	CacheMemory
	CacheDisk
)

// Image is the opaque decoded bitmap. The pipeline core never inspects it;
// concrete decoders/processors/encoders agree on its dynamic type among
// themselves (a platform-native image type).
type Image = any

// Container is a decoded image plus the bookkeeping the pipeline needs to
// cache and re-encode it: the original wire bytes (if still held), a format
// tag, whether this is a preview (progressive-scan or first-frame) render,
// and a free-form user-info bag processors may stash data in.
type Container struct {
	Image        Image
	OriginalData []byte
	Type         Format
	IsPreview    bool
	UserInfo     map[string]any
}

// Clone returns a shallow copy safe to hand to a different subscriber; the
// Image itself is never copied (processors replace it, they don't mutate it
// in place).
func (c Container) Clone() Container {
	out := c
	if c.UserInfo != nil {
		out.UserInfo = make(map[string]any, len(c.UserInfo))
		for k, v := range c.UserInfo {
			out.UserInfo[k] = v
		}
	}
	return out
}

// Processor is a named transformation from container to container. ID must
// be stable across process restarts since it is folded into cache keys.
type Processor struct {
	ID    string
	Apply func(ctx context.Context, in Container) (Container, error)
}
