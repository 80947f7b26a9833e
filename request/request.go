package request

import (
	"strconv"

	"github.com/loadkit/imagepipeline/imgdata"
)

// ThumbnailSpec narrows a decode/processing pass to a thumbnail of the
// given pixel size, contributing its own identifier to cache keys the same
// way a Processor does.
type ThumbnailSpec struct {
	Width, Height int
	ContentMode   string // "aspectFit" | "aspectFill" | "exact"
}

func (t *ThumbnailSpec) identifier() string {
	if t == nil {
		return ""
	}
	return fmtThumb(*t)
}

// Request is an immutable value describing what to load and how. Per
// spec.md §3 it is copy-on-write in spirit: callers mutate it only through
// Clone, never in place, so a Request already handed to the pipeline never
// changes under it.
type Request struct {
	Resource     Resource
	Processors   []imgdata.Processor // ordered, last is applied last
	Priority     Priority
	Options      OptionFlags
	UserInfo     map[string]any
	Thumbnail    *ThumbnailSpec
	Scale        *float64
	ImageIDOverride *string
}

// Clone returns a deep-enough copy: the Processors slice and UserInfo map
// are copied so callers can build request variants (e.g. "request minus its
// last processor") without aliasing the original's backing storage.
func (r Request) Clone() Request {
	out := r
	if r.Processors != nil {
		out.Processors = append([]imgdata.Processor(nil), r.Processors...)
	}
	if r.UserInfo != nil {
		out.UserInfo = make(map[string]any, len(r.UserInfo))
		for k, v := range r.UserInfo {
			out.UserInfo[k] = v
		}
	}
	return out
}

// WithProcessors returns a clone with its processor chain replaced, used by
// the load-image job to build the sub-request for the remaining processors
// after peeling the last one off (spec.md §4.9 step 4).
func (r Request) WithProcessors(p []imgdata.Processor) Request {
	out := r.Clone()
	out.Processors = append([]imgdata.Processor(nil), p...)
	return out
}

// ImageID is the public form of imageID, exposed so packages outside
// request (notably pipeline, for resumable-store namespacing) can key
// per-image state the same way the key algebra itself does.
func (r Request) ImageID() string { return r.imageID() }

// imageID resolves the preferred-image-id: the override if present, else
// the resource's URL (the only resource kind with a natural stable id).
func (r Request) imageID() string {
	if r.ImageIDOverride != nil {
		return *r.ImageIDOverride
	}
	switch r.Resource.Kind {
	case ResourceURL:
		return r.Resource.URL
	case ResourceURLRequest:
		if r.Resource.URLRequest != nil && r.Resource.URLRequest.URL != nil {
			return r.Resource.URLRequest.URL.String()
		}
		return ""
	case ResourceAsyncByteProducer:
		return "producer:" + r.Resource.Producer.ID
	default:
		return ""
	}
}

func fmtThumb(t ThumbnailSpec) string {
	return "thumb(" + strconv.Itoa(t.Width) + "x" + strconv.Itoa(t.Height) + "," + t.ContentMode + ")"
}
