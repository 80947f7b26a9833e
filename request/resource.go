package request

import (
	"context"
	"net/http"
	"strings"
)

// ResourceKind tags which arm of the Resource union is populated.
type ResourceKind uint8

const (
	ResourceURL ResourceKind = iota
	ResourceURLRequest
	ResourceAsyncByteProducer
)

// AsyncByteProducer is the caller-supplied-byte-source arm of Resource: an
// identified closure the pipeline invokes on the data-loading queue instead
// of going through a DataLoader.
type AsyncByteProducer struct {
	ID      string
	Produce func(ctx context.Context) ([]byte, error)
}

// Resource is the tagged union spec.md §3 describes: a URL, a pre-built
// *http.Request, or an AsyncByteProducer closure.
type Resource struct {
	Kind       ResourceKind
	URL        string
	URLRequest *http.Request
	Producer   AsyncByteProducer
}

// IsLocal reports whether the resource is a file:// or data: URL, the two
// schemes §4.7 step 2 allows the pipeline to read synchronously when local
// resources support is enabled.
func (r Resource) IsLocal() bool {
	if r.Kind != ResourceURL {
		return false
	}
	return strings.HasPrefix(r.URL, "file://") || strings.HasPrefix(r.URL, "data:")
}
