package resumable

import (
	"fmt"
	"net/http"
)

// Validator extracts the strong identity a server response carries for its
// body: an ETag if present, else Last-Modified, else "" (not resumable).
// Spec.md §4.5 prefers ETag over Last-Modified when both are present.
func Validator(h http.Header) string {
	if etag := h.Get("ETag"); etag != "" {
		return etag
	}
	return h.Get("Last-Modified")
}

// Qualifies reports whether resp is eligible to be resumed from: it must
// carry a validator and advertise byte-range support (spec.md §4.5's
// qualification rule), since without both a partial download can neither be
// proven safe to extend nor physically extended.
func Qualifies(h http.Header) bool {
	if Validator(h) == "" {
		return false
	}
	return h.Get("Accept-Ranges") == "bytes"
}

// Matches reports whether a freshly-observed validator still matches the
// one recorded against a stored partial download; a mismatch means the
// origin resource changed underneath the partial data and it must be
// discarded rather than resumed from.
func Matches(stored, observed string) bool {
	return stored != "" && stored == observed
}

// RangeHeader formats the Range request header value to resume a download
// that already has haveBytes bytes of the resource.
func RangeHeader(haveBytes int64) string {
	return fmt.Sprintf("bytes=%d-", haveBytes)
}

// ApplyRange sets the Range header (and If-Range, pinning the request to
// the exact validator the partial data was recorded against) on req to
// resume from haveBytes bytes already held under validator.
func ApplyRange(req *http.Request, haveBytes int64, validator string) {
	req.Header.Set("Range", RangeHeader(haveBytes))
	if validator != "" {
		req.Header.Set("If-Range", validator)
	}
}
