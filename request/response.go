package request

import (
	"net/http"

	"github.com/loadkit/imagepipeline/imgdata"
)

// Response is the value a job emits to its subscribers: a decoded container,
// the request that produced it, the transport response if one was involved,
// and where (if anywhere) the container came from.
type Response struct {
	Container       imgdata.Container
	Request         Request
	TransportResponse *http.Response
	CacheType       imgdata.CacheType
}
