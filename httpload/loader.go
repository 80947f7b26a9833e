// Package httpload implements the default pipeline.DataLoader (spec.md §6):
// a net/http-based transport that streams a response body into the
// pipeline.Chunk sequence the fetch-data job (C8) consumes. Grounded in the
// teacher's ste package, which also builds its transfer engine directly on
// net/http rather than a higher-level client, and in the teacher's pacer
// package for the idea of wrapping a response body so reads are gated one
// buffer at a time -- reused here as a straightforward golang.org/x/time/rate
// limiter instead of the teacher's multi-request fair-share allocator, since
// that allocator's unit of work is a whole azcopy transfer job competing
// against siblings, a concept this single-resource fetch has no equivalent
// of (see DESIGN.md).
package httpload

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/loadkit/imagepipeline/pipeline"
)

// DefaultChunkSize is the buffer size each Read off the response body asks
// for, and the unit the optional bandwidth limiter paces against.
const DefaultChunkSize = 64 * 1024

// Loader is the default pipeline.DataLoader: it issues req on client and
// streams the response body as a sequence of pipeline.Chunk values.
type Loader struct {
	client    *http.Client
	limiter   *rate.Limiter
	chunkSize int
}

// New builds a Loader using client (http.DefaultClient if nil). A zero or
// negative bytesPerSecond leaves the loader unthrottled.
func New(client *http.Client, bytesPerSecond int64) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	l := &Loader{client: client, chunkSize: DefaultChunkSize}
	if bytesPerSecond > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), l.chunkSize)
	}
	return l
}

// Load implements pipeline.DataLoader: it issues req and, on a successful
// status line, hands back a channel the caller drains until a Chunk with
// Done set arrives.
func (l *Loader) Load(ctx context.Context, req *http.Request) (<-chan pipeline.Chunk, error) {
	resp, err := l.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &pipeline.Error{Kind: pipeline.KindDataLoadingFailed, Context: "http request", Underlying: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &pipeline.Error{
			Kind:       pipeline.KindDataLoadingFailed,
			Context:    "unexpected status " + resp.Status,
			Underlying: nil,
		}
	}

	out := make(chan pipeline.Chunk)
	go l.stream(ctx, resp, out)
	return out, nil
}

// stream reads resp.Body in chunkSize pieces, optionally pacing each read
// against the bandwidth limiter, until EOF, a read error, or ctx is done.
func (l *Loader) stream(ctx context.Context, resp *http.Response, out chan<- pipeline.Chunk) {
	defer close(out)
	defer resp.Body.Close()

	buf := make([]byte, l.chunkSize)
	for {
		if l.limiter != nil {
			if err := l.limiter.WaitN(ctx, len(buf)); err != nil {
				sendChunk(ctx, out, pipeline.Chunk{Response: resp, Err: ctx.Err(), Done: true})
				return
			}
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !sendChunk(ctx, out, pipeline.Chunk{Data: data, Response: resp}) {
				return
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				sendChunk(ctx, out, pipeline.Chunk{Response: resp, Done: true})
				return
			}
			sendChunk(ctx, out, pipeline.Chunk{
				Response: resp,
				Err:      &pipeline.Error{Kind: pipeline.KindDataLoadingFailed, Context: "reading response body", Underlying: readErr},
				Done:     true,
			})
			return
		}
	}
}

// sendChunk delivers c to out unless ctx is cancelled first, reporting
// whether the send happened.
func sendChunk(ctx context.Context, out chan<- pipeline.Chunk, c pipeline.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
