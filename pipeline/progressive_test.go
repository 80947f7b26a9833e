package pipeline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadkit/imagepipeline/imgdata"
)

// timedLoader emits its chunks with a real delay between them, so a test
// can be sure an earlier progressive decode has had time to finish before
// the next chunk is forwarded, rather than racing the decoder.
type timedLoader struct {
	delay time.Duration
}

func (l timedLoader) Load(ctx context.Context, req *http.Request) (<-chan Chunk, error) {
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		send := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(Chunk{Data: []byte("A")}) {
			return
		}
		time.Sleep(l.delay)
		if !send(Chunk{Data: []byte("B")}) {
			return
		}
		time.Sleep(l.delay)
		send(Chunk{Data: []byte("C"), Done: true})
	}()
	return ch, nil
}

func newProgressiveTestPipeline(t *testing.T, loader DataLoader) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IsRateLimiterEnabled = false
	cfg.IsDecompressionEnabled = false
	cfg.IsProgressiveDecodingEnabled = true
	cfg.MakeDecoder = func(DecodeContext) Decoder { return fakeDecoder() }
	cfg.ImageCache = newMemImageCache()
	cfg.DataCache = newMemDataCache()
	cfg.DataLoader = loader
	p := New(cfg)
	t.Cleanup(p.Close)
	return p
}

// TestProgressiveDecodeTicksSurviveAfterEarlierOneCompletes is the
// regression test for the back-pressure tracker's TOCTOU race: the first
// progressive tick's decode finishes in microseconds, well before the
// second tick arrives tens of milliseconds later, so the in-flight slot
// must be clear by then. Before the fix, a caller that stored the
// Enqueue'd Operation after the decode's own goroutine had already cleared
// it could reinstate a stale handle, silently dropping every later tick
// forever instead of just the ones that genuinely overlap.
func TestProgressiveDecodeTicksSurviveAfterEarlierOneCompletes(t *testing.T) {
	loader := timedLoader{delay: 20 * time.Millisecond}
	p := newProgressiveTestPipeline(t, loader)
	req := urlRequest("https://example.test/progressive.bin")

	task := p.LoadImage(context.Background(), req)

	var previews []string
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range task.Events() {
			if ev.Kind == EventPreview {
				img := ev.Preview.Container.Image.(fakeImage)
				previews = append(previews, img.tag)
			}
		}
	}()

	resp, err := awaitResponse(t, task)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(resp.Container.OriginalData))

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("task event stream never closed")
	}

	assert.Contains(t, previews, "AB", "the second progressive tick was dropped though the first decode had long finished")
}

// TestLoadImageProcessorProgressiveTicksSurviveAfterEarlierOneCompletes
// covers the same race in load_image.go's processor back-pressure tracker,
// which has its own independent inFlight field.
func TestLoadImageProcessorProgressiveTicksSurviveAfterEarlierOneCompletes(t *testing.T) {
	loader := timedLoader{delay: 20 * time.Millisecond}
	p := newProgressiveTestPipeline(t, loader)

	proc := imgdata.Processor{
		ID: "tag-prefix",
		Apply: func(ctx context.Context, in imgdata.Container) (imgdata.Container, error) {
			out := in
			out.Image = fakeImage{tag: "p:" + in.Image.(fakeImage).tag}
			return out, nil
		},
	}
	req := urlRequest("https://example.test/progressive-processed.bin")
	req.Processors = []imgdata.Processor{proc}

	task := p.LoadImage(context.Background(), req)

	var previews []string
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range task.Events() {
			if ev.Kind == EventPreview {
				img := ev.Preview.Container.Image.(fakeImage)
				previews = append(previews, img.tag)
			}
		}
	}()

	resp, err := awaitResponse(t, task)
	require.NoError(t, err)
	img, ok := resp.Container.Image.(fakeImage)
	require.True(t, ok)
	assert.Equal(t, "p:ABC", img.tag)

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("task event stream never closed")
	}

	assert.Contains(t, previews, "p:AB", "the second progressive processor tick was dropped though the first application had long finished")
}
