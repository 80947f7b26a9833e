package codec

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadkit/imagepipeline/imgdata"
	"github.com/loadkit/imagepipeline/pipeline"
)

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStdlibDecoderDecodesCompletedPNG(t *testing.T) {
	data := tinyPNG(t)
	c, err := StdlibDecoder{}.Decode(context.Background(), pipeline.DecodeContext{
		Data:        data,
		IsCompleted: true,
		Format:      imgdata.FormatPNG,
	})
	require.NoError(t, err)
	assert.Equal(t, imgdata.FormatPNG, c.Type)
	assert.NotNil(t, c.Image)
}

func TestStdlibDecoderRejectsPartialData(t *testing.T) {
	_, err := StdlibDecoder{}.Decode(context.Background(), pipeline.DecodeContext{
		Data:        tinyPNG(t),
		IsCompleted: false,
	})
	assert.Error(t, err)
}

func TestStdlibEncoderRoundTripsThroughDecoder(t *testing.T) {
	data := tinyPNG(t)
	c, err := StdlibDecoder{}.Decode(context.Background(), pipeline.DecodeContext{
		Data: data, IsCompleted: true, Format: imgdata.FormatPNG,
	})
	require.NoError(t, err)

	encoded, err := StdlibEncoder{}.Encode(context.Background(), pipeline.EncodeContext{Container: c})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(encoded, []byte{0x89, 0x50, 0x4E, 0x47}))
}

func TestStdlibEncoderRejectsNonImageContainer(t *testing.T) {
	_, err := StdlibEncoder{}.Encode(context.Background(), pipeline.EncodeContext{
		Container: imgdata.Container{Image: "not an image"},
	})
	assert.Error(t, err)
}
