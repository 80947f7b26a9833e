// Package codec supplies cmd/imgpipe's default pipeline.Decoder and
// pipeline.Encoder: thin adapters over the standard library's image/jpeg,
// image/png, and image/gif codecs. The pipeline core is deliberately
// decoder-agnostic (imgdata.Container.Image is an opaque any); this package
// is where a concrete image type gets chosen, the same way a caller of the
// teacher's transfer engine supplies its own concrete credential or
// source/destination implementation rather than the engine assuming one.
package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/loadkit/imagepipeline/imgdata"
	"github.com/loadkit/imagepipeline/pipeline"
)

// StdlibDecoder decodes final-pass JPEG, PNG, and GIF bytes via the standard
// library. It never runs on partial/progressive data; spec.md §4.8's
// progressive path is for decoders that can render as bytes accumulate,
// which image/jpeg cannot do, so it reports IsAsynchronous()==true and lets
// the decoding queue (spec.md §6, DecodingConcurrency) bound how many
// decodes run at once instead of running inline.
type StdlibDecoder struct{}

func (StdlibDecoder) IsAsynchronous() bool { return true }

func (StdlibDecoder) Decode(_ context.Context, dctx pipeline.DecodeContext) (imgdata.Container, error) {
	if !dctx.IsCompleted {
		return imgdata.Container{}, fmt.Errorf("codec: stdlib decoder only handles completed data")
	}
	img, format, err := image.Decode(bytes.NewReader(dctx.Data))
	if err != nil {
		return imgdata.Container{}, fmt.Errorf("codec: decode: %w", err)
	}
	return imgdata.Container{
		Image:        img,
		OriginalData: dctx.Data,
		Type:         formatFromStdlib(format, dctx.Format),
	}, nil
}

// StdlibEncoder re-encodes a decoded image.Image back to wire bytes for the
// disk cache, per the container's recorded Type.
type StdlibEncoder struct{}

func (StdlibEncoder) Encode(_ context.Context, ectx pipeline.EncodeContext) ([]byte, error) {
	img, ok := ectx.Container.Image.(image.Image)
	if !ok {
		return nil, fmt.Errorf("codec: container does not hold a standard image.Image")
	}

	var buf bytes.Buffer
	var err error
	switch ectx.Container.Type {
	case imgdata.FormatPNG:
		err = png.Encode(&buf, img)
	case imgdata.FormatGIF:
		err = gif.Encode(&buf, img, nil)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func formatFromStdlib(stdlibName string, sniffed imgdata.Format) imgdata.Format {
	switch stdlibName {
	case "jpeg":
		return imgdata.FormatJPEG
	case "png":
		return imgdata.FormatPNG
	case "gif":
		return imgdata.FormatGIF
	default:
		return sniffed
	}
}
