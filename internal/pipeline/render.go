package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // decoder registration
	_ "image/jpeg" // decoder registration
	"image/png"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// GrayscaleRenderer re-encodes a screenshot as a contrast-stretched grayscale PNG.
type GrayscaleRenderer struct{}

// Render implements Renderer.
func (GrayscaleRenderer) Render(img model.Image) (model.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return model.Image{}, fmt.Errorf("decoding %s: %w", img.Source, err)
	}

	b := src.Bounds()
	gray := image.NewGray(b)
	lo, hi := uint8(255), uint8(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := color.GrayModel.Convert(src.At(x, y)).(color.Gray).Y
			gray.SetGray(x, y, color.Gray{Y: v})
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}

	if hi > lo {
		span := int(hi) - int(lo)
		for i, v := range gray.Pix {
			gray.Pix[i] = uint8((int(v) - int(lo)) * 255 / span)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return model.Image{}, fmt.Errorf("encoding %s: %w", img.Source, err)
	}
	return model.Image{Source: img.Source + "#gray", MIMEType: "image/png", Data: buf.Bytes()}, nil
}
