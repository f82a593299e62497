package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

func TestGrayscaleRenderer_StretchesContrast(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	src.Set(1, 0, color.RGBA{R: 150, G: 150, B: 150, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	out, err := GrayscaleRenderer{}.Render(model.Image{Source: "a.png", MIMEType: "image/png", Data: buf.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.MIMEType)
	assert.Equal(t, "a.png#gray", out.Source)

	decoded, err := png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	gray, ok := decoded.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(0), gray.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), gray.GrayAt(1, 0).Y)
}

func TestGrayscaleRenderer_RejectsGarbage(t *testing.T) {
	_, err := GrayscaleRenderer{}.Render(model.Image{Source: "bad.png", Data: []byte("not an image")})
	assert.Error(t, err)
}
