package service

import (
	"image"
	"image/color"
	"testing"

	"github.com/TIANLI0/CellOverlay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func filledGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// roundHalfUp70 是 round(0.7*v)
func roundHalfUp70(v uint8) uint8 {
	return uint8((7*int(v) + 5) / 10)
}

func TestCompositeKeepsDimensions(t *testing.T) {
	c := NewBlendCompositor(0.7, false)
	for _, size := range []image.Point{{1, 1}, {3, 7}, {64, 48}, {17, 1}} {
		original := solidRGBA(size.X, size.Y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		out, err := c.Composite(original, filledGray(size.X, size.Y, 128))
		require.NoError(t, err)
		assert.Equal(t, size.X, out.Bounds().Dx())
		assert.Equal(t, size.Y, out.Bounds().Dy())
		for i := 3; i < len(out.Pix); i += 4 {
			require.Equal(t, uint8(0xff), out.Pix[i], "output must be opaque")
		}
	}
}

func TestCompositeZeroMaskDarkensEverything(t *testing.T) {
	const w, h = 16, 16
	original := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(y*w + x)
			original.SetRGBA(x, y, color.RGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}

	out, err := NewBlendCompositor(0.7, false).Composite(original, filledGray(w, h, 0))
	require.NoError(t, err)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			in := original.RGBAAt(x, y)
			got := out.RGBAAt(x, y)
			require.Equal(t, roundHalfUp70(in.R), got.R, "R at %d,%d", x, y)
			require.Equal(t, roundHalfUp70(in.G), got.G, "G at %d,%d", x, y)
			require.Equal(t, roundHalfUp70(in.B), got.B, "B at %d,%d", x, y)
		}
	}
}

func TestCompositeFullMaskOnlyTouchesRed(t *testing.T) {
	original := solidRGBA(2, 2, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	out, err := NewBlendCompositor(0.7, false).Composite(original, filledGray(2, 2, 255))
	require.NoError(t, err)

	assert.Equal(t, color.RGBA{R: 217, G: 70, B: 35, A: 255}, out.RGBAAt(1, 1))
}

func TestCompositeSaturates(t *testing.T) {
	original := solidRGBA(1, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	out, err := NewBlendCompositor(0.7, false).Composite(original, filledGray(1, 1, 255))
	require.NoError(t, err)

	assert.Equal(t, color.RGBA{R: 255, G: 179, B: 179, A: 255}, out.RGBAAt(0, 0))
}

func TestCompositeIntermediateMaskValues(t *testing.T) {
	original := solidRGBA(1, 1, color.RGBA{R: 100, G: 0, B: 0, A: 255})

	out, err := NewBlendCompositor(0.7, false).Composite(original, filledGray(1, 1, 10))
	require.NoError(t, err)

	// 70 + 3 = 73
	assert.Equal(t, uint8(73), out.RGBAAt(0, 0).R)
}

func TestCompositeRejectsMismatchedMask(t *testing.T) {
	c := NewBlendCompositor(0.7, false)
	original := solidRGBA(4, 4, color.RGBA{A: 255})

	for _, mask := range []*image.Gray{filledGray(4, 3, 0), filledGray(3, 4, 0), filledGray(8, 8, 0)} {
		out, err := c.Composite(original, mask)
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Nil(t, out)
	}
}

func TestCompositeRejectsNilInputs(t *testing.T) {
	c := NewBlendCompositor(0.7, false)

	_, err := c.Composite(nil, filledGray(1, 1, 0))
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = c.Composite(solidRGBA(1, 1, color.RGBA{A: 255}), nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCompositePreserveUnmasked(t *testing.T) {
	original := solidRGBA(2, 1, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	mask := image.NewGray(image.Rect(0, 0, 2, 1))
	mask.Pix[1] = 255

	out, err := NewBlendCompositor(0.7, true).Composite(original, mask)
	require.NoError(t, err)

	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 217, G: 70, B: 35, A: 255}, out.RGBAAt(1, 0))
}

func TestCompositeNormalizesColorModels(t *testing.T) {
	c := NewBlendCompositor(0.7, false)

	gray := image.NewGray(image.Rect(0, 0, 1, 1))
	gray.Pix[0] = 100
	out, err := c.Composite(gray, filledGray(1, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 70, G: 70, B: 70, A: 255}, out.RGBAAt(0, 0))

	// 透明通道被丢弃，颜色保持非预乘值
	nrgba := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	nrgba.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
	out, err = c.Composite(nrgba, filledGray(1, 1, 255))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 217, G: 70, B: 35, A: 255}, out.RGBAAt(0, 0))
}

func TestCompositeHandlesOffsetBounds(t *testing.T) {
	big := solidRGBA(10, 10, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	sub := big.SubImage(image.Rect(3, 4, 7, 9))
	maskBig := filledGray(20, 20, 255)
	mask := maskBig.SubImage(image.Rect(10, 10, 14, 15)).(*image.Gray)

	out, err := NewBlendCompositor(0.7, false).Composite(sub, mask)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 4, 5), out.Bounds())
	assert.Equal(t, color.RGBA{R: 217, G: 70, B: 35, A: 255}, out.RGBAAt(3, 4))
}

func TestCompositeIsDeterministic(t *testing.T) {
	c := NewBlendCompositor(0.7, false)
	original := solidRGBA(5, 5, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	mask := filledGray(5, 5, 99)

	a, err := c.Composite(original, mask)
	require.NoError(t, err)
	b, err := c.Composite(original, mask)
	require.NoError(t, err)

	assert.Equal(t, a.Pix, b.Pix)
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, original.RGBAAt(0, 0), "input must not be modified")
}

func TestFitMask(t *testing.T) {
	mask := filledGray(2, 2, 200)

	same, err := FitMask(mask, 2, 2)
	require.NoError(t, err)
	assert.Same(t, mask, same)

	resized, err := FitMask(mask, 6, 4)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 4), resized.Bounds())
	for _, v := range resized.Pix {
		require.Equal(t, uint8(200), v)
	}

	_, err = FitMask(nil, 2, 2)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = FitMask(mask, 0, 2)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewCompositorGoEngine(t *testing.T) {
	c, err := NewCompositor(&config.OverlayConfig{Alpha: 0.7, Engine: "go"})
	require.NoError(t, err)
	assert.IsType(t, &BlendCompositor{}, c)

	_, err = NewCompositor(&config.OverlayConfig{Alpha: 0.7, Engine: "vulkan"})
	require.Error(t, err)
}
