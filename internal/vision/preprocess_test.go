package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	data := encodePNG(t, solidImage(8, 6, color.RGBA{R: 200, A: 255}))

	img, err := decodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())

	_, err = decodeImage([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestImageToFloat32CHWLayout(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{R: 255, G: 127, B: 0, A: 255})

	data := imageToFloat32CHW(img, 2, 3, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
	require.Len(t, data, 3*2*3)

	plane := 2 * 3
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 1.0, data[i], 1e-3, "red plane")
		assert.InDelta(t, -0.0039, data[plane+i], 1e-2, "green plane")
		assert.InDelta(t, -1.0, data[2*plane+i], 1e-3, "blue plane")
	}
}

func TestResizeImageKeepsMatchingRGBA(t *testing.T) {
	img := solidImage(5, 5, color.RGBA{A: 255})
	assert.Same(t, img, resizeImage(img, 5, 5))

	out := resizeImage(img, 10, 2)
	assert.Equal(t, image.Rect(0, 0, 10, 2), out.Bounds())
}

func TestCropFace(t *testing.T) {
	img := solidImage(100, 100, color.RGBA{G: 255, A: 255})

	crop := cropFace(img, [4]float32{20, 20, 60, 80})
	require.NotNil(t, crop)
	assert.Equal(t, 48, crop.Bounds().Dx(), "40px box plus 4px padding per side")
	assert.Equal(t, 72, crop.Bounds().Dy())

	edge := cropFace(img, [4]float32{-10, -10, 30, 30})
	require.NotNil(t, edge)
	assert.LessOrEqual(t, edge.Bounds().Dx(), 34)

	assert.Nil(t, cropFace(img, [4]float32{150, 150, 200, 200}))
	assert.Nil(t, cropFace(img, [4]float32{50, 50, 50, 60}))
}

func TestSimilarityTransformIdentityOnTemplate(t *testing.T) {
	var lm [5][2]float32
	for i, p := range arcFaceTemplate {
		lm[i] = [2]float32{float32(p[0]), float32(p[1])}
	}

	m, ok := similarityTransform(lm, arcFaceSize)
	require.True(t, ok)
	assert.InDelta(t, 1, m[0], 1e-6)
	assert.InDelta(t, 0, m[1], 1e-6)
	assert.InDelta(t, 0, m[2], 1e-4)
	assert.InDelta(t, 0, m[3], 1e-6)
	assert.InDelta(t, 1, m[4], 1e-6)
	assert.InDelta(t, 0, m[5], 1e-4)
}

func TestSimilarityTransformScaledAndShifted(t *testing.T) {
	// Landmarks at twice the template size, offset by (100, 50).
	var lm [5][2]float32
	for i, p := range arcFaceTemplate {
		lm[i] = [2]float32{float32(p[0]*2 + 100), float32(p[1]*2 + 50)}
	}

	m, ok := similarityTransform(lm, arcFaceSize)
	require.True(t, ok)

	for i, p := range lm {
		x := m[0]*float64(p[0]) + m[1]*float64(p[1]) + m[2]
		y := m[3]*float64(p[0]) + m[4]*float64(p[1]) + m[5]
		assert.InDelta(t, arcFaceTemplate[i][0], x, 1e-3)
		assert.InDelta(t, arcFaceTemplate[i][1], y, 1e-3)
	}
	assert.InDelta(t, 0.5, math.Hypot(m[0], m[3]), 1e-6)
}

func TestAlignFaceDegenerateLandmarks(t *testing.T) {
	img := solidImage(50, 50, color.RGBA{A: 255})

	_, ok := alignFace(img, [5][2]float32{}, arcFaceSize)
	assert.False(t, ok)

	var lm [5][2]float32
	for i, p := range arcFaceTemplate {
		lm[i] = [2]float32{float32(p[0]) / 3, float32(p[1]) / 3}
	}
	out, ok := alignFace(img, lm, arcFaceSize)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, arcFaceSize, arcFaceSize), out.Bounds())
}
