package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// maxPixels rejects decompression bombs before the full decode.
const maxPixels = 60_000_000

const arcFaceSize = 112

// arcFaceTemplate holds the canonical landmark positions of a 112x112 ArcFace crop.
var arcFaceTemplate = [5][2]float64{
	{38.2946, 51.6963},
	{73.5318, 51.5014},
	{56.0252, 71.7366},
	{41.5493, 92.3655},
	{70.7299, 92.2041},
}

var errEmptyImage = errors.New("image has no pixels")

// decodeImage decodes any registered format (JPEG, PNG, GIF, WebP, BMP, TIFF).
func decodeImage(data []byte) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errEmptyImage
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%s image is %dx%d, larger than %d pixels", format, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s image: %w", format, err)
	}
	return img, nil
}

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW converts an image to CHW float32 format with normalization:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	rgba := resizeImage(img, targetW, targetH)
	plane := targetW * targetH
	data := make([]float32, 3*plane)

	for y := 0; y < targetH; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < targetW; x++ {
			px := row[x*4 : x*4+3]
			idx := y*targetW + x
			data[idx] = (float32(px[0]) - mean[0]) / std[0]
			data[plane+idx] = (float32(px[1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(px[2]) - mean[2]) / std[2]
		}
	}
	return data
}

// resizeImage stretches img to targetW x targetH with bilinear sampling.
func resizeImage(img image.Image, targetW, targetH int) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect == image.Rect(0, 0, targetW, targetH) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// cropFace extracts a face region padded by 10% per side, clamped to the image.
// It returns nil for an empty box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(bounds)
	if r.Empty() {
		return nil
	}

	padW := r.Dx() / 10
	padH := r.Dy() / 10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(bounds)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}

// alignFace warps img so the five landmarks land on the ArcFace template,
// producing a size x size crop. ok is false when the landmarks are degenerate.
func alignFace(img image.Image, landmarks [5][2]float32, size int) (aligned *image.RGBA, ok bool) {
	m, ok := similarityTransform(landmarks, size)
	if !ok {
		return nil, false
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Transform(dst, m, img, img.Bounds(), draw.Src, nil)
	return dst, true
}

// similarityTransform estimates the least-squares rotation, uniform scale and
// translation mapping landmarks onto the template scaled to size.
func similarityTransform(landmarks [5][2]float32, size int) (f64.Aff3, bool) {
	scale := float64(size) / arcFaceSize

	var srcMean, dstMean [2]float64
	for i := range landmarks {
		srcMean[0] += float64(landmarks[i][0])
		srcMean[1] += float64(landmarks[i][1])
		dstMean[0] += arcFaceTemplate[i][0] * scale
		dstMean[1] += arcFaceTemplate[i][1] * scale
	}
	for k := 0; k < 2; k++ {
		srcMean[k] /= 5
		dstMean[k] /= 5
	}

	var num1, num2, den float64
	for i := range landmarks {
		sx := float64(landmarks[i][0]) - srcMean[0]
		sy := float64(landmarks[i][1]) - srcMean[1]
		dx := arcFaceTemplate[i][0]*scale - dstMean[0]
		dy := arcFaceTemplate[i][1]*scale - dstMean[1]
		num1 += sx*dx + sy*dy
		num2 += sx*dy - sy*dx
		den += sx*sx + sy*sy
	}
	if den < 1e-6 {
		return f64.Aff3{}, false
	}

	a := num1 / den
	b := num2 / den
	tx := dstMean[0] - (a*srcMean[0] - b*srcMean[1])
	ty := dstMean[1] - (b*srcMean[0] + a*srcMean[1])

	return f64.Aff3{a, -b, tx, b, a, ty}, true
}
