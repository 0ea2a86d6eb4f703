package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection represents a detected face.
type Detection struct {
	BBox       [4]float32    // x1, y1, x2, y2 (pixel coordinates)
	Confidence float32
	Landmarks  [5][2]float32 // left eye, right eye, nose, left mouth, right mouth
}

// Detector runs RetinaFace face detection using ONNX Runtime.
// A Detector is not safe for concurrent use; Extractor serialises access.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	nmsThreshold  float32
	inputW        int
	inputH        int
}

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per pixel at each stride
const anchorsPerStride = 2

const detInputSize = 640

// det_10g output names, grouped scores / bboxes / landmarks, each for strides 8, 16, 32.
// Shapes carry no batch dimension: [N,1], [N,4], [N,10] with N = (640/stride)^2 * 2.
var detOutputNames = [3][3]string{
	{"448", "471", "494"},
	{"451", "474", "497"},
	{"454", "477", "500"},
}

var detOutputWidths = [3]int64{1, 4, 10}

// NewDetector loads the RetinaFace ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := detInputSize, detInputSize

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	var (
		outputNames   []string
		outputTensors []*ort.Tensor[float32]
		outputValues  []ort.Value
	)
	destroy := func() {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
	}

	for group, names := range detOutputNames {
		for si, name := range names {
			anchors := int64(inputW/strides[si]) * int64(inputH/strides[si]) * anchorsPerStride
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(anchors, detOutputWidths[group]))
			if err != nil {
				destroy()
				return nil, fmt.Errorf("create output tensor %s: %w", name, err)
			}
			outputNames = append(outputNames, name)
			outputTensors = append(outputTensors, t)
			outputValues = append(outputValues, t)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		nmsThreshold:  0.4,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect runs face detection on a preprocessed image.
// imgData should be CHW format [3, inputH, inputW], normalized.
// origW/origH are the original image dimensions for coordinate scaling.
// Results are ordered by descending confidence.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var out strideOutputs
	for si := range strides {
		out.scores[si] = d.outputTensors[si].GetData()
		out.bboxes[si] = d.outputTensors[3+si].GetData()
		out.landmarks[si] = d.outputTensors[6+si].GetData()
	}

	detections := decodeDetections(out, d.inputW, d.inputH, origW, origH, d.threshold)
	return nms(detections, d.nmsThreshold), nil
}

type strideOutputs struct {
	scores    [3][]float32
	bboxes    [3][]float32
	landmarks [3][]float32
}

// decodeDetections decodes anchor-based RetinaFace outputs at strides 8, 16, 32
// into boxes in original image coordinates.
func decodeDetections(out strideOutputs, inputW, inputH, origW, origH int, threshold float32) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(inputW)
	scaleH := float32(origH) / float32(inputH)

	for si, stride := range strides {
		scores, bboxes, landmarks := out.scores[si], out.bboxes[si], out.landmarks[si]
		fmW := inputW / stride
		fmH := inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a, idx = a+1, idx+1 {
					if idx >= len(scores) || scores[idx] < threshold {
						continue
					}
					anchorX := float32(cx) * st
					anchorY := float32(cy) * st

					// Distances from the anchor centre to each edge, in stride units.
					x1 := clampF((anchorX-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW))
					y1 := clampF((anchorY-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH))
					x2 := clampF((anchorX+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW))
					y2 := clampF((anchorY+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH))
					if x2 <= x1 || y2 <= y1 {
						continue
					}

					var lm [5][2]float32
					for li := 0; li < 5; li++ {
						lm[li][0] = (anchorX + landmarks[idx*10+li*2]*st) * scaleW
						lm[li][1] = (anchorY + landmarks[idx*10+li*2+1]*st) * scaleH
					}

					detections = append(detections, Detection{
						BBox:       [4]float32{x1, y1, x2, y2},
						Confidence: scores[idx],
						Landmarks:  lm,
					})
				}
			}
		}
	}

	return detections
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs Non-Maximum Suppression, keeping the most confident of each
// overlapping group. The result is sorted by descending confidence.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if keep[j] && iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
