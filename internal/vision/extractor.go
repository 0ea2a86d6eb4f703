package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/photofinder/internal/config"
	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
)

const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
)

type faceDetector interface {
	InputSize() (int, int)
	Detect(imgData []float32, origW, origH int) ([]Detection, error)
	Close()
}

type faceEmbedder interface {
	InputSize() (int, int)
	Extract(faceData []float32) ([]float32, error)
	Close()
}

// Extractor finds faces in an encoded image and computes an ArcFace embedding
// for each. ONNX sessions hold fixed input tensors, so calls are serialised.
type Extractor struct {
	mu          sync.Mutex
	detector    faceDetector
	embedder    faceEmbedder
	minFaceSize float32
	logger      *slog.Logger
}

// NewExtractor loads the detection and embedding models from cfg.ModelsDir.
// The ONNX runtime environment must already be initialised.
func NewExtractor(cfg config.VisionConfig, opts *ort.SessionOptions, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	detPath := filepath.Join(cfg.ModelsDir, detectorModel)
	embPath := filepath.Join(cfg.ModelsDir, embedderModel)

	logger.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), opts)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	logger.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, opts)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	logger.Info("face extractor ready")
	return newExtractor(det, emb, float32(cfg.MinFaceSize), logger), nil
}

func newExtractor(det faceDetector, emb faceEmbedder, minFaceSize float32, logger *slog.Logger) *Extractor {
	return &Extractor{
		detector:    det,
		embedder:    emb,
		minFaceSize: minFaceSize,
		logger:      logger,
	}
}

// DetectFaces returns every face found in data, most confident first. An image
// without faces yields an empty slice; undecodable data is an error.
func (x *Extractor) DetectFaces(ctx context.Context, data []byte) ([]models.DetectedFace, error) {
	start := time.Now()
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	detW, detH := x.detector.InputSize()

	start = time.Now()
	detInput := preprocessForDetection(img, detW, detH)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	x.mu.Lock()
	defer x.mu.Unlock()

	start = time.Now()
	detections, err := x.detector.Detect(detInput, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	embW, embH := x.embedder.InputSize()
	faces := make([]models.DetectedFace, 0, len(detections))
	for _, det := range detections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if w, h := det.BBox[2]-det.BBox[0], det.BBox[3]-det.BBox[1]; w < x.minFaceSize || h < x.minFaceSize {
			continue
		}

		face := x.faceInput(img, offsetDetection(det, bounds.Min.X, bounds.Min.Y), embW, embH)
		if face == nil {
			continue
		}

		start = time.Now()
		embedding, err := x.embedder.Extract(preprocessForEmbedding(face, embW, embH))
		if err != nil {
			return nil, fmt.Errorf("embed face: %w", err)
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		faces = append(faces, models.DetectedFace{
			BBox:       det.BBox,
			Confidence: det.Confidence,
			Embedding:  embedding,
		})
	}

	x.logger.Debug("faces extracted", "detections", len(detections), "faces", len(faces))
	return faces, nil
}

// faceInput aligns the face on its landmarks, falling back to a padded box
// crop when they are degenerate. det must be in img's coordinate space.
func (x *Extractor) faceInput(img image.Image, det Detection, w, h int) image.Image {
	if aligned, ok := alignFace(img, det.Landmarks, w); ok {
		return aligned
	}
	crop := cropFace(img, det.BBox)
	if crop == nil {
		return nil
	}
	return resizeImage(crop, w, h)
}

// offsetDetection moves a detection from origin-relative to img.Bounds coordinates.
func offsetDetection(d Detection, dx, dy int) Detection {
	if dx == 0 && dy == 0 {
		return d
	}
	fx, fy := float32(dx), float32(dy)
	d.BBox = [4]float32{d.BBox[0] + fx, d.BBox[1] + fy, d.BBox[2] + fx, d.BBox[3] + fy}
	for i := range d.Landmarks {
		d.Landmarks[i][0] += fx
		d.Landmarks[i][1] += fy
	}
	return d
}

// Close releases all ONNX sessions.
func (x *Extractor) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.detector != nil {
		x.detector.Close()
	}
	if x.embedder != nil {
		x.embedder.Close()
	}
}
