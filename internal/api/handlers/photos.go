package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/pipeline"
	"github.com/your-org/photofinder/internal/storage"
	"github.com/your-org/photofinder/pkg/dto"
)

// PhotoPipeline ingests and deletes photos.
type PhotoPipeline interface {
	Ingest(ctx context.Context, image []byte, mimeType string, eventID uuid.UUID) (*pipeline.IngestResult, error)
	Delete(ctx context.Context, photoID uuid.UUID) (*pipeline.DeleteResult, error)
}

type PhotoStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	GetPhotoWithFaces(ctx context.Context, id uuid.UUID) (*models.PhotoWithFaces, error)
	ListPhotos(ctx context.Context, eventID uuid.UUID, limit, offset int) ([]models.PhotoSummary, int, error)
}

// ImageStore serves stored photo bytes.
type ImageStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PresignedURL(ctx context.Context, key string) (string, time.Duration, error)
}

type PhotoHandler struct {
	pipeline       PhotoPipeline
	store          PhotoStore
	images         ImageStore
	pool           *ants.Pool
	maxUploadBytes int64
}

// NewPhotoHandler builds the photo endpoints. Batch uploads fan out on pool;
// a nil pool ingests batch files one after another.
func NewPhotoHandler(p PhotoPipeline, store PhotoStore, images ImageStore, pool *ants.Pool, maxUploadBytes int64) *PhotoHandler {
	return &PhotoHandler{
		pipeline:       p,
		store:          store,
		images:         images,
		pool:           pool,
		maxUploadBytes: maxUploadBytes,
	}
}

var errTooLarge = errors.New("image exceeds upload limit")

// readUpload reads one multipart file, refusing anything over the upload limit.
func (h *PhotoHandler) readUpload(fh *multipart.FileHeader) ([]byte, string, error) {
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		return nil, "", errTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	r := io.Reader(f)
	if h.maxUploadBytes > 0 {
		r = io.LimitReader(f, h.maxUploadBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if h.maxUploadBytes > 0 && int64(len(data)) > h.maxUploadBytes {
		return nil, "", errTooLarge
	}

	// Browsers often send octet-stream; let the pipeline sniff those.
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	return data, mimeType, nil
}

func uploadResponse(res *pipeline.IngestResult) *dto.UploadResponse {
	return &dto.UploadResponse{
		PhotoID:       res.PhotoID,
		FacesDetected: res.FacesDetected,
		Status:        res.Status,
		ImageURL:      photoImageURL(res.PhotoID),
	}
}

// Upload ingests a single multipart "image" into the event.
func (h *PhotoHandler) Upload(c *gin.Context) {
	eventID, ok := parseID(c, "id", "event")
	if !ok {
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "image file required")
		return
	}

	data, mimeType, err := h.readUpload(fh)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: err.Error(), Kind: string(pipeline.KindInvalidInput)})
			return
		}
		respondError(c, err)
		return
	}

	res, err := h.pipeline.Ingest(c.Request.Context(), data, mimeType, eventID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, uploadResponse(res))
}

// BatchUpload ingests every multipart "images" file into the event. Each file
// is independent; the response lists a result or an error per file, in
// request order.
func (h *PhotoHandler) BatchUpload(c *gin.Context) {
	eventID, ok := parseID(c, "id", "event")
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart form required")
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		badRequest(c, "at least one file in images required")
		return
	}

	ctx := c.Request.Context()
	log := observability.LoggerFromContext(ctx, nil)
	results := make([]dto.BatchUploadItem, len(files))

	ingest := func(i int) {
		fh := files[i]
		item := dto.BatchUploadItem{Filename: fh.Filename}
		defer func() { results[i] = item }()

		data, mimeType, err := h.readUpload(fh)
		if err != nil {
			item.Error = err.Error()
			item.Kind = string(pipeline.KindInvalidInput)
			return
		}
		res, err := h.pipeline.Ingest(observability.ContextWithLogger(ctx, log.With("filename", fh.Filename)), data, mimeType, eventID)
		if err != nil {
			item.Error = err.Error()
			item.Kind = string(pipeline.KindOf(err))
			return
		}
		item.Photo = uploadResponse(res)
	}

	var wg sync.WaitGroup
	for i := range files {
		i := i
		if h.pool == nil {
			ingest(i)
			continue
		}
		wg.Add(1)
		if err := h.pool.Submit(func() {
			defer wg.Done()
			ingest(i)
		}); err != nil {
			wg.Done()
			results[i] = dto.BatchUploadItem{Filename: files[i].Filename, Error: err.Error()}
		}
	}
	wg.Wait()

	resp := dto.BatchUploadResponse{Results: results}
	for _, r := range results {
		if r.Photo != nil {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	log.Info("batch upload finished", "event_id", eventID, "succeeded", resp.Succeeded, "failed", resp.Failed)

	status := http.StatusCreated
	if resp.Succeeded == 0 {
		status = http.StatusUnprocessableEntity
	} else if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, resp)
}

func photoResponse(p *models.Photo, faceCount int) dto.PhotoResponse {
	return dto.PhotoResponse{
		ID:        p.ID,
		EventID:   p.EventID,
		MimeType:  p.MimeType,
		Status:    string(p.Status),
		FaceCount: faceCount,
		ImageURL:  photoImageURL(p.ID),
		CreatedAt: p.CreatedAt.Format(timeFormat),
		UpdatedAt: p.UpdatedAt.Format(timeFormat),
	}
}

// List pages through an event's photos.
func (h *PhotoHandler) List(c *gin.Context) {
	eventID, ok := parseID(c, "id", "event")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := h.store.GetEvent(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(c, "event not found")
			return
		}
		respondError(c, err)
		return
	}

	photos, total, err := h.store.ListPhotos(c.Request.Context(), eventID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.PhotoResponse, 0, len(photos))
	for i := range photos {
		resp = append(resp, photoResponse(&photos[i].Photo, photos[i].FaceCount))
	}
	c.JSON(http.StatusOK, dto.PhotoListResponse{Photos: resp, Total: total, Limit: limit, Offset: offset})
}

func (h *PhotoHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "photo")
	if !ok {
		return
	}

	photo, err := h.store.GetPhotoWithFaces(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(c, "photo not found")
			return
		}
		respondError(c, err)
		return
	}

	faces := make([]dto.FaceResponse, 0, len(photo.Faces))
	for _, f := range photo.Faces {
		faces = append(faces, dto.FaceResponse{
			ID:         f.ID,
			Confidence: f.Confidence,
			BBox:       dto.BBox(f.BBox),
		})
	}
	c.JSON(http.StatusOK, dto.PhotoDetailResponse{
		PhotoResponse: photoResponse(&photo.Photo, len(faces)),
		Faces:         faces,
	})
}

// Delete removes a photo from every store. Cleanup warnings do not fail the request.
func (h *PhotoHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "photo")
	if !ok {
		return
	}

	res, err := h.pipeline.Delete(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DeletePhotoResponse{
		PhotoID:      res.PhotoID,
		Message:      res.Message,
		FacesRemoved: res.FacesRemoved,
		Warnings:     res.Warnings,
	})
}

// Image proxies the stored photo bytes.
func (h *PhotoHandler) Image(c *gin.Context) {
	photo, ok := h.lookup(c)
	if !ok {
		return
	}

	data, err := h.images.GetObject(c.Request.Context(), photo.StorageRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(c, "image not found")
			return
		}
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, photo.MimeType, data)
}

// URL returns a time-limited direct download link for the photo.
func (h *PhotoHandler) URL(c *gin.Context) {
	photo, ok := h.lookup(c)
	if !ok {
		return
	}

	url, expiry, err := h.images.PresignedURL(c.Request.Context(), photo.StorageRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PhotoURLResponse{URL: url, ExpiresIn: int(expiry.Seconds())})
}

func (h *PhotoHandler) lookup(c *gin.Context) (*models.Photo, bool) {
	id, ok := parseID(c, "id", "photo")
	if !ok {
		return nil, false
	}
	photo, err := h.store.GetPhoto(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFound(c, "photo not found")
		} else {
			respondError(c, err)
		}
		return nil, false
	}
	return photo, true
}
