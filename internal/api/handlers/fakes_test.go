package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/internal/pipeline"
	"github.com/your-org/photofinder/internal/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	err      error
	events   map[uuid.UUID]*models.Event
	photos   map[uuid.UUID]*models.PhotoWithFaces
	removals map[uuid.UUID]*models.RemovalRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:   map[uuid.UUID]*models.Event{},
		photos:   map[uuid.UUID]*models.PhotoWithFaces{},
		removals: map[uuid.UUID]*models.RemovalRequest{},
	}
}

func (s *fakeStore) addEvent(name string) *models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := &models.Event{
		ID:      uuid.New(),
		Name:    name,
		Date:    time.Date(2026, 5, 17, 0, 0, 0, 0, time.UTC),
		Status:  models.EventStatusActive,
		Privacy: models.PrivacyPublic,
	}
	s.events[ev.ID] = ev
	return ev
}

func (s *fakeStore) addPhoto(eventID uuid.UUID, status models.PhotoStatus, faces int) *models.PhotoWithFaces {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &models.PhotoWithFaces{Photo: models.Photo{
		ID:        uuid.New(),
		EventID:   eventID,
		MimeType:  "image/jpeg",
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}}
	for i := 0; i < faces; i++ {
		p.Faces = append(p.Faces, models.Face{
			ID:         uuid.New(),
			PhotoID:    p.ID,
			Confidence: 0.9,
			BBox:       models.BBox{X: 10, Y: 20, Width: 30, Height: 40},
		})
	}
	p.StorageRef = pipeline.BlobKey(eventID, p.ID, p.MimeType)
	s.photos[p.ID] = p
	return p
}

func (s *fakeStore) CreateEvent(_ context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	ev.ID = uuid.New()
	if ev.Privacy == "" {
		ev.Privacy = models.PrivacyPublic
	}
	ev.CreatedAt, ev.UpdatedAt = time.Now(), time.Now()
	cp := *ev
	s.events[ev.ID] = &cp
	return nil
}

func (s *fakeStore) ListEvents(context.Context) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []models.Event{}
	for _, ev := range s.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ev, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *fakeStore) UpdateEventStatus(_ context.Context, id uuid.UUID, status models.EventStatus) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !ev.Status.CanTransitionTo(status) {
		return nil, storage.ErrInvalidTransition
	}
	ev.Status = status
	cp := *ev
	return &cp, nil
}

func (s *fakeStore) GetPhoto(_ context.Context, id uuid.UUID) (*models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.photos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := p.Photo
	return &cp, nil
}

func (s *fakeStore) GetPhotoWithFaces(_ context.Context, id uuid.UUID) (*models.PhotoWithFaces, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.photos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) ListPhotos(_ context.Context, eventID uuid.UUID, limit, offset int) ([]models.PhotoSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, 0, s.err
	}
	all := []models.PhotoSummary{}
	for _, p := range s.photos {
		if p.EventID == eventID {
			all = append(all, models.PhotoSummary{Photo: p.Photo, FaceCount: len(p.Faces)})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *fakeStore) CreateRemovalRequest(_ context.Context, r *models.RemovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.photos[r.PhotoID]; !ok {
		return storage.ErrNotFound
	}
	r.ID = uuid.New()
	r.Status = models.RemovalStatusPending
	r.CreatedAt, r.UpdatedAt = time.Now(), time.Now()
	cp := *r
	s.removals[r.ID] = &cp
	return nil
}

func (s *fakeStore) withPhoto(r *models.RemovalRequest) models.RemovalRequestWithPhoto {
	out := models.RemovalRequestWithPhoto{RemovalRequest: *r}
	if p, ok := s.photos[r.PhotoID]; ok {
		photo := p.Photo
		out.Photo = &photo
		if ev, ok := s.events[p.EventID]; ok {
			out.EventName = ev.Name
		}
	}
	return out
}

func (s *fakeStore) ListRemovalRequests(_ context.Context, status *models.RemovalStatus) ([]models.RemovalRequestWithPhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := []models.RemovalRequestWithPhoto{}
	for _, r := range s.removals {
		if status != nil && r.Status != *status {
			continue
		}
		out = append(out, s.withPhoto(r))
	}
	return out, nil
}

func (s *fakeStore) GetRemovalRequest(_ context.Context, id uuid.UUID) (*models.RemovalRequestWithPhoto, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.removals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := s.withPhoto(r)
	return &out, nil
}

func (s *fakeStore) UpdateRemovalStatus(_ context.Context, id uuid.UUID, status models.RemovalStatus) (*models.RemovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.removals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !r.Status.CanTransitionTo(status) {
		return nil, storage.ErrInvalidTransition
	}
	r.Status = status
	cp := *r
	return &cp, nil
}

func (s *fakeStore) DeleteRemovalRequest(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.removals[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.removals, id)
	return nil
}

func (s *fakeStore) removal(id uuid.UUID) models.RemovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.removals[id]
}

// fakePipeline records ingests; images whose bytes start with "bad" fail
// with InvalidInput.
type fakePipeline struct {
	mu        sync.Mutex
	ingested  []string
	mimeTypes []string
	deleteRes *pipeline.DeleteResult
	deleteErr error
}

func (p *fakePipeline) Ingest(_ context.Context, image []byte, mimeType string, eventID uuid.UUID) (*pipeline.IngestResult, error) {
	if bytes.HasPrefix(image, []byte("bad")) {
		return nil, &pipeline.Error{Kind: pipeline.KindInvalidInput, Op: "ingest", Err: errors.New("unsupported image")}
	}
	p.mu.Lock()
	p.ingested = append(p.ingested, string(image))
	p.mimeTypes = append(p.mimeTypes, mimeType)
	p.mu.Unlock()
	id := uuid.New()
	return &pipeline.IngestResult{
		PhotoID:       id,
		StorageRef:    pipeline.BlobKey(eventID, id, mimeType),
		FacesDetected: 2,
		Status:        pipeline.StatusSuccess,
	}, nil
}

func (p *fakePipeline) Delete(_ context.Context, photoID uuid.UUID) (*pipeline.DeleteResult, error) {
	if p.deleteErr != nil {
		return nil, p.deleteErr
	}
	if p.deleteRes != nil {
		return p.deleteRes, nil
	}
	return &pipeline.DeleteResult{PhotoID: photoID, Message: "Photo deleted successfully", FacesRemoved: 1}, nil
}

type fakeImages struct {
	objects map[string][]byte
}

func (f *fakeImages) GetObject(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (f *fakeImages) PresignedURL(_ context.Context, key string) (string, time.Duration, error) {
	return "https://minio.local/photos/" + key + "?X-Amz-Signature=abc", 15 * time.Minute, nil
}

type fakeSearcher struct {
	res     *pipeline.SearchResult
	err     error
	gotOpts pipeline.SearchOptions
	gotLen  int
}

func (s *fakeSearcher) SearchByImage(_ context.Context, image []byte, opts pipeline.SearchOptions) (*pipeline.SearchResult, error) {
	s.gotOpts = opts
	s.gotLen = len(image)
	if len(image) == 0 {
		return nil, &pipeline.Error{Kind: pipeline.KindInvalidInput, Op: "search", Err: errors.New("image is empty")}
	}
	return s.res, s.err
}

type fakePublisher struct {
	err   error
	tasks []models.RemovalTask
}

func (p *fakePublisher) PublishRemoval(_ context.Context, task models.RemovalTask) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

// newTestEngine returns a gin engine whose requests carry a discard logger.
func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(observability.ContextWithLogger(c.Request.Context(), logger))
		c.Next()
	})
	return r
}

type upload struct {
	field, filename, contentType string
	data                         []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func do(r http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, r http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return do(r, method, path, body, "application/json")
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
