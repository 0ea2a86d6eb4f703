package pipeline

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/storage"
)

var errInjected = errors.New("injected failure")

// fakeBlobs is an in-memory BlobStore.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte

	PutError    error
	DeleteError error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (b *fakeBlobs) PutObject(_ context.Context, key string, data []byte, _ string) error {
	if b.PutError != nil {
		return b.PutError
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *fakeBlobs) GetObject(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (b *fakeBlobs) DeleteObject(_ context.Context, key string) error {
	if b.DeleteError != nil {
		return b.DeleteError
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobs) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func (b *fakeBlobs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// fakeExtractor returns a fixed detection list.
type fakeExtractor struct {
	mu    sync.Mutex
	Faces []models.DetectedFace
	Err   error
	calls int

	// block, when set, is waited on before returning.
	block chan struct{}
}

func (e *fakeExtractor) DetectFaces(ctx context.Context, _ []byte) ([]models.DetectedFace, error) {
	e.mu.Lock()
	e.calls++
	block := e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Faces, nil
}

func (e *fakeExtractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type vectorEntry struct {
	vector []float32
	tags   models.VectorTags
}

// fakeVectors is an exact cosine index over a map.
type fakeVectors struct {
	mu      sync.Mutex
	entries map[string]vectorEntry
	order   []string

	// FailInsertOn fails the n-th Insert call (1-based); 0 disables it.
	FailInsertOn int
	DeleteError  error
	QueryError   error
	// QueryResult, when non-nil, is returned by Query verbatim.
	QueryResult []models.VectorMatch
	MaxDistance float64
	// BeforeInsert, when set, runs ahead of every Insert without holding the
	// fake's lock; an error fails that Insert.
	BeforeInsert func(ctx context.Context, vector []float32) error

	inserts int
	queries int
	deletes int
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{entries: make(map[string]vectorEntry), MaxDistance: 1}
}

func (v *fakeVectors) Insert(ctx context.Context, vector []float32, tags models.VectorTags) (string, error) {
	if v.BeforeInsert != nil {
		if err := v.BeforeInsert(ctx, vector); err != nil {
			return "", err
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inserts++
	if v.FailInsertOn != 0 && v.inserts == v.FailInsertOn {
		return "", errInjected
	}
	id := uuid.NewString()
	v.entries[id] = vectorEntry{vector: append([]float32(nil), vector...), tags: tags}
	v.order = append(v.order, id)
	return id, nil
}

func (v *fakeVectors) Delete(_ context.Context, vectorID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deletes++
	if v.DeleteError != nil {
		return v.DeleteError
	}
	delete(v.entries, vectorID)
	return nil
}

func (v *fakeVectors) Query(_ context.Context, vector []float32, k int, eventID *uuid.UUID) ([]models.VectorMatch, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queries++
	if v.QueryError != nil {
		return nil, v.QueryError
	}
	if v.QueryResult != nil {
		return v.QueryResult, nil
	}

	var out []models.VectorMatch
	for _, id := range v.order {
		e, ok := v.entries[id]
		if !ok {
			continue
		}
		if eventID != nil && e.tags.EventID != *eventID {
			continue
		}
		d := cosineDistance(vector, e.vector) / 2
		if d > v.MaxDistance {
			continue
		}
		out = append(out, models.VectorMatch{VectorID: id, PhotoID: e.tags.PhotoID, EventID: e.tags.EventID, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (v *fakeVectors) Has(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.entries[id]
	return ok
}

func (v *fakeVectors) CountForPhoto(photoID uuid.UUID) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, e := range v.entries {
		if e.tags.PhotoID == photoID {
			n++
		}
	}
	return n
}

func (v *fakeVectors) Calls() (inserts, deletes, queries int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inserts, v.deletes, v.queries
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// fakeMetadata enforces the same referential rules as the Postgres schema.
type fakeMetadata struct {
	mu     sync.Mutex
	events map[uuid.UUID]models.Event
	photos map[uuid.UUID]models.Photo
	faces  map[uuid.UUID]models.Face

	CreatePhotoError     error
	CreateFaceError      error
	FailCreateFaceOn     int
	UpdateStatusError    error
	FailStatus           models.PhotoStatus
	GetError             error
	DeleteFacesError     error
	ListByStatusError    error
	VectorsMustExist     *fakeVectors
	danglingFaceRowsSeen int
	calls                int
	faceCreates          int
	statusUpdateAttempts []models.PhotoStatus
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		events: make(map[uuid.UUID]models.Event),
		photos: make(map[uuid.UUID]models.Photo),
		faces:  make(map[uuid.UUID]models.Face),
	}
}

func (m *fakeMetadata) AddEvent(name string) models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := models.Event{
		ID:      uuid.New(),
		Name:    name,
		Date:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:  models.EventStatusActive,
		Privacy: models.PrivacyPublic,
	}
	m.events[ev.ID] = ev
	return ev
}

func (m *fakeMetadata) CreatePhoto(_ context.Context, p *models.Photo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.CreatePhotoError != nil {
		return m.CreatePhotoError
	}
	if _, ok := m.events[p.EventID]; !ok {
		return storage.ErrEventNotFound
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.photos[p.ID] = *p
	return nil
}

func (m *fakeMetadata) UpdatePhotoStatus(_ context.Context, id uuid.UUID, status models.PhotoStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.statusUpdateAttempts = append(m.statusUpdateAttempts, status)
	if m.UpdateStatusError != nil && (m.FailStatus == "" || m.FailStatus == status) {
		return m.UpdateStatusError
	}
	p, ok := m.photos[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !p.Status.CanTransitionTo(status) {
		return storage.ErrInvalidTransition
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	m.photos[id] = p
	return nil
}

func (m *fakeMetadata) CreateFace(_ context.Context, f *models.Face) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.faceCreates++
	if m.CreateFaceError != nil && (m.FailCreateFaceOn == 0 || m.FailCreateFaceOn == m.faceCreates) {
		return m.CreateFaceError
	}
	if _, ok := m.photos[f.PhotoID]; !ok {
		return errors.New("foreign key violation: photo missing")
	}
	if m.VectorsMustExist != nil && f.VectorID != nil && !m.VectorsMustExist.Has(*f.VectorID) {
		m.danglingFaceRowsSeen++
	}
	f.CreatedAt = time.Now()
	m.faces[f.ID] = *f
	return nil
}

func (m *fakeMetadata) GetPhotoWithFaces(_ context.Context, id uuid.UUID) (*models.PhotoWithFaces, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.GetError != nil {
		return nil, m.GetError
	}
	p, ok := m.photos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := &models.PhotoWithFaces{Photo: p}
	for _, f := range m.faces {
		if f.PhotoID == id {
			out.Faces = append(out.Faces, f)
		}
	}
	return out, nil
}

func (m *fakeMetadata) GetPhotoWithEvent(_ context.Context, id uuid.UUID) (*models.PhotoWithEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.GetError != nil {
		return nil, m.GetError
	}
	p, ok := m.photos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &models.PhotoWithEvent{Photo: p, Event: m.events[p.EventID]}, nil
}

func (m *fakeMetadata) DeleteFacesByPhoto(_ context.Context, photoID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.DeleteFacesError != nil {
		return 0, m.DeleteFacesError
	}
	var n int64
	for id, f := range m.faces {
		if f.PhotoID == photoID {
			delete(m.faces, id)
			n++
		}
	}
	return n, nil
}

func (m *fakeMetadata) DeletePhoto(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, f := range m.faces {
		if f.PhotoID == id {
			return errors.New("foreign key violation: faces reference photo")
		}
	}
	if _, ok := m.photos[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.photos, id)
	return nil
}

func (m *fakeMetadata) ListPhotosByStatus(_ context.Context, status models.PhotoStatus, updatedBefore time.Time) ([]models.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.ListByStatusError != nil {
		return nil, m.ListByStatusError
	}
	var out []models.Photo
	for _, p := range m.photos {
		if p.Status == status && p.UpdatedAt.Before(updatedBefore) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *fakeMetadata) Photo(id uuid.UUID) (models.Photo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.photos[id]
	return p, ok
}

func (m *fakeMetadata) SetPhoto(p models.Photo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[p.ID] = p
}

func (m *fakeMetadata) FacesFor(photoID uuid.UUID) []models.Face {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Face
	for _, f := range m.faces {
		if f.PhotoID == photoID {
			out = append(out, f)
		}
	}
	return out
}

func (m *fakeMetadata) AllFaces() []models.Face {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Face, 0, len(m.faces))
	for _, f := range m.faces {
		out = append(out, f)
	}
	return out
}

func (m *fakeMetadata) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.PhotoNotification
	Err  error
}

func (n *fakeNotifier) NotifyPhoto(_ context.Context, note models.PhotoNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.Err
}

func (n *fakeNotifier) Types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.Type
	}
	return out
}

// failingLocker is a PhotoLocker whose every call fails with err.
type failingLocker struct {
	err error
}

func (l failingLocker) Lock(context.Context, uuid.UUID) (func(), error) {
	return nil, l.err
}

func (l failingLocker) TryLock(context.Context, uuid.UUID) (func(), bool, error) {
	return nil, false, l.err
}

func face(vec ...float32) models.DetectedFace {
	return models.DetectedFace{
		BBox:       [4]float32{10, 20, 110, 140},
		Confidence: 0.98,
		Embedding:  vec,
	}
}
