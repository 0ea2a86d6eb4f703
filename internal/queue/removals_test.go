package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/photofinder/internal/models"
	"github.com/your-org/photofinder/internal/pipeline"
	"github.com/your-org/photofinder/internal/storage"
)

type fakeDeleter struct {
	err     error
	deleted []uuid.UUID
}

func (d *fakeDeleter) Delete(_ context.Context, photoID uuid.UUID) (*pipeline.DeleteResult, error) {
	d.deleted = append(d.deleted, photoID)
	if d.err != nil {
		return nil, d.err
	}
	return &pipeline.DeleteResult{PhotoID: photoID, FacesRemoved: 2}, nil
}

type fakeRemovalStore struct {
	err     error
	updates map[uuid.UUID]models.RemovalStatus
}

func (s *fakeRemovalStore) UpdateRemovalStatus(_ context.Context, id uuid.UUID, status models.RemovalStatus) (*models.RemovalRequest, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.updates == nil {
		s.updates = map[uuid.UUID]models.RemovalStatus{}
	}
	s.updates[id] = status
	return &models.RemovalRequest{ID: id, Status: status}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func removalPayload(t *testing.T, task models.RemovalTask) []byte {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return data
}

func TestRemovalHandlerCompletesRequest(t *testing.T) {
	deleter, store := &fakeDeleter{}, &fakeRemovalStore{}
	task := models.RemovalTask{RequestID: uuid.New(), PhotoID: uuid.New()}

	err := RemovalHandler(deleter, store, discardLogger())(context.Background(), removalPayload(t, task))
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{task.PhotoID}, deleter.deleted)
	assert.Equal(t, models.RemovalStatusCompleted, store.updates[task.RequestID])
}

func TestRemovalHandlerMissingPhotoCompletesRequest(t *testing.T) {
	deleter := &fakeDeleter{err: &pipeline.Error{Kind: pipeline.KindNotFound, Op: "delete"}}
	store := &fakeRemovalStore{}
	task := models.RemovalTask{RequestID: uuid.New(), PhotoID: uuid.New()}

	err := RemovalHandler(deleter, store, discardLogger())(context.Background(), removalPayload(t, task))
	require.NoError(t, err)
	assert.Equal(t, models.RemovalStatusCompleted, store.updates[task.RequestID])
}

func TestRemovalHandlerDeleteFailureIsRetried(t *testing.T) {
	deleter := &fakeDeleter{err: &pipeline.Error{Kind: pipeline.KindMetadataWriteFailed, Op: "delete", Err: errors.New("db down")}}
	store := &fakeRemovalStore{}
	task := models.RemovalTask{RequestID: uuid.New(), PhotoID: uuid.New()}

	err := RemovalHandler(deleter, store, discardLogger())(context.Background(), removalPayload(t, task))
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrMetadataWriteFailed)
	assert.Empty(t, store.updates)
}

func TestRemovalHandlerStatusUpdate(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "request deleted meanwhile", err: storage.ErrNotFound},
		{name: "already completed", err: storage.ErrInvalidTransition},
		{name: "database error", err: errors.New("connection reset"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := RemovalHandler(&fakeDeleter{}, &fakeRemovalStore{err: tc.err}, discardLogger())
			err := handler(context.Background(), removalPayload(t, models.RemovalTask{RequestID: uuid.New(), PhotoID: uuid.New()}))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRemovalHandlerDropsMalformedTasks(t *testing.T) {
	deleter := &fakeDeleter{}
	handler := RemovalHandler(deleter, &fakeRemovalStore{}, discardLogger())

	assert.NoError(t, handler(context.Background(), []byte("{not json")))
	assert.NoError(t, handler(context.Background(), removalPayload(t, models.RemovalTask{PhotoID: uuid.New()})))
	assert.Empty(t, deleter.deleted)
}

func TestSubjects(t *testing.T) {
	id := uuid.MustParse("7b0c3f5e-8a1d-4c2b-9e6f-0d1a2b3c4d5e")
	assert.Equal(t, "photos.7b0c3f5e-8a1d-4c2b-9e6f-0d1a2b3c4d5e", PhotoSubject(id))
	assert.Equal(t, "removals.7b0c3f5e-8a1d-4c2b-9e6f-0d1a2b3c4d5e", RemovalSubject(id))

	streams := Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, PhotosStreamName, streams[0].Name)
	assert.Equal(t, RemovalsStreamName, streams[1].Name)
}
