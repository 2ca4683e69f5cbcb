package archive

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/reserve/internal/blob"
	"github.com/your-org/reserve/internal/models"
	"github.com/your-org/reserve/internal/storage"
)

type fakeObjects struct {
	put     map[string][]byte
	types   map[string]string
	deleted []string
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{put: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) PutObject(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.put[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.put, key)
	return nil
}

type fakeRecorder struct {
	keys map[uuid.UUID]string
	err  error
}

func (f *fakeRecorder) SetArchiveKey(_ context.Context, id uuid.UUID, key string) error {
	if f.err != nil {
		return f.err
	}
	f.keys[id] = key
	return nil
}

func setup(t *testing.T) (*blob.Store, string, []byte) {
	t.Helper()
	store, err := blob.NewStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	name := "image-1700000000000.png"
	require.NoError(t, os.WriteFile(store.Path(name), buf.Bytes(), 0o644))
	return store, name, buf.Bytes()
}

func TestHandle_UploadsAndRecordsKey(t *testing.T) {
	store, name, data := setup(t)
	objects := newFakeObjects()
	rec := &fakeRecorder{keys: map[uuid.UUID]string{}}
	id := uuid.New()

	err := NewArchiver(store, objects, rec).Handle(context.Background(), models.SightingEvent{SightingID: id, ImageFilename: name})
	require.NoError(t, err)

	key := storage.ArchiveKey(name)
	assert.Equal(t, "sightings/"+name, key)
	assert.Equal(t, data, objects.put[key])
	assert.Equal(t, "image/png", objects.types[key])
	assert.Equal(t, key, rec.keys[id])
}

func TestHandle_MissingImageIsAcknowledged(t *testing.T) {
	store, _, _ := setup(t)
	objects := newFakeObjects()
	rec := &fakeRecorder{keys: map[uuid.UUID]string{}}

	err := NewArchiver(store, objects, rec).Handle(context.Background(), models.SightingEvent{SightingID: uuid.New(), ImageFilename: "gone.jpg"})
	require.NoError(t, err)
	assert.Empty(t, objects.put)
	assert.Empty(t, rec.keys)
}

func TestHandle_PutFailureIsRetried(t *testing.T) {
	store, name, _ := setup(t)
	objects := newFakeObjects()
	objects.putErr = errors.New("minio down")
	rec := &fakeRecorder{keys: map[uuid.UUID]string{}}

	err := NewArchiver(store, objects, rec).Handle(context.Background(), models.SightingEvent{SightingID: uuid.New(), ImageFilename: name})
	require.Error(t, err)
	assert.Empty(t, rec.keys)
}

func TestHandle_DeletedSightingRemovesObject(t *testing.T) {
	store, name, _ := setup(t)
	objects := newFakeObjects()
	rec := &fakeRecorder{err: storage.ErrNotFound}

	err := NewArchiver(store, objects, rec).Handle(context.Background(), models.SightingEvent{SightingID: uuid.New(), ImageFilename: name})
	require.NoError(t, err)
	assert.Equal(t, []string{storage.ArchiveKey(name)}, objects.deleted)
	assert.Empty(t, objects.put)
}

func TestHandle_DatabaseFailureIsRetried(t *testing.T) {
	store, name, _ := setup(t)
	rec := &fakeRecorder{err: errors.New("connection reset")}

	err := NewArchiver(store, newFakeObjects(), rec).Handle(context.Background(), models.SightingEvent{SightingID: uuid.New(), ImageFilename: name})
	require.Error(t, err)
}
