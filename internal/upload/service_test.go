package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/your-org/reserve/internal/blob"
	"github.com/your-org/reserve/internal/classifier"
	"github.com/your-org/reserve/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClassifier struct {
	mu      sync.Mutex
	calls   []string
	existed []bool
	results []classifyOutcome
}

type classifyOutcome struct {
	res *classifier.Result
	err error
}

func (f *fakeClassifier) Classify(_ context.Context, path string) (*classifier.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, statErr := os.Stat(path)
	f.existed = append(f.existed, statErr == nil)
	f.calls = append(f.calls, path)

	i := len(f.calls) - 1
	if i >= len(f.results) {
		return nil, &classifier.Error{Kind: classifier.KindProcess, Msg: "unexpected call"}
	}
	return f.results[i].res, f.results[i].err
}

func ok(label string) classifyOutcome {
	return classifyOutcome{res: &classifier.Result{Label: label}}
}

func fail(kind classifier.Kind) classifyOutcome {
	return classifyOutcome{err: &classifier.Error{Kind: kind, Msg: "failed"}}
}

type fakeDescriber struct {
	queries []string
}

func (f *fakeDescriber) Resolve(_ context.Context, name string) string {
	f.queries = append(f.queries, name)
	return "The raccoon is a mammal native to North America."
}

type fakeWriter struct {
	saved []*models.Sighting
	err   error
}

func (f *fakeWriter) CreateSighting(_ context.Context, s *models.Sighting) error {
	if f.err != nil {
		return f.err
	}
	s.ID = uuid.New()
	f.saved = append(f.saved, s)
	return nil
}

type fakePublisher struct {
	events []models.SightingEvent
	err    error
}

func (f *fakePublisher) PublishSighting(_ context.Context, ev models.SightingEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

type memSource struct {
	name string
	mime string
	data []byte
}

func (m memSource) Filename() string    { return m.name }
func (m memSource) ContentType() string { return m.mime }
func (m memSource) Size() int64         { return int64(len(m.data)) }
func (m memSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	return buf.Bytes()
}

func raccoon(t *testing.T) blob.Source {
	return memSource{name: "raccoon.jpg", mime: "image/jpeg", data: jpegBytes(t)}
}

func cropURI(t *testing.T) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes(t))
}

type harness struct {
	svc       *Service
	store     *blob.Store
	cls       *fakeClassifier
	describer *fakeDescriber
	writer    *fakeWriter
	publisher *fakePublisher
}

func newHarness(t *testing.T, outcomes ...classifyOutcome) *harness {
	t.Helper()
	store, err := blob.NewStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	h := &harness{
		store:     store,
		cls:       &fakeClassifier{results: outcomes},
		describer: &fakeDescriber{},
		writer:    &fakeWriter{},
		publisher: &fakePublisher{},
	}
	h.svc = NewService(store, h.cls, h.describer, h.writer, h.publisher)
	return h
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.store.Dir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (h *harness) cropFiles(t *testing.T) []string {
	var crops []string
	for _, n := range h.files(t) {
		if strings.HasPrefix(n, blob.CropPrefix+"-") {
			crops = append(crops, n)
		}
	}
	return crops
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var ue *Error
	require.True(t, errors.As(err, &ue), "expected *upload.Error, got %T", err)
	return ue.Status()
}

func TestProcess_RaccoonScenario(t *testing.T) {
	h := newHarness(t, ok("Procyon lotor"))

	res, err := h.svc.Process(context.Background(), UploadRequest{Image: raccoon(t), UserID: uuid.New()})
	require.NoError(t, err)

	assert.Regexp(t, `^image-\d+\.jpg$`, res.ImageFilename)
	assert.Equal(t, "Procyon lotor", res.PredictedName)
	require.Len(t, h.cls.calls, 1)
	assert.Equal(t, h.store.Path(res.ImageFilename), h.cls.calls[0])
	assert.FileExists(t, h.store.Path(res.ImageFilename))

	sighting, err := h.svc.Finalize(context.Background(), FinalizeRequest{
		SpeciesName:   res.PredictedName,
		ImageFilename: res.ImageFilename,
		UserID:        uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Procyon lotor"}, h.describer.queries)
	assert.Equal(t, "Procyon lotor", sighting.SpeciesName)
	assert.Equal(t, "The raccoon is a mammal native to North America.", sighting.Description)
	require.Len(t, h.writer.saved, 1)
	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, sighting.ID, h.publisher.events[0].SightingID)
}

func TestProcess_CropFallbackScenario(t *testing.T) {
	h := newHarness(t, fail(classifier.KindProcess), ok("Bufo bufo"))

	res, err := h.svc.Process(context.Background(), UploadRequest{
		Image:        raccoon(t),
		CroppedImage: cropURI(t),
	})
	require.NoError(t, err)

	assert.Equal(t, "Bufo bufo", res.PredictedName)
	require.Len(t, h.cls.calls, 2)
	assert.Contains(t, filepath.Base(h.cls.calls[0]), blob.CropPrefix+"-")
	assert.Equal(t, h.store.Path(res.ImageFilename), h.cls.calls[1])
	assert.True(t, h.cls.existed[0], "crop must exist while it is classified")
	assert.Empty(t, h.cropFiles(t))
	assert.FileExists(t, h.store.Path(res.ImageFilename))
}

func TestProcess_CropPreferredOnSuccess(t *testing.T) {
	h := newHarness(t, ok("Vulpes vulpes"))

	res, err := h.svc.Process(context.Background(), UploadRequest{
		Image:        raccoon(t),
		CroppedImage: cropURI(t),
	})
	require.NoError(t, err)

	require.Len(t, h.cls.calls, 1)
	assert.Contains(t, filepath.Base(h.cls.calls[0]), blob.CropPrefix+"-")
	assert.Equal(t, "Vulpes vulpes", res.PredictedName)
	assert.Empty(t, h.cropFiles(t))
}

func TestProcess_NoFallbackForCredentialOrAvailability(t *testing.T) {
	tests := []struct {
		name   string
		kind   classifier.Kind
		status int
	}{
		{"unauthorized", classifier.KindUnauthorized, http.StatusUnauthorized},
		{"unavailable", classifier.KindUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fail(tt.kind), ok("should not be used"))

			_, err := h.svc.Process(context.Background(), UploadRequest{
				Image:        raccoon(t),
				CroppedImage: cropURI(t),
			})
			require.Error(t, err)
			assert.Equal(t, tt.status, statusOf(t, err))
			assert.Len(t, h.cls.calls, 1)
			assert.Empty(t, h.files(t))
			assert.Empty(t, h.writer.saved)
		})
	}
}

func TestProcess_FallbackFailureIs500(t *testing.T) {
	h := newHarness(t, fail(classifier.KindParse), fail(classifier.KindUnavailable))

	_, err := h.svc.Process(context.Background(), UploadRequest{
		Image:        raccoon(t),
		CroppedImage: cropURI(t),
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))
	assert.Len(t, h.cls.calls, 2)
	assert.Empty(t, h.files(t))
}

func TestProcess_NoCropNoFallback(t *testing.T) {
	h := newHarness(t, fail(classifier.KindProcess), ok("unused"))

	_, err := h.svc.Process(context.Background(), UploadRequest{Image: raccoon(t)})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))
	assert.Len(t, h.cls.calls, 1)
	assert.Empty(t, h.files(t))
}

func TestProcess_CropOnlyIsRetained(t *testing.T) {
	h := newHarness(t, ok("Erithacus rubecula"))

	res, err := h.svc.Process(context.Background(), UploadRequest{CroppedImage: cropURI(t)})
	require.NoError(t, err)

	assert.Regexp(t, `^croppedImage-\d+\.jpg$`, res.ImageFilename)
	assert.FileExists(t, h.store.Path(res.ImageFilename))
	assert.Len(t, h.cls.calls, 1)
}

func TestProcess_UserNameKeptWhenLabelEmpty(t *testing.T) {
	h := newHarness(t, ok("  "))

	res, err := h.svc.Process(context.Background(), UploadRequest{Image: raccoon(t), SpeciesName: " Red squirrel "})
	require.NoError(t, err)
	assert.Equal(t, "Red squirrel", res.PredictedName)

	h = newHarness(t, ok("Sciurus vulgaris"))
	res, err = h.svc.Process(context.Background(), UploadRequest{Image: raccoon(t), SpeciesName: "Red squirrel"})
	require.NoError(t, err)
	assert.Equal(t, "Sciurus vulgaris", res.PredictedName)
}

func TestProcess_ValidationBeforeClassification(t *testing.T) {
	tests := []struct {
		name   string
		req    UploadRequest
		status int
	}{
		{"nothing uploaded", UploadRequest{}, http.StatusBadRequest},
		{"gif upload", UploadRequest{Image: memSource{name: "a.gif", mime: "image/gif", data: []byte("GIF89a")}}, http.StatusBadRequest},
		{"malformed crop", UploadRequest{Image: memSource{name: "a.jpg", mime: "image/jpeg"}, CroppedImage: "not-a-data-uri"}, http.StatusBadRequest},
		{"bad latitude", UploadRequest{CroppedImage: "data:image/jpeg;base64,AAAA", Latitude: "north", Longitude: "1"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.Process(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.status, statusOf(t, err))
			assert.Empty(t, h.cls.calls)
			assert.Empty(t, h.files(t))
		})
	}
}

func TestProcess_TooLarge(t *testing.T) {
	store, err := blob.NewStore(t.TempDir(), 10)
	require.NoError(t, err)
	cls := &fakeClassifier{}
	svc := NewService(store, cls, &fakeDescriber{}, &fakeWriter{}, nil)

	_, err = svc.Process(context.Background(), UploadRequest{Image: raccoon(t)})
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusOf(t, err))
	assert.Empty(t, cls.calls)
}

func TestFinalize_Coordinates(t *testing.T) {
	tests := []struct {
		name    string
		lat     string
		lng     string
		wantNil bool
		wantLat float64
		wantLng float64
	}{
		{name: "both present", lat: "512.5", lng: "1024", wantLat: 512.5, wantLng: 1024},
		{name: "longitude blank", lat: "512.5", lng: "  ", wantNil: true},
		{name: "latitude blank", lat: "", lng: "1024", wantNil: true},
		{name: "both blank", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ok("Procyon lotor"))
			res, err := h.svc.Process(context.Background(), UploadRequest{Image: raccoon(t)})
			require.NoError(t, err)

			s, err := h.svc.Finalize(context.Background(), FinalizeRequest{
				SpeciesName:   "Procyon lotor",
				ImageFilename: res.ImageFilename,
				Latitude:      tt.lat,
				Longitude:     tt.lng,
			})
			require.NoError(t, err)

			if tt.wantNil {
				assert.Nil(t, s.Latitude)
				assert.Nil(t, s.Longitude)
				return
			}
			require.NotNil(t, s.Latitude)
			require.NotNil(t, s.Longitude)
			assert.Equal(t, tt.wantLat, *s.Latitude)
			assert.Equal(t, tt.wantLng, *s.Longitude)
		})
	}
}

func TestFinalize_Validation(t *testing.T) {
	h := newHarness(t, ok("Procyon lotor"))
	res, err := h.svc.Process(context.Background(), UploadRequest{Image: raccoon(t)})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  FinalizeRequest
	}{
		{"blank species", FinalizeRequest{SpeciesName: "  ", ImageFilename: res.ImageFilename}},
		{"path traversal", FinalizeRequest{SpeciesName: "Fox", ImageFilename: "../secret.jpg"}},
		{"unknown image", FinalizeRequest{SpeciesName: "Fox", ImageFilename: "image-1.jpg"}},
		{"non numeric longitude", FinalizeRequest{SpeciesName: "Fox", ImageFilename: res.ImageFilename, Latitude: "1", Longitude: "east"}},
		{"nan latitude", FinalizeRequest{SpeciesName: "Fox", ImageFilename: res.ImageFilename, Latitude: "NaN", Longitude: "1"}},
		{"confidence above one", FinalizeRequest{SpeciesName: "Fox", ImageFilename: res.ImageFilename, PredictedName: "Fox", Confidence: "1.5"}},
		{"non numeric confidence", FinalizeRequest{SpeciesName: "Fox", ImageFilename: res.ImageFilename, PredictedName: "Fox", Confidence: "high"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Finalize(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
		})
	}
	assert.Empty(t, h.describer.queries)
	assert.Empty(t, h.writer.saved)
}

func TestFinalize_CarriesClassifierConfidence(t *testing.T) {
	conf := 0.93
	h := newHarness(t, classifyOutcome{res: &classifier.Result{Label: "Procyon lotor", Confidence: &conf}})

	res, err := h.svc.Process(context.Background(), UploadRequest{Image: raccoon(t)})
	require.NoError(t, err)
	require.NotNil(t, res.Confidence)

	tests := []struct {
		name    string
		species string
		want    *float64
	}{
		{"unedited label", "Procyon lotor", &conf},
		{"case-only change", "procyon lotor", &conf},
		{"edited label", "Ursus arctos", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := h.svc.Finalize(context.Background(), FinalizeRequest{
				SpeciesName:   tt.species,
				ImageFilename: res.ImageFilename,
				PredictedName: res.PredictedName,
				Confidence:    "0.93",
			})
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, s.Confidence)
				return
			}
			require.NotNil(t, s.Confidence)
			assert.InDelta(t, *tt.want, *s.Confidence, 1e-9)
		})
	}
}

func TestFinalize_PersistenceError(t *testing.T) {
	h := newHarness(t, ok("Procyon lotor"))
	h.writer.err = errors.New("connection refused")
	res, err := h.svc.Process(context.Background(), UploadRequest{Image: raccoon(t)})
	require.NoError(t, err)

	_, err = h.svc.Finalize(context.Background(), FinalizeRequest{SpeciesName: "Procyon lotor", ImageFilename: res.ImageFilename})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))
	assert.Empty(t, h.publisher.events)
}

func TestFinalize_PublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, ok("Procyon lotor"))
	h.publisher.err = errors.New("nats down")
	res, err := h.svc.Process(context.Background(), UploadRequest{Image: raccoon(t)})
	require.NoError(t, err)

	s, err := h.svc.Finalize(context.Background(), FinalizeRequest{SpeciesName: "Procyon lotor", ImageFilename: res.ImageFilename})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Len(t, h.publisher.events, 1)
}

func TestAsError(t *testing.T) {
	wrapped := AsError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, wrapped.Status())

	ue := validationError("bad")
	assert.Same(t, ue, AsError(ue))
}
