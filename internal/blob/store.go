// Package blob stores uploaded sighting images on the local filesystem under
// generated, timestamp-based names.
package blob

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrNotFound        = errors.New("image not found")
)

// CropPrefix names temporary decoded crops.
const CropPrefix = "cropped"

var (
	allowedTypes  = regexp.MustCompile(`jpeg|jpg|png`)
	dataURIPrefix = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)
)

// Source is an uploaded file as received by the HTTP layer.
type Source interface {
	Filename() string
	ContentType() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type fileHeaderSource struct {
	fh *multipart.FileHeader
}

// FromFileHeader adapts a multipart upload to a Source.
func FromFileHeader(fh *multipart.FileHeader) Source {
	return fileHeaderSource{fh: fh}
}

func (s fileHeaderSource) Filename() string    { return s.fh.Filename }
func (s fileHeaderSource) ContentType() string { return s.fh.Header.Get("Content-Type") }
func (s fileHeaderSource) Size() int64         { return s.fh.Size }
func (s fileHeaderSource) Open() (io.ReadCloser, error) {
	return s.fh.Open()
}

type Store struct {
	dir      string
	maxBytes int64
	now      func() time.Time
}

// NewStore creates the upload directory if needed.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	return &Store{dir: abs, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path of a stored image.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// SaveUpload validates a direct upload and writes it as <field>-<ms><ext>.
func (s *Store) SaveUpload(field string, src Source) (string, error) {
	ext := filepath.Ext(src.Filename())
	if !allowedTypes.MatchString(strings.ToLower(ext)) || !allowedTypes.MatchString(strings.ToLower(src.ContentType())) {
		return "", fmt.Errorf("%w: only jpeg, jpg and png images are allowed", ErrValidation)
	}
	if s.maxBytes > 0 && src.Size() > s.maxBytes {
		return "", fmt.Errorf("%w: image exceeds %d bytes", ErrPayloadTooLarge, s.maxBytes)
	}

	in, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer in.Close()

	data, err := io.ReadAll(io.LimitReader(in, s.limit()+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: image exceeds %d bytes", ErrPayloadTooLarge, s.maxBytes)
	}
	if err := checkImage(data); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s-%d%s", field, s.now().UnixMilli(), ext)
	if err := s.write(name, data); err != nil {
		return "", err
	}
	return name, nil
}

// SaveDataURI decodes a base64 data URI and keeps it as <field>-<ms>.jpg.
func (s *Store) SaveDataURI(field, dataURI string) (string, error) {
	data, err := s.decodeDataURI(dataURI)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%d.jpg", field, s.now().UnixMilli())
	if err := s.write(name, data); err != nil {
		return "", err
	}
	return name, nil
}

// AcquireCrop decodes a client-side crop into a temporary cropped-<ms>.jpg.
// The caller must Release the returned Temp.
func (s *Store) AcquireCrop(dataURI string) (*Temp, error) {
	name, err := s.SaveDataURI(CropPrefix, dataURI)
	if err != nil {
		return nil, err
	}
	return &Temp{store: s, name: name}, nil
}

func (s *Store) Exists(name string) (bool, error) {
	if err := ValidName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", name, err)
}

func (s *Store) Open(name string) (*os.File, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Remove deletes a stored image. Missing files are not an error.
func (s *Store) Remove(name string) error {
	if err := ValidName(name); err != nil {
		return err
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// ValidName rejects anything that is not a plain file name.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: invalid image filename %q", ErrValidation, name)
	}
	return nil
}

func (s *Store) decodeDataURI(dataURI string) ([]byte, error) {
	loc := dataURIPrefix.FindStringIndex(dataURI)
	if loc == nil {
		return nil, fmt.Errorf("%w: cropped image must be a base64 image data URI", ErrValidation)
	}
	payload := strings.TrimSpace(dataURI[loc[1]:])
	if s.maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > s.maxBytes+2 {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrPayloadTooLarge, s.maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed base64 image: %v", ErrValidation, err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrPayloadTooLarge, s.maxBytes)
	}
	if err := checkImage(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) write(name string, data []byte) error {
	f, err := os.OpenFile(s.Path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		_ = os.Remove(s.Path(name))
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(s.Path(name))
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

func (s *Store) limit() int64 {
	if s.maxBytes > 0 {
		return s.maxBytes
	}
	return 1 << 30
}

func checkImage(data []byte) error {
	mt := mimetype.Detect(data)
	if !mt.Is("image/jpeg") && !mt.Is("image/png") {
		return fmt.Errorf("%w: content is %s, not a jpeg or png image", ErrValidation, mt.String())
	}
	return nil
}

// Temp is a decoded crop that lives only for the duration of one
// classification. Release is idempotent.
type Temp struct {
	store *Store
	name  string
	once  sync.Once
}

func (t *Temp) Name() string { return t.name }
func (t *Temp) Path() string { return t.store.Path(t.name) }

func (t *Temp) Release() {
	t.once.Do(func() {
		if err := t.store.Remove(t.name); err != nil {
			slog.Warn("remove temporary crop", "file", t.name, "error", err)
		}
	})
}
