// Package archive copies finalized sighting images from the upload
// directory into object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/your-org/reserve/internal/blob"
	"github.com/your-org/reserve/internal/models"
	"github.com/your-org/reserve/internal/observability"
	"github.com/your-org/reserve/internal/storage"
)

type ObjectWriter interface {
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

type KeyRecorder interface {
	SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error
}

type Archiver struct {
	blobs   *blob.Store
	objects ObjectWriter
	db      KeyRecorder
}

func NewArchiver(blobs *blob.Store, objects ObjectWriter, db KeyRecorder) *Archiver {
	return &Archiver{blobs: blobs, objects: objects, db: db}
}

// Handle archives the image of one created sighting. Returning an error
// makes the queue redeliver the event; events that can never succeed are
// logged and acknowledged.
func (a *Archiver) Handle(ctx context.Context, ev models.SightingEvent) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.ImagesArchived.WithLabelValues(outcome).Inc()
	}()

	f, err := a.blobs.Open(ev.ImageFilename)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrValidation) {
			slog.Warn("skip archive, image unavailable", "sighting_id", ev.SightingID, "file", ev.ImageFilename, "error", err)
			return nil
		}
		return err
	}
	defer f.Close()

	size, contentType, err := describeFile(f)
	if err != nil {
		return err
	}

	key := storage.ArchiveKey(ev.ImageFilename)
	if err := a.objects.PutObject(ctx, key, f, size, contentType); err != nil {
		return err
	}

	if err := a.db.SetArchiveKey(ctx, ev.SightingID, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// sighting deleted while queued
			if delErr := a.objects.DeleteObject(ctx, key); delErr != nil {
				slog.Warn("remove orphaned archive object", "key", key, "error", delErr)
			}
			return nil
		}
		return err
	}

	slog.Info("sighting image archived", "sighting_id", ev.SightingID, "key", key, "bytes", size)
	return nil
}

// describeFile sniffs the content type and rewinds f to the start.
func describeFile(f *os.File) (int64, string, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, "", fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return 0, "", fmt.Errorf("detect content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, "", fmt.Errorf("rewind %s: %w", f.Name(), err)
	}
	return info.Size(), mt.String(), nil
}
