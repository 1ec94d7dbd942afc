// Package ingest accepts photo uploads: it hashes and stores the bytes,
// registers the photo, and schedules background processing. Uploads are
// idempotent per (group, content hash).
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/phototimeline/server/internal/monitoring"
	"github.com/phototimeline/server/internal/photodb"
	"github.com/phototimeline/server/internal/storage"
)

var (
	// ErrUnsupportedType is returned for content types outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported content type")

	// ErrTooLarge is returned when the upload exceeds the configured limit.
	ErrTooLarge = errors.New("upload exceeds size limit")

	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("empty upload")
)

// extByMime maps accepted content types to the storage file extension.
var extByMime = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/tiff": ".tif",
	"image/heic": ".heic",
	"image/heif": ".heic",
}

// Status reports how an upload was handled.
type Status string

const (
	// StatusAccepted means a new photo was stored and queued for processing.
	StatusAccepted Status = "accepted"

	// StatusDuplicate means the group already holds these exact bytes.
	StatusDuplicate Status = "duplicate"
)

// Result is the outcome of one upload.
type Result struct {
	Photo  photodb.Photo
	Status Status
}

// Repo is the persistence surface the service needs.
type Repo interface {
	InsertPhotoIfAbsent(ctx context.Context, np photodb.NewPhoto) (photodb.Photo, bool, error)
}

// TaskQueue schedules background processing for new photos.
type TaskQueue interface {
	EnqueueProcessPhoto(ctx context.Context, photoID uuid.UUID) error
}

// Notifier tells the cluster scheduler a group received an upload. Every
// upload refreshes the group's quiet window.
type Notifier interface {
	Notify(ctx context.Context, groupID uuid.UUID) error
}

// Service implements the upload pipeline.
type Service struct {
	repo     Repo
	store    *storage.Store
	queue    TaskQueue
	notifier Notifier
	maxBytes int64
	logf     func(format string, v ...interface{})
}

// New wires an upload Service. maxBytes bounds the accepted file size.
func New(repo Repo, store *storage.Store, queue TaskQueue, notifier Notifier, maxBytes int64) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		queue:    queue,
		notifier: notifier,
		maxBytes: maxBytes,
		logf:     monitoring.Scoped("ingest"),
	}
}

// Upload ingests one file for the given group and uploader. The bytes are
// hashed while spooling to a temp file, stored content-addressed, and the
// photo row is created unless the group already has the same content. A
// duplicate that is still unprocessed is re-queued, so a client retrying a
// failed upload cannot strand a photo.
func (s *Service) Upload(ctx context.Context, groupID, uploaderID uuid.UUID, mime string, r io.Reader) (Result, error) {
	ext, ok := extByMime[mime]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mime)
	}

	spool, hash, size, err := s.spool(r)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	path, err := s.store.Write(storage.KindOriginal, hash, ext, spool)
	if err != nil {
		return Result{}, fmt.Errorf("store upload: %w", err)
	}

	photo, created, err := s.repo.InsertPhotoIfAbsent(ctx, photodb.NewPhoto{
		GroupID:      groupID,
		UploaderID:   uploaderID,
		ContentHash:  hash,
		OriginalPath: path,
		Mime:         mime,
		Bytes:        size,
	})
	if err != nil {
		return Result{}, err
	}

	if !created {
		if !photo.Processed {
			// Earlier enqueue may have failed. Re-queueing is safe: the
			// process worker is idempotent.
			if err := s.queue.EnqueueProcessPhoto(ctx, photo.ID); err != nil {
				return Result{}, fmt.Errorf("queue processing: %w", err)
			}
			s.notify(ctx, groupID)
		}
		s.logf("duplicate upload of %s in group %s", hash, groupID)
		return Result{Photo: photo, Status: StatusDuplicate}, nil
	}

	if err := s.queue.EnqueueProcessPhoto(ctx, photo.ID); err != nil {
		return Result{}, fmt.Errorf("queue processing: %w", err)
	}
	s.notify(ctx, groupID)
	s.logf("accepted photo %s (%d bytes) for group %s", photo.ID, size, groupID)
	return Result{Photo: photo, Status: StatusAccepted}, nil
}

// notify refreshes the group's debounce window. The upload already succeeded
// at this point, and the process worker notifies again after extraction, so a
// failure here is logged rather than surfaced.
func (s *Service) notify(ctx context.Context, groupID uuid.UUID) {
	if err := s.notifier.Notify(ctx, groupID); err != nil {
		s.logf("cluster notify for group %s failed: %v", groupID, err)
	}
}

// spool copies the upload to a temp file while hashing it, enforcing the size
// limit. The returned file is positioned at the start.
func (s *Service) spool(r io.Reader) (*os.File, string, int64, error) {
	tmp, err := os.CreateTemp("", "upload-*.spool")
	if err != nil {
		return nil, "", 0, fmt.Errorf("create spool file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		cleanup()
		return nil, "", 0, fmt.Errorf("read upload: %w", err)
	}
	if size == 0 {
		cleanup()
		return nil, "", 0, ErrEmpty
	}
	if size > s.maxBytes {
		cleanup()
		return nil, "", 0, fmt.Errorf("%w (limit %d bytes)", ErrTooLarge, s.maxBytes)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, "", 0, fmt.Errorf("rewind spool file: %w", err)
	}
	return tmp, hex.EncodeToString(h.Sum(nil)), size, nil
}
