package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/phototimeline/server/internal/exifmeta"
	"github.com/phototimeline/server/internal/monitoring"
	"github.com/phototimeline/server/internal/photodb"
	"github.com/phototimeline/server/internal/storage"
	"github.com/phototimeline/server/internal/thumbs"
)

// ProcessRepo is the slice of the photo store the process worker needs.
type ProcessRepo interface {
	GetPhoto(ctx context.Context, id uuid.UUID) (photodb.Photo, error)
	UpdatePhotoMetadata(ctx context.Context, id uuid.UUID, m photodb.PhotoMetadata) error
	MarkPhotoFailed(ctx context.Context, id uuid.UUID, message string) error
	SetThumbPath(ctx context.Context, id uuid.UUID, path string) error
}

// MetadataExtractor reads capture metadata from a stored file.
type MetadataExtractor interface {
	Extract(path string) (exifmeta.Metadata, error)
}

// Notifier reports a group change to the cluster scheduler.
type Notifier interface {
	Notify(ctx context.Context, groupID uuid.UUID) error
}

// ProcessWorker handles photo:process tasks: extract metadata, render a
// thumbnail, persist the results, then nudge the cluster scheduler. Each step
// is idempotent, so asynq retries and duplicate deliveries are safe.
type ProcessWorker struct {
	repo      ProcessRepo
	extractor MetadataExtractor
	store     *storage.Store
	notifier  Notifier

	thumbMaxEdge int
	makeThumb    func(src, dst string, maxEdge int) error
	logf         func(format string, v ...interface{})
}

// NewProcessWorker wires a ProcessWorker.
func NewProcessWorker(repo ProcessRepo, extractor MetadataExtractor, store *storage.Store, notifier Notifier, thumbMaxEdge int) *ProcessWorker {
	return &ProcessWorker{
		repo:         repo,
		extractor:    extractor,
		store:        store,
		notifier:     notifier,
		thumbMaxEdge: thumbMaxEdge,
		makeThumb:    thumbs.Make,
		logf:         monitoring.Scoped("process"),
	}
}

// Handle is the asynq handler for TypeProcessPhoto.
func (w *ProcessWorker) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ProcessPhotoPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal process payload: %v: %w", err, asynq.SkipRetry)
	}

	photo, err := w.repo.GetPhoto(ctx, payload.PhotoID)
	if errors.Is(err, photodb.ErrPhotoNotFound) {
		// Deleted between enqueue and execution. Nothing to do.
		w.logf("photo %s no longer exists, dropping job", payload.PhotoID)
		return nil
	}
	if err != nil {
		return err
	}
	if photo.Processed {
		// Duplicate delivery or a retry of a job that already finished.
		return nil
	}

	meta, err := w.extractor.Extract(photo.OriginalPath)
	if err != nil {
		return w.fail(ctx, photo, fmt.Errorf("extract metadata: %w", err))
	}
	for _, warning := range meta.Warnings {
		w.logf("photo %s: %s", photo.ID, warning)
	}

	// Thumbnail generation is best effort: a photo without a thumbnail is
	// degraded, not broken.
	thumbPath := w.store.PathFor(storage.KindThumb, photo.ContentHash, ".jpg")
	if err := w.makeThumb(photo.OriginalPath, thumbPath, w.thumbMaxEdge); err != nil {
		w.logf("photo %s: thumbnail failed: %v", photo.ID, err)
	} else if err := w.repo.SetThumbPath(ctx, photo.ID, thumbPath); err != nil {
		return err
	}

	if err := w.repo.UpdatePhotoMetadata(ctx, photo.ID, photodb.PhotoMetadata{
		ShotAt:      meta.ShotAt,
		Lat:         meta.Lat,
		Lon:         meta.Lon,
		Width:       meta.Width,
		Height:      meta.Height,
		CameraMake:  meta.CameraMake,
		CameraModel: meta.CameraModel,
		Orientation: meta.Orientation,
	}); err != nil {
		return err
	}

	if err := w.notifier.Notify(ctx, photo.GroupID); err != nil {
		// Metadata is saved; a missed notification is repaired by the next
		// upload in the group. Log and succeed.
		w.logf("photo %s: cluster notify failed: %v", photo.ID, err)
	}
	return nil
}

// fail either hands the error back to asynq for a retry or, once the retry
// budget is spent, marks the photo permanently failed. A failed photo still
// counts as processed so the timeline shows it in the default meeting.
func (w *ProcessWorker) fail(ctx context.Context, photo photodb.Photo, cause error) error {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry {
		return cause
	}

	w.logf("photo %s: giving up after %d retries: %v", photo.ID, retried, cause)
	if err := w.repo.MarkPhotoFailed(ctx, photo.ID, cause.Error()); err != nil {
		return err
	}
	if err := w.notifier.Notify(ctx, photo.GroupID); err != nil {
		w.logf("photo %s: cluster notify failed: %v", photo.ID, err)
	}
	return nil
}
