package photodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// photoColumns is the select list shared by all photo reads. GPS is unpacked
// into latitude/longitude so callers never see raw geometry.
const photoColumns = `
	id, group_id, uploader_id, meeting_id, content_hash,
	original_path, thumb_path, mime, bytes,
	width, height, shot_at,
	ST_Y(gps::geometry) AS lat, ST_X(gps::geometry) AS lon,
	camera_make, camera_model, orientation,
	processed, processing_error, uploaded_at`

func scanPhoto(row pgx.Row) (Photo, error) {
	var p Photo
	err := row.Scan(
		&p.ID, &p.GroupID, &p.UploaderID, &p.MeetingID, &p.ContentHash,
		&p.OriginalPath, &p.ThumbPath, &p.Mime, &p.Bytes,
		&p.Width, &p.Height, &p.ShotAt,
		&p.Lat, &p.Lon,
		&p.CameraMake, &p.CameraModel, &p.Orientation,
		&p.Processed, &p.ProcessingError, &p.UploadedAt,
	)
	return p, err
}

// InsertPhotoIfAbsent inserts a new photo unless the group already holds the
// same content hash. The second return is true when this call created the
// row; false means the caller raced or re-uploaded and the existing photo is
// returned unchanged.
func (db *DB) InsertPhotoIfAbsent(ctx context.Context, np NewPhoto) (Photo, bool, error) {
	ct, err := db.Pool.Exec(ctx, `
		INSERT INTO photos (id, group_id, uploader_id, content_hash, original_path, mime, bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (group_id, content_hash) DO NOTHING`,
		uuid.New(), np.GroupID, np.UploaderID, np.ContentHash, np.OriginalPath, np.Mime, np.Bytes,
	)
	if err != nil {
		return Photo{}, false, fmt.Errorf("insert photo: %w", err)
	}
	inserted := ct.RowsAffected() == 1

	row := db.Pool.QueryRow(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE group_id = $1 AND content_hash = $2`,
		np.GroupID, np.ContentHash,
	)
	photo, err := scanPhoto(row)
	if err != nil {
		return Photo{}, false, fmt.Errorf("load photo after insert: %w", err)
	}
	return photo, inserted, nil
}

// GetPhoto loads one photo by id.
func (db *DB) GetPhoto(ctx context.Context, id uuid.UUID) (Photo, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE id = $1`, id)
	photo, err := scanPhoto(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Photo{}, ErrPhotoNotFound
	}
	if err != nil {
		return Photo{}, fmt.Errorf("load photo %s: %w", id, err)
	}
	return photo, nil
}

// UpdatePhotoMetadata writes extraction results and marks the photo
// processed, clearing any previous processing error. A single UPDATE keeps
// the transition atomic.
func (db *DB) UpdatePhotoMetadata(ctx context.Context, id uuid.UUID, m PhotoMetadata) error {
	var lat, lon any
	if m.Lat != nil && m.Lon != nil {
		lat, lon = *m.Lat, *m.Lon
	}
	_, err := db.Pool.Exec(ctx, `
		UPDATE photos SET
			shot_at = $2,
			gps = CASE
				WHEN $3::double precision IS NULL THEN NULL
				ELSE ST_SetSRID(ST_MakePoint($4::double precision, $3::double precision), 4326)
			END,
			width = NULLIF($5, 0),
			height = NULLIF($6, 0),
			camera_make = NULLIF($7, ''),
			camera_model = NULLIF($8, ''),
			orientation = NULLIF($9, 0),
			processed = TRUE,
			processing_error = NULL
		WHERE id = $1`,
		id, m.ShotAt, lat, lon, m.Width, m.Height, m.CameraMake, m.CameraModel, m.Orientation,
	)
	if err != nil {
		return fmt.Errorf("update photo metadata %s: %w", id, err)
	}
	return nil
}

// MarkPhotoFailed records a permanent processing error. The photo is still
// marked processed so it remains visible and routes to the default meeting.
func (db *DB) MarkPhotoFailed(ctx context.Context, id uuid.UUID, message string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE photos SET processed = TRUE, processing_error = $2
		WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("mark photo failed %s: %w", id, err)
	}
	return nil
}

// SetThumbPath records the generated thumbnail location.
func (db *DB) SetThumbPath(ctx context.Context, id uuid.UUID, path string) error {
	_, err := db.Pool.Exec(ctx, `UPDATE photos SET thumb_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("set thumb path %s: %w", id, err)
	}
	return nil
}

// ListGroupPhotosOrdered returns every photo in the group sorted by
// (shot_at ASC NULLS LAST, id ASC), the order the cluster engine expects.
func (db *DB) ListGroupPhotosOrdered(ctx context.Context, groupID uuid.UUID) ([]Photo, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE group_id = $1
		ORDER BY shot_at ASC NULLS LAST, id ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group photos: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return photos, nil
}
