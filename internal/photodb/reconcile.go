package photodb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/phototimeline/server/internal/cluster"
)

// ReconcileMeetings replaces the group's meeting assignment with the desired
// clustering. It runs in one transaction under the group's advisory lock, so
// concurrent cluster jobs for the same group serialize and readers never see a
// half-applied state. Matching existing meetings by photo overlap keeps stable
// cluster ids across re-runs. undated lists the processed photos without a
// timestamp; they are parked in the group's default meeting, which is removed
// when it would be empty.
func (db *DB) ReconcileMeetings(ctx context.Context, groupID uuid.UUID, desired []MeetingSpec, undated []uuid.UUID) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := acquireGroupLock(ctx, tx, groupID); err != nil {
		return err
	}

	current, err := loadCurrentMeetings(ctx, tx, groupID)
	if err != nil {
		return err
	}

	plan := PlanReconcile(current, desired)

	for _, id := range plan.Delete {
		// ON DELETE SET NULL detaches the meeting's photos.
		if _, err := tx.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete meeting %s: %w", id, err)
		}
	}

	for _, upd := range plan.Update {
		if err := writeMeeting(ctx, tx, upd.ID, groupID, upd.Spec, false); err != nil {
			return err
		}
		if err := assignPhotos(ctx, tx, upd.ID, upd.Spec.PhotoIDs); err != nil {
			return err
		}
	}

	for _, spec := range plan.Create {
		id := uuid.New()
		if err := writeMeeting(ctx, tx, id, groupID, spec, true); err != nil {
			return err
		}
		if err := assignPhotos(ctx, tx, id, spec.PhotoIDs); err != nil {
			return err
		}
	}

	if err := reconcileDefaultMeeting(ctx, tx, groupID, undated); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reconcile: %w", err)
	}
	return nil
}

// loadCurrentMeetings reads the group's non-default meetings and their member
// photo ids in one pass.
func loadCurrentMeetings(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) ([]CurrentMeeting, error) {
	rows, err := tx.Query(ctx, `
		SELECT m.id, m.title, p.id
		FROM meetings m
		LEFT JOIN photos p ON p.meeting_id = m.id
		WHERE m.group_id = $1 AND m.title <> $2
		ORDER BY m.id`, groupID, cluster.DefaultMeetingTitle)
	if err != nil {
		return nil, fmt.Errorf("load current meetings: %w", err)
	}
	defer rows.Close()

	var (
		meetings []CurrentMeeting
		index    = make(map[uuid.UUID]int)
	)
	for rows.Next() {
		var (
			meetingID uuid.UUID
			title     string
			photoID   *uuid.UUID
		)
		if err := rows.Scan(&meetingID, &title, &photoID); err != nil {
			return nil, fmt.Errorf("scan current meeting: %w", err)
		}
		i, ok := index[meetingID]
		if !ok {
			i = len(meetings)
			index[meetingID] = i
			meetings = append(meetings, CurrentMeeting{ID: meetingID, Title: title})
		}
		if photoID != nil {
			meetings[i].PhotoIDs = append(meetings[i].PhotoIDs, *photoID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return meetings, nil
}

func writeMeeting(ctx context.Context, tx pgx.Tx, id, groupID uuid.UUID, spec MeetingSpec, create bool) error {
	var trackWKT *string
	if wkt := linestringWKT(spec.Track); wkt != "" {
		trackWKT = &wkt
	}
	var n, s, e, w *float64
	if spec.BBox != nil {
		n, s, e, w = &spec.BBox.North, &spec.BBox.South, &spec.BBox.East, &spec.BBox.West
	}

	if create {
		_, err := tx.Exec(ctx, `
			INSERT INTO meetings (
				id, group_id, title, start_time, end_time, meeting_date, photo_count,
				track, bbox_north, bbox_south, bbox_east, bbox_west)
			VALUES ($1, $2, $3, $4, $5, $6, $7,
				CASE WHEN $8::text IS NULL THEN NULL ELSE ST_GeomFromText($8, 4326) END,
				$9, $10, $11, $12)`,
			id, groupID, spec.Title, spec.Start, spec.End, spec.MeetingDate, len(spec.PhotoIDs),
			trackWKT, n, s, e, w,
		)
		if err != nil {
			return fmt.Errorf("create meeting %s: %w", id, err)
		}
		return nil
	}

	_, err := tx.Exec(ctx, `
		UPDATE meetings SET
			title = $2, start_time = $3, end_time = $4, meeting_date = $5, photo_count = $6,
			track = CASE WHEN $7::text IS NULL THEN NULL ELSE ST_GeomFromText($7, 4326) END,
			bbox_north = $8, bbox_south = $9, bbox_east = $10, bbox_west = $11,
			updated_at = now()
		WHERE id = $1`,
		id, spec.Title, spec.Start, spec.End, spec.MeetingDate, len(spec.PhotoIDs),
		trackWKT, n, s, e, w,
	)
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", id, err)
	}
	return nil
}

func assignPhotos(ctx context.Context, tx pgx.Tx, meetingID uuid.UUID, photoIDs []uuid.UUID) error {
	if len(photoIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE photos SET meeting_id = $1
		WHERE id = ANY($2)`, meetingID, photoIDs)
	if err != nil {
		return fmt.Errorf("assign photos to meeting %s: %w", meetingID, err)
	}
	return nil
}

// reconcileDefaultMeeting parks undated photos in the catch-all meeting. The
// meeting exists exactly when it has members.
func reconcileDefaultMeeting(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, undated []uuid.UUID) error {
	if len(undated) == 0 {
		_, err := tx.Exec(ctx, `
			DELETE FROM meetings
			WHERE group_id = $1 AND title = $2`,
			groupID, cluster.DefaultMeetingTitle)
		if err != nil {
			return fmt.Errorf("drop empty default meeting: %w", err)
		}
		return nil
	}

	id, err := ensureDefaultMeeting(ctx, tx, groupID)
	if err != nil {
		return err
	}
	if err := assignPhotos(ctx, tx, id, undated); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE meetings SET photo_count = $2, updated_at = now()
		WHERE id = $1`, id, len(undated))
	if err != nil {
		return fmt.Errorf("update default meeting count: %w", err)
	}
	return nil
}
