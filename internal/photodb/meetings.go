package photodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/phototimeline/server/internal/cluster"
)

const meetingColumns = `
	id, group_id, title, start_time, end_time, meeting_date, photo_count,
	CASE WHEN track IS NULL THEN NULL ELSE ST_AsText(track::geometry) END AS track_wkt,
	bbox_north, bbox_south, bbox_east, bbox_west,
	created_at, updated_at`

func scanMeeting(row pgx.Row) (Meeting, error) {
	var (
		m        Meeting
		trackWKT *string
		n, s     *float64
		e, w     *float64
	)
	err := row.Scan(
		&m.ID, &m.GroupID, &m.Title, &m.StartTime, &m.EndTime, &m.MeetingDate, &m.PhotoCount,
		&trackWKT,
		&n, &s, &e, &w,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return Meeting{}, err
	}
	if trackWKT != nil {
		track, err := parseLinestringWKT(*trackWKT)
		if err != nil {
			return Meeting{}, fmt.Errorf("meeting %s track: %w", m.ID, err)
		}
		m.Track = track
	}
	if n != nil && s != nil && e != nil && w != nil {
		m.BBox = &cluster.BBox{North: *n, South: *s, East: *e, West: *w}
	}
	return m, nil
}

// GroupMeetings lists the group's meetings newest first. The default meeting,
// having no date, sorts last.
func (db *DB) GroupMeetings(ctx context.Context, groupID uuid.UUID) ([]Meeting, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+meetingColumns+`
		FROM meetings
		WHERE group_id = $1
		ORDER BY meeting_date DESC NULLS LAST, start_time DESC NULLS LAST, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group meetings: %w", err)
	}
	defer rows.Close()

	var meetings []Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return meetings, nil
}

// MeetingPhotos lists the photos assigned to one meeting in timeline order.
func (db *DB) MeetingPhotos(ctx context.Context, meetingID uuid.UUID) ([]Photo, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE meeting_id = $1
		ORDER BY shot_at ASC NULLS LAST, id ASC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list meeting photos: %w", err)
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

// ensureDefaultMeeting returns the group's catch-all meeting id, creating the
// row if needed. The partial unique index makes concurrent creation collapse
// to a single row.
func ensureDefaultMeeting(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM meetings
		WHERE group_id = $1 AND title = $2`,
		groupID, cluster.DefaultMeetingTitle,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("find default meeting: %w", err)
	}

	id = uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO meetings (id, group_id, title)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		id, groupID, cluster.DefaultMeetingTitle,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create default meeting: %w", err)
	}

	// Re-select in case the conflict path fired.
	err = tx.QueryRow(ctx, `
		SELECT id FROM meetings
		WHERE group_id = $1 AND title = $2`,
		groupID, cluster.DefaultMeetingTitle,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load default meeting: %w", err)
	}
	return id, nil
}
