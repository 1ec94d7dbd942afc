package photodb

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/phototimeline/server/internal/cluster"
)

// ErrPhotoNotFound is returned when a photo id does not exist.
var ErrPhotoNotFound = errors.New("photo not found")

// Photo is a stored photo row.
type Photo struct {
	ID          uuid.UUID
	GroupID     uuid.UUID
	UploaderID  uuid.UUID
	MeetingID   *uuid.UUID
	ContentHash string

	OriginalPath string
	ThumbPath    *string
	Mime         string
	Bytes        int64

	Width       *int
	Height      *int
	ShotAt      *time.Time
	Lat         *float64
	Lon         *float64
	CameraMake  *string
	CameraModel *string
	Orientation *int

	Processed       bool
	ProcessingError *string
	UploadedAt      time.Time
}

// NewPhoto carries the fields known at upload time.
type NewPhoto struct {
	GroupID      uuid.UUID
	UploaderID   uuid.UUID
	ContentHash  string
	OriginalPath string
	Mime         string
	Bytes        int64
}

// PhotoMetadata is what the process worker writes back after extraction.
// Zero-valued optional fields are stored as NULL.
type PhotoMetadata struct {
	ShotAt      *time.Time
	Lat         *float64
	Lon         *float64
	Width       int
	Height      int
	CameraMake  string
	CameraModel string
	Orientation int
}

// Meeting is a stored meeting row. Start/End/MeetingDate are nil only for the
// per-group default meeting, which owns photos without a timestamp.
type Meeting struct {
	ID          uuid.UUID
	GroupID     uuid.UUID
	Title       string
	StartTime   *time.Time
	EndTime     *time.Time
	MeetingDate *time.Time
	PhotoCount  int
	Track       []cluster.Point
	BBox        *cluster.BBox
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsDefault reports whether this is the group's catch-all meeting.
func (m *Meeting) IsDefault() bool { return m.Title == cluster.DefaultMeetingTitle }

// MeetingSpec describes one desired non-default meeting produced by the
// cluster engine.
type MeetingSpec struct {
	Title       string
	Start       time.Time
	End         time.Time
	MeetingDate time.Time
	PhotoIDs    []uuid.UUID
	Track       []cluster.Point
	BBox        *cluster.BBox
}
