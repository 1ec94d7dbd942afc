// Package api exposes the HTTP surface: photo upload and group timeline reads.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/phototimeline/server/internal/ingest"
	"github.com/phototimeline/server/internal/monitoring"
	"github.com/phototimeline/server/internal/photodb"
	"github.com/phototimeline/server/internal/version"
)

// Uploader ingests one uploaded file.
type Uploader interface {
	Upload(ctx context.Context, groupID, uploaderID uuid.UUID, mime string, r io.Reader) (ingest.Result, error)
}

// Directory serves timeline reads.
type Directory interface {
	ListGroupPhotosOrdered(ctx context.Context, groupID uuid.UUID) ([]photodb.Photo, error)
	GroupMeetings(ctx context.Context, groupID uuid.UUID) ([]photodb.Meeting, error)
	MeetingPhotos(ctx context.Context, meetingID uuid.UUID) ([]photodb.Photo, error)
}

// Server holds the HTTP handlers.
type Server struct {
	uploader  Uploader
	directory Directory
	maxBytes  int64
	logf      func(format string, v ...interface{})
}

// NewServer wires the HTTP layer. maxBytes caps the multipart request body.
func NewServer(uploader Uploader, directory Directory, maxBytes int64) *Server {
	return &Server{
		uploader:  uploader,
		directory: directory,
		maxBytes:  maxBytes,
		logf:      monitoring.Scoped("api"),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/photos/upload", s.handleUpload)
		r.Get("/groups/{groupID}/photos", s.handleGroupPhotos)
		r.Get("/groups/{groupID}/meetings", s.handleGroupMeetings)
		r.Get("/meetings/{meetingID}/photos", s.handleMeetingPhotos)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleUpload accepts a multipart form with a "file" part and a "group_id"
// field. The uploader is identified by the X-User-ID header, set by the
// authenticating proxy in front of this service.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uploaderID, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid X-User-ID header")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large or malformed")
		return
	}

	groupID, err := uuid.Parse(r.FormValue("group_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid group_id")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	res, err := s.uploader.Upload(r.Context(), groupID, uploaderID, header.Header.Get("Content-Type"), file)
	switch {
	case errors.Is(err, ingest.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	case errors.Is(err, ingest.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, ingest.ErrEmpty):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logf("upload failed: %v", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	status := http.StatusCreated
	if res.Status == ingest.StatusDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, uploadResponse{
		PhotoID: res.Photo.ID,
		Status:  string(res.Status),
	})
}

func (s *Server) handleGroupPhotos(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	photos, err := s.directory.ListGroupPhotosOrdered(r.Context(), groupID)
	if err != nil {
		s.logf("list photos for group %s: %v", groupID, err)
		writeError(w, http.StatusInternalServerError, "listing photos failed")
		return
	}
	writeJSON(w, http.StatusOK, photoListResponse{Photos: toPhotoJSON(photos)})
}

func (s *Server) handleGroupMeetings(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	meetings, err := s.directory.GroupMeetings(r.Context(), groupID)
	if err != nil {
		s.logf("list meetings for group %s: %v", groupID, err)
		writeError(w, http.StatusInternalServerError, "listing meetings failed")
		return
	}

	out := make([]meetingJSON, len(meetings))
	for i := range meetings {
		out[i] = toMeetingJSON(&meetings[i])
	}
	writeJSON(w, http.StatusOK, meetingListResponse{Meetings: out})
}

func (s *Server) handleMeetingPhotos(w http.ResponseWriter, r *http.Request) {
	meetingID, err := uuid.Parse(chi.URLParam(r, "meetingID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid meeting id")
		return
	}
	photos, err := s.directory.MeetingPhotos(r.Context(), meetingID)
	if err != nil {
		s.logf("list photos for meeting %s: %v", meetingID, err)
		writeError(w, http.StatusInternalServerError, "listing photos failed")
		return
	}
	writeJSON(w, http.StatusOK, photoListResponse{Photos: toPhotoJSON(photos)})
}

type uploadResponse struct {
	PhotoID uuid.UUID `json:"photo_id"`
	Status  string    `json:"status"`
}

type photoListResponse struct {
	Photos []photoJSON `json:"photos"`
}

type meetingListResponse struct {
	Meetings []meetingJSON `json:"meetings"`
}

type photoJSON struct {
	ID          uuid.UUID  `json:"id"`
	GroupID     uuid.UUID  `json:"group_id"`
	UploaderID  uuid.UUID  `json:"uploader_id"`
	MeetingID   *uuid.UUID `json:"meeting_id,omitempty"`
	ContentHash string     `json:"content_hash"`
	Mime        string     `json:"mime"`
	Bytes       int64      `json:"bytes"`
	Width       *int       `json:"width,omitempty"`
	Height      *int       `json:"height,omitempty"`
	ShotAt      *time.Time `json:"shot_at,omitempty"`
	Lat         *float64   `json:"lat,omitempty"`
	Lon         *float64   `json:"lon,omitempty"`
	CameraMake  *string    `json:"camera_make,omitempty"`
	CameraModel *string    `json:"camera_model,omitempty"`
	Processed   bool       `json:"processed"`
	Error       *string    `json:"processing_error,omitempty"`
	UploadedAt  time.Time  `json:"uploaded_at"`
}

func toPhotoJSON(photos []photodb.Photo) []photoJSON {
	out := make([]photoJSON, len(photos))
	for i, p := range photos {
		out[i] = photoJSON{
			ID:          p.ID,
			GroupID:     p.GroupID,
			UploaderID:  p.UploaderID,
			MeetingID:   p.MeetingID,
			ContentHash: p.ContentHash,
			Mime:        p.Mime,
			Bytes:       p.Bytes,
			Width:       p.Width,
			Height:      p.Height,
			ShotAt:      p.ShotAt,
			Lat:         p.Lat,
			Lon:         p.Lon,
			CameraMake:  p.CameraMake,
			CameraModel: p.CameraModel,
			Processed:   p.Processed,
			Error:       p.ProcessingError,
			UploadedAt:  p.UploadedAt,
		}
	}
	return out
}

type meetingJSON struct {
	ID          uuid.UUID    `json:"id"`
	GroupID     uuid.UUID    `json:"group_id"`
	Title       string       `json:"title"`
	StartTime   *time.Time   `json:"start_time,omitempty"`
	EndTime     *time.Time   `json:"end_time,omitempty"`
	MeetingDate *string      `json:"meeting_date,omitempty"`
	PhotoCount  int          `json:"photo_count"`
	Track       [][2]float64 `json:"track,omitempty"`
	BBox        *bboxJSON    `json:"bbox,omitempty"`
	IsDefault   bool         `json:"is_default"`
}

type bboxJSON struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

func toMeetingJSON(m *photodb.Meeting) meetingJSON {
	out := meetingJSON{
		ID:         m.ID,
		GroupID:    m.GroupID,
		Title:      m.Title,
		StartTime:  m.StartTime,
		EndTime:    m.EndTime,
		PhotoCount: m.PhotoCount,
		IsDefault:  m.IsDefault(),
	}
	if m.MeetingDate != nil {
		d := m.MeetingDate.Format("2006-01-02")
		out.MeetingDate = &d
	}
	for _, p := range m.Track {
		out.Track = append(out.Track, [2]float64{p.Lat, p.Lon})
	}
	if m.BBox != nil {
		out.BBox = &bboxJSON{
			North: m.BBox.North,
			South: m.BBox.South,
			East:  m.BBox.East,
			West:  m.BBox.West,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
