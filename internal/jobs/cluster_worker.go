package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/phototimeline/server/internal/cluster"
	"github.com/phototimeline/server/internal/debounce"
	"github.com/phototimeline/server/internal/monitoring"
	"github.com/phototimeline/server/internal/photodb"
)

// ClusterRepo is the slice of the photo store the cluster worker needs.
type ClusterRepo interface {
	ListGroupPhotosOrdered(ctx context.Context, groupID uuid.UUID) ([]photodb.Photo, error)
	ReconcileMeetings(ctx context.Context, groupID uuid.UUID, desired []photodb.MeetingSpec, undated []uuid.UUID) error
}

// ClusterScheduler is the debounce coordinator surface the worker consults.
type ClusterScheduler interface {
	JobDecision(ctx context.Context, groupID uuid.UUID, attempt int) (debounce.Decision, error)
	Reschedule(ctx context.Context, groupID uuid.UUID, jobID string, attempt int) error
	Finish(ctx context.Context, groupID uuid.UUID) error
}

// ClusterWorker handles cluster:reconcile tasks: it asks the debounce
// coordinator whether the burst has quiesced, and if so recomputes the group's
// meetings from scratch and reconciles the stored state.
type ClusterWorker struct {
	repo  ClusterRepo
	sched ClusterScheduler
	gap   time.Duration
	logf  func(format string, v ...interface{})
}

// NewClusterWorker wires a ClusterWorker with the configured meeting gap.
func NewClusterWorker(repo ClusterRepo, sched ClusterScheduler, gap time.Duration) *ClusterWorker {
	return &ClusterWorker{
		repo:  repo,
		sched: sched,
		gap:   gap,
		logf:  monitoring.Scoped("cluster"),
	}
}

// Handle is the asynq handler for TypeClusterGroup. A failed reconciliation
// returns the error without touching the debounce keys; their TTL expires and
// the next upload schedules a fresh job.
func (w *ClusterWorker) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ClusterGroupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal cluster payload: %v: %w", err, asynq.SkipRetry)
	}

	decision, err := w.sched.JobDecision(ctx, payload.GroupID, payload.Attempt)
	if err != nil {
		return err
	}
	if decision == debounce.DecisionReschedule {
		return w.sched.Reschedule(ctx, payload.GroupID, payload.JobID, payload.Attempt)
	}
	if decision == debounce.DecisionRunForced {
		w.logf("group %s: burst still active after %d attempts, reconciling anyway",
			payload.GroupID, payload.Attempt)
	}

	if err := w.reconcile(ctx, payload.GroupID); err != nil {
		return fmt.Errorf("reconcile group %s: %w", payload.GroupID, err)
	}

	if err := w.sched.Finish(ctx, payload.GroupID); err != nil {
		w.logf("group %s: clearing debounce keys failed: %v", payload.GroupID, err)
	}
	return nil
}

// reconcile recomputes the group's meetings from the full photo set. Photos
// still awaiting processing are left untouched; dated photos are clustered by
// capture-time gap and undated ones go to the default meeting.
func (w *ClusterWorker) reconcile(ctx context.Context, groupID uuid.UUID) error {
	photos, err := w.repo.ListGroupPhotosOrdered(ctx, groupID)
	if err != nil {
		return err
	}

	var (
		dated   []cluster.Photo
		undated []uuid.UUID
	)
	for _, p := range photos {
		if !p.Processed {
			continue
		}
		if p.ShotAt == nil {
			undated = append(undated, p.ID)
			continue
		}
		dated = append(dated, cluster.Photo{
			ID:     p.ID,
			ShotAt: *p.ShotAt,
			Lat:    p.Lat,
			Lon:    p.Lon,
		})
	}

	clusters := cluster.Split(dated, w.gap)
	desired := make([]photodb.MeetingSpec, len(clusters))
	for i := range clusters {
		c := &clusters[i]
		desired[i] = photodb.MeetingSpec{
			Title:       c.Title(),
			Start:       c.Start,
			End:         c.End,
			MeetingDate: c.MeetingDate(),
			PhotoIDs:    c.PhotoIDs(),
			Track:       c.Track,
			BBox:        c.BBox,
		}
	}

	if err := w.repo.ReconcileMeetings(ctx, groupID, desired, undated); err != nil {
		return err
	}
	w.logf("group %s: reconciled %d meetings (%d dated, %d undated photos)",
		groupID, len(desired), len(dated), len(undated))
	return nil
}
