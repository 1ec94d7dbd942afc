package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/phototimeline/server/internal/debounce"
	"github.com/phototimeline/server/internal/photodb"
)

type fakeClusterRepo struct {
	photos []photodb.Photo

	reconciled bool
	desired    []photodb.MeetingSpec
	undated    []uuid.UUID
	err        error
}

func (r *fakeClusterRepo) ListGroupPhotosOrdered(context.Context, uuid.UUID) ([]photodb.Photo, error) {
	return r.photos, nil
}

func (r *fakeClusterRepo) ReconcileMeetings(_ context.Context, _ uuid.UUID, desired []photodb.MeetingSpec, undated []uuid.UUID) error {
	if r.err != nil {
		return r.err
	}
	r.reconciled = true
	r.desired = desired
	r.undated = undated
	return nil
}

type fakeScheduler struct {
	decision debounce.Decision

	rescheduled bool
	jobID       string
	attempt     int
	finished    bool
}

func (s *fakeScheduler) JobDecision(context.Context, uuid.UUID, int) (debounce.Decision, error) {
	return s.decision, nil
}

func (s *fakeScheduler) Reschedule(_ context.Context, _ uuid.UUID, jobID string, attempt int) error {
	s.rescheduled = true
	s.jobID = jobID
	s.attempt = attempt
	return nil
}

func (s *fakeScheduler) Finish(context.Context, uuid.UUID) error {
	s.finished = true
	return nil
}

func clusterTask(t *testing.T, groupID uuid.UUID, jobID string, attempt int) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(ClusterGroupPayload{GroupID: groupID, JobID: jobID, Attempt: attempt})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(TypeClusterGroup, payload)
}

func datedPhoto(shotAt time.Time) photodb.Photo {
	t := shotAt
	return photodb.Photo{ID: uuid.New(), Processed: true, ShotAt: &t}
}

func TestClusterWorkerSplitsByGap(t *testing.T) {
	base := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	repo := &fakeClusterRepo{photos: []photodb.Photo{
		datedPhoto(base),
		datedPhoto(base.Add(10 * time.Minute)),
		datedPhoto(base.Add(9 * time.Hour)),
	}}
	sched := &fakeScheduler{decision: debounce.DecisionRun}
	w := NewClusterWorker(repo, sched, 4*time.Hour)

	if err := w.Handle(context.Background(), clusterTask(t, uuid.New(), "job-1", 0)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !repo.reconciled {
		t.Fatal("reconcile was not called")
	}
	if len(repo.desired) != 2 {
		t.Fatalf("expected 2 meetings, got %d", len(repo.desired))
	}
	if got := len(repo.desired[0].PhotoIDs); got != 2 {
		t.Errorf("first meeting: got %d photos, want 2", got)
	}
	if !sched.finished {
		t.Error("Finish was not called after success")
	}
}

func TestClusterWorkerPartitionsUndatedAndUnprocessed(t *testing.T) {
	undated := photodb.Photo{ID: uuid.New(), Processed: true}
	pending := photodb.Photo{ID: uuid.New(), Processed: false}
	repo := &fakeClusterRepo{photos: []photodb.Photo{
		datedPhoto(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)),
		undated,
		pending,
	}}
	sched := &fakeScheduler{decision: debounce.DecisionRun}
	w := NewClusterWorker(repo, sched, 4*time.Hour)

	if err := w.Handle(context.Background(), clusterTask(t, uuid.New(), "job-1", 0)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(repo.undated) != 1 || repo.undated[0] != undated.ID {
		t.Errorf("undated: got %v, want [%s]", repo.undated, undated.ID)
	}
	if len(repo.desired) != 1 || len(repo.desired[0].PhotoIDs) != 1 {
		t.Errorf("unprocessed photo leaked into clustering: %+v", repo.desired)
	}
}

func TestClusterWorkerReschedulesHotBurst(t *testing.T) {
	repo := &fakeClusterRepo{}
	sched := &fakeScheduler{decision: debounce.DecisionReschedule}
	w := NewClusterWorker(repo, sched, 4*time.Hour)

	if err := w.Handle(context.Background(), clusterTask(t, uuid.New(), "job-7", 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !sched.rescheduled {
		t.Fatal("expected a reschedule")
	}
	if sched.jobID != "job-7" || sched.attempt != 1 {
		t.Errorf("reschedule carried (%s, %d), want (job-7, 1)", sched.jobID, sched.attempt)
	}
	if repo.reconciled || sched.finished {
		t.Error("rescheduled job must not reconcile or finish")
	}
}

func TestClusterWorkerForcedRunReconciles(t *testing.T) {
	repo := &fakeClusterRepo{}
	sched := &fakeScheduler{decision: debounce.DecisionRunForced}
	w := NewClusterWorker(repo, sched, 4*time.Hour)

	if err := w.Handle(context.Background(), clusterTask(t, uuid.New(), "job-9", 2)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !repo.reconciled || !sched.finished {
		t.Error("forced run must reconcile and finish")
	}
}

func TestClusterWorkerFailureSkipsFinish(t *testing.T) {
	repo := &fakeClusterRepo{err: errors.New("deadlock detected")}
	sched := &fakeScheduler{decision: debounce.DecisionRun}
	w := NewClusterWorker(repo, sched, 4*time.Hour)

	if err := w.Handle(context.Background(), clusterTask(t, uuid.New(), "job-3", 0)); err == nil {
		t.Fatal("expected error")
	}
	if sched.finished {
		t.Error("Finish must not run after a failed reconciliation")
	}
}

func TestClusterWorkerEmptyGroup(t *testing.T) {
	repo := &fakeClusterRepo{}
	sched := &fakeScheduler{decision: debounce.DecisionRun}
	w := NewClusterWorker(repo, sched, 4*time.Hour)

	if err := w.Handle(context.Background(), clusterTask(t, uuid.New(), "job-0", 0)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !repo.reconciled {
		t.Fatal("empty group still reconciles (clears stale meetings)")
	}
	if len(repo.desired) != 0 || len(repo.undated) != 0 {
		t.Errorf("expected empty desired state, got %+v / %v", repo.desired, repo.undated)
	}
}
