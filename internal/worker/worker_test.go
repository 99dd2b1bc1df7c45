package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/id-verify/internal/jobstore"
	"github.com/example/id-verify/internal/pipeline"
	"github.com/example/id-verify/internal/repository"
	"github.com/example/id-verify/internal/vision"
)

type recordedUpdate struct {
	id  string
	upd jobstore.JobUpdate
}

type stubStore struct {
	queue      []string
	jobs       map[string]jobstore.Job
	updates    []recordedUpdate
	updateErrs map[int]error
	onEmpty    func()
}

func (s *stubStore) Dequeue(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.queue) == 0 {
		if s.onEmpty != nil {
			s.onEmpty()
		}
		return "", nil
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	return id, nil
}

func (s *stubStore) Get(ctx context.Context, id string) (jobstore.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return jobstore.Job{}, jobstore.ErrNotFound
	}
	return job, nil
}

func (s *stubStore) Update(ctx context.Context, id string, upd jobstore.JobUpdate) error {
	call := len(s.updates)
	s.updates = append(s.updates, recordedUpdate{id: id, upd: upd})
	if err := s.updateErrs[call]; err != nil {
		return err
	}
	return nil
}

type stubRunner struct {
	outcome pipeline.Outcome
	err     error
}

func (s *stubRunner) Run(ctx context.Context, job jobstore.Job) (pipeline.Outcome, error) {
	if s.err != nil {
		return pipeline.Outcome{}, s.err
	}
	return s.outcome, nil
}

type stubAuditor struct {
	records []*repository.VerificationRecord
}

func (s *stubAuditor) RecordOutcome(ctx context.Context, rec *repository.VerificationRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func strPtr(s string) *string { return &s }

func pendingJob(id string) jobstore.Job {
	return jobstore.Job{
		ID:           id,
		Status:       jobstore.StatusPending,
		DocumentType: "passport",
		ObjectKeys: map[string]string{
			"front":  "raw/u-front.jpg",
			"selfie": "raw/u-selfie.jpg",
		},
	}
}

func TestProcessFinalizesSuccessfulJob(t *testing.T) {
	store := &stubStore{jobs: map[string]jobstore.Job{"ver_1": pendingJob("ver_1")}}
	runner := &stubRunner{outcome: pipeline.Outcome{
		Score:       100,
		Status:      jobstore.StatusApproved,
		FacePresent: true,
		Fields: vision.Fields{
			FullName:       strPtr("Jane Doe"),
			DOB:            strPtr("1995-05-05"),
			DocumentNumber: strPtr("ABC1234567"),
		},
	}}
	audit := &stubAuditor{}
	w := New(store, runner, audit, time.Minute, time.Millisecond, zap.NewNop())

	w.process(context.Background(), "ver_1")

	if len(store.updates) != 2 {
		t.Fatalf("expected claim + final update, got %d updates", len(store.updates))
	}
	claim := store.updates[0].upd
	if claim.Status == nil || *claim.Status != jobstore.StatusProcessing {
		t.Fatalf("first update must mark processing, got %+v", claim)
	}
	if claim.Score != nil || claim.Fields != nil {
		t.Fatal("claim update must not carry outcome fields")
	}

	final := store.updates[1].upd
	if final.Status == nil || *final.Status != jobstore.StatusApproved {
		t.Fatalf("expected approved, got %+v", final.Status)
	}
	if final.Score == nil || *final.Score != 100 {
		t.Fatalf("expected score 100, got %v", final.Score)
	}
	if final.Fields == nil || final.Fields.FullName == nil || *final.Fields.FullName != "Jane Doe" {
		t.Fatalf("expected persisted fields, got %+v", final.Fields)
	}
	if final.Error != nil {
		t.Fatal("success must not set error")
	}

	if len(audit.records) != 1 || audit.records[0].Status != "approved" || audit.records[0].Score != 100 {
		t.Fatalf("expected one approved audit record, got %+v", audit.records)
	}
}

func TestProcessConvertsPipelineFailureToErrorStatus(t *testing.T) {
	store := &stubStore{jobs: map[string]jobstore.Job{"ver_2": pendingJob("ver_2")}}
	runner := &stubRunner{err: errors.New("object store unreachable")}
	w := New(store, runner, nil, time.Minute, time.Millisecond, zap.NewNop())

	w.process(context.Background(), "ver_2")

	if len(store.updates) != 2 {
		t.Fatalf("expected claim + error update, got %d", len(store.updates))
	}
	final := store.updates[1].upd
	if final.Status == nil || *final.Status != jobstore.StatusError {
		t.Fatalf("expected error status, got %+v", final.Status)
	}
	if final.Error == nil || *final.Error == "" {
		t.Fatal("expected a non-empty error message")
	}
	if final.Score != nil {
		t.Fatal("error outcome must not set a score")
	}
}

func TestProcessSkipsMissingRecord(t *testing.T) {
	store := &stubStore{jobs: map[string]jobstore.Job{}}
	w := New(store, &stubRunner{}, nil, time.Minute, time.Millisecond, zap.NewNop())

	w.process(context.Background(), "ver_gone")

	if len(store.updates) != 0 {
		t.Fatalf("missing record must not be updated, got %d updates", len(store.updates))
	}
}

func TestProcessFailsJobWhenFinalWriteFails(t *testing.T) {
	store := &stubStore{
		jobs:       map[string]jobstore.Job{"ver_3": pendingJob("ver_3")},
		updateErrs: map[int]error{1: errors.New("redis gone")},
	}
	runner := &stubRunner{outcome: pipeline.Outcome{Score: 40, Status: jobstore.StatusRejected}}
	w := New(store, runner, nil, time.Minute, time.Millisecond, zap.NewNop())

	w.process(context.Background(), "ver_3")

	if len(store.updates) != 3 {
		t.Fatalf("expected claim + failed final + error write, got %d", len(store.updates))
	}
	last := store.updates[2].upd
	if last.Status == nil || *last.Status != jobstore.StatusError {
		t.Fatalf("expected trailing error write, got %+v", last.Status)
	}
}

func TestRunDrainsQueueAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &stubStore{
		queue:   []string{"ver_a", "ver_b"},
		jobs:    map[string]jobstore.Job{"ver_a": pendingJob("ver_a"), "ver_b": pendingJob("ver_b")},
		onEmpty: cancel,
	}
	runner := &stubRunner{outcome: pipeline.Outcome{Score: 0, Status: jobstore.StatusRejected}}
	w := New(store, runner, nil, time.Minute, time.Millisecond, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	// Two jobs, each claim + final.
	if len(store.updates) != 4 {
		t.Fatalf("expected both jobs processed, got %d updates", len(store.updates))
	}
}
