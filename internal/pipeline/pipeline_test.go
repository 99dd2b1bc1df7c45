package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/example/id-verify/internal/jobstore"
	"github.com/example/id-verify/internal/logging"
	"github.com/example/id-verify/internal/vision"
)

type stubFetcher struct {
	objects map[string][]byte
	errs    map[string]error
	fetched []string
}

func (s *stubFetcher) GetObjectBytes(ctx context.Context, key string) ([]byte, error) {
	s.fetched = append(s.fetched, key)
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	return s.objects[key], nil
}

type stubDetector struct {
	present bool
}

func (s *stubDetector) FacePresent(img []byte) bool { return s.present }

type stubExtractor struct {
	fields vision.Fields
	err    error
}

func (s *stubExtractor) ExtractFields(ctx context.Context, frontImage []byte) (vision.Fields, error) {
	if s.err != nil {
		return vision.Fields{}, s.err
	}
	return s.fields, nil
}

func testJob() jobstore.Job {
	return jobstore.Job{
		ID:           "ver_test",
		Status:       jobstore.StatusPending,
		DocumentType: "passport",
		ObjectKeys: map[string]string{
			"front":  "raw/u-front.jpg",
			"selfie": "raw/u-selfie.jpg",
		},
	}
}

func TestRunApprovesFullMatch(t *testing.T) {
	fetcher := &stubFetcher{objects: map[string][]byte{
		"raw/u-front.jpg":  []byte("front"),
		"raw/u-selfie.jpg": []byte("selfie"),
	}}
	extractor := &stubExtractor{fields: vision.Fields{
		FullName:       strPtr("Jane Doe"),
		DOB:            strPtr("1995-05-05"),
		DocumentNumber: strPtr("ABC1234567"),
	}}
	p := New(fetcher, &stubDetector{present: true}, extractor, zap.NewNop())

	outcome, err := p.Run(context.Background(), testJob())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Score != 100 {
		t.Fatalf("expected score 100, got %d", outcome.Score)
	}
	if outcome.Status != jobstore.StatusApproved {
		t.Fatalf("expected approved, got %s", outcome.Status)
	}
	if !outcome.FacePresent {
		t.Fatal("expected face present")
	}
	if len(fetcher.fetched) != 2 {
		t.Fatalf("expected exactly two object reads, got %v", fetcher.fetched)
	}
}

func TestRunRejectsWhenNothingMatches(t *testing.T) {
	fetcher := &stubFetcher{objects: map[string][]byte{
		"raw/u-front.jpg":  []byte("front"),
		"raw/u-selfie.jpg": []byte("selfie"),
	}}
	p := New(fetcher, &stubDetector{present: false}, &stubExtractor{}, zap.NewNop())

	outcome, err := p.Run(context.Background(), testJob())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Score != 0 {
		t.Fatalf("expected score 0, got %d", outcome.Score)
	}
	if outcome.Status != jobstore.StatusRejected {
		t.Fatalf("expected rejected, got %s", outcome.Status)
	}
}

func TestRunPropagatesProviderHardFailure(t *testing.T) {
	fetcher := &stubFetcher{objects: map[string][]byte{
		"raw/u-front.jpg":  []byte("front"),
		"raw/u-selfie.jpg": []byte("selfie"),
	}}
	extractor := &stubExtractor{err: errors.New("provider down")}
	p := New(fetcher, &stubDetector{present: true}, extractor, zap.NewNop())

	_, err := p.Run(context.Background(), testJob())
	if err == nil {
		t.Fatal("expected error")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "pipeline.extract_fields" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
}

func TestRunPropagatesStorageFailure(t *testing.T) {
	fetcher := &stubFetcher{errs: map[string]error{
		"raw/u-selfie.jpg": errors.New("object store unreachable"),
	}}
	p := New(fetcher, &stubDetector{}, &stubExtractor{}, zap.NewNop())

	_, err := p.Run(context.Background(), testJob())
	if err == nil {
		t.Fatal("expected error")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "pipeline.fetch_selfie" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
}
