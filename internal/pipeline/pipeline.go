package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/id-verify/internal/facecheck"
	"github.com/example/id-verify/internal/jobstore"
	"github.com/example/id-verify/internal/logging"
	"github.com/example/id-verify/internal/vision"
)

// ObjectFetcher provides read access to uploaded image bytes.
type ObjectFetcher interface {
	GetObjectBytes(ctx context.Context, key string) ([]byte, error)
}

// Outcome is the pipeline's verdict for one job.
type Outcome struct {
	Score       int
	Status      jobstore.Status
	FacePresent bool
	Fields      vision.Fields
}

// Pipeline runs the ordered verification checks for a job: face presence on
// the selfie, field extraction on the ID front, then scoring and decision.
// It performs no store writes; persisting the outcome belongs to the worker.
type Pipeline struct {
	objects   ObjectFetcher
	faces     facecheck.Detector
	extractor vision.FieldExtractor
	logger    *zap.Logger
}

// New constructs a pipeline from its injected collaborators.
func New(objects ObjectFetcher, faces facecheck.Detector, extractor vision.FieldExtractor, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		objects:   objects,
		faces:     faces,
		extractor: extractor,
		logger:    logger.Named("pipeline"),
	}
}

// Run produces the outcome for a job, or an error the caller converts into a
// terminal error status. Extraction uncertainty is not an error: the
// provider resolving all fields to null simply lowers the score.
func (p *Pipeline) Run(ctx context.Context, job jobstore.Job) (Outcome, error) {
	start := time.Now()
	opLogger := logging.WithOperation(p.logger, "pipeline.run", job.ID)

	selfie, err := p.objects.GetObjectBytes(ctx, job.ObjectKeys["selfie"])
	if err != nil {
		return Outcome{}, logging.NewOperationError("pipeline.fetch_selfie", job.ID, err)
	}
	front, err := p.objects.GetObjectBytes(ctx, job.ObjectKeys["front"])
	if err != nil {
		return Outcome{}, logging.NewOperationError("pipeline.fetch_front", job.ID, err)
	}

	facePresent := p.faces.FacePresent(selfie)

	fields, err := p.extractor.ExtractFields(ctx, front)
	if err != nil {
		return Outcome{}, logging.NewOperationError("pipeline.extract_fields", job.ID, err)
	}

	score := Score(facePresent, fields)
	outcome := Outcome{
		Score:       score,
		Status:      Decide(score),
		FacePresent: facePresent,
		Fields:      fields,
	}

	opLogger.Info("verdict computed",
		zap.Int("score", outcome.Score),
		zap.String("status", string(outcome.Status)),
		zap.Bool("face_present", facePresent),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return outcome, nil
}
