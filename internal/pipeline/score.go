package pipeline

import (
	"github.com/example/id-verify/internal/jobstore"
	"github.com/example/id-verify/internal/vision"
)

// Rubric weights. The score is a fixed additive scheme, not a model output,
// so tests can assert exact values.
const (
	faceWeight           = 40
	fullNameWeight       = 30
	dobWeight            = 20
	documentNumberWeight = 10
)

// Decision thresholds: >= approveThreshold approves, >= reviewThreshold
// sends to manual review, anything lower rejects.
const (
	approveThreshold = 80
	reviewThreshold  = 60
)

// Score converts the boolean face signal and field presence into an integer
// in [0,100].
func Score(facePresent bool, fields vision.Fields) int {
	score := 0
	if facePresent {
		score += faceWeight
	}
	if present(fields.FullName) {
		score += fullNameWeight
	}
	if present(fields.DOB) {
		score += dobWeight
	}
	if present(fields.DocumentNumber) {
		score += documentNumberWeight
	}
	return score
}

// Decide maps a score onto the three-tier verdict.
func Decide(score int) jobstore.Status {
	switch {
	case score >= approveThreshold:
		return jobstore.StatusApproved
	case score >= reviewThreshold:
		return jobstore.StatusReview
	default:
		return jobstore.StatusRejected
	}
}

func present(s *string) bool {
	return s != nil && *s != ""
}
