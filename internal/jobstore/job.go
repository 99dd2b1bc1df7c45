package jobstore

import "time"

// Status is the lifecycle state of a verification job. Transitions only move
// forward: pending -> processing -> one of the terminal states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusReview     Status = "review"
	StatusRejected   Status = "rejected"
	StatusError      Status = "error"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusReview, StatusRejected, StatusError:
		return true
	}
	return false
}

// IDFields holds the identity fields extracted from the ID front image.
// Each field is independently nullable: the provider returns null for
// anything it cannot read with confidence.
type IDFields struct {
	FullName       *string `json:"full_name"`
	DOB            *string `json:"dob"`
	DocumentNumber *string `json:"document_number"`
}

// Parsed reports whether at least one field was extracted.
func (f IDFields) Parsed() bool {
	return present(f.FullName) || present(f.DOB) || present(f.DocumentNumber)
}

func present(s *string) bool {
	return s != nil && *s != ""
}

// Job is the in-memory view of one verification job. The persisted form is a
// string-valued redis hash; see the codec in store.go.
type Job struct {
	ID           string
	Status       Status
	DocumentType string
	ObjectKeys   map[string]string
	Score        *int
	Fields       *IDFields
	FacePresent  *bool
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobUpdate is a partial record merge. Nil members are left untouched;
// last writer wins (only the single claiming worker writes after creation).
type JobUpdate struct {
	Status      *Status
	Score       *int
	Fields      *IDFields
	FacePresent *bool
	Error       *string
}
