package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VerificationRecord is the audit row written once a job reaches a terminal
// status. It is a reporting copy; the job store remains the source of truth.
type VerificationRecord struct {
	ID           uint      `gorm:"primaryKey"`
	JobID        string    `gorm:"column:job_id;uniqueIndex;size:64"`
	DocumentType string    `gorm:"column:document_type;size:64"`
	Status       string    `gorm:"column:status;size:16"`
	Score        int       `gorm:"column:score"`
	FacePresent  bool      `gorm:"column:face_present"`
	ProcessingMs int64     `gorm:"column:processing_ms"`
	Error        string    `gorm:"column:error;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// AuditRepository persists finalized verification outcomes.
type AuditRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new repository instance.
func NewAuditRepository(db *gorm.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger.Named("audit")}
}

// AutoMigrate ensures the schema is available.
func (r *AuditRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationRecord{})
}

// RecordOutcome persists one audit row.
func (r *AuditRepository) RecordOutcome(ctx context.Context, rec *VerificationRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// FindByJobID retrieves the audit row for a job.
func (r *AuditRepository) FindByJobID(ctx context.Context, jobID string) (*VerificationRecord, error) {
	var rec VerificationRecord
	if err := r.db.WithContext(ctx).First(&rec, "job_id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// MetricsAggregation holds raw aggregates over the audit table.
type MetricsAggregation struct {
	TotalCount          int64
	ApprovedCount       int64
	ErrorCount          int64
	AverageScore        float64
	AverageProcessingMs float64
}

// AggregateMetrics computes aggregates across all recorded outcomes.
func (r *AuditRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Model(&VerificationRecord{}).
		Select("count(*) as total_count, " +
			"coalesce(sum(case when status = 'approved' then 1 else 0 end), 0) as approved_count, " +
			"coalesce(sum(case when status = 'error' then 1 else 0 end), 0) as error_count, " +
			"coalesce(avg(score), 0) as average_score, " +
			"coalesce(avg(processing_ms), 0) as average_processing_ms").
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// MetricsSummary is the derived view served by the metrics endpoint.
type MetricsSummary struct {
	TotalJobs                  int64   `json:"total_jobs"`
	ApprovedJobs               int64   `json:"approved_jobs"`
	ErroredJobs                int64   `json:"errored_jobs"`
	ApprovalRate               float64 `json:"approval_rate"`
	AverageScore               float64 `json:"average_score"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// Summary derives rates from the raw aggregates.
func (a *MetricsAggregation) Summary() MetricsSummary {
	summary := MetricsSummary{
		TotalJobs:                  a.TotalCount,
		ApprovedJobs:               a.ApprovedCount,
		ErroredJobs:                a.ErrorCount,
		AverageScore:               a.AverageScore,
		AverageProcessingLatencyMs: a.AverageProcessingMs,
	}
	if a.TotalCount > 0 {
		summary.ApprovalRate = float64(a.ApprovedCount) / float64(a.TotalCount)
	}
	return summary
}
