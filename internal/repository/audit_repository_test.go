package repository

import "testing"

func TestSummaryDerivesApprovalRate(t *testing.T) {
	agg := MetricsAggregation{
		TotalCount:          8,
		ApprovedCount:       6,
		ErrorCount:          1,
		AverageScore:        82.5,
		AverageProcessingMs: 1800,
	}

	summary := agg.Summary()
	if summary.ApprovalRate != 0.75 {
		t.Fatalf("expected approval rate 0.75, got %f", summary.ApprovalRate)
	}
	if summary.TotalJobs != 8 || summary.ApprovedJobs != 6 || summary.ErroredJobs != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.AverageScore != 82.5 {
		t.Fatalf("unexpected average score: %f", summary.AverageScore)
	}
}

func TestSummaryHandlesEmptyTable(t *testing.T) {
	agg := MetricsAggregation{}
	summary := agg.Summary()
	if summary.ApprovalRate != 0 {
		t.Fatalf("expected zero approval rate, got %f", summary.ApprovalRate)
	}
}
