package domain

// Detection run statuses.
const (
	StatusDuplicate = "duplicate"
	StatusSimilar   = "similar"
	StatusNew       = "new"
)

// SearchResult is one candidate prior report returned by retrieval.
// Results are never mutated in place: re-ranking produces a new value
// with the same identifier and report but a replaced score.
type SearchResult struct {
	ReportID string
	Score    float64
	Report   StructuredReport
}

// CandidateRef is a compact reference to a candidate that was
// considered during a detection run.
type CandidateRef struct {
	ReportID string  `json:"report_id"`
	Score    float64 `json:"score"`
	Title    string  `json:"title"`
	Type     string  `json:"type"`
}

// DetectionVerdict is the terminal output of one detection run.
// It is immutable once returned.
type DetectionVerdict struct {
	IsDuplicate     bool              `json:"is_duplicate"`
	SimilarityScore float64           `json:"similarity_score"`
	MatchedReportID string            `json:"matched_report_id,omitempty"`
	MatchedReport   *StructuredReport `json:"matched_report,omitempty"`
	Status          string            `json:"status"`
	Candidates      []CandidateRef    `json:"candidates,omitempty"`
}

// IngestionResult reports the outcome of storing one report.
type IngestionResult struct {
	Success       bool
	ReportID      string
	Message       string
	AlreadyExists bool
}
