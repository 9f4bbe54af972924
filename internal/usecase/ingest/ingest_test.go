package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/mnemosyne/internal/domain"
	"github.com/bkyoung/mnemosyne/internal/usecase/ingest"
	"github.com/bkyoung/mnemosyne/internal/usecase/retrieval"
)

type mockNormalizer struct {
	report domain.StructuredReport
	err    error
	calls  int
	mu     sync.Mutex
}

func (m *mockNormalizer) Normalize(_ context.Context, _ string) (domain.StructuredReport, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.report, m.err
}

type mockEmbedder struct{}

func (mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type mockEncoder struct{}

func (mockEncoder) Encode(_ string) retrieval.SparseVector {
	return retrieval.SparseVector{Indices: []uint32{7}, Values: []float32{1.0}}
}

type mockStore struct {
	existing  map[string]bool
	points    []ingest.Point
	upsertErr error
	mu        sync.Mutex
}

func (m *mockStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existing[id], nil
}

func (m *mockStore) Upsert(_ context.Context, points []ingest.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.points = append(m.points, points...)
	return nil
}

type nopLogger struct{}

func (nopLogger) Info(_ context.Context, _ string, _ map[string]interface{}) {}
func (nopLogger) Warn(_ context.Context, _ string, _ map[string]interface{}) {}

func validReport() domain.StructuredReport {
	return domain.StructuredReport{
		Title:             "IDOR in invoice download",
		Summary:           "Any user can download other tenants' invoices.",
		VulnerabilityType: "IDOR",
		Severity:          domain.SeverityHigh,
		AffectedComponent: "billing API",
		ReproductionSteps: []string{"GET /invoices/123 as another user"},
		Impact:            "Cross-tenant data exposure.",
	}
}

func TestIngestIndexesNewReport(t *testing.T) {
	normalizer := &mockNormalizer{report: validReport()}
	store := &mockStore{existing: map[string]bool{}}
	ing := ingest.NewIngestor(normalizer, mockEmbedder{}, mockEncoder{}, store, nopLogger{})

	raw := "Raw report: invoices are downloadable across tenants."
	result, err := ing.Ingest(context.Background(), raw)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.AlreadyExists)
	assert.Equal(t, domain.ReportID(raw), result.ReportID)

	require.Len(t, store.points, 1)
	assert.Equal(t, result.ReportID, store.points[0].ID)
	assert.Equal(t, "IDOR in invoice download", store.points[0].Report.Title)
	assert.NotEmpty(t, store.points[0].Dense)
}

func TestIngestSkipsExistingReportWithoutNormalizing(t *testing.T) {
	raw := "Same raw text submitted twice."
	normalizer := &mockNormalizer{report: validReport()}
	store := &mockStore{existing: map[string]bool{domain.ReportID(raw): true}}
	ing := ingest.NewIngestor(normalizer, mockEmbedder{}, mockEncoder{}, store, nopLogger{})

	result, err := ing.Ingest(context.Background(), raw)
	require.NoError(t, err)

	assert.True(t, result.AlreadyExists)
	assert.Equal(t, 0, normalizer.calls, "duplicate must not reach the LLM")
	assert.Empty(t, store.points)
}

func TestIngestRejectsInvalidNormalizedReport(t *testing.T) {
	incomplete := validReport()
	incomplete.Title = ""
	normalizer := &mockNormalizer{report: incomplete}
	store := &mockStore{existing: map[string]bool{}}
	ing := ingest.NewIngestor(normalizer, mockEmbedder{}, mockEncoder{}, store, nopLogger{})

	_, err := ing.Ingest(context.Background(), "some raw text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "normalized report invalid")
	assert.Empty(t, store.points)
}

func TestIngestNormalizerFailure(t *testing.T) {
	normalizer := &mockNormalizer{err: errors.New("api overloaded")}
	store := &mockStore{existing: map[string]bool{}}
	ing := ingest.NewIngestor(normalizer, mockEmbedder{}, mockEncoder{}, store, nopLogger{})

	_, err := ing.Ingest(context.Background(), "some raw text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "normalizing report")
}

func TestBuildEmbeddingTextFieldOrder(t *testing.T) {
	report := validReport()
	report.TechnicalArtifacts = []domain.TechnicalArtifact{
		{Type: domain.ArtifactRequest, Content: "GET /invoices/123"},
	}
	report.Technologies = []string{"nginx", "rails"}
	report.Remediation = "Check invoice ownership."

	text := ingest.BuildEmbeddingText(report)

	assert.Contains(t, text, "Title: IDOR in invoice download")
	assert.Contains(t, text, "Reproduction Steps: GET /invoices/123 as another user")
	assert.Contains(t, text, "request: GET /invoices/123")
	assert.Contains(t, text, "Technologies: nginx, rails")
	assert.Contains(t, text, "Remediation: Check invoice ownership.")

	// Headline fields come before supporting ones.
	assert.Less(t, strings.Index(text, "Title:"), strings.Index(text, "Impact:"))
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("report a content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("report b content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.md"), []byte("   "), 0o644))

	normalizer := &mockNormalizer{report: validReport()}
	store := &mockStore{existing: map[string]bool{}}
	ing := ingest.NewIngestor(normalizer, mockEmbedder{}, mockEncoder{}, store, nopLogger{})

	summary, err := ing.IngestDirectory(context.Background(), dir, ingest.BatchConfig{Concurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total, "json file excluded from the batch")
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, 1, summary.Failed, "empty file fails without stopping the batch")
	assert.Equal(t, 0, summary.Skipped)
}

func TestIngestDirectoryMissingDir(t *testing.T) {
	ing := ingest.NewIngestor(&mockNormalizer{}, mockEmbedder{}, mockEncoder{}, &mockStore{}, nopLogger{})

	_, err := ing.IngestDirectory(context.Background(), "/nonexistent/path", ingest.BatchConfig{})
	require.Error(t, err)
}
