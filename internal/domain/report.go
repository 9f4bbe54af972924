// Package domain defines the canonical types for normalized security
// reports and duplicate-detection results. Types here are pure data:
// they carry no dependencies on adapters or use cases.
package domain

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// SeverityLevel follows industry-standard security severity naming.
type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "critical"
	SeverityHigh     SeverityLevel = "high"
	SeverityMedium   SeverityLevel = "medium"
	SeverityLow      SeverityLevel = "low"
	SeverityInfo     SeverityLevel = "info"
)

// IsValid reports whether s is a known severity level.
func (s SeverityLevel) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// ArtifactType categorizes a technical artifact found in a report.
type ArtifactType string

const (
	ArtifactPayload  ArtifactType = "payload"
	ArtifactRequest  ArtifactType = "request"
	ArtifactResponse ArtifactType = "response"
	ArtifactCode     ArtifactType = "code"
	ArtifactExploit  ArtifactType = "exploit"
	ArtifactLog      ArtifactType = "log"
	ArtifactOther    ArtifactType = "other"
)

// IsValid reports whether t is a known artifact type.
func (t ArtifactType) IsValid() bool {
	switch t {
	case ArtifactPayload, ArtifactRequest, ArtifactResponse, ArtifactCode, ArtifactExploit, ArtifactLog, ArtifactOther:
		return true
	}
	return false
}

// TechnicalArtifact is a code snippet, payload, request, or similar
// verbatim excerpt from a report.
//
// Content must never be summarized, truncated, or otherwise mutated
// after creation: it is the anchor for exact-match sparse retrieval.
type TechnicalArtifact struct {
	Type        ArtifactType `json:"type"`
	Language    string       `json:"language,omitempty"`
	Content     string       `json:"content"`
	Description string       `json:"description"`
}

// ReportMetadata carries additional extracted metadata.
type ReportMetadata struct {
	CVEs        []string `json:"cves,omitempty"`
	References  []string `json:"references,omitempty"`
	HunterNotes string   `json:"hunter_notes,omitempty"`
}

// StructuredReport is the canonical normalized form of a submitted
// vulnerability report. It is produced once by the normalization stage
// and treated as immutable for the rest of a detection run.
type StructuredReport struct {
	Title              string              `json:"title"`
	Summary            string              `json:"summary"`
	VulnerabilityType  string              `json:"vulnerability_type"`
	Severity           SeverityLevel       `json:"severity"`
	AffectedComponent  string              `json:"affected_component"`
	ReproductionSteps  []string            `json:"reproduction_steps"`
	TechnicalArtifacts []TechnicalArtifact `json:"technical_artifacts,omitempty"`
	Technologies       []string            `json:"technologies,omitempty"`
	Impact             string              `json:"impact"`
	Remediation        string              `json:"remediation,omitempty"`
	Metadata           ReportMetadata      `json:"metadata,omitempty"`
}

// Validate checks that a report reconstituted from an external payload
// carries the required fields. Records failing validation must be
// rejected rather than silently accepted as partial data.
func (r StructuredReport) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("report missing title")
	}
	if r.Summary == "" {
		return fmt.Errorf("report %q missing summary", r.Title)
	}
	if r.VulnerabilityType == "" {
		return fmt.Errorf("report %q missing vulnerability type", r.Title)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("report %q has invalid severity %q", r.Title, r.Severity)
	}
	if r.AffectedComponent == "" {
		return fmt.Errorf("report %q missing affected component", r.Title)
	}
	for i, a := range r.TechnicalArtifacts {
		if !a.Type.IsValid() {
			return fmt.Errorf("report %q artifact %d has invalid type %q", r.Title, i, a.Type)
		}
		if a.Content == "" {
			return fmt.Errorf("report %q artifact %d has empty content", r.Title, i)
		}
	}
	return nil
}

// ReportID derives the stable identifier for a report from its raw
// text: SHA-256 over the NFC-normalized text, first 16 bytes rendered
// as a UUID. The same raw text always maps to the same id, which makes
// re-ingestion detection idempotent.
func ReportID(rawText string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(rawText)))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// Unreachable: FromBytes only fails on length != 16.
		panic(fmt.Sprintf("report id derivation: %v", err))
	}
	return id.String()
}
