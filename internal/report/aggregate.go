// Package report turns per-chunk model output into the canonical analysis
// report. Aggregation is pure and deterministic: given the same chunk
// results it always produces the same report, severity included.
package report

import (
	"strconv"
	"strings"

	"github.com/joescharf/critic/internal/llm"
	"github.com/joescharf/critic/internal/models"
)

// ChunkResult holds the model output for one chunk of a file. LineOffset is
// the number of original-file lines preceding the chunk, recorded by the
// prompt builder.
type ChunkResult struct {
	LineOffset int
	Issues     []llm.RawIssue
}

// FileResult holds the ordered chunk results for one analyzed file. Chunks
// must be in chunk-index order; the orchestrator reassembles out-of-order
// completions before aggregation.
type FileResult struct {
	Path      string
	Truncated bool
	Chunks    []ChunkResult
}

// Aggregator merges per-file chunk results into a Report.
type Aggregator struct {
	policy Policy
}

// NewAggregator returns an Aggregator using the given severity policy.
func NewAggregator(policy Policy) *Aggregator {
	if policy.DuplicatePrefixLen <= 0 {
		policy = DefaultPolicy()
	}
	return &Aggregator{policy: policy}
}

// Aggregate builds the final report. File order follows the input order
// (retrieval order), issue order follows chunk order then model order.
// Every analyzed file appears in the report, zero findings included.
func (a *Aggregator) Aggregate(files []FileResult) *models.Report {
	r := &models.Report{
		Summary: models.Summary{IssuesByType: make(map[models.IssueType]int)},
	}

	for _, f := range files {
		fr := models.FileReport{Name: f.Path, Issues: []models.Issue{}}
		seen := make(map[string]bool)

		for _, chunk := range f.Chunks {
			for _, raw := range chunk.Issues {
				issue := a.shape(raw, chunk.LineOffset)

				key := dedupKey(issue, a.policy.DuplicatePrefixLen)
				if seen[key] {
					continue // model repeated a finding across chunk boundaries
				}
				seen[key] = true
				fr.Issues = append(fr.Issues, issue)
			}
		}
		r.Files = append(r.Files, fr)
	}

	r.Summary = summarize(r.Files)
	return r
}

// shape normalizes a raw model issue: re-bases its line number into the
// original file, maps unknown types to quality, and derives severity.
func (a *Aggregator) shape(raw llm.RawIssue, lineOffset int) models.Issue {
	issueType := models.IssueType(strings.ToLower(raw.Type))
	if !models.ValidIssueType(issueType) {
		issueType = models.IssueTypeQuality
	}

	var line *int
	if raw.Line != nil && *raw.Line >= 1 {
		rebased := *raw.Line + lineOffset
		line = &rebased
	}

	return models.Issue{
		Type:        issueType,
		Line:        line,
		Description: raw.Description,
		Suggestion:  raw.Suggestion,
		Severity:    a.severity(issueType, line, raw.Description),
	}
}

// severity derives the severity deterministically; the model never assigns
// it directly.
func (a *Aggregator) severity(t models.IssueType, line *int, description string) models.Severity {
	switch t {
	case models.IssueTypeSecurity:
		return models.SeverityCritical
	case models.IssueTypeBug:
		if line == nil {
			return models.SeverityMajor // not localizable, downgraded
		}
		return models.SeverityCritical
	}

	lower := strings.ToLower(description)
	for _, kw := range a.policy.CriticalKeywords {
		if strings.Contains(lower, kw) {
			return models.SeverityCritical
		}
	}
	return models.SeverityMinor
}

// dedupKey identifies textually near-identical findings at the same spot.
func dedupKey(issue models.Issue, prefixLen int) string {
	desc := strings.ToLower(strings.Join(strings.Fields(issue.Description), " "))
	if len(desc) > prefixLen {
		desc = desc[:prefixLen]
	}

	line := "-"
	if issue.Line != nil {
		line = strconv.Itoa(*issue.Line)
	}
	return string(issue.Type) + "|" + line + "|" + desc
}

// summarize is a pure fold over the file reports.
func summarize(files []models.FileReport) models.Summary {
	s := models.Summary{
		TotalFiles:   len(files),
		IssuesByType: make(map[models.IssueType]int),
	}
	for _, f := range files {
		s.TotalIssues += len(f.Issues)
		for _, issue := range f.Issues {
			s.IssuesByType[issue.Type]++
			if issue.Severity == models.SeverityCritical {
				s.CriticalIssues++
			}
		}
	}
	return s
}
