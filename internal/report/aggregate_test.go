package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/critic/internal/llm"
	"github.com/joescharf/critic/internal/models"
)

func intp(n int) *int { return &n }

func issue(typ string, line *int, desc string) llm.RawIssue {
	return llm.RawIssue{Type: typ, Line: line, Description: desc, Suggestion: "fix it"}
}

func TestAggregate_RebasesLinesIntoOriginalFile(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())

	rep := agg.Aggregate([]FileResult{{
		Path: "big.py",
		Chunks: []ChunkResult{
			{LineOffset: 0, Issues: []llm.RawIssue{issue("style", intp(5), "naming")}},
			{LineOffset: 300, Issues: []llm.RawIssue{issue("style", intp(12), "long function")}},
		},
	}})

	require.Len(t, rep.Files, 1)
	issues := rep.Files[0].Issues
	require.Len(t, issues, 2)
	assert.Equal(t, 5, *issues[0].Line)
	assert.Equal(t, 312, *issues[1].Line, "chunk-relative line 12 at offset 300")
}

func TestAggregate_SeverityDerivation(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())

	rep := agg.Aggregate([]FileResult{{
		Path: "app.py",
		Chunks: []ChunkResult{{Issues: []llm.RawIssue{
			issue("security", intp(1), "anything at all"),
			issue("bug", intp(2), "nil deref"),
			issue("bug", nil, "possible race somewhere"),
			issue("style", intp(4), "inconsistent naming"),
			issue("quality", intp(5), "this allows SQL injection via user input"),
		}}},
	}})

	issues := rep.Files[0].Issues
	require.Len(t, issues, 5)
	assert.Equal(t, models.SeverityCritical, issues[0].Severity, "security is always critical")
	assert.Equal(t, models.SeverityCritical, issues[1].Severity, "localizable bug is critical")
	assert.Equal(t, models.SeverityMajor, issues[2].Severity, "bug without a line is downgraded")
	assert.Equal(t, models.SeverityMinor, issues[3].Severity)
	assert.Equal(t, models.SeverityCritical, issues[4].Severity, "critical keyword escalates")
}

func TestAggregate_UnknownTypeBecomesQuality(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())

	rep := agg.Aggregate([]FileResult{{
		Path:   "a.py",
		Chunks: []ChunkResult{{Issues: []llm.RawIssue{issue("Existential", intp(1), "what is code")}}},
	}})

	require.Len(t, rep.Files[0].Issues, 1)
	assert.Equal(t, models.IssueTypeQuality, rep.Files[0].Issues[0].Type)
}

func TestAggregate_InvalidLinesDropToNil(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())

	rep := agg.Aggregate([]FileResult{{
		Path: "a.py",
		Chunks: []ChunkResult{{LineOffset: 100, Issues: []llm.RawIssue{
			issue("style", intp(0), "zero line"),
			issue("style", intp(-3), "negative line"),
		}}},
	}})

	issues := rep.Files[0].Issues
	require.Len(t, issues, 2)
	assert.Nil(t, issues[0].Line)
	assert.Nil(t, issues[1].Line)
}

func TestAggregate_CollapsesDuplicatesAcrossChunks(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())

	rep := agg.Aggregate([]FileResult{{
		Path: "a.py",
		Chunks: []ChunkResult{
			{LineOffset: 0, Issues: []llm.RawIssue{issue("style", intp(50), "Magic number here")}},
			{LineOffset: 40, Issues: []llm.RawIssue{issue("style", intp(10), "magic   NUMBER here")}},
		},
	}})

	assert.Len(t, rep.Files[0].Issues, 1, "same type, line, and normalized description collapse")
}

func TestAggregate_DistinctLinesAreNotDuplicates(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())

	rep := agg.Aggregate([]FileResult{{
		Path: "a.py",
		Chunks: []ChunkResult{{Issues: []llm.RawIssue{
			issue("style", intp(1), "magic number"),
			issue("style", intp(9), "magic number"),
		}}},
	}})

	assert.Len(t, rep.Files[0].Issues, 2)
}

func TestAggregate_CleanFilesStayInReport(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())

	rep := agg.Aggregate([]FileResult{
		{Path: "clean.py", Chunks: []ChunkResult{{Issues: nil}}},
		{Path: "dirty.py", Chunks: []ChunkResult{{Issues: []llm.RawIssue{issue("bug", intp(2), "oops")}}}},
	})

	require.Len(t, rep.Files, 2)
	assert.Equal(t, "clean.py", rep.Files[0].Name)
	assert.Empty(t, rep.Files[0].Issues)
	assert.NotNil(t, rep.Files[0].Issues, "empty, not null, in the JSON body")
}

func TestAggregate_Summary(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())

	rep := agg.Aggregate([]FileResult{
		{Path: "a.py", Chunks: []ChunkResult{{Issues: []llm.RawIssue{
			issue("security", intp(1), "injection"),
			issue("style", intp(2), "naming"),
		}}}},
		{Path: "b.py", Chunks: []ChunkResult{{Issues: []llm.RawIssue{
			issue("bug", intp(3), "crash"),
		}}}},
		{Path: "c.py", Chunks: []ChunkResult{{}}},
	})

	s := rep.Summary
	assert.Equal(t, 3, s.TotalFiles)
	assert.Equal(t, 3, s.TotalIssues)
	assert.Equal(t, 2, s.CriticalIssues)
	assert.Equal(t, 1, s.IssuesByType[models.IssueTypeSecurity])
	assert.Equal(t, 1, s.IssuesByType[models.IssueTypeStyle])
	assert.Equal(t, 1, s.IssuesByType[models.IssueTypeBug])
}

func TestAggregate_EmptyInput(t *testing.T) {
	agg := NewAggregator(DefaultPolicy())

	rep := agg.Aggregate(nil)
	assert.Equal(t, 0, rep.Summary.TotalFiles)
	assert.Equal(t, 0, rep.Summary.TotalIssues)
	assert.Empty(t, rep.Files)
}
