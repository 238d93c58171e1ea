// Package prompt turns retrieved file content into model prompts. Building
// is pure: no I/O, and identical input always yields identical prompts, so a
// re-dispatched task reproduces the exact same model requests.
package prompt

import (
	"fmt"
	"strings"

	"github.com/joescharf/critic/internal/github"
	"github.com/joescharf/critic/internal/models"
)

// Prompt is one bounded model request covering a slice of a single file.
// LineOffset records how many lines of the original file precede this chunk,
// so issue line numbers can be re-based by the aggregator.
type Prompt struct {
	File       string
	Language   string
	ChunkIndex int
	ChunkCount int
	LineOffset int
	System     string
	User       string
}

// Builder splits oversized files into line-aligned chunks of at most
// ChunkBytes of content. A single line longer than the hard ceiling
// (4x ChunkBytes) is cut and the file marked truncated.
type Builder struct {
	ChunkBytes int
}

// DefaultChunkBytes matches the prompt-content bound of the analysis pipeline.
const DefaultChunkBytes = 6000

// NewBuilder returns a Builder with the given per-prompt content bound.
// Non-positive values fall back to DefaultChunkBytes.
func NewBuilder(chunkBytes int) *Builder {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	return &Builder{ChunkBytes: chunkBytes}
}

// Build returns one prompt per chunk of the file, plus whether any content
// had to be truncated (only when a single line exceeds the hard ceiling).
func (b *Builder) Build(rec github.FileRecord, analysisType models.AnalysisType) ([]Prompt, bool) {
	chunks, offsets, truncated := b.split(rec.Content)

	prompts := make([]Prompt, 0, len(chunks))
	for i, chunk := range chunks {
		prompts = append(prompts, Prompt{
			File:       rec.Path,
			Language:   rec.Language,
			ChunkIndex: i,
			ChunkCount: len(chunks),
			LineOffset: offsets[i],
			System:     systemPrompt(analysisType),
			User:       userPrompt(rec.Path, rec.Language, chunk, i, len(chunks)),
		})
	}
	return prompts, truncated
}

// split cuts content into chunks at line boundaries, never mid-line, and
// returns each chunk's starting line offset in the original file.
func (b *Builder) split(content string) (chunks []string, offsets []int, truncated bool) {
	hardCeiling := 4 * b.ChunkBytes
	lines := strings.SplitAfter(content, "\n")

	var sb strings.Builder
	start := 0
	for i, line := range lines {
		if len(line) > hardCeiling {
			line = line[:hardCeiling]
			truncated = true
		}
		if sb.Len() > 0 && sb.Len()+len(line) > b.ChunkBytes {
			chunks = append(chunks, sb.String())
			offsets = append(offsets, start)
			sb.Reset()
			start = i
		}
		sb.WriteString(line)
	}
	if sb.Len() > 0 || len(chunks) == 0 {
		chunks = append(chunks, sb.String())
		offsets = append(offsets, start)
	}
	return chunks, offsets, truncated
}

// focusByType selects which issue categories the model is told to emphasize.
var focusByType = map[models.AnalysisType]string{
	models.AnalysisTypeFull:        "all categories equally",
	models.AnalysisTypeSecurity:    `"security" issues: vulnerabilities, injection risks, hardcoded credentials, unsafe operations, missing authentication`,
	models.AnalysisTypePerformance: `"performance" issues: inefficient algorithms, unnecessary allocations, slow queries, resource leaks`,
	models.AnalysisTypeQuality:     `"quality" and "style" issues: duplicate code, overly complex functions, naming, maintainability`,
}

func systemPrompt(analysisType models.AnalysisType) string {
	focus := focusByType[analysisType]
	if focus == "" {
		focus = focusByType[models.AnalysisTypeFull]
	}

	return `You are an expert code reviewer. Analyze the provided source code and report issues. Return ONLY a JSON object with an "issues" array. Each issue has these fields:
- "type": one of "security", "performance", "bug", "style", "quality"
- "line": 1-based line number within the provided excerpt, or null if not tied to a specific line
- "description": clear description of the issue
- "suggestion": specific suggestion to fix the issue

Emphasize ` + focus + `.

Rules:
- Line numbers are relative to the first line of the provided excerpt
- Report each distinct issue once
- If no issues are found, return {"issues": []}
- Return valid JSON only, no markdown fencing or explanation`
}

func userPrompt(path, language, content string, chunkIndex, chunkCount int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\nLanguage: %s\n", path, language)
	if chunkCount > 1 {
		fmt.Fprintf(&sb, "Excerpt %d of %d\n", chunkIndex+1, chunkCount)
	}
	sb.WriteString("\nAnalyze this code:\n\n```")
	sb.WriteString(language)
	sb.WriteString("\n")
	sb.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n")
	return sb.String()
}
