package models

// IssueType categorizes a single finding.
type IssueType string

const (
	IssueTypeSecurity    IssueType = "security"
	IssueTypePerformance IssueType = "performance"
	IssueTypeBug         IssueType = "bug"
	IssueTypeStyle       IssueType = "style"
	IssueTypeQuality     IssueType = "quality"
)

// ValidIssueType reports whether t is one of the fixed issue categories.
func ValidIssueType(t IssueType) bool {
	switch t {
	case IssueTypeSecurity, IssueTypePerformance, IssueTypeBug, IssueTypeStyle, IssueTypeQuality:
		return true
	}
	return false
}

// Severity is derived by the aggregator from issue type and description,
// never taken from the model directly.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Issue is one finding in a file. Line is 1-based in the original file, or
// nil when the finding is not localizable.
type Issue struct {
	Type        IssueType `json:"type"`
	Line        *int      `json:"line"`
	Description string    `json:"description"`
	Suggestion  string    `json:"suggestion"`
	Severity    Severity  `json:"severity"`
}

// FileReport holds the ordered findings for a single file.
type FileReport struct {
	Name   string  `json:"name"`
	Issues []Issue `json:"issues"`
}

// Summary holds the aggregate counts for a report. It is always recomputed
// from the file reports, never stored independently.
type Summary struct {
	TotalFiles     int               `json:"total_files"`
	TotalIssues    int               `json:"total_issues"`
	CriticalIssues int               `json:"critical_issues"`
	IssuesByType   map[IssueType]int `json:"issues_by_type"`
}

// Report is the structured result of a completed task.
type Report struct {
	Files   []FileReport `json:"files"`
	Summary Summary      `json:"summary"`
}
