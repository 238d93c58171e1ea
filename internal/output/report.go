package output

import (
	"strconv"

	"github.com/joescharf/critic/internal/models"
)

// RenderReport prints a report as per-file issue tables plus a summary line.
func (u *UI) RenderReport(rep *models.Report) {
	for _, f := range rep.Files {
		if len(f.Issues) == 0 {
			u.VerboseLog("%s: no issues", f.Name)
			continue
		}

		u.Info("%s", Cyan(f.Name))
		table := u.Table([]string{"Line", "Severity", "Type", "Description", "Suggestion"})
		for _, issue := range f.Issues {
			line := "-"
			if issue.Line != nil {
				line = strconv.Itoa(*issue.Line)
			}
			table.Append([]string{
				line,
				SeverityColor(string(issue.Severity)),
				string(issue.Type),
				issue.Description,
				issue.Suggestion,
			})
		}
		_ = table.Render()
	}

	s := rep.Summary
	if s.TotalIssues == 0 {
		u.Success("%d files analyzed, no issues found", s.TotalFiles)
		return
	}
	u.Info("%d files analyzed, %d issues (%s critical)",
		s.TotalFiles, s.TotalIssues, Red(strconv.Itoa(s.CriticalIssues)))
}

// RenderTaskRow formats one task for the list table.
func RenderTaskRow(t *models.Task) []string {
	repo := t.Repo.String()
	if t.Repo.ChangeSet > 0 {
		repo += "#" + strconv.Itoa(t.Repo.ChangeSet)
	}
	return []string{
		t.ID,
		repo,
		string(t.AnalysisType),
		StateColor(string(t.State)),
		strconv.Itoa(t.Progress) + "%",
		t.CreatedAt.Format("2006-01-02 15:04"),
	}
}
