package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/critic/internal/models"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestVerboseLog(t *testing.T) {
	u, out, _ := newTestUI()
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())

	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestStateColor(t *testing.T) {
	assert.NotEmpty(t, StateColor("queued"))
	assert.NotEmpty(t, StateColor("processing"))
	assert.NotEmpty(t, StateColor("completed"))
	assert.NotEmpty(t, StateColor("failed"))
	assert.Equal(t, "unknown", StateColor("unknown"))
}

func TestSeverityColor(t *testing.T) {
	assert.NotEmpty(t, SeverityColor("critical"))
	assert.NotEmpty(t, SeverityColor("major"))
	assert.NotEmpty(t, SeverityColor("minor"))
	assert.Equal(t, "whatever", SeverityColor("whatever"))
}

func TestRenderReport(t *testing.T) {
	u, out, _ := newTestUI()
	line := 12

	u.RenderReport(&models.Report{
		Files: []models.FileReport{
			{Name: "clean.py", Issues: []models.Issue{}},
			{Name: "dirty.py", Issues: []models.Issue{{
				Type:        models.IssueTypeBug,
				Line:        &line,
				Description: "off by one",
				Suggestion:  "use <=",
				Severity:    models.SeverityCritical,
			}}},
		},
		Summary: models.Summary{TotalFiles: 2, TotalIssues: 1, CriticalIssues: 1},
	})

	result := out.String()
	assert.Contains(t, result, "dirty.py")
	assert.Contains(t, result, "off by one")
	assert.Contains(t, result, "12")
	assert.Contains(t, result, "2 files analyzed")
	assert.NotContains(t, result, "clean.py", "clean files are only shown in verbose mode")
}

func TestRenderReport_NoIssues(t *testing.T) {
	u, out, _ := newTestUI()

	u.RenderReport(&models.Report{Summary: models.Summary{TotalFiles: 3}})
	assert.Contains(t, out.String(), "no issues found")
}

func TestRenderTaskRow(t *testing.T) {
	row := RenderTaskRow(&models.Task{
		ID:           "01ABC",
		Repo:         models.RepoReference{Owner: "acme", Name: "api", ChangeSet: 7},
		AnalysisType: models.AnalysisTypeFull,
		State:        models.TaskStateProcessing,
		Progress:     40,
	})

	require.Len(t, row, 6)
	assert.Equal(t, "01ABC", row[0])
	assert.Equal(t, "acme/api#7", row[1])
	assert.True(t, strings.Contains(row[3], "processing"))
	assert.Equal(t, "40%", row[4])
}
