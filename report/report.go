// Package report renders comparison runs as console summaries, Markdown
// documents and JSON files.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

// ===== VIEW MODELS =====

// EndpointCell is one endpoint's outcome for one test line.
type EndpointCell struct {
	Ran     bool
	Passed  bool
	Summary string
}

// TestRow is one test line in the comparison table.
type TestRow struct {
	TestID   string
	TestName string
	Cells    map[model.EndpointKey]EndpointCell
}

// buildRows flattens the run into report rows.
func buildRows(run *model.ComparisonRun) []TestRow {
	rows := make([]TestRow, 0, len(run.TestResults))
	for i := range run.TestResults {
		tr := &run.TestResults[i]
		row := TestRow{
			TestID:   tr.TestID,
			TestName: tr.TestName,
			Cells:    make(map[model.EndpointKey]EndpointCell, len(model.EndpointOrder)),
		}
		for _, key := range model.EndpointOrder {
			res := tr.Result(key)
			if res == nil {
				row.Cells[key] = EndpointCell{}
				continue
			}
			row.Cells[key] = EndpointCell{Ran: true, Passed: res.Passed, Summary: res.Summary}
		}
		rows = append(rows, row)
	}
	return rows
}

func cellMark(c EndpointCell) string {
	switch {
	case !c.Ran:
		return "-"
	case c.Passed:
		return "PASS"
	default:
		return "FAIL"
	}
}

func rateText(rate *float64) string {
	if rate == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *rate)
}

// ===== CONSOLE =====

// WriteConsole prints a compact run summary.
func WriteConsole(w io.Writer, run *model.ComparisonRun) {
	fmt.Fprintf(w, "Comparison %s (%s)\n", run.ComparisonID, run.Status)
	fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.Summary.Message != "" {
		fmt.Fprintf(w, "Note: %s\n", run.Summary.Message)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-28s %-12s %-12s %-12s\n", "TEST", "PRODUCTION", "SANDBOX A", "SANDBOX B")
	for _, row := range buildRows(run) {
		fmt.Fprintf(w, "%-28s %-12s %-12s %-12s\n",
			truncate(row.TestID, 28),
			cellMark(row.Cells[model.EndpointProduction]),
			cellMark(row.Cells[model.EndpointSandboxA]),
			cellMark(row.Cells[model.EndpointSandboxB]))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Pass rate: production %s, sandbox A %s, sandbox B %s\n",
		rateText(run.Summary.ProductionPassRate),
		rateText(run.Summary.SandboxAPassRate),
		rateText(run.Summary.SandboxBPassRate))

	if len(run.Summary.Improvements) > 0 {
		fmt.Fprintf(w, "Improvements over production: %s\n", diffText(run.Summary.Improvements))
	}
	if len(run.Summary.Regressions) > 0 {
		fmt.Fprintf(w, "Regressions from production: %s\n", diffText(run.Summary.Regressions))
	}
}

func diffText(diffs []model.OutcomeDiff) string {
	parts := make([]string, 0, len(diffs))
	for _, d := range diffs {
		parts = append(parts, fmt.Sprintf("%s (%s)", d.TestID, d.Endpoint))
	}
	return strings.Join(parts, ", ")
}

// ===== MARKDOWN =====

// GenerateMarkdown renders the full run as a Markdown document.
func GenerateMarkdown(run *model.ComparisonRun) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Comparison Run %s\n\n", run.ComparisonID))
	b.WriteString(fmt.Sprintf("- Status: %s\n", run.Status))
	b.WriteString(fmt.Sprintf("- Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST")))
	if run.CompletedAt != nil {
		b.WriteString(fmt.Sprintf("- Completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05 MST")))
	}
	if run.Summary.Message != "" {
		b.WriteString(fmt.Sprintf("- Note: %s\n", run.Summary.Message))
	}
	b.WriteString("\n## Results\n\n")
	b.WriteString("| Test | Production | Sandbox A | Sandbox B |\n")
	b.WriteString("|------|------------|-----------|-----------|\n")
	for _, row := range buildRows(run) {
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			row.TestID,
			cellMark(row.Cells[model.EndpointProduction]),
			cellMark(row.Cells[model.EndpointSandboxA]),
			cellMark(row.Cells[model.EndpointSandboxB])))
	}

	b.WriteString("\n## Pass Rates\n\n")
	b.WriteString(fmt.Sprintf("- Production: %s\n", rateText(run.Summary.ProductionPassRate)))
	b.WriteString(fmt.Sprintf("- Sandbox A: %s\n", rateText(run.Summary.SandboxAPassRate)))
	b.WriteString(fmt.Sprintf("- Sandbox B: %s\n", rateText(run.Summary.SandboxBPassRate)))

	if len(run.Summary.Improvements) > 0 {
		b.WriteString("\n## Improvements\n\n")
		for _, d := range run.Summary.Improvements {
			b.WriteString(fmt.Sprintf("- %s on %s\n", d.TestID, d.Endpoint))
		}
	}
	if len(run.Summary.Regressions) > 0 {
		b.WriteString("\n## Regressions\n\n")
		for _, d := range run.Summary.Regressions {
			b.WriteString(fmt.Sprintf("- %s on %s\n", d.TestID, d.Endpoint))
		}
	}

	b.WriteString("\n## Details\n\n")
	for i := range run.TestResults {
		tr := &run.TestResults[i]
		b.WriteString(fmt.Sprintf("### %s\n\n", tr.TestID))
		for _, key := range model.EndpointOrder {
			res := tr.Result(key)
			if res == nil {
				continue
			}
			b.WriteString(fmt.Sprintf("**%s** — %s (%d turns, %dms)\n\n", key, cellMarkFromResult(res), res.TurnCount, res.DurationMs))
			if res.Summary != "" {
				b.WriteString(fmt.Sprintf("%s\n\n", res.Summary))
			}
			for _, v := range res.ConstraintViolations {
				b.WriteString(fmt.Sprintf("- [%s] %s: %s\n", v.Severity, v.Type, v.Description))
			}
			for _, iss := range res.Issues {
				b.WriteString(fmt.Sprintf("- %s: %s\n", iss.Type, iss.Description))
			}
			if len(res.ConstraintViolations) > 0 || len(res.Issues) > 0 {
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

func cellMarkFromResult(res *model.DetailedEndpointResult) string {
	if res.Passed {
		return "PASS"
	}
	return "FAIL"
}

// GenerateMarkdownToFile writes the Markdown report to a file.
func GenerateMarkdownToFile(run *model.ComparisonRun, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, logger.DirPermission); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(GenerateMarkdown(run)), logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Logger.Info("Markdown report written", "path", outputPath)
	return nil
}

// ===== JSON =====

// GenerateJSONToFile writes the raw run record as indented JSON.
func GenerateJSONToFile(run *model.ComparisonRun, outputPath string) error {
	data, err := sonic.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, logger.DirPermission); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, data, logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	logger.Logger.Info("JSON report written", "path", outputPath)
	return nil
}

// LoadRunFromJSON reads a run record back from a JSON report file.
func LoadRunFromJSON(path string) (*model.ComparisonRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}
	var run model.ComparisonRun
	if err := sonic.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode report file: %w", err)
	}
	return &run, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
