package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/chat"
	"github.com/c360studio/datafactory/workflow"
)

var phaseTitles = [workflow.PhaseCount]string{
	"Configure", "Problem", "Schema", "Preview", "Dataset & QA", "Downloads",
}

const maxPreviewRows = 3

func (a *App) renderPhases() string {
	current := a.snap.Phase
	parts := make([]string, 0, workflow.PhaseCount)
	for i := 0; i < workflow.PhaseCount; i++ {
		p := workflow.Phase(i)
		label := fmt.Sprintf("%d %s", i, phaseTitles[i])
		switch {
		case p == current && a.snap.State != workflow.StateIdle:
			parts = append(parts, phaseActive.Render(label))
		case a.snap.Ledger.Approved(p):
			parts = append(parts, phaseDone.Render("✓ "+label))
		case a.snap.Ledger.Status(p) == workflow.PhaseStatusRejected:
			parts = append(parts, errorStyle.Render("✗ "+label))
		default:
			parts = append(parts, phasePending.Render("○ "+label))
		}
	}
	return strings.Join(parts, "  ")
}

func (a *App) renderBody() string {
	d := a.snap.Drafts
	var body string
	switch a.snap.State {
	case workflow.StateAwaitingResearch, workflow.StateAwaitingProblem:
		body = mutedStyle.Render(fmt.Sprintf("%s · %s", a.snap.Settings.EffectiveDomain(), a.snap.Settings.EffectiveFunction()))
	case workflow.StateReviewProblem:
		body = a.renderProblem(d.Problem, d.Research)
	case workflow.StateAwaitingSchema, workflow.StateReviewSchema:
		body = a.renderSchema(d.Schema)
	case workflow.StateAwaitingPreview, workflow.StateReviewPreview:
		body = a.renderPreview(d.Preview)
	case workflow.StateGenerating:
		body = a.renderProgress(a.snap.Progress)
	case workflow.StateReadyForDelivery:
		body = a.renderDelivery(d.QA, d.Delivery)
	case workflow.StateFailed:
		body = errorStyle.Render("Generation failed.") + "\n" + mutedStyle.Render("Press n to start a new challenge.")
	}

	if a.snap.State.IsReview() && a.snap.Revision > 1 {
		body += "\n" + mutedStyle.Render(fmt.Sprintf("revision %d", a.snap.Revision))
	}
	if a.source != nil {
		body += "\n\n" + contentBox.Width(a.contentWidth()).Render(
			titleStyle.Render(a.source.Title)+"\n"+truncateLines(a.source.Markdown, 20))
	}
	if a.chatting || (a.transcript != nil && a.snap.State.IsReview()) {
		body += "\n\n" + a.renderChat()
	}
	return body
}

func (a *App) contentWidth() int {
	return max(40, a.width-4)
}

func (a *App) renderProblem(p *challenge.ProblemStatement, r *challenge.Research) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(p.Title))
	b.WriteString("\n")
	if p.CompanyName != "" {
		b.WriteString(subtitleStyle.Render(p.CompanyName) + "\n\n")
	}
	b.WriteString(lipgloss.NewStyle().Width(a.contentWidth()).Render(p.Statement))
	if len(p.AnalyticalQuestions) > 0 {
		b.WriteString("\n\nAnalytical questions:\n")
		for i, q := range p.AnalyticalQuestions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, q)
		}
	}
	if r != nil {
		if src, ok := r.PrimarySource(); ok {
			b.WriteString("\n" + mutedStyle.Render("Primary source: "+src.Title))
		}
	}
	return contentBox.Width(a.contentWidth()).Render(b.String())
}

func (a *App) renderSchema(d *challenge.SchemaDraft) string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d tables · %d columns · %d relationships\n\n",
		len(d.Schema.Tables), d.Schema.ColumnCount(), len(d.Schema.Relationships))
	for _, t := range d.Schema.Tables {
		names := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			names[i] = c.Name
		}
		fmt.Fprintf(&b, "%s %s\n", lipgloss.NewStyle().Bold(true).Render(t.Name), mutedStyle.Render("("+strings.Join(names, ", ")+")"))
	}
	for _, r := range d.Schema.Relationships {
		fmt.Fprintf(&b, "  %s.%s → %s.%s (%s)\n", r.ChildTable, r.ChildColumn, r.ParentTable, r.ParentColumn, r.Cardinality)
	}
	b.WriteString("\n" + verdictLine(d.Verdict, d.Validation.Score, d.Message))
	return contentBox.Width(a.contentWidth()).Render(b.String())
}

func (a *App) renderPreview(d *challenge.PreviewDraft) string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	for _, t := range d.Tables {
		fmt.Fprintf(&b, "%s %s\n", lipgloss.NewStyle().Bold(true).Render(t.TableName), mutedStyle.Render(fmt.Sprintf("%d sample rows", len(t.SampleRows))))
		if len(t.SampleRows) == 0 {
			continue
		}
		cols := make([]string, 0, len(t.SampleRows[0]))
		for k := range t.SampleRows[0] {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		b.WriteString("  " + mutedStyle.Render(strings.Join(cols, " | ")) + "\n")
		for i, row := range t.SampleRows {
			if i == maxPreviewRows {
				break
			}
			vals := make([]string, len(cols))
			for j, c := range cols {
				vals[j] = fmt.Sprint(row[c])
			}
			b.WriteString("  " + strings.Join(vals, " | ") + "\n")
		}
	}
	v := d.Validation
	integrity := successStyle.Render("FK integrity passed")
	if !v.FKIntegrityPassed {
		integrity = warningStyle.Render("FK integrity issues")
	}
	b.WriteString("\n" + integrity + " · " + verdictLine(d.Verdict, v.Score, d.Message))
	return contentBox.Width(a.contentWidth()).Render(b.String())
}

// verdictLine shows the backend's advisory validation verdict.
func verdictLine(v challenge.Verdict, score float64, message string) string {
	line := fmt.Sprintf("validation score %.1f", score)
	if message != "" {
		line += " · " + message
	}
	if v == challenge.VerdictRegenerate {
		return warningStyle.Render("Backend recommends regenerating: " + line)
	}
	return mutedStyle.Render(line)
}

func (a *App) renderProgress(p *challenge.Progress) string {
	if p == nil {
		return a.spinner.View() + " Starting full generation..."
	}
	label := p.Stage
	if p.Message != "" {
		label = p.Message
	}
	return a.bar.ViewAs(p.Percent/100) + "\n" + mutedStyle.Render(label)
}

func (a *App) renderDelivery(qa *challenge.QAResult, d *challenge.Delivery) string {
	var b strings.Builder
	if a.celebrating {
		b.WriteString(celebrateBox.Render("Challenge ready for download!") + "\n\n")
	}
	if qa != nil {
		fmt.Fprintf(&b, "QA score %s", successStyle.Render(fmt.Sprintf("%.1f/10", qa.OverallScore)))
		if qa.Status != "" {
			b.WriteString(mutedStyle.Render(" (" + qa.Status + ")"))
		}
		b.WriteString("\n")
		for _, s := range qa.Strengths {
			b.WriteString(successStyle.Render("  + ") + s + "\n")
		}
		for _, s := range qa.Issues {
			b.WriteString(warningStyle.Render("  - ") + s + "\n")
		}
	}
	if d != nil {
		b.WriteString("\nFiles:\n")
		for _, f := range append(append([]string{}, d.CSVFiles...), d.Readme, d.DataDictionary, d.PDFReport, d.ExcelReport) {
			if f != "" {
				b.WriteString("  " + f + "\n")
			}
		}
		b.WriteString(mutedStyle.Render("Bundle: " + d.DownloadURL))
	}
	if a.downloaded != nil {
		b.WriteString("\n" + successStyle.Render("Saved "+a.downloaded.Archive))
		if a.downloaded.Dir != "" {
			b.WriteString(successStyle.Render(fmt.Sprintf(" · %d files extracted to %s", len(a.downloaded.Extracted), a.downloaded.Dir)))
		}
	}
	return b.String()
}

func (a *App) renderChat() string {
	var b strings.Builder
	if a.transcript != nil {
		msgs := a.transcript()
		if len(msgs) > 6 {
			msgs = msgs[len(msgs)-6:]
		}
		for _, m := range msgs {
			who := mutedStyle.Render("assistant")
			if m.Role == chat.RoleUser {
				who = lipgloss.NewStyle().Foreground(primaryColor).Render("you")
			}
			b.WriteString(who + ": " + m.Content + "\n")
		}
	}
	if a.chatting {
		b.WriteString("> " + a.chatIn.View())
	}
	return b.String()
}

func truncateLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n" + mutedStyle.Render("…")
}
