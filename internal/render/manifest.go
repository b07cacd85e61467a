package render

import (
	"bulletin/internal/core"
	"bulletin/internal/digest"
	"bulletin/internal/pipeline"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Manifest renders a run manifest for the terminal.
func Manifest(m *pipeline.Manifest) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Refresh run " + m.RunID))
	b.WriteString("\n")
	b.WriteString(row("started", m.StartedAt.Format("2006-01-02 15:04:05 MST")))
	b.WriteString(row("duration", m.Duration))

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Sources"))
	b.WriteString("\n")
	for _, s := range m.Sources {
		line := fmt.Sprintf("%-12s %-8s fetched %d, stored %d in %s", s.Name, s.Kind, s.Fetched, s.Stored, s.Duration)
		if s.Error != "" {
			b.WriteString(errStyle.Render("✗ " + line + ": " + s.Error))
		} else {
			b.WriteString(okStyle.Render("✓ " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Annotation"))
	b.WriteString("\n")
	for _, a := range m.Annotation {
		line := fmt.Sprintf("%-12s selected %d, judged %d, failed %d, skipped %d", a.Source, a.Selected, a.Judged, a.Failed, a.Skipped)
		switch {
		case a.Error != "":
			b.WriteString(errStyle.Render("✗ " + line + ": " + a.Error))
		case a.Failed > 0:
			b.WriteString(warnStyle.Render("! " + line))
		default:
			b.WriteString(okStyle.Render("✓ " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Digest"))
	b.WriteString("\n")
	b.WriteString(digestLine(m.Digest))
	b.WriteString("\n")

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// Digest renders a stored digest for the terminal.
func Digest(d core.DailyDigest) string {
	title := headerStyle.Render("Daily Digest " + d.Date.String())
	body := lipgloss.NewStyle().Width(80).Render(strings.TrimSpace(d.Summary))
	return lipgloss.JoinVertical(lipgloss.Left, title, "", body)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func digestLine(r digest.Result) string {
	text := string(r.Status)
	if r.Date != "" {
		text = fmt.Sprintf("%s for %s (%d items, %d rankings)", r.Status, r.Date, r.Items, r.Rankings)
	}
	switch r.Status {
	case digest.StatusFailed:
		return errStyle.Render("✗ " + text + ": " + r.Error)
	case digest.StatusGenerated, digest.StatusExists:
		return okStyle.Render("✓ " + text)
	default:
		return warnStyle.Render("- " + text)
	}
}
