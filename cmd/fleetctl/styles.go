package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/byosamah/volteria-sub000/internal/diagnostics"
)

// palette is a color theme for the TUIs.
type palette struct {
	Accent  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Text    lipgloss.Color
	Subtle  lipgloss.Color
}

var palettes = map[string]palette{
	"dark": {
		Accent:  lipgloss.Color("39"),  // Blue
		Success: lipgloss.Color("42"),  // Green
		Warning: lipgloss.Color("214"), // Orange
		Error:   lipgloss.Color("196"), // Red
		Text:    lipgloss.Color("252"),
		Subtle:  lipgloss.Color("240"),
	},
	"light": {
		Accent:  lipgloss.Color("25"),
		Success: lipgloss.Color("28"),
		Warning: lipgloss.Color("130"),
		Error:   lipgloss.Color("124"),
		Text:    lipgloss.Color("232"),
		Subtle:  lipgloss.Color("240"),
	},
	"minimal": {
		Accent:  lipgloss.Color("7"),
		Success: lipgloss.Color("7"),
		Warning: lipgloss.Color("7"),
		Error:   lipgloss.Color("7"),
		Text:    lipgloss.Color("7"),
		Subtle:  lipgloss.Color("8"),
	},
}

type styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Header   lipgloss.Style
	Selected lipgloss.Style
	Online   lipgloss.Style
	Offline  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	Help     lipgloss.Style
	Box      lipgloss.Style
}

func newStyles(name string) styles {
	p, ok := palettes[name]
	if !ok {
		p = palettes["dark"]
	}
	return styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(p.Accent),
		Subtitle: lipgloss.NewStyle().Foreground(p.Subtle),
		Header:   lipgloss.NewStyle().Bold(true).Foreground(p.Text),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(p.Accent),
		Online:   lipgloss.NewStyle().Foreground(p.Success),
		Offline:  lipgloss.NewStyle().Foreground(p.Subtle),
		Warning:  lipgloss.NewStyle().Foreground(p.Warning),
		Error:    lipgloss.NewStyle().Foreground(p.Error),
		Success:  lipgloss.NewStyle().Foreground(p.Success),
		Help:     lipgloss.NewStyle().Foreground(p.Subtle).MarginTop(1),
		Box: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(p.Accent).
			Padding(0, 1),
	}
}

func (s styles) checkStatus(st diagnostics.CheckStatus) string {
	switch st {
	case diagnostics.Passed:
		return s.Success.Render("PASS")
	case diagnostics.Failed:
		return s.Error.Render("FAIL")
	default:
		return s.Offline.Render("SKIP")
	}
}

// renderReport formats a diagnostics report as one line per check.
func renderReport(s styles, r *diagnostics.Report) string {
	var b strings.Builder
	for _, res := range r.Results {
		fmt.Fprintf(&b, "%s  %-22s %s\n", s.checkStatus(res.Status), res.Label, s.Subtitle.Render(res.Message))
	}
	overall := s.Success.Render("All checks passed")
	if !r.Passed() {
		overall = s.Error.Render("Diagnostics failed")
	}
	b.WriteString(overall)
	return b.String()
}
