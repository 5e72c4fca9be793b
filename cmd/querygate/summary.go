package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/querygate/internal/models"
)

var (
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")

	labelStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

func outcomeStyle(o models.Outcome) lipgloss.Style {
	switch o {
	case models.OutcomeCompleted:
		return labelStyle.Copy().Foreground(successColor)
	case models.OutcomeTimedOut:
		return labelStyle.Copy().Foreground(warningColor)
	case models.OutcomeFailed:
		return labelStyle.Copy().Foreground(errorColor)
	default:
		return labelStyle.Copy().Foreground(mutedColor)
	}
}

// renderSummary formats a one-line outcome summary for the terminal.
func renderSummary(inv *models.Invocation) string {
	line := outcomeStyle(inv.Outcome).Render(string(inv.Outcome)) +
		mutedStyle.Render(fmt.Sprintf("%s  elapsed=%s  timeout=%ss",
			inv.ID, inv.Elapsed().Round(time.Millisecond), models.TimeoutSeconds(inv.Timeout)))
	if inv.Err != "" {
		line += " " + lipgloss.NewStyle().Foreground(errorColor).Render(inv.Err)
	}
	return line
}
