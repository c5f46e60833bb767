// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tapforge/tapforge/internal/build"
)

// Color palette shared by all CLI output. Tuned for dark terminals.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and descriptions.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for success messages and positive indicators.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// ErrorStyle is for error messages and failure indicators.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	// WarningStyle is for warnings and skipped packages.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// NameStyle is for package names.
	NameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHighlight)

	// caveatStyle frames caveat text after a build.
	caveatStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorWarning).
			Padding(0, 1)
)

// stateStyle picks the style a final package state is rendered with.
func stateStyle(s build.State) lipgloss.Style {
	switch s {
	case build.Verified:
		return SuccessStyle
	case build.Skipped:
		return WarningStyle
	case build.Failed, build.TestFailed:
		return ErrorStyle
	default:
		return SubtitleStyle
	}
}

// stateMark is the one-character marker printed before a result line.
func stateMark(s build.State) string {
	switch s {
	case build.Verified:
		return "✓"
	case build.Skipped:
		return "-"
	default:
		return "✗"
	}
}
