// Package ui renders the session's terminal output: the hutch banner,
// hint tables, and operator prompts.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Muted palette that reads well on dark terminals.
var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	blue   = lipgloss.Color("39")
	teal   = lipgloss.Color("43")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

// Base styles available for direct use.
var (
	AccentStyle  = lipgloss.NewStyle().Foreground(purple)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	WarnStyle    = lipgloss.NewStyle().Foreground(yellow)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
)

// hutchColors keys every hutch to its traditional console color so an
// operator can tell at a glance which beamline a terminal belongs to.
var hutchColors = map[string]lipgloss.Color{
	"tmo": purple,
	"rix": teal,
	"xpp": blue,
	"xcs": green,
	"mfx": yellow,
	"cxi": red,
	"mec": lipgloss.Color("208"),
}

// HutchColor returns the display color for a hutch, defaulting to the
// accent purple for unknown or test hutches.
func HutchColor(hutch string) lipgloss.Color {
	if c, ok := hutchColors[strings.ToLower(hutch)]; ok {
		return c
	}
	return purple
}

// Accent returns s in the accent color.
func Accent(s string) string { return AccentStyle.Render(s) }

// Muted returns s dimmed.
func Muted(s string) string { return MutedStyle.Render(s) }

// SuccessMsg formats a single-line success message.
func SuccessMsg(format string, a ...any) string {
	return SuccessStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

// WarnMsg formats a single-line warning message.
func WarnMsg(format string, a ...any) string {
	return WarnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

// ErrorMsg formats a single-line error message.
func ErrorMsg(format string, a ...any) string {
	return ErrorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

// Banner renders the hutch-colored session banner.
func Banner(hutch string, lines ...string) string {
	color := HutchColor(hutch)
	title := strings.ToUpper(hutch)
	if title == "" {
		title = "BEAMSH"
	}

	body := lipgloss.NewStyle().Foreground(color).Bold(true).Render(title)
	for _, line := range lines {
		body += "\n" + MutedStyle.Render(line)
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 2).
		Render(body)
}

// Table renders a styled table with rounded borders.
func Table(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().
		Foreground(purple).
		Bold(true).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)
	evenStyle := cellStyle

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.Render()
}

// Pair holds one key-value line for KeyValues.
type Pair struct {
	key   string
	value string
}

// KV creates a key-value pair.
func KV(key, value string) Pair {
	return Pair{key: key, value: value}
}

// KeyValues renders aligned "key:  value" lines with a trailing
// newline.
func KeyValues(indent string, pairs ...Pair) string {
	maxLen := 0
	for _, p := range pairs {
		if len(p.key) > maxLen {
			maxLen = len(p.key)
		}
	}

	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", maxLen+1, p.key+":")
		sb.WriteString(indent + MutedStyle.Render(label) + " " + p.value + "\n")
	}
	return sb.String()
}
