// Package ui holds the frame shared by the dashboard views.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/replypacer/internal/theme"
)

// Layout manages the header / content / status bar split of the terminal.
type Layout struct {
	Width  int
	Height int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// ContentHeight returns the rows left between the header and status bar.
func (l Layout) ContentHeight() int {
	if h := l.Height - 2; h > 0 {
		return h
	}
	return 0
}

// bar renders left and right aligned text across the full width in style.
func (l Layout) bar(style lipgloss.Style, left, right string) string {
	leftR := style.Render(left)
	rightR := ""
	if right != "" {
		rightR = style.Render(right)
	}

	gap := l.Width - lipgloss.Width(leftR) - lipgloss.Width(rightR)
	if gap < 0 {
		gap = 0
	}
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, leftR, filler, rightR)
}

// RenderHeader renders the title bar with the sweep status on the right.
func (l Layout) RenderHeader(title, status string) string {
	return l.bar(theme.HeaderStyle, title, status)
}

// RenderStatusBar renders the bottom bar; failing switches to the error
// style.
func (l Layout) RenderStatusBar(text string, failing bool) string {
	style := theme.StatusBarStyle
	if failing {
		style = theme.ErrorBarStyle
	}
	return l.bar(style, text, "")
}

// Frame stacks header, content and status bar, padding the content to
// the available height.
func (l Layout) Frame(header, content, statusBar string) string {
	content = lipgloss.NewStyle().Height(l.ContentHeight()).Render(content)
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}
