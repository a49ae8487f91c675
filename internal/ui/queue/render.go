package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/store"
	"github.com/nhle/replypacer/internal/theme"
)

// Render draws entries as a bordered table followed by the per-state
// counts.
func Render(entries []store.QueueEntry, counts map[model.Disposition]int, now time.Time) string {
	var sb strings.Builder

	if len(entries) == 0 {
		sb.WriteString(theme.HelpStyle.Render("nothing scheduled"))
		sb.WriteString("\n")
	} else {
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{
				string(e.State),
				string(e.Kind),
				e.ContactEmail,
				Truncate(e.Subject, 40),
				when(e, now),
				Flags(e),
			})
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
			Headers("STATE", "KIND", "TO", "SUBJECT", "WHEN", "FLAGS").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return theme.HeaderStyle
				}
				cell := lipgloss.NewStyle().Padding(0, 1)
				switch col {
				case 0:
					return theme.DispositionStyle(rows[row][0]).Padding(0, 1)
				case 1:
					return theme.KindStyle(rows[row][1]).Padding(0, 1)
				case 5:
					return theme.FlagStyle.Padding(0, 1)
				}
				return cell
			})
		sb.WriteString(t.Render())
		sb.WriteString("\n")
	}

	sb.WriteString(Summary(counts))
	sb.WriteString("\n")
	return sb.String()
}

// Summary renders the per-state counts on one line.
func Summary(counts map[model.Disposition]int) string {
	parts := make([]string, 0, 3)
	for _, d := range []model.Disposition{
		model.DispositionPending, model.DispositionSent, model.DispositionCanceled,
	} {
		parts = append(parts, theme.DispositionStyle(string(d)).
			Render(fmt.Sprintf("%d %s", counts[d], d)))
	}
	return strings.Join(parts, "  ")
}
