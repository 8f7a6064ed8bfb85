// package formatter renders tasks, URL lists and sweep reports for the terminal (lipgloss) and as CSV
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/dlx/internal/artifacts"
	"github.com/desertthunder/dlx/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// TaskTable renders tasks as a bordered table with ID, Kind, State, Source, Age and Result columns.
func TaskTable(tasks []models.Task, now time.Time) string {
	if len(tasks) == 0 {
		return styles.help.Render("No tasks.")
	}

	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			task.ID,
			string(task.Kind),
			string(task.State),
			truncate(task.Request.Source, 48),
			age(now.Sub(task.CreatedAt)),
			summary(task),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.help).
		Headers("ID", "KIND", "STATE", "SOURCE", "AGE", "RESULT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.title.Padding(0, 1)
			}
			if col == 2 && row >= 0 && row < len(rows) {
				return stateStyle(rows[row][2]).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	return t.String()
}

// TaskDetail renders a single task as labelled lines.
func TaskDetail(task models.Task, downloadURL string) string {
	var b strings.Builder

	b.WriteString(styles.title.Render("Task "+task.ID) + "\n")
	line := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(styles.label.Render(label) + " " + value + "\n")
	}

	line("Kind", string(task.Kind))
	line("State", stateStyle(string(task.State)).Render(string(task.State)))
	line("Source", task.Request.Source)
	line("Format", strings.TrimSpace(task.Request.Format+" "+task.Request.Quality))
	line("Created", task.CreatedAt.Local().Format(timeLayout))
	if task.StartedAt != nil {
		line("Started", task.StartedAt.Local().Format(timeLayout))
	}
	if task.FinishedAt != nil {
		line("Finished", task.FinishedAt.Local().Format(timeLayout))
		line("Duration", task.Duration().Round(time.Millisecond).String())
	}

	if r := task.Result; r != nil {
		line("Filename", r.Filename)
		if r.FileSize > 0 {
			line("Size", HumanBytes(r.FileSize))
		}
		if len(r.Files) > 0 {
			line("Files", strconv.Itoa(len(r.Files)))
		}
		if len(r.URLs) > 0 {
			line("URLs", strconv.Itoa(len(r.URLs)))
		}
	}
	line("Download", downloadURL)

	if task.Error != nil {
		b.WriteString(styles.err.Render(fmt.Sprintf("✗ %s: %s", task.Error.Category, task.Error.Message)) + "\n")
	}
	return b.String()
}

// URLList renders resolved URLs one per line, numbered.
func URLList(urls []string) string {
	var b strings.Builder
	for i, u := range urls {
		fmt.Fprintf(&b, "%s %s\n", styles.help.Render(fmt.Sprintf("%3d.", i+1)), u)
	}
	return b.String()
}

// SweepSummary renders one expiry pass.
func SweepSummary(r artifacts.SweepReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s purged %d of %d slots (%d in flight, %d pinned), %d expired links\n",
		styles.ok.Render("✓"), r.Purged, r.Scanned, r.InFlight, r.Pinned, r.ExpiredLinks)
	for _, err := range r.Errors {
		b.WriteString(styles.err.Render("✗ "+err.Error()) + "\n")
	}
	return b.String()
}

// TasksToCSV converts tasks to CSV with columns: ID, Kind, State, Source, Created, Finished, Filename, Error
func TasksToCSV(tasks []models.Task) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Kind", "State", "Source", "Created", "Finished", "Filename", "Error"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, task := range tasks {
		var finished, filename, failure string
		if task.FinishedAt != nil {
			finished = task.FinishedAt.UTC().Format(time.RFC3339)
		}
		if task.Result != nil {
			filename = task.Result.Filename
		}
		if task.Error != nil {
			failure = task.Error.Error()
		}

		record := []string{
			task.ID,
			string(task.Kind),
			string(task.State),
			task.Request.Source,
			task.CreatedAt.UTC().Format(time.RFC3339),
			finished,
			filename,
			failure,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// HumanBytes formats a byte count with binary units.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func stateStyle(s string) lipgloss.Style {
	switch models.State(s) {
	case models.StateCompleted:
		return styles.ok
	case models.StateFailed:
		return styles.err
	case models.StateRunning:
		return styles.warn
	default:
		return styles.help
	}
}

func summary(task models.Task) string {
	switch {
	case task.Error != nil:
		return string(task.Error.Category)
	case task.Result == nil:
		return ""
	case task.Result.Filename != "":
		return task.Result.Filename
	case len(task.Result.Files) > 0:
		return fmt.Sprintf("%d files", len(task.Result.Files))
	case len(task.Result.URLs) > 0:
		return fmt.Sprintf("%d urls", len(task.Result.URLs))
	}
	return ""
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
