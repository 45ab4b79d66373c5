package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/telhawk-systems/deploydash/internal/board"
	"github.com/telhawk-systems/deploydash/internal/status"
)

const clearScreen = "\033[H\033[2J"

// Terminal draws each snapshot as a full frame.
type Terminal struct {
	mu    sync.Mutex
	w     io.Writer
	clear bool
}

var _ board.Renderer = (*Terminal)(nil)

// NewTerminal returns a Terminal writing to w. When clear is set every
// frame starts by clearing the screen.
func NewTerminal(w io.Writer, clear bool) *Terminal {
	return &Terminal{w: w, clear: clear}
}

// Render writes one frame.
func (t *Terminal) Render(_ context.Context, snap board.Snapshot) error {
	var buf bytes.Buffer
	if t.clear {
		buf.WriteString(clearScreen)
	}
	writeFrame(&buf, snap)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func writeFrame(w io.Writer, snap board.Snapshot) {
	headerColor.Fprintf(w, "deploydash %s", snap.Version)
	if snap.Connection != "" {
		fmt.Fprintf(w, "  %s", snap.Connection)
	}
	fmt.Fprintln(w)

	if snap.Upgrade != nil {
		writeUpgrade(w, snap)
		return
	}

	fmt.Fprint(w, "Build: ")
	writeStatus(w, snap.Build)
	fmt.Fprint(w, "   Deploy: ")
	writeStatus(w, snap.Deploy)
	fmt.Fprintln(w)

	if line := servicesLine(snap.Services); line != "" {
		dimColor.Fprintln(w, line)
	}
	if snap.Filter != "" {
		dimColor.Fprintf(w, "Filter: %s\n", snap.Filter)
	}
	fmt.Fprintln(w)

	if snap.NoResults {
		fmt.Fprintln(w, "No results found.")
		return
	}
	jobTable(snap.Jobs).Render(w)
}

func writeStatus(w io.Writer, cell status.Cell) {
	text := cell.Text
	if text == "" {
		text = "-"
	}
	if c := classColor(cell.Class); c != nil {
		c.Fprint(w, text)
		return
	}
	fmt.Fprint(w, text)
}

func writeUpgrade(w io.Writer, snap board.Snapshot) {
	warnColor.Fprintf(w, "Version %s is available (running %s). Restart deploydash to upgrade.\n",
		snap.Upgrade.Available, snap.Upgrade.Current)
	for _, note := range snap.ReleaseNotes {
		fmt.Fprintf(w, "\n%s:\n", note.Version)
		for _, change := range note.Changes {
			fmt.Fprintf(w, "  - %s\n", change)
		}
	}
}

func servicesLine(s board.Services) string {
	var parts []string
	if s.LastChecked != "" {
		parts = append(parts, "Last checked: "+s.LastChecked)
	}
	if s.RefreshEvery != "" {
		parts = append(parts, "Refresh every "+s.RefreshEvery)
	}
	return strings.Join(parts, "  |  ")
}

func jobTable(jobs []status.JobRow) *Table {
	headers := []string{"JOB", "TYPE"}
	for _, env := range status.Environments {
		name := strings.ToUpper(string(env))
		headers = append(headers, name+" BUILD", name+" DEPLOY")
	}

	table := NewTable(headers...)
	for _, job := range jobs {
		cells := []Cell{{Text: job.Name}, {Text: job.Type}}
		for _, env := range job.Environments {
			cells = append(cells, statusCell(env.Build), statusCell(env.Deploy))
		}
		table.AddRow(cells...)
	}
	return table
}

func statusCell(c status.Cell) Cell {
	return Cell{Text: c.Text, Color: classColor(c.Class)}
}

// JSONLines writes each snapshot as one line of JSON.
type JSONLines struct {
	mu sync.Mutex
	w  io.Writer
}

var _ board.Renderer = (*JSONLines)(nil)

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w}
}

func (j *JSONLines) Render(_ context.Context, snap board.Snapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return writeJSON(j.w, snap)
}
