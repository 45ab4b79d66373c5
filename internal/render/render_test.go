package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/deploydash/internal/board"
	"github.com/telhawk-systems/deploydash/internal/status"
)

func init() {
	color.NoColor = true
}

func sampleSnapshot() board.Snapshot {
	agg := status.NewAggregator(nil)
	_ = agg.UpdateField("api-users", "alpha", status.BuildStatus, "BUILDING")
	_ = agg.UpdateField("api-users", "prod", status.DeployStatus, "COMPLETED")
	_ = agg.UpdateField("webui-portal", "beta", status.InQueueSince, "1700000000000")
	view := agg.View("")

	rate := 120
	return board.Snapshot{
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Version:     board.DefaultVersion,
		Connection:  "Connected",
		Services: board.Services{
			LastChecked:    "15 seconds ago",
			RefreshRate:    &rate,
			RefreshEvery:   "2 minutes",
			BoostAvailable: true,
		},
		Overall: view.Overall,
		Build:   view.Build,
		Deploy:  view.Deploy,
		Icon:    view.Icon,
		Jobs:    view.Jobs,
	}
}

func TestTerminal_Frame(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, false)

	require.NoError(t, term.Render(context.Background(), sampleSnapshot()))
	out := buf.String()

	assert.Contains(t, out, "deploydash 20231023.04  Connected")
	assert.Contains(t, out, "Build: Building   Deploy: Completed")
	assert.Contains(t, out, "Last checked: 15 seconds ago  |  Refresh every 2 minutes")
	assert.Contains(t, out, "ALPHA BUILD")
	assert.Contains(t, out, "PROD DEPLOY")

	lines := strings.Split(out, "\n")
	var apiLine, webLine string
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "api-users"):
			apiLine = line
		case strings.HasPrefix(line, "webui-portal"):
			webLine = line
		}
	}
	assert.Contains(t, apiLine, "api")
	assert.Contains(t, apiLine, "Building")
	assert.Contains(t, apiLine, "Completed")
	assert.Contains(t, webLine, "web")
	assert.Contains(t, webLine, "Queued")
	assert.NotContains(t, out, clearScreen)
}

func TestTerminal_ClearScreen(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTerminal(&buf, true).Render(context.Background(), sampleSnapshot()))
	assert.True(t, strings.HasPrefix(buf.String(), clearScreen))
}

func TestTerminal_NoResults(t *testing.T) {
	snap := sampleSnapshot()
	snap.Jobs = nil
	snap.NoResults = true
	snap.Filter = "zzz"

	var buf bytes.Buffer
	require.NoError(t, NewTerminal(&buf, false).Render(context.Background(), snap))
	assert.Contains(t, buf.String(), "Filter: zzz")
	assert.Contains(t, buf.String(), "No results found.")
	assert.NotContains(t, buf.String(), "JOB")
}

func TestTerminal_Upgrade(t *testing.T) {
	snap := sampleSnapshot()
	snap.Upgrade = &board.Upgrade{Current: board.DefaultVersion, Available: "20240101.01"}
	snap.ReleaseNotes = []board.ReleaseNote{{Version: "20240101.01", Changes: []string{"New icons", "Filter fix"}}}

	var buf bytes.Buffer
	require.NoError(t, NewTerminal(&buf, false).Render(context.Background(), snap))
	out := buf.String()
	assert.Contains(t, out, "Version 20240101.01 is available (running 20231023.04)")
	assert.Contains(t, out, "  - New icons\n  - Filter fix\n")
	assert.NotContains(t, out, "JOB", "the job table is hidden during an upgrade")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestTerminal_WriteError(t *testing.T) {
	err := NewTerminal(failingWriter{}, false).Render(context.Background(), sampleSnapshot())
	assert.ErrorContains(t, err, "closed pipe")
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONLines(&buf)

	require.NoError(t, r.Render(context.Background(), sampleSnapshot()))
	require.NoError(t, r.Render(context.Background(), sampleSnapshot()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var decoded board.Snapshot
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, status.Building, decoded.Overall.BuildStatus)
	assert.Len(t, decoded.Jobs, 2)
	assert.True(t, decoded.Services.BoostAvailable)
}

func TestTable(t *testing.T) {
	table := NewTable("NAME", "STATE")
	table.AddRow(Cell{Text: "a-long-name"}, Cell{Text: "ok"})
	table.AddRow(Cell{Text: "b"})
	assert.Equal(t, 2, table.Len())

	var buf bytes.Buffer
	table.Render(&buf)
	lines := strings.Split(buf.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "NAME         STATE  ", lines[0])
	assert.Equal(t, "-----------  -----  ", lines[1])
	assert.Equal(t, "a-long-name  ok     ", lines[2])
	assert.Equal(t, "b                   ", lines[3])
}
