package board

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/internal/metrics"
	"github.com/telhawk-systems/deploydash/internal/status"
)

// CheckingLabel is the last-checked label while a check is running.
const CheckingLabel = "checking now..."

// upgradeIcon replaces the status icon while an upgrade is pending.
const upgradeIcon = "refresh.png"

// Snapshot is everything a renderer needs to draw the board.
type Snapshot struct {
	GeneratedAt  time.Time       `json:"generatedAt"`
	Version      string          `json:"version"`
	Connection   string          `json:"connection,omitempty"`
	Upgrade      *Upgrade        `json:"upgrade,omitempty"`
	ReleaseNotes []ReleaseNote   `json:"releaseNotes,omitempty"`
	Services     Services        `json:"services"`
	Overall      status.Overall  `json:"overall"`
	Build        status.Cell     `json:"build"`
	Deploy       status.Cell     `json:"deploy"`
	Icon         string          `json:"icon"`
	Filter       string          `json:"filter,omitempty"`
	TotalJobs    int             `json:"totalJobs"`
	Jobs         []status.JobRow `json:"jobs"`
	NoResults    bool            `json:"noResults"`
}

// Upgrade names the running and the announced board versions.
type Upgrade struct {
	Current   string `json:"current"`
	Available string `json:"available"`
}

// ReleaseNote lists the changes in one version.
type ReleaseNote struct {
	Version string   `json:"version"`
	Changes []string `json:"changes"`
}

// Services describes the service checker.
type Services struct {
	Checking       bool       `json:"checking"`
	LastCheckedOn  *time.Time `json:"lastCheckedOn,omitempty"`
	LastChecked    string     `json:"lastChecked,omitempty"`
	RefreshRate    *int       `json:"refreshRate,omitempty"`
	RefreshEvery   string     `json:"refreshEvery,omitempty"`
	BoostAvailable bool       `json:"boostAvailable"`
}

// Renderer draws snapshots.
type Renderer interface {
	Render(ctx context.Context, snap Snapshot) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, snap Snapshot) error

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, snap Snapshot) error {
	return f(ctx, snap)
}

type namedRenderer struct {
	name     string
	renderer Renderer
}

// AddRenderer registers r under name. Every render hands the same snapshot
// to each renderer in registration order.
func (b *Board) AddRenderer(name string, r Renderer) {
	b.renderMu.Lock()
	defer b.renderMu.Unlock()
	b.renderers = append(b.renderers, namedRenderer{name: name, renderer: r})
}

// ScheduleRender requests a render. Requests arriving within the render
// delay of each other produce a single render.
func (b *Board) ScheduleRender() {
	b.render.Trigger()
}

// Flush performs a scheduled render immediately. It reports whether one
// was pending.
func (b *Board) Flush() bool {
	return b.render.Flush()
}

// Snapshot builds the current snapshot using the board's filter.
func (b *Board) Snapshot() Snapshot {
	return b.SnapshotFiltered(b.Filter())
}

// SnapshotFiltered builds the current snapshot with filter applied to the
// job list instead of the board's own filter.
func (b *Board) SnapshotFiltered(filter string) Snapshot {
	now := b.clock.Now()
	view := b.jobs.View(filter)

	snap := Snapshot{
		GeneratedAt: now,
		Version:     b.version,
		Overall:     view.Overall,
		Build:       view.Build,
		Deploy:      view.Deploy,
		Icon:        view.Icon,
		Filter:      strings.ToLower(filter),
		TotalJobs:   b.jobs.Len(),
		Jobs:        view.Jobs,
		NoResults:   view.NoResults,
	}
	if b.connectionStatus != nil {
		snap.Connection = b.connectionStatus()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.upgradePendingLocked() {
		snap.Upgrade = &Upgrade{Current: b.version, Available: b.available}
		snap.Icon = upgradeIcon
	}
	snap.ReleaseNotes = releaseNotes(b.notes, b.available)
	snap.Services = Services{
		Checking:       b.checking != nil,
		BoostAvailable: b.refreshRate == nil || *b.refreshRate != fastestRate,
	}
	if b.lastCheckedOn != nil {
		t := *b.lastCheckedOn
		snap.Services.LastCheckedOn = &t
	}
	snap.Services.LastChecked = lastCheckedLabel(b.checking != nil, b.lastCheckedOn, now)
	if b.refreshRate != nil {
		rate := *b.refreshRate
		snap.Services.RefreshRate = &rate
		snap.Services.RefreshEvery = Timespan(time.Duration(rate) * time.Second)
	}
	return snap
}

// renderNow builds one snapshot and hands it to every renderer. A failing
// renderer does not stop the others.
func (b *Board) renderNow() {
	b.renderMu.Lock()
	defer b.renderMu.Unlock()

	snap := b.Snapshot()
	metrics.Recomputes.Inc()

	for _, nr := range b.renderers {
		if err := nr.renderer.Render(context.Background(), snap); err != nil {
			metrics.RenderFailures.WithLabelValues(nr.name).Inc()
			b.logger.Warn("Renderer failed", slog.String("renderer", nr.name), logging.Error(err))
		}
	}
}

// releaseNotes returns the notes for versions up to available, newest
// first. Lines are split on "\n" with "\r" removed; blank lines are dropped.
func releaseNotes(notes map[string]string, available string) []ReleaseNote {
	limit, err := strconv.ParseFloat(available, 64)
	if err != nil {
		return nil
	}

	type entry struct {
		version string
		value   float64
	}
	var versions []entry
	for v := range notes {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f > limit {
			continue
		}
		versions = append(versions, entry{v, f})
	}
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].value != versions[j].value {
			return versions[i].value > versions[j].value
		}
		return versions[i].version > versions[j].version
	})

	out := make([]ReleaseNote, 0, len(versions))
	for _, v := range versions {
		var changes []string
		for _, line := range strings.Split(strings.ReplaceAll(notes[v.version], "\r", ""), "\n") {
			if line != "" {
				changes = append(changes, line)
			}
		}
		out = append(out, ReleaseNote{Version: v.version, Changes: changes})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func lastCheckedLabel(checking bool, last *time.Time, now time.Time) string {
	if checking {
		return CheckingLabel
	}
	if last == nil {
		return ""
	}
	return Timespan(now.Sub(*last)) + " ago"
}

// Timespan renders d as whole "N seconds", "N minutes" or "M min S sec".
// Negative durations render as zero.
func Timespan(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	minutes, seconds := total/60, total%60
	switch {
	case minutes == 0:
		return fmt.Sprintf("%d seconds", seconds)
	case seconds == 0:
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	}
}
