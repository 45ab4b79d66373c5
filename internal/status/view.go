package status

import (
	"strings"
	"time"
)

// Cell is a status code together with its presentation.
type Cell struct {
	Code  Code   `json:"code,omitempty"`
	Text  string `json:"text,omitempty"`
	Class string `json:"class,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// NewCell presents c. The zero Code yields an empty Cell.
func NewCell(c Code) Cell {
	if c == "" {
		return Cell{}
	}
	return Cell{Code: c, Text: c.Text(), Class: c.Class(), Icon: c.Icon()}
}

// EnvironmentRow is one environment column of a job row.
type EnvironmentRow struct {
	Environment  Environment `json:"environment"`
	Build        Cell        `json:"build"`
	Deploy       Cell        `json:"deploy"`
	InQueueSince *time.Time  `json:"inQueueSince,omitempty"`
}

// JobRow is one job in the per-job view.
type JobRow struct {
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	Environments []EnvironmentRow `json:"environments"`
}

// View is a consistent read of the registry, ready to render.
type View struct {
	Overall   Overall  `json:"overall"`
	Build     Cell     `json:"build"`
	Deploy    Cell     `json:"deploy"`
	Icon      string   `json:"icon"`
	Jobs      []JobRow `json:"jobs"`
	NoResults bool     `json:"noResults"`
}

// View computes the overall verdict over every job and lists the jobs whose
// name contains filter, lower-cased. An empty filter lists every job.
func (a *Aggregator) View(filter string) View {
	filter = strings.ToLower(filter)

	a.mu.RLock()
	jobs := a.sortedLocked()
	overall := computeOverall(jobs)
	rows := make([]JobRow, 0, len(jobs))
	for _, js := range jobs {
		if filter != "" && !strings.Contains(js.Name, filter) {
			continue
		}
		rows = append(rows, newJobRow(js))
	}
	a.mu.RUnlock()

	return View{
		Overall:   overall,
		Build:     NewCell(overall.BuildStatus),
		Deploy:    NewCell(overall.DeployStatus),
		Icon:      overall.Status.Icon(),
		Jobs:      rows,
		NoResults: len(rows) == 0,
	}
}

func newJobRow(js *JobStatus) JobRow {
	row := JobRow{
		Name:         js.Name,
		Type:         JobType(js.Name),
		Environments: make([]EnvironmentRow, len(Environments)),
	}
	for i, env := range Environments {
		st := js.Environments[env.index()]
		r := EnvironmentRow{
			Environment: env,
			Build:       NewCell(st.DisplayBuildStatus()),
		}
		if st.DeployStatus != nil {
			r.Deploy = NewCell(*st.DeployStatus)
		}
		if st.InQueueSince != nil {
			t := *st.InQueueSince
			r.InQueueSince = &t
		}
		row.Environments[i] = r
	}
	return row
}
