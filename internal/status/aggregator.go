package status

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/internal/metrics"
)

// EnvironmentStatus holds what is known about one job in one environment.
// A nil field is unknown or cleared.
type EnvironmentStatus struct {
	BuildStatus  *Code      `json:"buildStatus,omitempty"`
	DeployStatus *Code      `json:"deployStatus,omitempty"`
	InQueueSince *time.Time `json:"inQueueSince,omitempty"`
}

// DisplayBuildStatus is the build status to show: QUEUED while the job is
// in the queue, otherwise the stored build status.
func (s EnvironmentStatus) DisplayBuildStatus() Code {
	if s.InQueueSince != nil {
		return Queued
	}
	if s.BuildStatus == nil {
		return ""
	}
	return *s.BuildStatus
}

func (s EnvironmentStatus) clone() EnvironmentStatus {
	out := EnvironmentStatus{}
	if s.BuildStatus != nil {
		v := *s.BuildStatus
		out.BuildStatus = &v
	}
	if s.DeployStatus != nil {
		v := *s.DeployStatus
		out.DeployStatus = &v
	}
	if s.InQueueSince != nil {
		v := *s.InQueueSince
		out.InQueueSince = &v
	}
	return out
}

// JobStatus is a job's status in every environment.
type JobStatus struct {
	Name         string
	Environments [3]EnvironmentStatus
}

// Env returns the status for env.
func (j JobStatus) Env(env Environment) EnvironmentStatus {
	i := env.index()
	if i < 0 {
		return EnvironmentStatus{}
	}
	return j.Environments[i]
}

// Overall is the board-wide verdict.
type Overall struct {
	BuildStatus  Code `json:"buildStatus"`
	DeployStatus Code `json:"deployStatus"`
	Status       Code `json:"status"`
}

// Aggregator owns the job registry. Jobs are created on their first update
// and kept for the life of the Aggregator.
type Aggregator struct {
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*JobStatus
}

// NewAggregator returns an empty Aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = logging.Component("status")
	}
	return &Aggregator{
		logger: logger,
		jobs:   make(map[string]*JobStatus),
	}
}

// UpdateField sets one field of job in env from its wire form. An empty raw
// value clears the field. inQueueSince is a Unix time in milliseconds.
func (a *Aggregator) UpdateField(job, env string, field Field, raw string) error {
	err := a.update(job, env, field, raw)
	if err != nil {
		metrics.RejectedUpdates.WithLabelValues(rejectReason(err)).Inc()
		a.logger.Debug("Rejected status update",
			logging.Job(job),
			logging.Env(env),
			slog.String("field", string(field)),
			logging.Error(err))
	}
	return err
}

func (a *Aggregator) update(job, env string, field Field, raw string) error {
	if job == "" {
		return ErrInvalidJob
	}
	e, err := ParseEnvironment(env)
	if err != nil {
		return err
	}

	var code *Code
	var since *time.Time
	switch field {
	case BuildStatus, DeployStatus:
		if raw != "" {
			c := Code(raw)
			code = &c
		}
	case InQueueSince:
		if raw != "" {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
			}
			t := time.UnixMilli(ms)
			since = &t
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}

	a.mu.Lock()
	js, ok := a.jobs[job]
	if !ok {
		js = &JobStatus{Name: job}
		a.jobs[job] = js
	}
	st := &js.Environments[e.index()]
	switch field {
	case BuildStatus:
		st.BuildStatus = code
	case DeployStatus:
		st.DeployStatus = code
	case InQueueSince:
		st.InQueueSince = since
	}
	count := len(a.jobs)
	a.mu.Unlock()

	metrics.JobsTracked.Set(float64(count))
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEnvironment):
		return "environment"
	case errors.Is(err, ErrInvalidTimestamp):
		return "timestamp"
	case errors.Is(err, ErrInvalidJob):
		return "job"
	default:
		return "field"
	}
}

// ComputeOverall folds every job into the overall verdict. Jobs are visited
// in name order and environments in alpha, beta, prod order. Once a
// BUILDING status is seen the build verdict stays BUILDING; otherwise the
// last non-SUCCESS build status wins. The last non-COMPLETED deploy status
// wins.
func (a *Aggregator) ComputeOverall() Overall {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return computeOverall(a.sortedLocked())
}

func computeOverall(jobs []*JobStatus) Overall {
	build := Success
	deploy := Completed
	for _, job := range jobs {
		for _, env := range job.Environments {
			if env.BuildStatus != nil && *env.BuildStatus != Success && build != Building {
				build = *env.BuildStatus
			}
			if env.DeployStatus != nil && *env.DeployStatus != Completed {
				deploy = *env.DeployStatus
			}
		}
	}

	overall := Completed
	if build != Success {
		overall = build
	} else if deploy != Completed {
		overall = deploy
	}
	return Overall{BuildStatus: build, DeployStatus: deploy, Status: overall}
}

// Job returns a copy of the named job's status.
func (a *Aggregator) Job(name string) (JobStatus, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	js, ok := a.jobs[name]
	if !ok {
		return JobStatus{}, false
	}
	return cloneJob(js), true
}

// Jobs returns the job names in lexicographic order.
func (a *Aggregator) Jobs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.jobs))
	for name := range a.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of tracked jobs.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.jobs)
}

func (a *Aggregator) sortedLocked() []*JobStatus {
	jobs := make([]*JobStatus, 0, len(a.jobs))
	for _, js := range a.jobs {
		jobs = append(jobs, js)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

func cloneJob(js *JobStatus) JobStatus {
	out := JobStatus{Name: js.Name}
	for i, env := range js.Environments {
		out.Environments[i] = env.clone()
	}
	return out
}
