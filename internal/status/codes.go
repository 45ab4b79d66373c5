// Package status models per-job, per-environment build and deploy state and
// folds it into the board's overall verdict.
package status

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidField       = errors.New("invalid status field")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
	ErrInvalidJob         = errors.New("invalid job name")
)

// Code is a status code as published on the bus.
type Code string

// Jenkins build codes.
const (
	Building Code = "BUILDING"
	Success  Code = "SUCCESS"
	Unstable Code = "UNSTABLE"
	Failure  Code = "FAILURE"
	NotBuilt Code = "NOT_BUILT"
	Aborted  Code = "ABORTED"
)

// ECS deployment codes.
const (
	Completed  Code = "COMPLETED"
	InProgress Code = "IN_PROGRESS"
	Failed     Code = "FAILED"
)

// Queued is never published; it is shown for an environment whose build is
// waiting in the Jenkins queue.
const Queued Code = "QUEUED"

// notBuiltLegacy is the spelling older Jenkins publishers used.
const notBuiltLegacy Code = "NOT_BUILD"

type presentation struct {
	text  string
	class string
}

var presentations = map[Code]presentation{
	Queued:         {"Queued", "queued"},
	Building:       {"Building", "building"},
	InProgress:     {"Deploying", "deploying"},
	Failed:         {"Failed!", "failed"},
	Failure:        {"Failed!", "failed"},
	Aborted:        {"Aborted", "question"},
	Unstable:       {"Unstable", "question"},
	NotBuilt:       {"Not Built", "question"},
	notBuiltLegacy: {"Not Built", "question"},
	Completed:      {"Completed", "success"},
	Success:        {"Success", "success"},
}

// Text returns the human label for c, or "" for an unknown code.
func (c Code) Text() string {
	return presentations[c].text
}

// Class returns the style class for c, or "" for an unknown code.
func (c Code) Class() string {
	return presentations[c].class
}

// Icon returns the icon file name for c, or "" for an unknown code.
func (c Code) Icon() string {
	class := c.Class()
	if class == "" {
		return ""
	}
	return class + ".png"
}

// Known reports whether c has a presentation.
func (c Code) Known() bool {
	_, ok := presentations[c]
	return ok
}

func (c Code) String() string { return string(c) }

// Environment is a deployment stage.
type Environment string

const (
	Alpha Environment = "alpha"
	Beta  Environment = "beta"
	Prod  Environment = "prod"
)

// Environments lists every environment in display order.
var Environments = []Environment{Alpha, Beta, Prod}

func (e Environment) index() int {
	switch e {
	case Alpha:
		return 0
	case Beta:
		return 1
	case Prod:
		return 2
	}
	return -1
}

// ParseEnvironment validates s as one of alpha, beta or prod.
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(s)
	if env.index() < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidEnvironment, s)
	}
	return env, nil
}

// Field names one of the values tracked per environment.
type Field string

const (
	BuildStatus  Field = "buildStatus"
	DeployStatus Field = "deployStatus"
	InQueueSince Field = "inQueueSince"
)

// Job types derived from naming conventions.
const (
	JobTypeAPI       = "api"
	JobTypeDatabase  = "database"
	JobTypeService   = "service"
	JobTypeWeb       = "web"
	JobTypeComponent = "component"
	JobTypeOther     = "other"
)

var jobTypePrefixes = []struct {
	prefix string
	kind   string
}{
	{"api-", JobTypeAPI},
	{"db-", JobTypeDatabase},
	{"mongo-to-", JobTypeService},
	{"webui-", JobTypeWeb},
	{"wnd-", JobTypeComponent},
}

// JobType classifies a job by its name prefix.
func JobType(name string) string {
	for _, p := range jobTypePrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.kind
		}
	}
	return JobTypeOther
}
