// Package board is the deployment status board: it binds the fixed set of
// bus subscriptions to the status model, tracks the service checker and
// published board versions, and renders snapshots to its renderers.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/telhawk-systems/deploydash/common/clock"
	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/common/messaging"
	"github.com/telhawk-systems/deploydash/internal/dispatch"
	"github.com/telhawk-systems/deploydash/internal/schedule"
	"github.com/telhawk-systems/deploydash/internal/status"
)

// DefaultVersion is the board version this build implements.
const DefaultVersion = "20231023.04"

// Defaults for Options.
const (
	DefaultRenderDelay     = 100 * time.Millisecond
	DefaultRefreshCooldown = time.Second
	DefaultTickInterval    = time.Second
)

// fastestRate is the refresh rate, in seconds, a boost requests.
const fastestRate = 10

var (
	ErrRefreshThrottled = errors.New("refresh requested too recently")
	ErrAlreadyFastest   = errors.New("refresh rate is already at its fastest")
	ErrUpgradePending   = errors.New("a newer board version is available")
)

// Publisher sends messages to the bus. *connection.Controller implements
// it.
type Publisher interface {
	Publish(topic, payload string, qos messaging.QoS, retained bool) error
}

// Options configures a Board.
type Options struct {
	Version         string
	Publisher       Publisher
	Aggregator      *status.Aggregator
	Clock           clock.Clock
	RenderDelay     time.Duration
	RefreshCooldown time.Duration
	TickInterval    time.Duration
	Filter          string
	Logger          *slog.Logger

	// ConnectionStatus, when set, supplies the connection text carried in
	// snapshots.
	ConnectionStatus func() string
}

// Board owns all dashboard state besides the connection.
type Board struct {
	version          string
	publisher        Publisher
	jobs             *status.Aggregator
	clock            clock.Clock
	refreshCooldown  time.Duration
	tickInterval     time.Duration
	connectionStatus func() string
	logger           *slog.Logger
	render           *schedule.Debouncer

	mu               sync.RWMutex
	available        string
	notes            map[string]string
	checking         *time.Time
	lastCheckedOn    *time.Time
	refreshRate      *int
	filter           string
	refreshAllowedAt time.Time

	renderMu  sync.Mutex
	renderers []namedRenderer
}

// New creates a Board.
func New(opts Options) *Board {
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Aggregator == nil {
		opts.Aggregator = status.NewAggregator(nil)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.RenderDelay <= 0 {
		opts.RenderDelay = DefaultRenderDelay
	}
	if opts.RefreshCooldown <= 0 {
		opts.RefreshCooldown = DefaultRefreshCooldown
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("board")
	}

	b := &Board{
		version:          opts.Version,
		publisher:        opts.Publisher,
		jobs:             opts.Aggregator,
		clock:            opts.Clock,
		refreshCooldown:  opts.RefreshCooldown,
		tickInterval:     opts.TickInterval,
		connectionStatus: opts.ConnectionStatus,
		logger:           opts.Logger,
		available:        opts.Version,
		notes:            make(map[string]string),
		filter:           strings.ToLower(opts.Filter),
	}
	b.render = schedule.NewDebouncer(opts.Clock, opts.RenderDelay, b.renderNow)
	return b
}

// Version returns the version this board implements.
func (b *Board) Version() string { return b.version }

// Subscriptions returns the fixed subscription set, in registration order.
func (b *Board) Subscriptions() []dispatch.Subscription {
	return []dispatch.Subscription{
		{Filter: messaging.TopicVersion, Handler: b.handleVersion},
		{Filter: messaging.TopicReleaseNotes, Handler: b.handleReleaseNotes},
		{Filter: messaging.TopicServicesChecking, Handler: b.handleChecking},
		{Filter: messaging.TopicServicesLastCheck, Handler: b.handleLastCheckedOn},
		{Filter: messaging.TopicServicesRate, Handler: b.handleRefreshRate},
		{Filter: messaging.TopicDeploymentStatus, Handler: b.handleDeploymentStatus},
		{Filter: messaging.TopicBuildStatus, Handler: b.handleBuildStatus},
		{Filter: messaging.TopicBuildInQueueSince, Handler: b.handleInQueueSince},
	}
}

// UpgradePending reports whether a newer board version has been announced.
func (b *Board) UpgradePending() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.upgradePendingLocked()
}

func (b *Board) upgradePendingLocked() bool {
	return b.available != b.version
}

func (b *Board) handleVersion(ctx context.Context, payload string, _ []string) error {
	b.mu.Lock()
	if b.upgradePendingLocked() {
		b.mu.Unlock()
		return nil
	}
	newer, err := newerVersion(payload, b.version)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if newer {
		b.available = payload
	}
	b.mu.Unlock()

	if newer {
		b.logger.InfoContext(ctx, "Newer board version available",
			slog.String("current", b.version),
			slog.String("available", payload))
		b.ScheduleRender()
	}
	return nil
}

func (b *Board) handleReleaseNotes(_ context.Context, payload string, captures []string) error {
	if len(captures) != 1 {
		return fmt.Errorf("release notes: expected 1 capture, got %d", len(captures))
	}
	version := captures[0]
	newer, err := newerVersion(version, b.version)
	if err != nil || !newer {
		return err
	}

	b.mu.Lock()
	if payload == "" {
		delete(b.notes, version)
	} else {
		b.notes[version] = payload
	}
	b.mu.Unlock()

	b.ScheduleRender()
	return nil
}

func (b *Board) handleChecking(_ context.Context, payload string, _ []string) error {
	var since *time.Time
	if payload != "" {
		t, err := parseMillis(payload)
		if err != nil {
			return err
		}
		since = &t
	}

	b.mu.Lock()
	if b.upgradePendingLocked() {
		b.mu.Unlock()
		return nil
	}
	b.checking = since
	b.mu.Unlock()

	b.ScheduleRender()
	return nil
}

func (b *Board) handleLastCheckedOn(_ context.Context, payload string, _ []string) error {
	t, err := parseMillis(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.upgradePendingLocked() {
		b.mu.Unlock()
		return nil
	}
	b.lastCheckedOn = &t
	b.mu.Unlock()

	b.ScheduleRender()
	return nil
}

func (b *Board) handleRefreshRate(_ context.Context, payload string, _ []string) error {
	rate, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return fmt.Errorf("refresh rate %q: %w", payload, err)
	}

	b.mu.Lock()
	if b.upgradePendingLocked() {
		b.mu.Unlock()
		return nil
	}
	b.refreshRate = &rate
	b.mu.Unlock()

	b.ScheduleRender()
	return nil
}

func (b *Board) handleDeploymentStatus(_ context.Context, payload string, captures []string) error {
	return b.updateJob(status.DeployStatus, payload, captures)
}

func (b *Board) handleBuildStatus(_ context.Context, payload string, captures []string) error {
	return b.updateJob(status.BuildStatus, payload, captures)
}

func (b *Board) handleInQueueSince(_ context.Context, payload string, captures []string) error {
	return b.updateJob(status.InQueueSince, payload, captures)
}

// updateJob applies a job status message whose captures are (env, job).
func (b *Board) updateJob(field status.Field, payload string, captures []string) error {
	if len(captures) != 2 {
		return fmt.Errorf("%s: expected env and job captures, got %d", field, len(captures))
	}
	if b.UpgradePending() {
		return nil
	}
	if err := b.jobs.UpdateField(captures[1], captures[0], field, payload); err != nil {
		return err
	}
	b.ScheduleRender()
	return nil
}

// RequestRefresh asks the service checker to check now. Requests are
// limited to one per cooldown.
func (b *Board) RequestRefresh() error {
	now := b.clock.Now()

	b.mu.Lock()
	if b.upgradePendingLocked() {
		b.mu.Unlock()
		return ErrUpgradePending
	}
	if now.Before(b.refreshAllowedAt) {
		b.mu.Unlock()
		return ErrRefreshThrottled
	}
	allowedAt := now.Add(b.refreshCooldown)
	b.refreshAllowedAt = allowedAt
	b.mu.Unlock()

	payload := strconv.FormatInt(now.UnixMilli(), 10)
	if err := b.publish(messaging.TopicServicesRefresh, payload, false); err != nil {
		// A later request may have claimed the cooldown while this one
		// was publishing; keep its throttle.
		b.mu.Lock()
		if b.refreshAllowedAt.Equal(allowedAt) {
			b.refreshAllowedAt = time.Time{}
		}
		b.mu.Unlock()
		return err
	}
	b.logger.Info("Requested service refresh")
	return nil
}

// Boost asks the service checker to switch to its fastest refresh rate.
func (b *Board) Boost() error {
	b.mu.RLock()
	pending := b.upgradePendingLocked()
	fastest := b.refreshRate != nil && *b.refreshRate == fastestRate
	b.mu.RUnlock()

	switch {
	case pending:
		return ErrUpgradePending
	case fastest:
		return ErrAlreadyFastest
	}

	if err := b.publish(messaging.TopicServicesRate, messaging.FastestRefreshRate, true); err != nil {
		return err
	}
	b.logger.Info("Requested fastest refresh rate")
	return nil
}

func (b *Board) publish(topic, payload string, retained bool) error {
	if b.publisher == nil {
		return messaging.ErrNotConnected
	}
	return b.publisher.Publish(topic, payload, messaging.AtMostOnce, retained)
}

// SetFilter changes the job-name filter and schedules a render.
func (b *Board) SetFilter(filter string) {
	b.mu.Lock()
	b.filter = strings.ToLower(filter)
	b.mu.Unlock()
	b.ScheduleRender()
}

// Filter returns the current job-name filter.
func (b *Board) Filter() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filter
}

// Run re-renders every tick while the last-checked label is advancing. It
// returns when ctx is done.
func (b *Board) Run(ctx context.Context) error {
	ticker := b.clock.NewTicker(b.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.render.Cancel()
			return nil
		case <-ticker.C:
			b.mu.RLock()
			idle := b.checking == nil && b.lastCheckedOn != nil
			b.mu.RUnlock()
			if idle {
				b.renderNow()
			}
		}
	}
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", status.ErrInvalidTimestamp, raw)
	}
	return time.UnixMilli(ms), nil
}

// newerVersion reports whether candidate is a larger decimal version than
// current.
func newerVersion(candidate, current string) (bool, error) {
	c, err := strconv.ParseFloat(strings.TrimSpace(candidate), 64)
	if err != nil {
		return false, fmt.Errorf("version %q: %w", candidate, err)
	}
	cur, err := strconv.ParseFloat(current, 64)
	if err != nil {
		return false, fmt.Errorf("version %q: %w", current, err)
	}
	return c > cur, nil
}
