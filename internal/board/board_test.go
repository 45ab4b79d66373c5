package board

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/deploydash/common/clock"
	"github.com/telhawk-systems/deploydash/common/messaging"
	"github.com/telhawk-systems/deploydash/internal/dispatch"
	"github.com/telhawk-systems/deploydash/internal/status"
)

var epoch = time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

type published struct {
	topic    string
	payload  string
	qos      messaging.QoS
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error

	// during runs before each publish, without the lock held.
	during func()
}

func (p *fakePublisher) Publish(topic, payload string, qos messaging.QoS, retained bool) error {
	if during := p.during; during != nil {
		p.during = nil
		during()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, payload, qos, retained})
	return nil
}

type fixture struct {
	board     *Board
	clock     *clock.FakeClock
	registry  *dispatch.Registry
	publisher *fakePublisher

	mu    sync.Mutex
	snaps []Snapshot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:     clock.Fake(epoch),
		publisher: &fakePublisher{},
	}
	f.board = New(Options{
		Publisher:        f.publisher,
		Clock:            f.clock,
		ConnectionStatus: func() string { return "Connected" },
	})
	f.board.AddRenderer("capture", RendererFunc(func(_ context.Context, s Snapshot) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.snaps = append(f.snaps, s)
		return nil
	}))
	f.registry = dispatch.NewRegistry(nil)
	require.NoError(t, f.registry.RegisterAll(f.board.Subscriptions()))
	return f
}

func (f *fixture) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	_, err := f.registry.Dispatch(context.Background(), topic, []byte(payload))
	require.NoError(t, err)
}

func (f *fixture) renders() []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Snapshot(nil), f.snaps...)
}

func TestSubscriptions_Order(t *testing.T) {
	b := New(Options{})
	var filters []string
	for _, s := range b.Subscriptions() {
		filters = append(filters, s.Filter)
		assert.NotNil(t, s.Handler)
	}
	assert.Equal(t, []string{
		"dashboard/WonScore/Deployments/version",
		"dashboard/WonScore/Deployments/ReleaseNotes/+",
		"AWS-WonScore/ECS/services/checking",
		"AWS-WonScore/ECS/services/lastCheckedOn",
		"AWS-WonScore/ECS/services/refreshRate",
		"AWS-WonScore/ECS/services/+/+/deploymentStatus",
		"Jenkins/+/+/status",
		"Jenkins/+/+/inQueueSince",
	}, filters)
}

func TestJobUpdates_DebouncedRender(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, messaging.BuildStatusTopic("alpha", "api-users"), "BUILDING")
	f.deliver(t, messaging.DeploymentStatusTopic("prod", "api-users"), "IN_PROGRESS")
	f.deliver(t, messaging.BuildInQueueSinceTopic("beta", "db-core"), "1700000000000")
	assert.Empty(t, f.renders(), "render waits for the burst to settle")

	f.clock.Advance(DefaultRenderDelay)
	snaps := f.renders()
	require.Len(t, snaps, 1, "one render for the whole burst")

	snap := snaps[0]
	assert.Equal(t, status.Building, snap.Overall.Status)
	assert.Equal(t, "Building", snap.Build.Text)
	assert.Equal(t, "Deploying", snap.Deploy.Text)
	assert.Equal(t, "Connected", snap.Connection)
	require.Len(t, snap.Jobs, 2)
	assert.Equal(t, "api-users", snap.Jobs[0].Name)
	assert.Equal(t, "db-core", snap.Jobs[1].Name)
	assert.Equal(t, status.Queued, snap.Jobs[1].Environments[1].Build.Code)
	assert.Equal(t, epoch.Add(DefaultRenderDelay), snap.GeneratedAt)
}

func TestJobUpdates_Rejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Dispatch(context.Background(), "Jenkins/staging/api-users/status", []byte("SUCCESS"))
	assert.ErrorIs(t, err, status.ErrInvalidEnvironment)

	f.deliver(t, "Jenkins/prod/api-users/status", "SUCCESS")
	f.clock.Advance(DefaultRenderDelay)
	snaps := f.renders()
	require.Len(t, snaps, 1)
	require.Len(t, snaps[0].Jobs, 1, "dispatch continues after a rejected update")
}

func TestClearedStatus(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, messaging.DeploymentStatusTopic("beta", "api-users"), "FAILED")
	f.deliver(t, messaging.DeploymentStatusTopic("beta", "api-users"), "")
	f.board.Flush()

	snap := f.renders()[0]
	assert.Equal(t, status.Completed, snap.Overall.Status)
	assert.Equal(t, status.Cell{}, snap.Jobs[0].Environments[1].Deploy)
}

func TestVersionGate(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, messaging.BuildStatusTopic("alpha", "api-users"), "SUCCESS")

	f.deliver(t, messaging.TopicVersion, "20231001.01")
	assert.False(t, f.board.UpgradePending(), "older version is ignored")

	f.deliver(t, messaging.TopicVersion, DefaultVersion)
	assert.False(t, f.board.UpgradePending())

	f.deliver(t, messaging.TopicVersion, "20240115.02")
	require.True(t, f.board.UpgradePending())

	f.deliver(t, messaging.TopicVersion, "20250101.01")
	f.deliver(t, messaging.BuildStatusTopic("alpha", "api-users"), "FAILURE")
	f.deliver(t, messaging.TopicServicesRate, "30")
	f.board.Flush()

	snap := f.renders()[0]
	require.NotNil(t, snap.Upgrade)
	assert.Equal(t, Upgrade{Current: DefaultVersion, Available: "20240115.02"}, *snap.Upgrade, "first upgrade wins")
	assert.Equal(t, "refresh.png", snap.Icon)
	assert.Equal(t, status.Completed, snap.Overall.Status, "status handlers are ignored while an upgrade is pending")
	assert.Nil(t, snap.Services.RefreshRate)

	assert.ErrorIs(t, f.board.RequestRefresh(), ErrUpgradePending)
	assert.ErrorIs(t, f.board.Boost(), ErrUpgradePending)
}

func TestVersionGate_InvalidPayload(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Dispatch(context.Background(), messaging.TopicVersion, []byte("latest"))
	assert.Error(t, err)
	assert.False(t, f.board.UpgradePending())
}

func TestReleaseNotes(t *testing.T) {
	f := newFixture(t)

	f.deliver(t, messaging.ReleaseNotesTopic("20230901.01"), "too old")
	f.deliver(t, messaging.ReleaseNotesTopic("20231101.01"), "Fixed filter\r\n\r\nFaster render\r\n")
	f.deliver(t, messaging.ReleaseNotesTopic("20240101.01"), "New icons")
	f.deliver(t, messaging.ReleaseNotesTopic("20250101.01"), "Not yet available")

	snap := f.board.Snapshot()
	assert.Nil(t, snap.ReleaseNotes, "nothing is shown until an upgrade is announced")

	f.deliver(t, messaging.TopicVersion, "20240101.01")
	snap = f.board.Snapshot()
	assert.Equal(t, []ReleaseNote{
		{Version: "20240101.01", Changes: []string{"New icons"}},
		{Version: "20231101.01", Changes: []string{"Fixed filter", "Faster render"}},
	}, snap.ReleaseNotes)
}

func TestServiceTiming(t *testing.T) {
	f := newFixture(t)

	snap := f.board.Snapshot()
	assert.Equal(t, "", snap.Services.LastChecked)
	assert.True(t, snap.Services.BoostAvailable)

	last := epoch.Add(-75 * time.Second)
	f.deliver(t, messaging.TopicServicesLastCheck, strconv.FormatInt(last.UnixMilli(), 10))
	snap = f.board.Snapshot()
	assert.Equal(t, "1 min 15 sec ago", snap.Services.LastChecked)
	require.NotNil(t, snap.Services.LastCheckedOn)
	assert.True(t, last.Equal(*snap.Services.LastCheckedOn))

	f.deliver(t, messaging.TopicServicesChecking, strconv.FormatInt(epoch.UnixMilli(), 10))
	snap = f.board.Snapshot()
	assert.True(t, snap.Services.Checking)
	assert.Equal(t, CheckingLabel, snap.Services.LastChecked)

	f.deliver(t, messaging.TopicServicesChecking, "")
	snap = f.board.Snapshot()
	assert.False(t, snap.Services.Checking)

	f.deliver(t, messaging.TopicServicesRate, "120")
	snap = f.board.Snapshot()
	require.NotNil(t, snap.Services.RefreshRate)
	assert.Equal(t, 120, *snap.Services.RefreshRate)
	assert.Equal(t, "2 minutes", snap.Services.RefreshEvery)
	assert.True(t, snap.Services.BoostAvailable)

	f.deliver(t, messaging.TopicServicesRate, "10")
	snap = f.board.Snapshot()
	assert.Equal(t, "10 seconds", snap.Services.RefreshEvery)
	assert.False(t, snap.Services.BoostAvailable)
}

func TestServiceTiming_BadPayloads(t *testing.T) {
	f := newFixture(t)
	for _, topic := range []string{
		messaging.TopicServicesLastCheck,
		messaging.TopicServicesChecking,
		messaging.TopicServicesRate,
	} {
		_, err := f.registry.Dispatch(context.Background(), topic, []byte("soon"))
		assert.Error(t, err, topic)
	}
}

func TestTimespan(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{-5 * time.Second, "0 seconds"},
		{1500 * time.Millisecond, "1 seconds"},
		{59 * time.Second, "59 seconds"},
		{60 * time.Second, "1 minutes"},
		{61 * time.Second, "1 min 1 sec"},
		{10 * time.Minute, "10 minutes"},
		{125 * time.Second, "2 min 5 sec"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Timespan(tt.d), tt.d.String())
	}
}

func TestRequestRefresh(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.board.RequestRefresh())
	require.Len(t, f.publisher.msgs, 1)
	assert.Equal(t, published{
		topic:   messaging.TopicServicesRefresh,
		payload: strconv.FormatInt(epoch.UnixMilli(), 10),
		qos:     messaging.AtMostOnce,
	}, f.publisher.msgs[0])

	assert.ErrorIs(t, f.board.RequestRefresh(), ErrRefreshThrottled)

	f.clock.Advance(999 * time.Millisecond)
	assert.ErrorIs(t, f.board.RequestRefresh(), ErrRefreshThrottled)

	f.clock.Advance(time.Millisecond)
	require.NoError(t, f.board.RequestRefresh())
	assert.Len(t, f.publisher.msgs, 2)
}

func TestRequestRefresh_PublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = messaging.ErrNotConnected

	assert.ErrorIs(t, f.board.RequestRefresh(), messaging.ErrNotConnected)

	f.publisher.err = nil
	assert.NoError(t, f.board.RequestRefresh(), "a failed request does not start the cooldown")
}

func TestRequestRefresh_SlowFailureKeepsLaterThrottle(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = messaging.ErrNotConnected
	f.publisher.during = func() {
		// The first publish stalls past the cooldown while a second
		// request goes through.
		f.clock.Advance(2 * time.Second)
		f.publisher.err = nil
		require.NoError(t, f.board.RequestRefresh())
		f.publisher.err = messaging.ErrNotConnected
	}

	assert.ErrorIs(t, f.board.RequestRefresh(), messaging.ErrNotConnected)

	f.publisher.err = nil
	assert.ErrorIs(t, f.board.RequestRefresh(), ErrRefreshThrottled)
	assert.Len(t, f.publisher.msgs, 1)
}

func TestBoost(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.board.Boost())
	require.Len(t, f.publisher.msgs, 1)
	assert.Equal(t, published{
		topic:    messaging.TopicServicesRate,
		payload:  "10",
		qos:      messaging.AtMostOnce,
		retained: true,
	}, f.publisher.msgs[0])

	f.deliver(t, messaging.TopicServicesRate, "10")
	assert.ErrorIs(t, f.board.Boost(), ErrAlreadyFastest)
	assert.Len(t, f.publisher.msgs, 1)
}

func TestBoost_NoPublisher(t *testing.T) {
	b := New(Options{Clock: clock.Fake(epoch)})
	assert.ErrorIs(t, b.Boost(), messaging.ErrNotConnected)
}

func TestFilter(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, messaging.BuildStatusTopic("prod", "api-users"), "SUCCESS")
	f.deliver(t, messaging.BuildStatusTopic("prod", "webui-portal"), "SUCCESS")
	f.clock.Advance(DefaultRenderDelay)

	f.board.SetFilter("WebUI")
	assert.Equal(t, "webui", f.board.Filter())
	f.clock.Advance(DefaultRenderDelay)

	snaps := f.renders()
	require.Len(t, snaps, 2)
	last := snaps[1]
	require.Len(t, last.Jobs, 1)
	assert.Equal(t, "webui-portal", last.Jobs[0].Name)
	assert.Equal(t, "webui", last.Filter)
	assert.Equal(t, 2, last.TotalJobs, "the total ignores the filter")

	f.board.SetFilter("nomatch")
	f.board.Flush()
	assert.True(t, f.renders()[2].NoResults)

	other := f.board.SnapshotFiltered("")
	assert.Len(t, other.Jobs, 2)
}

func TestRenderers_FailureIsolated(t *testing.T) {
	f := newFixture(t)
	var after atomic.Int32
	f.board.AddRenderer("broken", RendererFunc(func(context.Context, Snapshot) error {
		return errors.New("disk full")
	}))
	f.board.AddRenderer("after", RendererFunc(func(context.Context, Snapshot) error {
		after.Add(1)
		return nil
	}))

	f.board.ScheduleRender()
	f.clock.Advance(DefaultRenderDelay)

	assert.Len(t, f.renders(), 1)
	assert.Equal(t, int32(1), after.Load())
}

func TestRun_TicksWhileIdle(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, messaging.TopicServicesLastCheck, strconv.FormatInt(epoch.UnixMilli(), 10))
	f.board.render.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.board.Run(ctx) }()

	require.Eventually(t, func() bool { return f.clock.PendingCount() == 1 }, time.Second, time.Millisecond)
	f.clock.Advance(DefaultTickInterval)

	require.Eventually(t, func() bool { return len(f.renders()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "1 seconds ago", f.renders()[0].Services.LastChecked)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
