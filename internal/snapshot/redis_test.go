package snapshot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/deploydash/internal/board"
	"github.com/telhawk-systems/deploydash/internal/status"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testSnapshot() board.Snapshot {
	agg := status.NewAggregator(nil)
	_ = agg.UpdateField("api-users", "prod", status.BuildStatus, "FAILURE")
	_ = agg.UpdateField("db-core", "beta", status.DeployStatus, "IN_PROGRESS")
	view := agg.View("")
	return board.Snapshot{
		GeneratedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Version:     board.DefaultVersion,
		Overall:     view.Overall,
		Build:       view.Build,
		Deploy:      view.Deploy,
		Icon:        view.Icon,
		TotalJobs:   agg.Len(),
		Jobs:        view.Jobs,
	}
}

func receiveNotice(t *testing.T, sub *redis.PubSub) Notice {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		var notice Notice
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &notice))
		return notice
	case <-time.After(2 * time.Second):
		t.Fatal("no change notice received")
		return Notice{}
	}
}

func TestRender_StoresSnapshot(t *testing.T) {
	mr, client := setupTestRedis(t)
	p := New(client, Config{})
	ctx := context.Background()

	require.NoError(t, p.Render(ctx, testSnapshot()))
	assert.True(t, mr.Exists(DefaultKey))

	latest, err := p.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.Failure, latest.Overall.Status)
	assert.Equal(t, status.InProgress, latest.Overall.DeployStatus)
	assert.Equal(t, 2, latest.TotalJobs)
	require.Len(t, latest.Jobs, 2)
	assert.Equal(t, "api-users", latest.Jobs[0].Name)
}

func TestRender_PublishesNotice(t *testing.T) {
	_, client := setupTestRedis(t)
	p := New(client, Config{Key: "board", Channel: "board-changes"})
	ctx := context.Background()

	sub := client.Subscribe(ctx, "board-changes")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Render(ctx, testSnapshot()))

	assert.Equal(t, Notice{
		Status:      status.Failure,
		Build:       status.Failure,
		Deploy:      status.InProgress,
		Jobs:        2,
		Shown:       2,
		GeneratedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}, receiveNotice(t, sub))
}

func TestRender_NoticeCountsAllJobs(t *testing.T) {
	_, client := setupTestRedis(t)
	p := New(client, Config{})
	ctx := context.Background()

	sub := client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	snap := testSnapshot()
	snap.Filter = "api"
	snap.Jobs = snap.Jobs[:1]
	require.NoError(t, p.Render(ctx, snap))

	notice := receiveNotice(t, sub)
	assert.Equal(t, 2, notice.Jobs, "total agrees with the overall verdict")
	assert.Equal(t, 1, notice.Shown)
	assert.Equal(t, status.Failure, notice.Status)
}

func TestRender_TTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	p := New(client, Config{TTL: time.Minute})

	require.NoError(t, p.Render(context.Background(), testSnapshot()))
	assert.Equal(t, time.Minute, mr.TTL(DefaultKey))

	mr.FastForward(2 * time.Minute)
	_, err := p.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLatest_Empty(t *testing.T) {
	_, client := setupTestRedis(t)
	_, err := New(client, Config{}).Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLatest_Corrupt(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set(DefaultKey, "{not json"))

	_, err := New(client, Config{}).Latest(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSnapshot)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := Dial(context.Background(), "redis://"+mr.Addr(), Config{})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Render(context.Background(), testSnapshot()))

	_, err = Dial(context.Background(), "not-a-url", Config{})
	assert.Error(t, err)

	addr := mr.Addr()
	mr.Close()
	_, err = Dial(context.Background(), "redis://"+addr, Config{})
	assert.Error(t, err)
}

func TestRender_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()
	err := New(client, Config{}).Render(context.Background(), testSnapshot())
	assert.Error(t, err)
}
