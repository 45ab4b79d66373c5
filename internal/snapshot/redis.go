// Package snapshot shares board snapshots through Redis so other processes
// can read the latest board or follow changes.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/deploydash/internal/board"
	"github.com/telhawk-systems/deploydash/internal/status"
)

// Defaults for Config.
const (
	DefaultKey     = "deploydash:snapshot"
	DefaultChannel = "deploydash:changes"
)

// ErrNoSnapshot is returned by Latest before any snapshot was stored.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Config names the Redis key and channel used.
type Config struct {
	Key     string
	Channel string
	// TTL expires the stored snapshot; zero keeps it forever.
	TTL time.Duration
}

// Notice is published on the channel after each stored snapshot. Jobs
// counts every tracked job, matching the overall verdict; Shown counts the
// rows left after the board's filter.
type Notice struct {
	Status      status.Code `json:"status"`
	Build       status.Code `json:"build"`
	Deploy      status.Code `json:"deploy"`
	Jobs        int         `json:"jobs"`
	Shown       int         `json:"shown"`
	Upgrade     bool        `json:"upgrade,omitempty"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Publisher stores snapshots under a key and announces them on a channel.
type Publisher struct {
	client  *redis.Client
	key     string
	channel string
	ttl     time.Duration
}

var _ board.Renderer = (*Publisher)(nil)

// New wraps an existing client.
func New(client *redis.Client, cfg Config) *Publisher {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	return &Publisher{
		client:  client,
		key:     cfg.Key,
		channel: cfg.Channel,
		ttl:     cfg.TTL,
	}
}

// Dial connects to redisURL and verifies the connection.
func Dial(ctx context.Context, redisURL string, cfg Config) (*Publisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return New(client, cfg), nil
}

// Render stores snap and publishes a Notice in one transaction.
func (p *Publisher) Render(ctx context.Context, snap board.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	notice, err := json.Marshal(Notice{
		Status:      snap.Overall.Status,
		Build:       snap.Overall.BuildStatus,
		Deploy:      snap.Overall.DeployStatus,
		Jobs:        snap.TotalJobs,
		Shown:       len(snap.Jobs),
		Upgrade:     snap.Upgrade != nil,
		GeneratedAt: snap.GeneratedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key, data, p.ttl)
		pipe.Publish(ctx, p.channel, notice)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recently stored snapshot.
func (p *Publisher) Latest(ctx context.Context) (*board.Snapshot, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap board.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
