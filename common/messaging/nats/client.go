// Package nats provides a NATS implementation of messaging.Transport.
//
// deploydash speaks in MQTT-style topics. This transport maps them onto
// NATS subjects the way the NATS server's MQTT gateway does, so the board
// can watch the same traffic through a NATS endpoint: "/" becomes ".",
// "+" becomes "*", "#" becomes ">" and a "." inside a topic segment
// becomes "//".
package nats

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/common/messaging"
)

// Config holds NATS client configuration.
type Config struct {
	// URL is an explicit server URL. When empty, the credentials' host is
	// used, prefixed with "nats://" if it carries no scheme.
	URL string

	// Name is the client name prefix for connection identification.
	Name string

	// Timeout is the connection timeout.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:    "deploydash",
		Timeout: 3 * time.Second,
	}
}

// Client implements messaging.Transport using NATS. Like the MQTT
// transport it never reconnects on its own.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dial   func(url string, opts ...nats.Option) (*nats.Conn, error)

	mu       sync.Mutex
	attempt  uint64
	conn     *nats.Conn
	listener messaging.Listener
	subs     []*nats.Subscription
}

var _ messaging.Transport = (*Client)(nil)

// NewClient creates a NATS transport.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	return &Client{
		cfg:    cfg,
		logger: logging.Component("nats"),
		dial:   nats.Connect,
	}
}

// ServerURL returns the URL dialled for host.
func (c *Client) ServerURL(host string) string {
	if c.cfg.URL != "" {
		return c.cfg.URL
	}
	if strings.Contains(host, "://") {
		return host
	}
	return "nats://" + host
}

// Connect dials the server in the background and reports the outcome to
// listener.
func (c *Client) Connect(creds messaging.Credentials, listener messaging.Listener) {
	c.Disconnect()

	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	url := c.ServerURL(creds.Host)
	opts := []nats.Option{
		nats.Name(c.cfg.Name + "-" + uuid.NewString()[:8]),
		nats.Timeout(c.cfg.Timeout),
		nats.NoReconnect(),
	}
	if creds.Username != "" {
		opts = append(opts, nats.UserInfo(creds.Username, creds.Password))
	}

	go func() {
		var once sync.Once
		lost := func(err error) {
			once.Do(func() { listener.ConnectionLost(err) })
		}
		opts := append(opts, nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if !c.owns(conn) {
				return
			}
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			lost(err)
		}))

		conn, err := c.dial(url, opts...)
		if err != nil {
			listener.ConnectFailed(fmt.Errorf("failed to connect to NATS: %w", err))
			return
		}

		c.mu.Lock()
		if c.attempt != attempt {
			// Disconnect or a newer Connect superseded this attempt.
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.listener = listener
		c.subs = nil
		c.mu.Unlock()

		c.logger.Debug("Connected to NATS", logging.Broker(url))
		listener.Connected()
	}()
}

func (c *Client) owns(conn *nats.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

// Disconnect closes the connection. The close is not reported as a lost
// connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.attempt++
	conn := c.conn
	subs := c.subs
	c.conn = nil
	c.listener = nil
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if conn != nil {
		conn.Close()
	}
}

// Subscribe translates filter to a NATS subject and subscribes to it.
func (c *Client) Subscribe(filter string) error {
	c.mu.Lock()
	conn, listener := c.conn, c.listener
	c.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return messaging.ErrNotConnected
	}

	sub, err := conn.Subscribe(TopicToSubject(filter), func(msg *nats.Msg) {
		listener.MessageReceived(SubjectToTopic(msg.Subject), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Publish sends msg. NATS core has no retained messages or QoS levels;
// both are ignored.
func (c *Client) Publish(msg messaging.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return messaging.ErrNotConnected
	}
	if msg.Retained {
		c.logger.Debug("NATS has no retained messages; publishing plainly", logging.Topic(msg.Topic))
	}
	return conn.Publish(TopicToSubject(msg.Topic), msg.Payload)
}

// TopicToSubject converts an MQTT topic or filter into a NATS subject.
func TopicToSubject(topic string) string {
	segments := strings.Split(topic, messaging.Separator)
	for i, seg := range segments {
		switch seg {
		case "+":
			segments[i] = "*"
		case "#":
			segments[i] = ">"
		default:
			segments[i] = strings.ReplaceAll(seg, ".", "//")
		}
	}
	return strings.Join(segments, ".")
}

// SubjectToTopic converts a NATS subject back into an MQTT topic.
func SubjectToTopic(subject string) string {
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		tokens[i] = strings.ReplaceAll(tok, "//", ".")
	}
	return strings.Join(tokens, messaging.Separator)
}
