// Package mqtt provides an MQTT implementation of messaging.Transport on
// top of the Eclipse Paho client.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/common/messaging"
)

// Config holds MQTT client configuration.
type Config struct {
	// URL is an explicit broker URL (e.g. "wss://broker:443/mqtt"). When
	// empty, the URL is built from the credentials' host and Port.
	URL string

	// Port is used when the host carries no scheme.
	Port int

	// ClientIDPrefix is prepended to a random suffix to form the client ID.
	ClientIDPrefix string

	// ConnectTimeout bounds a connection attempt.
	ConnectTimeout time.Duration

	// OperationTimeout bounds subscribe and publish round trips.
	OperationTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:             443,
		ClientIDPrefix:   "deploydash_",
		ConnectTimeout:   3 * time.Second,
		OperationTimeout: 5 * time.Second,
	}
}

// Transport implements messaging.Transport using MQTT over websockets or
// TCP. Reconnection is left to the caller: the Paho client is created with
// auto-reconnect disabled and a fresh client is built per Connect.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client pahomqtt.Client
}

var _ messaging.Transport = (*Transport)(nil)

// New creates an MQTT transport.
func New(cfg Config) *Transport {
	if cfg.Port == 0 {
		cfg.Port = DefaultConfig().Port
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = DefaultConfig().OperationTimeout
	}
	return &Transport{
		cfg:    cfg,
		logger: logging.Component("mqtt"),
	}
}

// BrokerURL returns the URL the transport dials for host.
func (t *Transport) BrokerURL(host string) string {
	if t.cfg.URL != "" {
		return t.cfg.URL
	}
	if strings.Contains(host, "://") {
		return host
	}
	return fmt.Sprintf("wss://%s:%d/mqtt", host, t.cfg.Port)
}

// ClientID returns a fresh client identifier.
func (t *Transport) ClientID() string {
	return t.cfg.ClientIDPrefix + uuid.NewString()[:8]
}

func (t *Transport) options(creds messaging.Credentials, listener messaging.Listener) *pahomqtt.ClientOptions {
	broker := t.BrokerURL(creds.Host)

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(t.ClientID()).
		SetUsername(creds.Username).
		SetPassword(creds.Password).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
			listener.MessageReceived(msg.Topic(), msg.Payload())
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			listener.ConnectionLost(err)
		})

	if isTLS(broker) {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

func isTLS(broker string) bool {
	for _, scheme := range []string{"wss://", "ssl://", "tls://", "mqtts://"} {
		if strings.HasPrefix(broker, scheme) {
			return true
		}
	}
	return false
}

// Connect builds a new client and dials the broker in the background. The
// outcome is reported to listener.
func (t *Transport) Connect(creds messaging.Credentials, listener messaging.Listener) {
	client := pahomqtt.NewClient(t.options(creds, listener))

	t.mu.Lock()
	previous := t.client
	t.client = client
	t.mu.Unlock()

	if previous != nil {
		previous.Disconnect(0)
	}

	t.logger.Debug("Connecting to MQTT broker", logging.Broker(t.BrokerURL(creds.Host)))
	token := client.Connect()
	go func() {
		if !token.WaitTimeout(t.cfg.ConnectTimeout + time.Second) {
			listener.ConnectFailed(fmt.Errorf("timed out after %s", t.cfg.ConnectTimeout))
			return
		}
		if err := token.Error(); err != nil {
			listener.ConnectFailed(err)
			return
		}
		listener.Connected()
	}()
}

// Disconnect closes the current client, if any.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
}

func (t *Transport) connected() (pahomqtt.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil || !t.client.IsConnectionOpen() {
		return nil, messaging.ErrNotConnected
	}
	return t.client, nil
}

// Subscribe asks the broker for messages matching filter. Matching messages
// are delivered through the listener's MessageReceived.
func (t *Transport) Subscribe(filter string) error {
	client, err := t.connected()
	if err != nil {
		return err
	}
	return t.wait(client.Subscribe(filter, byte(messaging.AtMostOnce), nil), "subscribe "+filter)
}

// Publish sends msg to the broker.
func (t *Transport) Publish(msg messaging.Message) error {
	client, err := t.connected()
	if err != nil {
		return err
	}
	return t.wait(client.Publish(msg.Topic, byte(msg.QoS), msg.Retained, msg.Payload), "publish "+msg.Topic)
}

func (t *Transport) wait(token pahomqtt.Token, op string) error {
	if !token.WaitTimeout(t.cfg.OperationTimeout) {
		return fmt.Errorf("%s: %w", op, errTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var errTimeout = errors.New("timed out waiting for broker")
