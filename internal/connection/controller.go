// Package connection owns the board's connection to the message bus: the
// desired-connected intent, connect attempts, fixed-delay retry and the
// subscriptions restored on every new session.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/deploydash/common/clock"
	"github.com/telhawk-systems/deploydash/common/logging"
	"github.com/telhawk-systems/deploydash/common/messaging"
	"github.com/telhawk-systems/deploydash/internal/dispatch"
	"github.com/telhawk-systems/deploydash/internal/metrics"
)

// DefaultRetryDelay is the pause between a failed or lost session and the
// next attempt.
const DefaultRetryDelay = 2 * time.Second

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// Failed means the last attempt failed or the session was lost and a
	// retry is scheduled.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status texts shown to the user.
const (
	TextConnecting   = "Connecting..."
	TextConnected    = "Connected"
	TextNotConnected = "Not connected"
)

// StateChange describes a transition, delivered to observers.
type StateChange struct {
	From   State
	To     State
	Status string
	Err    error
}

// Options configures a Controller.
type Options struct {
	Transport messaging.Transport
	Registry  *dispatch.Registry

	// Subscriptions returns the fixed subscription set registered on
	// every Connected transition.
	Subscriptions func() []dispatch.Subscription

	RetryDelay time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Controller drives a messaging.Transport through the connection
// lifecycle. All methods are safe for concurrent use; observers run outside
// the controller's lock.
type Controller struct {
	transport     messaging.Transport
	registry      *dispatch.Registry
	subscriptions func() []dispatch.Subscription
	retryDelay    time.Duration
	clock         clock.Clock
	logger        *slog.Logger

	observersMu sync.RWMutex
	observers   []func(StateChange)

	mu         sync.Mutex
	state      State
	status     string
	desired    bool
	creds      messaging.Credentials
	generation uint64
	retry      *clock.Timer
}

// New creates a Controller in the Disconnected state.
func New(opts Options) *Controller {
	c := &Controller{
		transport:     opts.Transport,
		registry:      opts.Registry,
		subscriptions: opts.Subscriptions,
		retryDelay:    opts.RetryDelay,
		clock:         opts.Clock,
		logger:        opts.Logger,
		state:         Disconnected,
		status:        TextNotConnected,
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = logging.Component("connection")
	}
	if c.registry == nil {
		c.registry = dispatch.NewRegistry(c.transport, dispatch.WithLogger(c.logger))
	}
	if c.subscriptions == nil {
		c.subscriptions = func() []dispatch.Subscription { return nil }
	}
	return c
}

// OnStateChange registers fn to be called after every transition.
func (c *Controller) OnStateChange(fn func(StateChange)) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.observers = append(c.observers, fn)
}

// Registry returns the registry inbound messages are dispatched through.
func (c *Controller) Registry() *dispatch.Registry {
	return c.registry
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StatusText returns the user-facing connection status.
func (c *Controller) StatusText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Desired reports whether the controller is trying to stay connected.
func (c *Controller) Desired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired
}

// Credentials returns the credentials of the latest Connect.
func (c *Controller) Credentials() messaging.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

// Connect records the intent to be connected with creds and starts an
// attempt. Any session or pending retry from an earlier Connect is
// abandoned.
func (c *Controller) Connect(creds messaging.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	busy := c.state != Disconnected
	c.desired = true
	c.creds = creds
	c.generation++
	c.stopRetryLocked()
	c.mu.Unlock()

	if busy {
		c.transport.Disconnect()
	}
	c.attempt(0, false)
	return nil
}

// Disconnect withdraws the connection intent, cancels any pending retry and
// closes the transport. It is also how an in-flight attempt is cancelled.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.desired = false
	c.generation++
	c.stopRetryLocked()
	change := c.setLocked(Disconnected, TextNotConnected, nil)
	c.mu.Unlock()

	c.transport.Disconnect()
	c.logger.Info("Disconnected from bus")
	c.notify(change)
}

// Publish sends payload to topic. It fails with messaging.ErrNotConnected
// unless a session is established.
func (c *Controller) Publish(topic, payload string, qos messaging.QoS, retained bool) error {
	if c.State() != Connected {
		metrics.Publishes.WithLabelValues(topic, "not_connected").Inc()
		return messaging.ErrNotConnected
	}

	err := c.transport.Publish(messaging.Message{
		Topic:    topic,
		Payload:  []byte(payload),
		QoS:      qos,
		Retained: retained,
	})
	if err != nil {
		metrics.Publishes.WithLabelValues(topic, "error").Inc()
		c.logger.Warn("Publish failed", logging.Topic(topic), logging.Error(err))
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.Publishes.WithLabelValues(topic, "ok").Inc()
	return nil
}

// attempt starts a connect for the current intent. A retry passes the
// generation it was scheduled under and is dropped if the intent was
// withdrawn or superseded since.
func (c *Controller) attempt(scheduledGen uint64, isRetry bool) {
	c.mu.Lock()
	if !c.desired || (isRetry && scheduledGen != c.generation) {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.generation++
	gen := c.generation
	creds := c.creds
	change := c.setLocked(Connecting, TextConnecting, nil)
	c.mu.Unlock()

	c.notify(change)
	metrics.ConnectAttempts.Inc()
	c.logger.Info("Connecting to bus", logging.Broker(creds.Host), slog.Bool("retry", isRetry))
	c.transport.Connect(creds, &listener{c: c, generation: gen})
}

func (c *Controller) connected(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		desired := c.desired
		c.mu.Unlock()
		if !desired {
			// The user gave up while this attempt was in flight.
			c.transport.Disconnect()
		}
		return
	}
	c.mu.Unlock()

	c.registry.Clear()
	if err := c.registry.RegisterAll(c.subscriptions()); err != nil {
		c.logger.Error("Failed to restore subscriptions", logging.Error(err))
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	change := c.setLocked(Connected, TextConnected, nil)
	c.mu.Unlock()

	c.logger.Info("Connected to bus", slog.Int("subscriptions", c.registry.Len()))
	c.notify(change)
}

func (c *Controller) failed(gen uint64, err error, lost bool) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}

	var change *StateChange
	if c.desired {
		prefix := "Connection failed: "
		if lost {
			prefix = "Connection lost: "
		}
		change = c.setLocked(Failed, prefix+reason(err), err)
		c.retry = c.clock.AfterFunc(c.retryDelay, func() { c.attempt(gen, true) })
	} else {
		change = c.setLocked(Disconnected, TextNotConnected, err)
	}
	c.mu.Unlock()

	if lost {
		metrics.ConnectionsLost.Inc()
		c.logger.Warn("Connection lost", logging.Error(err))
	} else {
		metrics.ConnectFailures.Inc()
		c.logger.Warn("Connection attempt failed", logging.Error(err))
	}
	c.notify(change)
}

func (c *Controller) received(gen uint64, topic string, payload []byte) {
	c.mu.Lock()
	current := gen == c.generation
	c.mu.Unlock()
	if !current {
		return
	}
	// Handler errors are logged and counted by the registry.
	_, _ = c.registry.Dispatch(context.Background(), topic, payload)
}

// setLocked records a transition and returns it for notification, or nil
// if nothing changed.
func (c *Controller) setLocked(state State, status string, err error) *StateChange {
	if c.state == state && c.status == status {
		return nil
	}
	change := &StateChange{From: c.state, To: state, Status: status, Err: err}
	c.state = state
	c.status = status
	metrics.ConnectionState.Set(float64(state))
	return change
}

func (c *Controller) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Controller) notify(change *StateChange) {
	if change == nil {
		return
	}
	c.logger.Debug("Connection state changed",
		slog.String("from", change.From.String()),
		logging.State(change.To.String()))

	c.observersMu.RLock()
	observers := append([]func(StateChange){}, c.observers...)
	c.observersMu.RUnlock()
	for _, fn := range observers {
		fn(*change)
	}
}

func reason(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// listener binds transport callbacks to the attempt that created it.
type listener struct {
	c          *Controller
	generation uint64
}

func (l *listener) Connected()               { l.c.connected(l.generation) }
func (l *listener) ConnectFailed(err error)  { l.c.failed(l.generation, err, false) }
func (l *listener) ConnectionLost(err error) { l.c.failed(l.generation, err, true) }
func (l *listener) MessageReceived(topic string, payload []byte) {
	l.c.received(l.generation, topic, payload)
}
