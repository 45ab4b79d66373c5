// Package messagingtest provides an in-memory messaging.Transport whose
// connection outcomes and inbound traffic are driven explicitly by tests.
package messagingtest

import (
	"sync"

	"github.com/telhawk-systems/deploydash/common/messaging"
)

// Transport records every call made to it. Connect only stores the
// listener; the test decides the outcome with AcceptConnect or
// RejectConnect.
type Transport struct {
	mu            sync.Mutex
	listener      messaging.Listener
	creds         messaging.Credentials
	connected     bool
	connects      int
	disconnects   int
	subscriptions []string
	published     []messaging.Message

	// PublishErr, when set, is returned by Publish.
	PublishErr error

	// SubscribeErr, when set, is returned by Subscribe.
	SubscribeErr error
}

var _ messaging.Transport = (*Transport)(nil)

// New returns an idle Transport.
func New() *Transport {
	return &Transport{}
}

// Connect starts a new session attempt. The previous session, if any, is
// forgotten.
func (t *Transport) Connect(creds messaging.Credentials, listener messaging.Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.creds = creds
	t.listener = listener
	t.connected = false
	t.subscriptions = nil
	t.connects++
}

// Disconnect closes the session.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.disconnects++
}

// Subscribe records filter.
func (t *Transport) Subscribe(filter string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SubscribeErr != nil {
		return t.SubscribeErr
	}
	if !t.connected {
		return messaging.ErrNotConnected
	}
	t.subscriptions = append(t.subscriptions, filter)
	return nil
}

// Publish records msg.
func (t *Transport) Publish(msg messaging.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.PublishErr != nil {
		return t.PublishErr
	}
	if !t.connected {
		return messaging.ErrNotConnected
	}
	t.published = append(t.published, msg)
	return nil
}

// AcceptConnect completes the pending attempt successfully.
func (t *Transport) AcceptConnect() {
	t.mu.Lock()
	t.connected = true
	l := t.listener
	t.mu.Unlock()
	if l != nil {
		l.Connected()
	}
}

// RejectConnect fails the pending attempt with err.
func (t *Transport) RejectConnect(err error) {
	t.mu.Lock()
	t.connected = false
	l := t.listener
	t.mu.Unlock()
	if l != nil {
		l.ConnectFailed(err)
	}
}

// Drop simulates an unsolicited loss of the established session.
func (t *Transport) Drop(err error) {
	t.mu.Lock()
	t.connected = false
	l := t.listener
	t.mu.Unlock()
	if l != nil {
		l.ConnectionLost(err)
	}
}

// Deliver hands an inbound message to the current listener.
func (t *Transport) Deliver(topic, payload string) {
	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()
	if l != nil {
		l.MessageReceived(topic, []byte(payload))
	}
}

// Listener returns the listener passed to the latest Connect.
func (t *Transport) Listener() messaging.Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listener
}

// Credentials returns the credentials passed to the latest Connect.
func (t *Transport) Credentials() messaging.Credentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creds
}

// IsConnected reports whether the session is established.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connects returns how many times Connect was called.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Disconnects returns how many times Disconnect was called.
func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

// Subscriptions returns the filters subscribed in the current session.
func (t *Transport) Subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.subscriptions...)
}

// Published returns every message published so far.
func (t *Transport) Published() []messaging.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]messaging.Message(nil), t.published...)
}
