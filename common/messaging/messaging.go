// Package messaging defines the contract between deploydash and the message
// bus it watches. Concrete transports live in the mqtt and nats
// subpackages; the rest of the module only depends on these interfaces.
package messaging

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by publish attempts made while the bus
// connection is not established.
var ErrNotConnected = errors.New("not connected to message bus")

// QoS is the delivery guarantee requested for a publish or subscription.
type QoS byte

// Delivery guarantees, numbered as the MQTT protocol numbers them.
const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// Credentials identify the broker and the account used to log in to it.
// The core treats them as opaque and hands them to the transport.
type Credentials struct {
	Host     string `yaml:"host" json:"host"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Validate reports whether the credentials name a broker.
func (c Credentials) Validate() error {
	if c.Host == "" {
		return errors.New("broker host is required")
	}
	return nil
}

// String renders the credentials without the password.
func (c Credentials) String() string {
	if c.Username == "" {
		return c.Host
	}
	return fmt.Sprintf("%s@%s", c.Username, c.Host)
}

// Message is an outbound publish.
type Message struct {
	// Topic is the concrete destination, segments separated by "/".
	Topic string

	// Payload is the raw message body.
	Payload []byte

	// QoS is the requested delivery guarantee.
	QoS QoS

	// Retained asks the broker to keep the message for future subscribers.
	Retained bool
}

// Listener receives the asynchronous outcomes of a connection attempt and
// everything that arrives on it. A transport invokes exactly one of
// Connected or ConnectFailed per Connect call; after Connected it may
// invoke MessageReceived any number of times and ConnectionLost at most
// once.
type Listener interface {
	Connected()
	ConnectFailed(err error)
	ConnectionLost(err error)
	MessageReceived(topic string, payload []byte)
}

// Subscriber asks the broker to deliver messages matching a topic filter.
type Subscriber interface {
	Subscribe(filter string) error
}

// Publisher sends messages to the broker.
type Publisher interface {
	Publish(msg Message) error
}

// Transport is a bus client. Connect returns immediately; the outcome is
// reported to the listener. A new Connect replaces any previous session.
type Transport interface {
	Subscriber
	Publisher

	Connect(creds Credentials, listener Listener)
	Disconnect()
}
